package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"mpdthing/internal/mpdsession"
	"mpdthing/internal/player"
)

// ============================================================================
// mpdthing-ctl - one-shot MPD control
// ============================================================================
// Runs the same command rules as the mpdthing bridge against MPD directly,
// without the Web Thing server.
//
// Usage:
//   mpdthing-ctl status
//   mpdthing-ctl play
//   mpdthing-ctl queue-random 5
//   mpdthing-ctl volume 40
//   mpdthing-ctl repeat on
// ============================================================================

// command is a parsed invocation. Exactly one of run or status is used.
type command struct {
	name   string
	run    func(*player.Dispatcher)
	status bool
}

var errUsage = errors.New("usage")

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errUsage
	}
	name := args[0]
	rest := args[1:]

	arity := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s takes %d argument(s)", name, n)
		}
		return nil
	}

	switch name {
	case "status":
		return command{name: name, status: true}, arity(0)
	case "play":
		return command{name: name, run: (*player.Dispatcher).Play}, arity(0)
	case "pause":
		return command{name: name, run: (*player.Dispatcher).Pause}, arity(0)
	case "stop":
		return command{name: name, run: (*player.Dispatcher).Stop}, arity(0)
	case "next":
		return command{name: name, run: (*player.Dispatcher).Next}, arity(0)
	case "previous", "prev":
		return command{name: "previous", run: (*player.Dispatcher).Previous}, arity(0)

	case "queue-random":
		if err := arity(1); err != nil {
			return command{}, err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("invalid count %q (must be >= 1)", rest[0])
		}
		return command{name: name, run: func(d *player.Dispatcher) { d.EnqueueRandom(n) }}, nil

	case "volume":
		if err := arity(1); err != nil {
			return command{}, err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 0 || n > 100 {
			return command{}, fmt.Errorf("invalid volume %q (must be 0-100)", rest[0])
		}
		return command{name: name, run: func(d *player.Dispatcher) { d.SetVolume(n) }}, nil

	case "repeat", "random":
		if err := arity(1); err != nil {
			return command{}, err
		}
		on, err := parseSwitch(rest[0])
		if err != nil {
			return command{}, err
		}
		if name == "repeat" {
			return command{name: name, run: func(d *player.Dispatcher) { d.SetRepeat(on) }}, nil
		}
		return command{name: name, run: func(d *player.Dispatcher) { d.SetRandom(on) }}, nil

	case "help", "-h", "--help":
		return command{}, errUsage

	default:
		return command{}, fmt.Errorf("unknown command: %s", name)
	}
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q (use on or off)", s)
}

// printSink writes property values and events as "name: value" lines.
type printSink struct {
	w io.Writer
}

func (p printSink) UpdateProperty(name string, value any) {
	fmt.Fprintf(p.w, "%s: %v\n", name, value)
}

func (p printSink) EmitEvent(name string, data any) {
	fmt.Fprintf(p.w, "event %s:\n%v\n", name, data)
}

// printStatus pushes every mirrored property through the mirror's sink.
func printStatus(m *player.Mirror) {
	st, ok := m.Status()
	if !ok {
		return
	}
	vol, ok := m.Volume(st)
	m.Push(player.PropVolume, vol, ok)
	repeat, ok := m.Repeat(st)
	m.Push(player.PropRepeat, repeat, ok)
	random, ok := m.Random(st)
	m.Push(player.PropRandom, random, ok)
	state, ok := m.State(st)
	m.Push(player.PropState, string(state), ok)

	if t, ok := m.CurrentTrack(); ok {
		artist, ok := m.Artist(t)
		m.Push(player.PropArtist, artist, ok)
		album, ok := m.Album(t)
		m.Push(player.PropAlbum, album, ok)
		title, ok := m.Title(t)
		m.Push(player.PropTitle, title, ok)
	}
}

func main() {
	cfg := mpdsession.Config{Host: "localhost", Port: 6600}
	cfg, err := mpdsession.ApplyEnv(cfg, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("mpdthing-ctl", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = printUsage
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "MPD host, socket path or @abstract socket")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "MPD TCP port")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "MPD password")
	verbose := fs.BoolP("verbose", "v", false, "Log skipped commands to stderr")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}

	cmd, err := parseCommand(fs.Args())
	if errors.Is(err, errUsage) {
		printUsage()
		if len(fs.Args()) == 0 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := mpdsession.DialClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	mirror := player.NewMirror(client, printSink{w: os.Stdout}, logger)
	if cmd.status {
		printStatus(mirror)
		return
	}
	cmd.run(player.NewDispatcher(mirror, logger))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mpdthing-ctl - Control MPD with the mpdthing command rules

Usage:
  mpdthing-ctl [options] <command> [args]

Options:
  -H, --host HOST       MPD host, socket path or @abstract (default: $MPD_HOST or localhost)
  -p, --port PORT       MPD TCP port (default: $MPD_PORT or 6600)
      --password PASS   MPD password
  -v, --verbose         Log skipped commands to stderr

Commands:
  status                Print volume, options, state and current track
  play                  Start or resume playback
  pause                 Pause while playing
  stop                  Stop while playing or paused
  next, previous        Skip while playing or paused
  queue-random <n>      Append n random songs from the database
  volume <0-100>        Set the mixer volume
  repeat on|off         Toggle repeat
  random on|off         Toggle random
  help                  Show this help message

Examples:
  mpdthing-ctl status
  MPD_HOST=secret@music.lan mpdthing-ctl queue-random 10
`)
}
