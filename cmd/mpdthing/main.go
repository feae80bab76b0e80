package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"mpdthing/internal/mpdsession"
	"mpdthing/internal/player"
	"mpdthing/internal/thing"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("mpdthing v%s\n", version)
	fmt.Println("Exposes a Music Player Daemon as a Web Thing")
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("mpdthing", flag.ContinueOnError)
	fs.Usage = func() {
		printVersion()
		fmt.Println()
		fmt.Println("USAGE:")
		fmt.Println("  mpdthing [OPTIONS]")
		fmt.Println()
		fmt.Println("OPTIONS:")
		fmt.Print(fs.FlagUsages())
		fmt.Println()
		fmt.Println("ENVIRONMENT:")
		fmt.Println("  MPD_HOST    [password@]host, socket path or @abstract socket")
		fmt.Println("  MPD_PORT    MPD TCP port")
		fmt.Println()
		fmt.Println("EXAMPLES:")
		fmt.Println("  mpdthing --config ~/.config/mpdthing.yaml")
		fmt.Println("  MPD_HOST=secret@music.lan mpdthing --port 8080 --no-mdns")
	}
	return fs
}

// defineFlags registers every override flag with defaults taken from def.
func defineFlags(fs *flag.FlagSet, def Config) (configPath *string, showVersion *bool) {
	configPath = fs.StringP("config", "c", "", "Path to YAML config file")
	fs.String("mpd-host", def.MPD.Host, "MPD host, socket path or @abstract socket")
	fs.Int("mpd-port", def.MPD.Port, "MPD TCP port")
	fs.String("mpd-password", "", "MPD password")
	fs.Int("mpd-timeout-ms", def.MPD.TimeoutMS, "MPD dial and command timeout in ms")
	fs.String("thing-id", def.Thing.ID, "Web Thing id")
	fs.String("thing-title", def.Thing.Title, "Web Thing title")
	fs.String("hostname", "", "Listen address (empty for all interfaces)")
	fs.IntP("port", "p", def.Server.Port, "HTTP listen port")
	fs.Bool("no-mdns", false, "Disable mDNS advertisement")
	fs.Int("poll-interval-ms", def.Poll.IntervalMS, "MPD change poll interval in ms")
	fs.String("log-level", def.Logging.Level, "Log level: error, warn, info, debug")
	showVersion = fs.BoolP("version", "V", false, "Print version and exit")
	return configPath, showVersion
}

// overridesFromFlags returns pointers only for flags given on the command line.
func overridesFromFlags(fs *flag.FlagSet) FlagOverrides {
	var o FlagOverrides
	str := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}
	num := func(name string) *int {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetInt(name)
		return &v
	}

	o.MPDHost = str("mpd-host")
	o.MPDPort = num("mpd-port")
	o.MPDPassword = str("mpd-password")
	o.MPDTimeoutMS = num("mpd-timeout-ms")
	o.ThingID = str("thing-id")
	o.ThingTitle = str("thing-title")
	o.Hostname = str("hostname")
	o.Port = num("port")
	o.PollIntervalMS = num("poll-interval-ms")
	o.LogLevel = str("log-level")
	if fs.Changed("no-mdns") {
		off, _ := fs.GetBool("no-mdns")
		on := !off
		o.MDNS = &on
	}
	return o
}

func main() {
	def := DefaultConfig()

	fs := newFlagSet()
	configPath, showVersion := defineFlags(fs, def)

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := def
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	overridesFromFlags(fs).Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid configuration:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel, os.Stdout)

	logger.Debug("configuration loaded",
		"mpd_host", cfg.MPD.Host,
		"mpd_port", cfg.MPD.Port,
		"thing_id", cfg.Thing.ID,
		"port", cfg.Server.Port,
		"mdns", cfg.Server.MDNS,
		"poll_interval_ms", cfg.Poll.IntervalMS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mpdthing exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("mpdthing stopped")
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	session, err := mpdsession.Dial(ctx, sessCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to mpd: %w", err)
	}
	defer session.Close()
	network, mpdAddr := sessCfg.Address()
	logger.Info("connected to mpd", "network", network, "addr", mpdAddr, "version", session.Version())

	th := thing.New(thing.Info{
		ID:          cfg.Thing.ID,
		Title:       cfg.Thing.Title,
		Description: cfg.Thing.Description,
	}, logger)

	engine := player.NewEngine(session, th, logger, cfg.PollInterval())
	player.Bind(th, engine)

	hub := thing.NewHub(logger, thing.HubConfig{})
	server := thing.NewServer(th, hub, logger)
	addr := net.JoinHostPort(cfg.Server.Hostname, strconv.Itoa(cfg.Server.Port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, addr) })
	if cfg.Server.MDNS {
		g.Go(func() error {
			if err := thing.Advertise(gctx, cfg.InstanceName(), cfg.Server.Port, logger); err != nil {
				logger.Warn("mdns advertisement unavailable", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
