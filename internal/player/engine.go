package player

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// DefaultInterval is the notification poll period used when none is given.
const DefaultInterval = time.Second

// Engine is the single owner of the MPD session. A fixed ticker drives change
// notification and submitted operations run on the same goroutine, so watch
// exit, command and watch re-entry never interleave with another command.
type Engine struct {
	session    WatchTransport
	mirror     *Mirror
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration

	ops chan operation
}

type operation struct {
	fn   func(*Dispatcher)
	done chan struct{}
}

// NewEngine builds the mirror and dispatcher over session. A zero interval
// selects DefaultInterval.
func NewEngine(session WatchTransport, sink Sink, logger *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	mirror := NewMirror(session, sink, logger)
	return &Engine{
		session:    session,
		mirror:     mirror,
		dispatcher: NewDispatcher(mirror, logger),
		logger:     logger,
		interval:   interval,
		ops:        make(chan operation),
	}
}

// Sync pushes every property from fresh status and currentsong replies.
func (e *Engine) Sync() {
	if st, ok := e.mirror.Status(); ok {
		e.pushStatus(st)
		e.pushState(st)
	}
	e.pushTrack()
}

func (e *Engine) pushStatus(st *Status) {
	m := e.mirror
	v, ok := m.Volume(st)
	m.Push(PropVolume, v, ok)
	e.pushOptions(st)
}

func (e *Engine) pushOptions(st *Status) {
	m := e.mirror
	r, ok := m.Repeat(st)
	m.Push(PropRepeat, r, ok)
	rnd, ok := m.Random(st)
	m.Push(PropRandom, rnd, ok)
}

func (e *Engine) pushState(st *Status) {
	s, ok := e.mirror.State(st)
	e.mirror.Push(PropState, string(s), ok)
}

func (e *Engine) pushTrack() {
	m := e.mirror
	t, ok := m.CurrentTrack()
	if !ok {
		return
	}
	artist, ok := m.Artist(t)
	m.Push(PropArtist, artist, ok)
	album, ok := m.Album(t)
	m.Push(PropAlbum, album, ok)
	title, ok := m.Title(t)
	m.Push(PropTitle, title, ok)
}

// Tick runs one iteration of the notification loop. It never returns an
// error; every failure is logged and retried on a later tick.
func (e *Engine) Tick(ctx context.Context) {
	if e.session.Broken() {
		if err := e.session.Reconnect(ctx); err != nil {
			e.logger.Warn("mpd reconnect failed", "error", err)
			return
		}
		e.logger.Info("mpd reconnected")
		e.Sync()
		e.enterWatch()
		return
	}

	if !e.session.Watching() {
		e.enterWatch()
		return
	}

	if !e.session.PollWatch() {
		return
	}

	changed, err := e.session.FetchWatchResult()
	if err != nil {
		e.logger.Error("mpd idle fetch failed", "error", err)
		return
	}
	e.refresh(changed)
	e.enterWatch()
}

// refresh re-reads what each reported subsystem affects. A subsystem reported
// twice is refreshed once.
func (e *Engine) refresh(changed []string) {
	seen := make([]string, 0, len(changed))
	for _, sub := range changed {
		if slices.Contains(seen, sub) {
			continue
		}
		seen = append(seen, sub)

		switch sub {
		case SubsystemPlaylist:
			if summary, ok := e.mirror.PlaylistSummary(); ok {
				e.mirror.Emit(EventPlaylistUpdated, summary)
			}
		case SubsystemPlayer:
			e.pushTrack()
			e.pushState(nil)
		case SubsystemMixer:
			v, ok := e.mirror.Volume(nil)
			e.mirror.Push(PropVolume, v, ok)
		case SubsystemOptions:
			if st, ok := e.mirror.Status(); ok {
				e.pushOptions(st)
			}
		default:
			e.logger.Debug("mpd subsystem ignored", "subsystem", sub)
		}
	}
}

func (e *Engine) enterWatch() {
	if err := e.session.EnterWatch(); err != nil {
		e.logger.Error("mpd idle failed", "error", err)
	}
}

// Run syncs, enters watch mode and loops until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.Sync()
	e.enterWatch()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		case op := <-e.ops:
			op.fn(e.dispatcher)
			close(op.done)
		}
	}
}

// Submit runs fn on the engine goroutine and waits for it to finish or for ctx
// to end.
func (e *Engine) Submit(ctx context.Context, fn func(*Dispatcher)) error {
	op := operation{fn: fn, done: make(chan struct{})}
	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
