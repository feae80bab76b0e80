package player

import (
	"log/slog"
	"math/rand/v2"
	"strconv"
)

// Dispatcher issues transport commands only when the current playback state
// allows them. A state that cannot be read counts as a precondition miss.
type Dispatcher struct {
	mirror *Mirror
	logger *slog.Logger

	// intn picks a catalog index in [0, n).
	intn func(n int) int
}

func NewDispatcher(mirror *Mirror, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mirror: mirror, logger: logger, intn: rand.IntN}
}

// Play resumes from pause or starts the queue from the top when stopped.
func (d *Dispatcher) Play() {
	st, ok := d.mirror.State(nil)
	if !ok {
		return
	}
	switch st {
	case StatePause:
		d.mirror.command("pause", "0")
	case StateStop:
		d.mirror.command("play", "0")
	}
}

func (d *Dispatcher) Pause() {
	if st, ok := d.mirror.State(nil); ok && st == StatePlay {
		d.mirror.command("pause", "1")
	}
}

func (d *Dispatcher) Stop()     { d.whileActive("stop") }
func (d *Dispatcher) Next()     { d.whileActive("next") }
func (d *Dispatcher) Previous() { d.whileActive("previous") }

// whileActive runs cmd when playing or paused.
func (d *Dispatcher) whileActive(cmd string) {
	st, ok := d.mirror.State(nil)
	if !ok || (st != StatePlay && st != StatePause) {
		return
	}
	d.mirror.command(cmd)
}

// EnqueueRandom appends count songs drawn uniformly, with replacement, from
// the whole catalog, then publishes the new queue summary once.
func (d *Dispatcher) EnqueueRandom(count int) {
	if count < 1 {
		return
	}
	catalog := d.mirror.Catalog()
	if len(catalog) == 0 {
		d.logger.Debug("queue random skipped", "reason", "empty catalog")
		return
	}
	for range count {
		d.mirror.command("add", catalog[d.intn(len(catalog))])
	}
	if summary, ok := d.mirror.PlaylistSummary(); ok {
		d.mirror.Emit(EventPlaylistUpdated, summary)
	}
}

func (d *Dispatcher) SetVolume(level int) {
	level = max(0, min(level, 100))
	d.mirror.command("setvol", strconv.Itoa(level))
}

func (d *Dispatcher) SetRepeat(on bool) { d.mirror.command("repeat", boolArg(on)) }
func (d *Dispatcher) SetRandom(on bool) { d.mirror.command("random", boolArg(on)) }

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
