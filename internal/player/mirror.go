package player

import (
	"log/slog"
	"strings"

	"mpdthing/internal/mpdsession"
)

// Mirror translates MPD replies into property values. Every query goes to the
// wire; a failed query is logged and reported as absent.
type Mirror struct {
	transport Transport
	sink      Sink
	logger    *slog.Logger
}

func NewMirror(transport Transport, sink Sink, logger *slog.Logger) *Mirror {
	return &Mirror{transport: transport, sink: sink, logger: logger}
}

func (m *Mirror) query(cmd string, args ...string) (mpdsession.Response, bool) {
	resp, err := m.transport.Execute(cmd, args...)
	if err != nil {
		m.logger.Error("mpd query failed", "command", cmd, "error", err)
		return nil, false
	}
	return resp, true
}

// command runs a state-changing command and reports whether MPD accepted it.
func (m *Mirror) command(cmd string, args ...string) bool {
	if _, err := m.transport.Execute(cmd, args...); err != nil {
		m.logger.Error("mpd command failed", "command", cmd, "args", args, "error", err)
		return false
	}
	return true
}

func (m *Mirror) Status() (*Status, bool) {
	resp, ok := m.query("status")
	if !ok {
		return nil, false
	}
	return NewStatus(resp.Attrs()), true
}

// The accessors below take an already fetched status, or nil to fetch one.

func (m *Mirror) Volume(st *Status) (int, bool) {
	if st == nil {
		var ok bool
		if st, ok = m.Status(); !ok {
			return 0, false
		}
	}
	return st.Volume()
}

func (m *Mirror) Repeat(st *Status) (bool, bool) {
	if st == nil {
		var ok bool
		if st, ok = m.Status(); !ok {
			return false, false
		}
	}
	return st.Repeat()
}

func (m *Mirror) Random(st *Status) (bool, bool) {
	if st == nil {
		var ok bool
		if st, ok = m.Status(); !ok {
			return false, false
		}
	}
	return st.Random()
}

func (m *Mirror) State(st *Status) (PlaybackState, bool) {
	if st == nil {
		var ok bool
		if st, ok = m.Status(); !ok {
			return "", false
		}
	}
	return st.State()
}

func (m *Mirror) CurrentTrack() (*Track, bool) {
	resp, ok := m.query("currentsong")
	if !ok {
		return nil, false
	}
	return NewTrack(resp.Attrs()), true
}

func (m *Mirror) Artist(t *Track) (string, bool) {
	if t == nil {
		var ok bool
		if t, ok = m.CurrentTrack(); !ok {
			return "", false
		}
	}
	return t.Artist()
}

func (m *Mirror) Album(t *Track) (string, bool) {
	if t == nil {
		var ok bool
		if t, ok = m.CurrentTrack(); !ok {
			return "", false
		}
	}
	return t.Album()
}

func (m *Mirror) Title(t *Track) (string, bool) {
	if t == nil {
		var ok bool
		if t, ok = m.CurrentTrack(); !ok {
			return "", false
		}
	}
	return t.Title()
}

// Catalog lists every file URI in the MPD database. Nil on failure.
func (m *Mirror) Catalog() []string {
	resp, ok := m.query("list", "file")
	if !ok {
		return nil
	}
	return resp.Strings("file")
}

// PlaylistSummary renders the queue as "artist - title" lines.
func (m *Mirror) PlaylistSummary() (string, bool) {
	resp, ok := m.query("playlistinfo")
	if !ok {
		return "", false
	}
	songs := resp.AttrsList("file")
	lines := make([]string, 0, len(songs))
	for _, song := range songs {
		artist, ok := song["Artist"]
		if !ok {
			artist = "Unknown"
		}
		title, ok := song["Title"]
		if !ok {
			title = "Unknown"
		}
		lines = append(lines, artist+" - "+title)
	}
	return strings.Join(lines, "\n"), true
}

// Push forwards value to the sink only when ok is true, so an absent value
// leaves the last published one in place.
func (m *Mirror) Push(name string, value any, ok bool) {
	if !ok {
		return
	}
	m.sink.UpdateProperty(name, value)
}

// Emit raises an event on the sink.
func (m *Mirror) Emit(name string, data any) {
	m.sink.EmitEvent(name, data)
}
