// Package player mirrors MPD state into thing properties and turns thing
// actions into MPD commands.
package player

import (
	"context"
	"strconv"

	"github.com/fhs/gompd/v2/mpd"

	"mpdthing/internal/mpdsession"
)

// Property and event names exposed on the thing.
const (
	PropVolume = "volume"
	PropRepeat = "repeat"
	PropRandom = "random"
	PropState  = "state"
	PropArtist = "artist"
	PropAlbum  = "album"
	PropTitle  = "title"

	EventPlaylistUpdated = "playlistUpdated"
)

// Subsystems reported by idle that the engine reacts to.
const (
	SubsystemPlaylist = "playlist"
	SubsystemPlayer   = "player"
	SubsystemMixer    = "mixer"
	SubsystemOptions  = "options"
)

// Transport runs one MPD command. *mpdsession.Session and
// *mpdsession.ClientTransport both satisfy it.
type Transport interface {
	Execute(cmd string, args ...string) (mpdsession.Response, error)
}

// WatchTransport is a Transport that can also idle.
type WatchTransport interface {
	Transport
	EnterWatch() error
	PollWatch() bool
	FetchWatchResult() ([]string, error)
	Watching() bool
	Broken() bool
	Reconnect(ctx context.Context) error
}

// Sink receives property values and events.
type Sink interface {
	UpdateProperty(name string, value any)
	EmitEvent(name string, data any)
}

// PlaybackState is MPD's player state as reported by status.
type PlaybackState string

const (
	StatePlay  PlaybackState = "play"
	StatePause PlaybackState = "pause"
	StateStop  PlaybackState = "stop"
)

// Status is one status reply. It is never cached across ticks.
type Status struct {
	attrs mpd.Attrs
}

// NewStatus wraps raw status attributes.
func NewStatus(attrs mpd.Attrs) *Status { return &Status{attrs: attrs} }

// Volume is absent when MPD has no mixer (missing or negative value).
func (s *Status) Volume() (int, bool) {
	v, err := strconv.Atoi(s.attrs["volume"])
	if err != nil || v < 0 {
		return 0, false
	}
	return min(v, 100), true
}

func (s *Status) Repeat() (bool, bool) { return flag(s.attrs, "repeat") }
func (s *Status) Random() (bool, bool) { return flag(s.attrs, "random") }

func (s *Status) State() (PlaybackState, bool) {
	switch st := PlaybackState(s.attrs["state"]); st {
	case StatePlay, StatePause, StateStop:
		return st, true
	}
	return "", false
}

func flag(attrs mpd.Attrs, key string) (bool, bool) {
	switch attrs[key] {
	case "1":
		return true, true
	case "0":
		return false, true
	}
	return false, false
}

// Track is one currentsong reply. An empty reply means nothing is current and
// every field is absent.
type Track struct {
	attrs mpd.Attrs
}

// NewTrack wraps raw currentsong attributes.
func NewTrack(attrs mpd.Attrs) *Track { return &Track{attrs: attrs} }

func (t *Track) Artist() (string, bool) { return t.field("Artist") }
func (t *Track) Album() (string, bool)  { return t.field("Album") }
func (t *Track) Title() (string, bool)  { return t.field("Title") }

func (t *Track) field(key string) (string, bool) {
	v, ok := t.attrs[key]
	return v, ok
}
