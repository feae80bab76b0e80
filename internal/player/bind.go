package player

import (
	"context"

	"mpdthing/internal/thing"
)

// Submitter runs dispatcher operations on the goroutine that owns the MPD
// session. *Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, fn func(*Dispatcher)) error
}

// Bind registers the MPD properties, actions and events on t. Writable
// properties and actions are forwarded through s.
func Bind(t *thing.Thing, s Submitter) {
	t.AddProperty(PropVolume, nil, thing.Metadata{
		"@type":       "LevelProperty",
		"type":        "number",
		"description": "Playback volume",
		"minimum":     0,
		"maximum":     100,
		"unit":        "percent",
		"title":       "Volume",
	}, func(ctx context.Context, v any) error {
		level := int(asNumber(v))
		return s.Submit(ctx, func(d *Dispatcher) { d.SetVolume(level) })
	})

	t.AddProperty(PropRepeat, nil, thing.Metadata{
		"@type":       "BooleanProperty",
		"type":        "boolean",
		"description": "Repeat mode",
		"title":       "Repeat",
	}, func(ctx context.Context, v any) error {
		on, _ := v.(bool)
		return s.Submit(ctx, func(d *Dispatcher) { d.SetRepeat(on) })
	})

	t.AddProperty(PropRandom, nil, thing.Metadata{
		"@type":       "BooleanProperty",
		"type":        "boolean",
		"description": "Random mode",
		"title":       "Random",
	}, func(ctx context.Context, v any) error {
		on, _ := v.(bool)
		return s.Submit(ctx, func(d *Dispatcher) { d.SetRandom(on) })
	})

	t.AddProperty(PropState, nil, thing.Metadata{
		"type":        "string",
		"enum":        []string{string(StatePlay), string(StateStop), string(StatePause)},
		"description": "Current playback state",
		"title":       "State",
		"readOnly":    true,
	}, nil)

	t.AddProperty(PropArtist, nil, readOnlyString("Artist", "Artist of current song"), nil)
	t.AddProperty(PropAlbum, nil, readOnlyString("Album", "Album current song belongs to"), nil)
	t.AddProperty(PropTitle, nil, readOnlyString("Title", "Title of current song"), nil)

	simple := []struct {
		name, title, description string
		run                      func(*Dispatcher)
	}{
		{"play", "Play", "Start playback", (*Dispatcher).Play},
		{"pause", "Pause", "Pause playback", (*Dispatcher).Pause},
		{"stop", "Stop", "Stop playback", (*Dispatcher).Stop},
		{"next", "Next", "Skip to next song", (*Dispatcher).Next},
		{"previous", "Previous", "Skip to previous song", (*Dispatcher).Previous},
	}
	for _, a := range simple {
		run := a.run
		t.AddAction(a.name, thing.Metadata{
			"title":       a.title,
			"description": a.description,
		}, func(ctx context.Context, _ map[string]any) error {
			return s.Submit(ctx, run)
		})
	}

	t.AddAction("queueRandom", thing.Metadata{
		"title":       "Queue Random",
		"description": "Queue a series of random songs",
		"input": map[string]any{
			"type":     "object",
			"required": []string{"count"},
			"properties": map[string]any{
				"count": map[string]any{
					"type":    "number",
					"minimum": 1,
				},
			},
		},
	}, func(ctx context.Context, input map[string]any) error {
		count := int(asNumber(input["count"]))
		return s.Submit(ctx, func(d *Dispatcher) { d.EnqueueRandom(count) })
	})

	t.AddEvent(EventPlaylistUpdated, thing.Metadata{
		"description": "The current playlist has been updated",
		"type":        "string",
	})
}

func readOnlyString(title, description string) thing.Metadata {
	return thing.Metadata{
		"type":        "string",
		"description": description,
		"title":       title,
		"readOnly":    true,
	}
}

func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
