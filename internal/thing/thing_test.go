package thing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Publish(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

func newTestThing(t *testing.T) (*Thing, *recorder) {
	t.Helper()
	th := New(Info{ID: "urn:dev:ops:test", Title: "Test", Description: "A test thing"}, slog.Default())
	rec := &recorder{}
	th.SetNotifier(rec)
	return th, rec
}

func TestUpdateProperty_NotifiesOnlyOnChange(t *testing.T) {
	th, rec := newTestThing(t)
	th.AddProperty("level", nil, Metadata{"type": "number"}, nil)

	th.UpdateProperty("level", 40)
	th.UpdateProperty("level", 40)
	th.UpdateProperty("level", float64(40))
	th.UpdateProperty("level", 41)

	if got := len(rec.types()); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
	if v, _ := th.Property("level"); v != float64(41) {
		t.Fatalf("level = %v (%T), want 41", v, v)
	}
}

func TestUpdateProperty_UnknownIgnored(t *testing.T) {
	th, rec := newTestThing(t)
	th.UpdateProperty("nope", 1)
	if len(rec.types()) != 0 {
		t.Fatalf("unknown property should not notify")
	}
}

func TestSetProperty(t *testing.T) {
	var setCalls []any
	setter := func(_ context.Context, v any) error {
		setCalls = append(setCalls, v)
		return nil
	}

	tests := []struct {
		name    string
		prop    string
		value   any
		wantErr error
	}{
		{"valid number", "volume", float64(30), nil},
		{"below minimum", "volume", float64(-1), ErrInvalid},
		{"above maximum", "volume", float64(101), ErrInvalid},
		{"wrong type", "volume", "loud", ErrInvalid},
		{"valid boolean", "repeat", true, nil},
		{"bad boolean", "repeat", 1, ErrInvalid},
		{"read only", "state", "play", ErrReadOnly},
		{"unknown", "missing", 1, ErrNotFound},
		{"enum miss", "mode", "loud", ErrInvalid},
		{"enum hit", "mode", "quiet", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, _ := newTestThing(t)
			th.AddProperty("volume", 0, Metadata{"type": "number", "minimum": 0, "maximum": 100}, setter)
			th.AddProperty("repeat", false, Metadata{"type": "boolean"}, setter)
			th.AddProperty("state", "stop", Metadata{"type": "string", "readOnly": true}, setter)
			th.AddProperty("mode", "quiet", Metadata{"type": "string", "enum": []string{"quiet", "normal"}}, setter)
			setCalls = nil

			_, err := th.SetProperty(context.Background(), tt.prop, tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("SetProperty: %v", err)
				}
				if len(setCalls) != 1 {
					t.Fatalf("setter calls = %d, want 1", len(setCalls))
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetProperty error = %v, want %v", err, tt.wantErr)
			}
			if len(setCalls) != 0 {
				t.Fatalf("setter must not run on rejected write")
			}
		})
	}
}

func TestSetProperty_SetterFailureKeepsValue(t *testing.T) {
	th, rec := newTestThing(t)
	th.AddProperty("volume", 10, Metadata{"type": "number"}, func(context.Context, any) error {
		return errors.New("mpd down")
	})

	if _, err := th.SetProperty(context.Background(), "volume", float64(50)); err == nil {
		t.Fatalf("SetProperty should return the setter error")
	}
	if v, _ := th.Property("volume"); v != float64(10) {
		t.Fatalf("volume = %v, want unchanged 10", v)
	}
	if len(rec.types()) != 0 {
		t.Fatalf("failed write should not notify")
	}
}

func TestRequestAction_Lifecycle(t *testing.T) {
	th, rec := newTestThing(t)
	var got map[string]any
	th.AddAction("queue", Metadata{
		"input": map[string]any{
			"type":       "object",
			"required":   []string{"count"},
			"properties": map[string]any{"count": map[string]any{"type": "number", "minimum": 1}},
		},
	}, func(_ context.Context, input map[string]any) error {
		got = input
		return nil
	})

	desc, err := th.RequestAction(context.Background(), "queue", map[string]any{"count": float64(2)})
	if err != nil {
		t.Fatalf("RequestAction: %v", err)
	}
	if got["count"] != float64(2) {
		t.Fatalf("performer input = %v", got)
	}

	body := desc["queue"].(map[string]any)
	if body["status"] != StatusCompleted {
		t.Fatalf("status = %v, want completed", body["status"])
	}
	if _, ok := body["timeCompleted"]; !ok {
		t.Fatalf("completed request should carry timeCompleted")
	}

	want := []string{"actionStatus", "actionStatus", "actionStatus"}
	if types := rec.types(); fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("messages = %v, want %v", types, want)
	}
	if n := len(th.ActionRequests("queue")); n != 1 {
		t.Fatalf("recorded requests = %d, want 1", n)
	}
}

func TestRequestAction_Validation(t *testing.T) {
	th, _ := newTestThing(t)
	ran := false
	th.AddAction("queue", Metadata{
		"input": map[string]any{
			"required":   []string{"count"},
			"properties": map[string]any{"count": map[string]any{"type": "number", "minimum": 1}},
		},
	}, func(context.Context, map[string]any) error {
		ran = true
		return nil
	})

	if _, err := th.RequestAction(context.Background(), "queue", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing input = %v, want ErrInvalid", err)
	}
	if _, err := th.RequestAction(context.Background(), "queue", map[string]any{"count": "three"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("string count = %v, want ErrInvalid", err)
	}
	if _, err := th.RequestAction(context.Background(), "dance", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown action = %v, want ErrNotFound", err)
	}
	if ran {
		t.Fatalf("performer must not run on invalid input")
	}
	if n := len(th.ActionRequests("")); n != 0 {
		t.Fatalf("rejected requests recorded: %d", n)
	}
}

func TestEmitEvent_BoundedLog(t *testing.T) {
	th, rec := newTestThing(t)
	th.AddEvent("changed", Metadata{"type": "string"})

	for i := range maxLogEntries + 20 {
		th.EmitEvent("changed", fmt.Sprintf("n%d", i))
	}
	th.EmitEvent("unknown", "x")

	events := th.Events("changed")
	if len(events) != maxLogEntries {
		t.Fatalf("events = %d, want %d", len(events), maxLogEntries)
	}
	first := events[0]["changed"].(map[string]any)
	if first["data"] != "n20" {
		t.Fatalf("oldest kept event = %v, want n20", first["data"])
	}
	if n := len(rec.types()); n != maxLogEntries+20 {
		t.Fatalf("notifications = %d, want %d", n, maxLogEntries+20)
	}
}

func TestDescription(t *testing.T) {
	th, _ := newTestThing(t)
	th.AddProperty("volume", 0, Metadata{"type": "number", "title": "Volume"}, nil)
	th.AddAction("play", Metadata{"title": "Play"}, nil)
	th.AddEvent("changed", Metadata{"type": "string"})

	desc := th.Description("ws://host:8888")

	if desc["id"] != "urn:dev:ops:test" || desc["title"] != "Test" || desc["description"] != "A test thing" {
		t.Fatalf("identity = %v %v %v", desc["id"], desc["title"], desc["description"])
	}
	vol := desc["properties"].(map[string]any)["volume"].(map[string]any)
	links := vol["links"].([]map[string]any)
	if links[0]["href"] != "/properties/volume" {
		t.Fatalf("volume link = %v", links)
	}
	if vol["title"] != "Volume" {
		t.Fatalf("volume metadata lost: %v", vol)
	}

	var alt string
	for _, l := range desc["links"].([]map[string]any) {
		if l["rel"] == "alternate" {
			alt, _ = l["href"].(string)
		}
	}
	if alt != "ws://host:8888" {
		t.Fatalf("alternate link = %q", alt)
	}
}
