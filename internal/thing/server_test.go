package thing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testServer struct {
	thing *Thing
	hub   *Hub
	srv   *httptest.Server
	plays atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}

	th := New(Info{ID: "urn:dev:ops:test", Title: "Test"}, slog.Default())
	th.AddProperty("volume", 10, Metadata{"type": "number", "minimum": 0, "maximum": 100}, nil)
	th.AddProperty("state", "stop", Metadata{"type": "string", "readOnly": true}, nil)
	th.AddAction("play", Metadata{"title": "Play"}, func(context.Context, map[string]any) error {
		ts.plays.Add(1)
		return nil
	})
	th.AddEvent("changed", Metadata{"type": "string"})

	hub := newTestHub(t, 16, 16)
	startHub(t, hub)

	s := NewServer(th, hub, slog.Default())
	ts.thing, ts.hub = th, hub
	ts.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any, []any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var obj map[string]any
	var list []any
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		_ = json.Unmarshal(raw, &list)
	} else {
		_ = json.Unmarshal(raw, &obj)
	}
	return resp.StatusCode, obj, list
}

func TestServer_Description(t *testing.T) {
	ts := newTestServer(t)

	code, desc, _ := ts.do(t, http.MethodGet, "/", "")
	if code != http.StatusOK {
		t.Fatalf("GET / = %d", code)
	}
	if desc["id"] != "urn:dev:ops:test" {
		t.Fatalf("id = %v", desc["id"])
	}
	if _, ok := desc["properties"].(map[string]any)["volume"]; !ok {
		t.Fatalf("description lacks volume: %v", desc)
	}
}

func TestServer_Properties(t *testing.T) {
	ts := newTestServer(t)

	code, body, _ := ts.do(t, http.MethodGet, "/properties/volume", "")
	if code != http.StatusOK || body["volume"] != float64(10) {
		t.Fatalf("GET volume = %d %v", code, body)
	}

	code, body, _ = ts.do(t, http.MethodPut, "/properties/volume", `{"volume": 30}`)
	if code != http.StatusOK || body["volume"] != float64(30) {
		t.Fatalf("PUT volume = %d %v", code, body)
	}

	code, body, _ = ts.do(t, http.MethodGet, "/properties", "")
	if code != http.StatusOK || body["volume"] != float64(30) || body["state"] != "stop" {
		t.Fatalf("GET /properties = %d %v", code, body)
	}

	tests := []struct {
		path, body string
		want       int
	}{
		{"/properties/state", `{"state": "play"}`, http.StatusBadRequest},
		{"/properties/volume", `{"volume": 300}`, http.StatusBadRequest},
		{"/properties/volume", `{"level": 3}`, http.StatusBadRequest},
		{"/properties/volume", `not json`, http.StatusBadRequest},
		{"/properties/nope", `{"nope": 1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		if code, _, _ := ts.do(t, http.MethodPut, tt.path, tt.body); code != tt.want {
			t.Errorf("PUT %s %s = %d, want %d", tt.path, tt.body, code, tt.want)
		}
	}

	if code, _, _ := ts.do(t, http.MethodGet, "/properties/nope", ""); code != http.StatusNotFound {
		t.Fatalf("GET unknown property = %d, want 404", code)
	}
}

func TestServer_Actions(t *testing.T) {
	ts := newTestServer(t)

	code, body, _ := ts.do(t, http.MethodPost, "/actions", `{"play": {}}`)
	if code != http.StatusCreated {
		t.Fatalf("POST /actions = %d", code)
	}
	if n := ts.plays.Load(); n != 1 {
		t.Fatalf("plays = %d, want 1", n)
	}
	href, _ := body["play"].(map[string]any)["href"].(string)
	if !strings.HasPrefix(href, "/actions/play/") {
		t.Fatalf("href = %q", href)
	}

	if code, _, _ := ts.do(t, http.MethodGet, href, ""); code != http.StatusOK {
		t.Fatalf("GET %s = %d", href, code)
	}
	if code, _, _ := ts.do(t, http.MethodPost, "/actions/play", `{"play": {}}`); code != http.StatusCreated {
		t.Fatalf("POST /actions/play = %d", code)
	}
	if code, _, list := ts.do(t, http.MethodGet, "/actions/play", ""); code != http.StatusOK || len(list) != 2 {
		t.Fatalf("GET /actions/play = %d, %d entries", code, len(list))
	}

	tests := []struct {
		path, body string
		want       int
	}{
		{"/actions/play", `{"stop": {}}`, http.StatusBadRequest},
		{"/actions", `{}`, http.StatusBadRequest},
		{"/actions", `{"dance": {}}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		if code, _, _ := ts.do(t, http.MethodPost, tt.path, tt.body); code != tt.want {
			t.Errorf("POST %s %s = %d, want %d", tt.path, tt.body, code, tt.want)
		}
	}
	if code, _, _ := ts.do(t, http.MethodGet, "/actions/play/no-such-id", ""); code != http.StatusNotFound {
		t.Fatalf("GET unknown request = %d, want 404", code)
	}
}

func TestServer_Events(t *testing.T) {
	ts := newTestServer(t)
	ts.thing.EmitEvent("changed", "A - T")

	code, _, list := ts.do(t, http.MethodGet, "/events/changed", "")
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("GET /events/changed = %d %v", code, list)
	}
	if code, _, _ := ts.do(t, http.MethodGet, "/events/other", ""); code != http.StatusNotFound {
		t.Fatalf("GET unknown event = %d, want 404", code)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg struct {
			MessageType string         `json:"messageType"`
			Data        map[string]any `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		if msg.MessageType == wantType {
			return msg.Data
		}
	}
}

func TestServer_WebSocket(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	snap := readMessage(t, conn, "propertyStatus")
	if snap["volume"] != float64(10) {
		t.Fatalf("initial snapshot = %v", snap)
	}

	if err := conn.WriteJSON(map[string]any{
		"messageType": "setProperty",
		"data":        map[string]any{"volume": 25},
	}); err != nil {
		t.Fatalf("write setProperty: %v", err)
	}
	if got := readMessage(t, conn, "propertyStatus"); got["volume"] != float64(25) {
		t.Fatalf("propertyStatus = %v, want volume 25", got)
	}

	if err := conn.WriteJSON(map[string]any{
		"messageType": "setProperty",
		"data":        map[string]any{"state": "play"},
	}); err != nil {
		t.Fatalf("write setProperty: %v", err)
	}
	readMessage(t, conn, "error")

	if err := conn.WriteJSON(map[string]any{
		"messageType": "addEventSubscription",
		"data":        map[string]any{"changed": map[string]any{}},
	}); err != nil {
		t.Fatalf("write addEventSubscription: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		ts.hub.mu.Lock()
		defer ts.hub.mu.Unlock()
		for c := range ts.hub.clients {
			if _, ok := c.subscriptions["changed"]; ok {
				return true
			}
		}
		return false
	}, "subscription not recorded")

	ts.thing.EmitEvent("changed", "A - T")
	ev := readMessage(t, conn, "event")
	if ev["changed"].(map[string]any)["data"] != "A - T" {
		t.Fatalf("event = %v", ev)
	}

	if err := conn.WriteJSON(map[string]any{
		"messageType": "requestAction",
		"data":        map[string]any{"play": map[string]any{}},
	}); err != nil {
		t.Fatalf("write requestAction: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		return len(ts.thing.ActionRequests("play")) == 1
	}, "action not recorded")
}
