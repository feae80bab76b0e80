package thing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// requestTimeout bounds property writes and action runs started by a client.
const requestTimeout = 10 * time.Second

// Server exposes one thing over REST and WebSocket.
type Server struct {
	thing  *Thing
	hub    *Hub
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer registers the routes and makes hub the thing's notifier. The hub
// must be running (hub.Run) for WebSocket clients to receive anything.
func NewServer(t *Thing, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{thing: t, hub: hub, logger: logger, mux: http.NewServeMux()}
	t.SetNotifier(hub)

	s.mux.HandleFunc("GET /{$}", s.handleThing)
	s.mux.HandleFunc("GET /properties", s.handleProperties)
	s.mux.HandleFunc("GET /properties/{name}", s.handleGetProperty)
	s.mux.HandleFunc("PUT /properties/{name}", s.handlePutProperty)
	s.mux.HandleFunc("GET /actions", s.handleListActions)
	s.mux.HandleFunc("POST /actions", s.handlePostAction)
	s.mux.HandleFunc("GET /actions/{name}", s.handleListActions)
	s.mux.HandleFunc("POST /actions/{name}", s.handlePostAction)
	s.mux.HandleFunc("GET /actions/{name}/{id}", s.handleGetAction)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /events/{name}", s.handleEvents)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr and shuts down gracefully when ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("thing server listening", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleThing(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.thing.Description(wsHref(r)))
}

func wsHref(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.thing.Properties())
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	v, ok := s.thing.Property(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: v})
}

func (s *Server) handlePutProperty(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	value, ok := body[name]
	if !ok {
		http.Error(w, fmt.Sprintf("body must contain %q", name), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stored, err := s.thing.SetProperty(ctx, name, value)
	if err != nil {
		s.logger.Warn("property write rejected", "property", name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: stored})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != "" && !s.thing.HasAction(name) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.thing.ActionRequests(name))
}

// handlePostAction accepts {"<action>": {"input": {...}}}. On /actions/{name}
// the key must match the path.
func (s *Server) handlePostAction(w http.ResponseWriter, r *http.Request) {
	var body map[string]actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) != 1 {
		http.Error(w, "body must contain exactly one action", http.StatusBadRequest)
		return
	}

	var name string
	var req actionBody
	for n, b := range body {
		name, req = n, b
	}
	if want := r.PathValue("name"); want != "" && want != name {
		http.Error(w, fmt.Sprintf("action %q does not match path", name), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	desc, err := s.thing.RequestAction(ctx, name, req.Input)
	if err != nil {
		s.logger.Warn("action request rejected", "action", name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

type actionBody struct {
	Input map[string]any `json:"input"`
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.thing.ActionRequest(r.PathValue("name"), r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != "" && !s.thing.HasEvent(name) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.thing.Events(name))
}

// ============================================================================
// WebSocket endpoint
// ============================================================================

type inbound struct {
	MessageType string                     `json:"messageType"`
	Data        map[string]json.RawMessage `json:"data"`
}

func errorMessage(status int, msg string) Message {
	return Message{
		Type: "error",
		Data: map[string]any{
			"status":  fmt.Sprintf("%d %s", status, http.StatusText(status)),
			"message": msg,
		},
	}
}

// handleWS upgrades, queues a propertyStatus snapshot and registers the client.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// The client is not registered yet, so nothing else writes to send.
	if snap, err := json.Marshal(Message{Type: "propertyStatus", Data: s.thing.Properties()}); err == nil {
		client.send <- snap
	}
	s.hub.addClient(client)

	// Pumps outlive the request; their lifetime is managed by the hub and by
	// websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background(), s.handleInbound)
}

func (s *Server) handleInbound(ctx context.Context, c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.MessageType == "" {
		c.reply(errorMessage(http.StatusBadRequest, "Parsing request failed"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch msg.MessageType {
	case "setProperty":
		for name, rawValue := range msg.Data {
			var value any
			if err := json.Unmarshal(rawValue, &value); err != nil {
				c.reply(errorMessage(http.StatusBadRequest, err.Error()))
				continue
			}
			if _, err := s.thing.SetProperty(ctx, name, value); err != nil {
				c.reply(errorMessage(http.StatusBadRequest, err.Error()))
			}
		}

	case "requestAction":
		for name, rawBody := range msg.Data {
			var body actionBody
			if err := json.Unmarshal(rawBody, &body); err != nil {
				c.reply(errorMessage(http.StatusBadRequest, err.Error()))
				continue
			}
			if _, err := s.thing.RequestAction(ctx, name, body.Input); err != nil {
				c.reply(errorMessage(http.StatusBadRequest, err.Error()))
			}
		}

	case "addEventSubscription":
		for name := range msg.Data {
			if s.thing.HasEvent(name) {
				s.hub.subscribe(c, name)
			}
		}

	default:
		c.reply(errorMessage(http.StatusBadRequest, "Unknown messageType: "+msg.MessageType))
	}
}
