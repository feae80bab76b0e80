// Package thing is a small Web Thing server: a registry of properties, actions
// and events, exposed over REST and WebSocket and optionally advertised over
// mDNS.
package thing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLogEntries bounds the action request and event logs.
const maxLogEntries = 100

// Action request lifecycle.
const (
	StatusCreated   = "created"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("read-only property")
	ErrInvalid  = errors.New("invalid value")
)

// Info identifies the thing in its description.
type Info struct {
	ID          string
	Title       string
	Description string
	Types       []string
}

// Metadata is the JSON-schema style description of a property, action or
// event (type, title, minimum, enum, readOnly, input, ...).
type Metadata map[string]any

// Setter applies a remote property write. The stored value only changes when
// it returns nil.
type Setter func(ctx context.Context, value any) error

// Performer runs an action with its validated input.
type Performer func(ctx context.Context, input map[string]any) error

// Notifier receives every change the thing publishes.
type Notifier interface {
	Publish(m Message)
}

// Message is one outbound WebSocket message.
type Message struct {
	Type string `json:"messageType"`
	Data any    `json:"data"`

	// event is set for event messages; only subscribed clients receive them.
	event string
}

type property struct {
	value any
	meta  Metadata
	set   Setter
}

type action struct {
	meta    Metadata
	perform Performer
}

// ActionRequest is one invocation of an action.
type ActionRequest struct {
	ID            string
	Name          string
	Input         map[string]any
	Status        string
	TimeRequested time.Time
	TimeCompleted time.Time
}

func (a *ActionRequest) describe() map[string]any {
	body := map[string]any{
		"href":          "/actions/" + a.Name + "/" + a.ID,
		"timeRequested": timestamp(a.TimeRequested),
		"status":        a.Status,
	}
	if a.Input != nil {
		body["input"] = a.Input
	}
	if !a.TimeCompleted.IsZero() {
		body["timeCompleted"] = timestamp(a.TimeCompleted)
	}
	return map[string]any{a.Name: body}
}

type eventRecord struct {
	name string
	data any
	at   time.Time
}

func (e eventRecord) describe() map[string]any {
	body := map[string]any{"timestamp": timestamp(e.at)}
	if e.data != nil {
		body["data"] = e.data
	}
	return map[string]any{e.name: body}
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05+00:00")
}

// Thing is safe for concurrent use.
type Thing struct {
	info   Info
	logger *slog.Logger

	mu          sync.RWMutex
	props       map[string]*property
	propOrder   []string
	actions     map[string]*action
	actionOrder []string
	events      map[string]Metadata
	eventOrder  []string
	requests    []*ActionRequest
	eventLog    []eventRecord
	notifier    Notifier

	now func() time.Time
}

func New(info Info, logger *slog.Logger) *Thing {
	return &Thing{
		info:    info,
		logger:  logger,
		props:   make(map[string]*property),
		actions: make(map[string]*action),
		events:  make(map[string]Metadata),
		now:     time.Now,
	}
}

func (t *Thing) Info() Info { return t.info }

// SetNotifier installs the receiver of change messages.
func (t *Thing) SetNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
}

func (t *Thing) publish(m Message) {
	t.mu.RLock()
	n := t.notifier
	t.mu.RUnlock()
	if n != nil {
		n.Publish(m)
	}
}

// AddProperty registers a property. set may be nil for properties that are
// only changed locally.
func (t *Thing) AddProperty(name string, initial any, meta Metadata, set Setter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.props[name]; !ok {
		t.propOrder = append(t.propOrder, name)
	}
	t.props[name] = &property{value: normalize(meta, initial), meta: meta, set: set}
}

func (t *Thing) AddAction(name string, meta Metadata, perform Performer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.actions[name]; !ok {
		t.actionOrder = append(t.actionOrder, name)
	}
	t.actions[name] = &action{meta: meta, perform: perform}
}

func (t *Thing) AddEvent(name string, meta Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.events[name]; !ok {
		t.eventOrder = append(t.eventOrder, name)
	}
	t.events[name] = meta
}

// Property returns the current value of name.
func (t *Thing) Property(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.props[name]
	if !ok {
		return nil, false
	}
	return p.value, true
}

// Properties returns a snapshot of every property value.
func (t *Thing) Properties() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.props))
	for name, p := range t.props {
		out[name] = p.value
	}
	return out
}

// UpdateProperty records a value observed on the device. Subscribers are
// notified only when the value actually changed.
func (t *Thing) UpdateProperty(name string, value any) {
	t.mu.Lock()
	p, ok := t.props[name]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("update of unknown property", "property", name)
		return
	}
	value = normalize(p.meta, value)
	if reflect.DeepEqual(p.value, value) {
		t.mu.Unlock()
		return
	}
	p.value = value
	t.mu.Unlock()

	t.logger.Debug("property changed", "property", name, "value", value)
	t.publish(Message{Type: "propertyStatus", Data: map[string]any{name: value}})
}

// SetProperty handles a remote write: read-only and schema violations are
// rejected, otherwise the setter runs and the new value is stored.
func (t *Thing) SetProperty(ctx context.Context, name string, value any) (any, error) {
	t.mu.RLock()
	p, ok := t.props[name]
	var meta Metadata
	var set Setter
	if ok {
		meta, set = p.meta, p.set
	}
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("property %q: %w", name, ErrNotFound)
	}
	if ro, _ := meta["readOnly"].(bool); ro {
		return nil, fmt.Errorf("property %q: %w", name, ErrReadOnly)
	}
	if err := validate(meta, value); err != nil {
		return nil, fmt.Errorf("property %q: %w", name, err)
	}
	value = normalize(meta, value)

	if set != nil {
		if err := set(ctx, value); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
	}
	t.UpdateProperty(name, value)
	return value, nil
}

// EmitEvent records an event and publishes it to subscribers.
func (t *Thing) EmitEvent(name string, data any) {
	t.mu.Lock()
	if _, ok := t.events[name]; !ok {
		t.mu.Unlock()
		t.logger.Warn("emit of unknown event", "event", name)
		return
	}
	rec := eventRecord{name: name, data: data, at: t.now()}
	t.eventLog = appendBounded(t.eventLog, rec)
	t.mu.Unlock()

	t.logger.Debug("event emitted", "event", name)
	t.publish(Message{Type: "event", Data: rec.describe(), event: name})
}

// HasEvent reports whether name is a registered event.
func (t *Thing) HasEvent(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.events[name]
	return ok
}

// Events lists recorded events, oldest first. An empty name lists all.
func (t *Thing) Events(name string) []map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []map[string]any{}
	for _, rec := range t.eventLog {
		if name == "" || rec.name == name {
			out = append(out, rec.describe())
		}
	}
	return out
}

// RequestAction validates input and runs the action to completion, publishing
// each status transition.
func (t *Thing) RequestAction(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	t.mu.RLock()
	a, ok := t.actions[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action %q: %w", name, ErrNotFound)
	}
	if err := validateInput(a.meta, input); err != nil {
		return nil, fmt.Errorf("action %q: %w", name, err)
	}

	req := &ActionRequest{
		ID:            uuid.NewString(),
		Name:          name,
		Input:         input,
		Status:        StatusCreated,
		TimeRequested: t.now(),
	}
	t.mu.Lock()
	t.requests = appendBounded(t.requests, req)
	t.mu.Unlock()
	t.publishAction(req)

	t.setStatus(req, StatusPending)
	if a.perform != nil {
		if err := a.perform(ctx, input); err != nil {
			t.logger.Error("action failed", "action", name, "id", req.ID, "error", err)
		}
	}
	t.setStatus(req, StatusCompleted)

	t.mu.RLock()
	defer t.mu.RUnlock()
	return req.describe(), nil
}

func (t *Thing) setStatus(req *ActionRequest, status string) {
	t.mu.Lock()
	req.Status = status
	if status == StatusCompleted {
		req.TimeCompleted = t.now()
	}
	t.mu.Unlock()
	t.publishAction(req)
}

func (t *Thing) publishAction(req *ActionRequest) {
	t.mu.RLock()
	desc := req.describe()
	t.mu.RUnlock()
	t.publish(Message{Type: "actionStatus", Data: desc})
}

// HasAction reports whether name is a registered action.
func (t *Thing) HasAction(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.actions[name]
	return ok
}

// ActionRequests lists recorded requests, oldest first. An empty name lists all.
func (t *Thing) ActionRequests(name string) []map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []map[string]any{}
	for _, req := range t.requests {
		if name == "" || req.Name == name {
			out = append(out, req.describe())
		}
	}
	return out
}

// ActionRequest returns one recorded request.
func (t *Thing) ActionRequest(name, id string) (map[string]any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, req := range t.requests {
		if req.Name == name && req.ID == id {
			return req.describe(), true
		}
	}
	return nil, false
}

// Description renders the thing description. wsHref, when set, is advertised
// as the alternate WebSocket link.
func (t *Thing) Description(wsHref string) map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	props := make(map[string]any, len(t.props))
	for _, name := range t.propOrder {
		props[name] = withLink(t.props[name].meta, "property", "/properties/"+name)
	}
	actions := make(map[string]any, len(t.actions))
	for _, name := range t.actionOrder {
		actions[name] = withLink(t.actions[name].meta, "action", "/actions/"+name)
	}
	events := make(map[string]any, len(t.events))
	for _, name := range t.eventOrder {
		events[name] = withLink(t.events[name], "event", "/events/"+name)
	}

	links := []map[string]any{
		{"rel": "properties", "href": "/properties"},
		{"rel": "actions", "href": "/actions"},
		{"rel": "events", "href": "/events"},
	}
	if wsHref != "" {
		links = append(links, map[string]any{"rel": "alternate", "href": wsHref})
	}

	types := t.info.Types
	if types == nil {
		types = []string{}
	}
	desc := map[string]any{
		"id":         t.info.ID,
		"title":      t.info.Title,
		"@context":   "https://webthings.io/schemas",
		"@type":      types,
		"properties": props,
		"actions":    actions,
		"events":     events,
		"links":      links,
	}
	if t.info.Description != "" {
		desc["description"] = t.info.Description
	}
	return desc
}

func withLink(meta Metadata, rel, href string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["links"] = []map[string]any{{"rel": rel, "href": href}}
	return out
}

func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > maxLogEntries {
		s = slices.Delete(s, 0, len(s)-maxLogEntries)
	}
	return s
}
