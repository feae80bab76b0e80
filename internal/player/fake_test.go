package player

import (
	"context"
	"errors"
	"strings"

	"mpdthing/internal/mpdsession"
)

// fakeTransport answers commands from canned replies and records every call
// as "cmd arg1 arg2".
type fakeTransport struct {
	replies map[string]mpdsession.Response
	errs    map[string]error
	calls   []string

	watching     bool
	broken       bool
	ready        bool
	changed      []string
	fetchErr     error
	reconnectErr error
	enters       int
	reconnects   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		replies: make(map[string]mpdsession.Response),
		errs:    make(map[string]error),
	}
}

func (f *fakeTransport) Execute(cmd string, args ...string) (mpdsession.Response, error) {
	f.calls = append(f.calls, strings.TrimSpace(cmd+" "+strings.Join(args, " ")))
	if err := f.errs[cmd]; err != nil {
		return nil, err
	}
	return f.replies[cmd], nil
}

func (f *fakeTransport) EnterWatch() error {
	if f.broken {
		return mpdsession.ErrNotConnected
	}
	f.watching = true
	f.enters++
	return nil
}

func (f *fakeTransport) PollWatch() bool { return f.watching && f.ready }

func (f *fakeTransport) FetchWatchResult() ([]string, error) {
	f.watching = false
	f.ready = false
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.changed, nil
}

func (f *fakeTransport) Watching() bool { return f.watching }
func (f *fakeTransport) Broken() bool   { return f.broken }

func (f *fakeTransport) Reconnect(context.Context) error {
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.broken = false
	return nil
}

// commands returns recorded calls other than read-only queries.
func (f *fakeTransport) commands() []string {
	var out []string
	for _, c := range f.calls {
		switch strings.Fields(c)[0] {
		case "status", "currentsong", "playlistinfo", "list":
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *fakeTransport) count(cmd string) int {
	n := 0
	for _, c := range f.calls {
		if strings.Fields(c)[0] == cmd {
			n++
		}
	}
	return n
}

var errFake = errors.New("boom")

// fieldsReply builds a response from alternating keys and values.
func fieldsReply(kv ...string) mpdsession.Response {
	var resp mpdsession.Response
	for i := 0; i+1 < len(kv); i += 2 {
		resp = append(resp, mpdsession.Field{Key: kv[i], Value: kv[i+1]})
	}
	return resp
}

type update struct {
	name  string
	value any
}

type event struct {
	name string
	data any
}

type fakeSink struct {
	updates []update
	events  []event
}

func (s *fakeSink) UpdateProperty(name string, value any) {
	s.updates = append(s.updates, update{name, value})
}

func (s *fakeSink) EmitEvent(name string, data any) {
	s.events = append(s.events, event{name, data})
}

func (s *fakeSink) last(name string) (any, bool) {
	for i := len(s.updates) - 1; i >= 0; i-- {
		if s.updates[i].name == name {
			return s.updates[i].value, true
		}
	}
	return nil, false
}
