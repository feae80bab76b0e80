package mpdsession

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fhs/gompd/v2/mpd"
)

// ErrNotConnected is returned for any operation on a session whose connection
// was lost. Reconnect restores it.
var ErrNotConnected = errors.New("mpd: not connected")

// ErrUnsupported is returned by ClientTransport for commands it does not map.
var ErrUnsupported = errors.New("mpd: unsupported command")

// ConnectionError reports a failed dial, greeting or authentication.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to mpd at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError is an ACK line returned by MPD in place of OK.
//
//	ACK [50@0] {play} No such song
type CommandError struct {
	Code    int
	Index   int
	Command string
	Message string
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("mpd: %s (ack %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("mpd %s: %s (ack %d)", e.Command, e.Message, e.Code)
}

func parseAck(line string) *CommandError {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "ACK"))
	e := &CommandError{}

	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			code, idx, _ := strings.Cut(rest[1:end], "@")
			e.Code, _ = strconv.Atoi(code)
			e.Index, _ = strconv.Atoi(idx)
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	if strings.HasPrefix(rest, "{") {
		if end := strings.IndexByte(rest, '}'); end >= 0 {
			e.Command = rest[1:end]
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	e.Message = rest
	return e
}

// Field is one "key: value" line of a response.
type Field struct {
	Key   string
	Value string
}

// Response holds the fields of one command reply in wire order.
type Response []Field

// Attrs folds the response into a single record. When a key repeats, the first
// value wins.
func (r Response) Attrs() mpd.Attrs {
	attrs := make(mpd.Attrs, len(r))
	for _, f := range r {
		if _, ok := attrs[f.Key]; !ok {
			attrs[f.Key] = f.Value
		}
	}
	return attrs
}

// AttrsList splits the response into records, each starting at startKey
// (e.g. "file" for playlistinfo). Fields before the first startKey are dropped.
func (r Response) AttrsList(startKey string) []mpd.Attrs {
	var out []mpd.Attrs
	var cur mpd.Attrs
	for _, f := range r {
		if f.Key == startKey {
			cur = mpd.Attrs{}
			out = append(out, cur)
		}
		if cur == nil {
			continue
		}
		if _, ok := cur[f.Key]; !ok {
			cur[f.Key] = f.Value
		}
	}
	return out
}

// Strings returns every value of key, in order.
func (r Response) Strings(key string) []string {
	var out []string
	for _, f := range r {
		if f.Key == key {
			out = append(out, f.Value)
		}
	}
	return out
}

// formatCommand renders a command line. Arguments are always quoted, which MPD
// accepts for numbers as well as strings.
func formatCommand(cmd string, args []string) string {
	var b strings.Builder
	b.WriteString(cmd)
	for _, a := range args {
		b.WriteString(` "`)
		for _, r := range a {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	return b.String()
}
