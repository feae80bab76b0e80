package mpdsession

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/fhs/gompd/v2/mpd"
)

// ClientTransport runs the bridge's command subset on a gompd client. It has
// no watch mode; it suits one-shot tools that never idle.
type ClientTransport struct {
	client *mpd.Client
}

// DialClient opens a gompd client, authenticating when cfg.Password is set.
func DialClient(cfg Config) (*ClientTransport, error) {
	network, addr := cfg.Address()
	var (
		c   *mpd.Client
		err error
	)
	if cfg.Password != "" {
		c, err = mpd.DialAuthenticated(network, addr, cfg.Password)
	} else {
		c, err = mpd.Dial(network, addr)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return &ClientTransport{client: c}, nil
}

// Close closes the underlying client.
func (t *ClientTransport) Close() error { return t.client.Close() }

// Execute maps cmd onto the matching gompd method and returns the result in
// Response form.
func (t *ClientTransport) Execute(cmd string, args ...string) (Response, error) {
	c := t.client
	switch cmd {
	case "status":
		attrs, err := c.Status()
		if err != nil {
			return nil, err
		}
		return fromAttrs(attrs), nil

	case "currentsong":
		attrs, err := c.CurrentSong()
		if err != nil {
			return nil, err
		}
		return fromAttrs(attrs), nil

	case "playlistinfo":
		list, err := c.PlaylistInfo(-1, -1)
		if err != nil {
			return nil, err
		}
		var resp Response
		for _, attrs := range list {
			resp = append(resp, fromAttrs(attrs)...)
		}
		return resp, nil

	case "list":
		if len(args) != 1 || args[0] != "file" {
			return nil, fmt.Errorf("%w: list %v", ErrUnsupported, args)
		}
		files, err := c.GetFiles()
		if err != nil {
			return nil, err
		}
		resp := make(Response, 0, len(files))
		for _, f := range files {
			resp = append(resp, Field{Key: "file", Value: f})
		}
		return resp, nil

	case "add":
		if len(args) != 1 {
			return nil, fmt.Errorf("add: want 1 argument, got %d", len(args))
		}
		return nil, c.Add(args[0])

	case "setvol":
		if len(args) != 1 {
			return nil, fmt.Errorf("setvol: want 1 argument, got %d", len(args))
		}
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("setvol: %w", err)
		}
		return nil, c.SetVolume(level)

	case "repeat", "random", "pause":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: want 1 argument, got %d", cmd, len(args))
		}
		on := args[0] == "1"
		switch cmd {
		case "repeat":
			return nil, c.Repeat(on)
		case "random":
			return nil, c.Random(on)
		default:
			return nil, c.Pause(on)
		}

	case "play":
		pos := -1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("play: %w", err)
			}
			pos = n
		}
		return nil, c.Play(pos)

	case "stop":
		return nil, c.Stop()
	case "next":
		return nil, c.Next()
	case "previous":
		return nil, c.Previous()
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, cmd)
}

// fromAttrs flattens a gompd record. "file" leads so AttrsList("file") can split
// concatenated records again; other keys follow in sorted order.
func fromAttrs(attrs mpd.Attrs) Response {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k != "file" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := make(Response, 0, len(attrs))
	if f, ok := attrs["file"]; ok {
		resp = append(resp, Field{Key: "file", Value: f})
	}
	for _, k := range keys {
		resp = append(resp, Field{Key: k, Value: attrs[k]})
	}
	return resp
}
