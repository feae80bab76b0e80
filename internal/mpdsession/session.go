// Package mpdsession owns a single connection to the Music Player Daemon and
// multiplexes it between request/response commands and idle ("watch") mode.
//
// A Session is not safe for concurrent use. The caller must serialize all
// access, typically by letting one goroutine own it.
package mpdsession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config describes how to reach MPD.
type Config struct {
	// Host is a hostname or IP. A path (or a name starting with "@" for an
	// abstract socket) selects a unix socket and Port is ignored.
	Host     string
	Port     int
	Password string

	// Timeout bounds the dial and every command round trip. Zero disables it.
	// The wait for idle results is never bounded.
	Timeout time.Duration
}

// Address returns the network and address Dial will use.
func (c Config) Address() (network, addr string) {
	if strings.Contains(c.Host, "/") || strings.HasPrefix(c.Host, "@") {
		return "unix", c.Host
	}
	return "tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session is one live MPD connection.
type Session struct {
	cfg    Config
	logger *slog.Logger

	conn    net.Conn
	r       *bufio.Reader
	version string

	watching bool
	broken   bool

	// pending holds subsystems reported while a watch was interrupted by noidle.
	pending []string
}

// Dial connects, reads the greeting and authenticates when a password is set.
// Any failure is returned as a *ConnectionError.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{cfg: cfg, logger: logger}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context) error {
	network, addr := s.cfg.Address()

	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return &ConnectionError{Addr: addr, Err: err}
	}

	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.watching = false
	s.broken = false
	s.pending = nil

	s.armDeadline()
	line, err := s.readLine()
	if err != nil {
		s.closeConn()
		return &ConnectionError{Addr: addr, Err: fmt.Errorf("read greeting: %w", err)}
	}
	if !strings.HasPrefix(line, "OK MPD ") {
		s.closeConn()
		return &ConnectionError{Addr: addr, Err: fmt.Errorf("unexpected greeting %q", line)}
	}
	s.version = strings.TrimPrefix(line, "OK MPD ")
	s.clearDeadline()

	if s.cfg.Password != "" {
		if _, err := s.roundTrip("password", s.cfg.Password); err != nil {
			s.closeConn()
			return &ConnectionError{Addr: addr, Err: fmt.Errorf("password: %w", err)}
		}
	}

	s.logger.Debug("mpd connected", "addr", addr, "protocol", s.version)
	return nil
}

// Reconnect drops the current connection (if any) and dials again. Watch mode
// is left; the caller re-enters it.
func (s *Session) Reconnect(ctx context.Context) error {
	s.closeConn()
	return s.connect(ctx)
}

// Close terminates the connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.broken = true
	s.watching = false
	return err
}

// Version is the protocol version from the server greeting.
func (s *Session) Version() string { return s.version }

// Watching reports whether an idle command is outstanding.
func (s *Session) Watching() bool { return s.watching }

// Broken reports whether the connection was lost and needs Reconnect.
func (s *Session) Broken() bool { return s.broken || s.conn == nil }

// Execute runs one command. If the session is watching, the watch is
// interrupted with noidle before the command and re-entered afterwards; any
// changes reported by the interruption are kept for the next FetchWatchResult.
func (s *Session) Execute(cmd string, args ...string) (Response, error) {
	if s.Broken() {
		return nil, ErrNotConnected
	}

	wasWatching := s.watching
	if wasWatching {
		if err := s.ExitWatch(); err != nil {
			return nil, err
		}
	}

	resp, err := s.roundTrip(cmd, args...)

	if wasWatching && !s.Broken() {
		if werr := s.EnterWatch(); werr != nil {
			s.logger.Warn("mpd idle re-entry failed", "command", cmd, "error", werr)
		}
	}
	return resp, err
}

// EnterWatch sends idle. It is a no-op while already watching.
func (s *Session) EnterWatch() error {
	if s.Broken() {
		return ErrNotConnected
	}
	if s.watching {
		return nil
	}
	s.armDeadline()
	defer s.clearDeadline()
	if err := s.writeLine("idle"); err != nil {
		return s.fail(err)
	}
	s.watching = true
	return nil
}

// ExitWatch cancels an outstanding idle with noidle and drains its reply.
func (s *Session) ExitWatch() error {
	if !s.watching {
		return nil
	}
	s.watching = false
	resp, err := s.roundTrip("noidle")
	if err != nil {
		return err
	}
	s.addPending(resp.Strings("changed"))
	return nil
}

// PollWatch reports, without blocking, whether the idle reply can be read.
func (s *Session) PollWatch() bool {
	if !s.watching || s.Broken() {
		return false
	}
	if len(s.pending) > 0 || s.r.Buffered() > 0 {
		return true
	}
	ready, err := s.pollReadable()
	if err != nil {
		s.logger.Debug("mpd readiness check failed", "error", err)
		return false
	}
	return ready
}

// FetchWatchResult reads the subsystems reported by idle and leaves watch mode.
// It blocks until MPD answers, so call it after PollWatch returned true unless
// an indefinite wait is acceptable.
func (s *Session) FetchWatchResult() ([]string, error) {
	if s.Broken() {
		return nil, ErrNotConnected
	}
	if !s.watching {
		return nil, errors.New("mpd: not watching")
	}

	if len(s.pending) > 0 {
		if err := s.ExitWatch(); err != nil {
			return nil, err
		}
	} else {
		s.watching = false
		resp, err := s.readResponse()
		if err != nil {
			return nil, err
		}
		s.addPending(resp.Strings("changed"))
	}

	changed := s.pending
	s.pending = nil
	return changed, nil
}

func (s *Session) addPending(subsystems []string) {
	for _, sub := range subsystems {
		if !slices.Contains(s.pending, sub) {
			s.pending = append(s.pending, sub)
		}
	}
}

func (s *Session) roundTrip(cmd string, args ...string) (Response, error) {
	s.armDeadline()
	defer s.clearDeadline()

	if err := s.writeLine(formatCommand(cmd, args)); err != nil {
		return nil, s.fail(err)
	}
	return s.readResponse()
}

func (s *Session) readResponse() (Response, error) {
	var resp Response
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, s.fail(err)
		}
		if line == "OK" {
			return resp, nil
		}
		if strings.HasPrefix(line, "ACK ") {
			return nil, parseAck(line)
		}
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, s.fail(fmt.Errorf("malformed response line %q", line))
		}
		resp = append(resp, Field{Key: k, Value: v})
	}
}

func (s *Session) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (s *Session) writeLine(line string) error {
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

// fail marks the connection unusable. The stream may be desynchronized after
// any I/O or framing error, so the socket is closed rather than reused.
func (s *Session) fail(err error) error {
	s.broken = true
	s.watching = false
	s.closeConn()
	return fmt.Errorf("mpd connection: %w", err)
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) armDeadline() {
	if s.conn != nil && s.cfg.Timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
}

func (s *Session) clearDeadline() {
	if s.conn != nil {
		_ = s.conn.SetDeadline(time.Time{})
	}
}

// peekReadable checks readiness with a near-zero read deadline. Used where the
// connection exposes no file descriptor.
func (s *Session) peekReadable() (bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false, err
	}
	defer s.clearDeadline()

	_, err := s.r.Peek(1)
	if err == nil {
		return true, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false, nil
	}
	// EOF and friends: report ready so the fetch surfaces the error.
	return true, nil
}
