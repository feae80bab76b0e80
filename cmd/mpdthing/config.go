package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mpdthing/internal/mpdsession"
)

// Config is the top-level YAML configuration for the mpdthing daemon.
//
// Precedence, lowest first: defaults, config file, MPD_HOST/MPD_PORT, flags.
type Config struct {
	MPD     MPDConfig     `yaml:"mpd"`
	Thing   ThingConfig   `yaml:"thing"`
	Server  ServerConfig  `yaml:"server"`
	Poll    PollConfig    `yaml:"poll"`
	Logging LoggingConfig `yaml:"logging"`
}

type MPDConfig struct {
	Host         string `yaml:"host"` // hostname, socket path or @abstract
	Port         int    `yaml:"port"`
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type ThingConfig struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type ServerConfig struct {
	Hostname string `yaml:"hostname"` // listen address; empty means all interfaces
	Port     int    `yaml:"port"`
	MDNS     bool   `yaml:"mdns"`
	MDNSName string `yaml:"mdns_name,omitempty"`
}

type PollConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		MPD: MPDConfig{
			Host:      "localhost",
			Port:      6600,
			TimeoutMS: 5000,
		},
		Thing: ThingConfig{
			ID:          "urn:dev:ops:mpd",
			Title:       "MPD",
			Description: "Music Player Daemon",
		},
		Server: ServerConfig{
			Port: 8888,
			MDNS: true,
		},
		Poll: PollConfig{
			IntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected so typos surface at startup.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyEnv overlays MPD_HOST and MPD_PORT onto the mpd section.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	sc, err := mpdsession.ApplyEnv(mpdsession.Config{
		Host:     c.MPD.Host,
		Port:     c.MPD.Port,
		Password: c.MPD.Password,
	}, getenv)
	if err != nil {
		return err
	}
	c.MPD.Host, c.MPD.Port, c.MPD.Password = sc.Host, sc.Port, sc.Password
	return nil
}

// FlagOverrides holds values from flags that were explicitly set. A nil
// pointer leaves the config untouched; a non-nil pointer always wins, even
// for zero values.
type FlagOverrides struct {
	MPDHost      *string
	MPDPort      *int
	MPDPassword  *string
	MPDTimeoutMS *int

	ThingID    *string
	ThingTitle *string

	Hostname *string
	Port     *int
	MDNS     *bool

	PollIntervalMS *int

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.MPDHost != nil {
		cfg.MPD.Host = *o.MPDHost
	}
	if o.MPDPort != nil {
		cfg.MPD.Port = *o.MPDPort
	}
	if o.MPDPassword != nil {
		cfg.MPD.Password = *o.MPDPassword
		cfg.MPD.PasswordFile = ""
	}
	if o.MPDTimeoutMS != nil {
		cfg.MPD.TimeoutMS = *o.MPDTimeoutMS
	}

	if o.ThingID != nil {
		cfg.Thing.ID = *o.ThingID
	}
	if o.ThingTitle != nil {
		cfg.Thing.Title = *o.ThingTitle
	}

	if o.Hostname != nil {
		cfg.Server.Hostname = *o.Hostname
	}
	if o.Port != nil {
		cfg.Server.Port = *o.Port
	}
	if o.MDNS != nil {
		cfg.Server.MDNS = *o.MDNS
	}

	if o.PollIntervalMS != nil {
		cfg.Poll.IntervalMS = *o.PollIntervalMS
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	// MPD
	if c.MPD.Host == "" {
		return errors.New("mpd.host must not be empty")
	}
	if c.MPD.Port <= 0 || c.MPD.Port > 65535 {
		return errors.New("mpd.port must be between 1 and 65535")
	}
	if c.MPD.TimeoutMS <= 0 {
		return errors.New("mpd.timeout_ms must be > 0")
	}
	if c.MPD.Password != "" && c.MPD.PasswordFile != "" {
		return errors.New("mpd.password and mpd.password_file are mutually exclusive")
	}

	// Thing
	if c.Thing.ID == "" {
		return errors.New("thing.id must not be empty")
	}
	if c.Thing.Title == "" {
		return errors.New("thing.title must not be empty")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}

	// Poll
	if c.Poll.IntervalMS < 10 {
		return errors.New("poll.interval_ms must be >= 10")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// SessionConfig converts the mpd section into a session config, reading the
// password file if one is configured.
func (c *Config) SessionConfig() (mpdsession.Config, error) {
	password := c.MPD.Password
	if c.MPD.PasswordFile != "" {
		b, err := os.ReadFile(ExpandPath(c.MPD.PasswordFile))
		if err != nil {
			return mpdsession.Config{}, fmt.Errorf("read mpd password file: %w", err)
		}
		password = strings.TrimSpace(string(b))
	}
	return mpdsession.Config{
		Host:     c.MPD.Host,
		Port:     c.MPD.Port,
		Password: password,
		Timeout:  time.Duration(c.MPD.TimeoutMS) * time.Millisecond,
	}, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// InstanceName is the name advertised over mDNS.
func (c *Config) InstanceName() string {
	if c.Server.MDNSName != "" {
		return c.Server.MDNSName
	}
	return c.Thing.Title
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
