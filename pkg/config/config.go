// Package config loads node settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Default values.
const (
	DefaultPort           = 2000
	DefaultFamily         = "tcp"
	DefaultNetworkVersion = "1"
	DefaultClientVersion  = "0.1.0"
	DefaultQueueSize      = 256
	DefaultLogLevel       = "info"
)

// Validation errors.
var (
	ErrMissingName    = errors.New("name is required")
	ErrInvalidPort    = errors.New("port out of range")
	ErrInvalidFamily  = errors.New("family must be tcp, tcp4 or tcp6")
	ErrInvalidTimeout = errors.New("timeout must be positive")
	ErrInvalidLevel   = errors.New("unknown log level")
)

// Timeouts groups every I/O and protocol deadline.
type Timeouts struct {
	// Idle bounds a read waiting for the start of the next frame.
	Idle time.Duration `yaml:"idle"`
	// Read bounds a read in the middle of a frame.
	Read time.Duration `yaml:"read"`
	// Write bounds a frame write.
	Write time.Duration `yaml:"write"`
	// Handshake bounds each handshake step.
	Handshake time.Duration `yaml:"handshake"`
	// Dial bounds an outbound TCP connect.
	Dial time.Duration `yaml:"dial"`
	// PingGate bounds waiting for the node-wide ping gate.
	PingGate time.Duration `yaml:"pingGate"`
	// Pong bounds waiting for a Pong.
	Pong time.Duration `yaml:"pong"`
	// Probe bounds the reachability TCP connect.
	Probe time.Duration `yaml:"probe"`
	// ReachabilityGrace delays the reachability check of inbound peers.
	ReachabilityGrace time.Duration `yaml:"reachabilityGrace"`
	// Registration bounds waiting for an outbound peer to be registered.
	Registration time.Duration `yaml:"registration"`
	// ListenerRetry is the pause after an unexpected accept failure.
	ListenerRetry time.Duration `yaml:"listenerRetry"`
}

// Config holds the settings of one node.
type Config struct {
	Name           string `yaml:"name"`
	ClientVersion  string `yaml:"clientVersion"`
	NetworkVersion string `yaml:"networkVersion"`

	// Host is the bind host. Empty binds all interfaces.
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Family string `yaml:"family"`

	// P2PAccept enables the TCP listener.
	P2PAccept bool `yaml:"p2pAccept"`
	// P2PUDPAccept enables the UDP listener.
	P2PUDPAccept bool `yaml:"p2pUdpAccept"`

	MaxReceiveSize int    `yaml:"maxReceiveSize"`
	Compression    string `yaml:"compression"`
	QueueSize      int    `yaml:"queueSize"`

	Timeouts Timeouts `yaml:"timeouts"`

	// Bootstrap lists host:port addresses dialed at start.
	Bootstrap []string `yaml:"bootstrap"`

	LogLevel        string        `yaml:"logLevel"`
	ProtocolLog     string        `yaml:"protocolLog"`
	TrafficInterval time.Duration `yaml:"trafficInterval"`
}

// DefaultTimeouts returns the standard deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Idle:              time.Hour,
		Read:              10 * time.Second,
		Write:             10 * time.Second,
		Handshake:         10 * time.Second,
		Dial:              10 * time.Second,
		PingGate:          10 * time.Second,
		Pong:              5 * time.Second,
		Probe:             10 * time.Second,
		ReachabilityGrace: 10 * time.Second,
		Registration:      20 * time.Second,
		ListenerRetry:     3 * time.Second,
	}
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		ClientVersion:   DefaultClientVersion,
		NetworkVersion:  DefaultNetworkVersion,
		Port:            DefaultPort,
		Family:          DefaultFamily,
		P2PAccept:       true,
		P2PUDPAccept:    true,
		MaxReceiveSize:  wire.DefaultMaxReceiveSize,
		Compression:     crypto.CompressionZlib,
		QueueSize:       DefaultQueueSize,
		Timeouts:        DefaultTimeouts(),
		LogLevel:        DefaultLogLevel,
		TrafficInterval: 5 * time.Minute,
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.fillZero()
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WithDefaults returns t with every unset deadline replaced by its default.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	for _, f := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.Idle, d.Idle},
		{&t.Read, d.Read},
		{&t.Write, d.Write},
		{&t.Handshake, d.Handshake},
		{&t.Dial, d.Dial},
		{&t.PingGate, d.PingGate},
		{&t.Pong, d.Pong},
		{&t.Probe, d.Probe},
		{&t.ReachabilityGrace, d.ReachabilityGrace},
		{&t.Registration, d.Registration},
		{&t.ListenerRetry, d.ListenerRetry},
	} {
		if *f.v == 0 {
			*f.v = f.def
		}
	}
	return t
}

// fillZero restores defaults for values explicitly zeroed in the file.
func (c *Config) fillZero() {
	c.Timeouts = c.Timeouts.WithDefaults()

	if c.MaxReceiveSize <= 0 {
		c.MaxReceiveSize = wire.DefaultMaxReceiveSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Family == "" {
		c.Family = DefaultFamily
	}
	if c.Compression == "" {
		c.Compression = crypto.CompressionZlib
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, ErrMissingName)
	} else if len(c.Name) > wire.MaxNameLength {
		errs = append(errs, fmt.Errorf("%w: %d bytes", wire.ErrNameTooLong, len(c.Name)))
	}
	if c.NetworkVersion == "" {
		errs = append(errs, wire.ErrMissingNetworkVersion)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidPort, c.Port))
	}
	switch c.Family {
	case "tcp", "tcp4", "tcp6":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidFamily, c.Family))
	}
	if _, err := crypto.NewCompressor(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"idle":              t.Idle,
		"read":              t.Read,
		"write":             t.Write,
		"handshake":         t.Handshake,
		"dial":              t.Dial,
		"pingGate":          t.PingGate,
		"pong":              t.Pong,
		"probe":             t.Probe,
		"reachabilityGrace": t.ReachabilityGrace,
		"registration":      t.Registration,
		"listenerRetry":     t.ListenerRetry,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidTimeout, name))
		}
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}
