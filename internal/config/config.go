// Package config loads liveconn command configuration from YAML.
//
// Commands start from Default, overlay an optional file with Load,
// then apply flags that were set explicitly.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/liveconn/liveconn-go/pkg/heartbeat"
	plog "github.com/liveconn/liveconn-go/pkg/log"
	"github.com/liveconn/liveconn-go/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the shared configuration of the liveconn commands.
type Config struct {
	// Listen is the peer's listen address.
	Listen string `yaml:"listen"`

	// Connect is the probe's target address. Empty means discover via mDNS.
	Connect string `yaml:"connect"`

	// HeartbeatInterval in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	CloseTimeout   time.Duration `yaml:"close_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize uint32        `yaml:"max_message_size"`

	TLS  TLSConfig  `yaml:"tls"`
	MDNS MDNSConfig `yaml:"mdns"`

	// ProtocolLog is a file receiving CBOR protocol events (empty = off).
	ProtocolLog string `yaml:"protocol_log"`

	// MetricsAddr serves Prometheus metrics (empty = off).
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// SilentAfter makes the peer stop sending heartbeats after this
	// long, to exercise the other side's liveness detection (0 = never).
	SilentAfter time.Duration `yaml:"silent_after"`
}

// TLSConfig holds PEM file paths. TLS is enabled when Enabled is set.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MDNSConfig controls advertising and browsing.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:            fmt.Sprintf(":%d", transport.DefaultPort),
		HeartbeatInterval: transport.DefaultHeartbeatInterval,
		CloseTimeout:      transport.DefaultCloseTimeout,
		MaxMessageSize:    transport.DefaultMaxMessageSize,
		LogLevel:          "info",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HeartbeatInterval < heartbeat.MinIntervalSeconds {
		errs = append(errs, fmt.Errorf("heartbeat_interval must be at least %d, got %d",
			heartbeat.MinIntervalSeconds, c.HeartbeatInterval))
	}
	if c.CloseTimeout < 0 {
		errs = append(errs, fmt.Errorf("close_timeout must not be negative, got %s", c.CloseTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must not be negative, got %s", c.WriteTimeout))
	}
	if c.SilentAfter < 0 {
		errs = append(errs, fmt.Errorf("silent_after must not be negative, got %s", c.SilentAfter))
	}
	if c.MaxMessageSize == 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", name)
	}
}

// TransportTLS returns the TLS file configuration, or nil when TLS is off.
func (c *Config) TransportTLS() *transport.TLSConfig {
	if !c.TLS.Enabled {
		return nil
	}
	return &transport.TLSConfig{
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		CAFile:             c.TLS.CAFile,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
}

// ConnectionConfig returns the connection settings. TLS, logging and
// metrics are wired by the caller.
func (c *Config) ConnectionConfig() transport.ConnectionConfig {
	return transport.ConnectionConfig{
		MaxMessageSize:    c.MaxMessageSize,
		HeartbeatInterval: c.HeartbeatInterval,
		CloseTimeout:      c.CloseTimeout,
		WriteTimeout:      c.WriteTimeout,
	}
}

// OpenProtocolLog opens the protocol log file, if configured, and mirrors
// events to logger at debug level. The returned close function is never nil.
func (c *Config) OpenProtocolLog(logger *slog.Logger) (plog.Logger, func() error, error) {
	noop := func() error { return nil }

	var loggers []plog.Logger
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, plog.NewSlogAdapter(logger))
	}

	closeFn := noop
	if c.ProtocolLog != "" {
		fl, err := plog.NewFileLogger(c.ProtocolLog)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = fl.Close
	}

	if len(loggers) == 0 {
		return nil, noop, nil
	}
	return plog.NewMultiLogger(loggers...), closeFn, nil
}
