package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
)

// Flags binds command-line overrides for a Config to a flag set.
// Only flags that were set on the command line replace file values.
type Flags struct {
	fs         *flag.FlagSet
	configFile string
	values     Config
}

// RegisterFlags registers the shared liveconn flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	def := Default()
	f := &Flags{fs: fs}
	v := &f.values

	fs.StringVar(&f.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&v.Listen, "listen", def.Listen, "Listen address")
	fs.StringVar(&v.Connect, "connect", "", "Peer address (empty = discover via mDNS)")
	fs.IntVar(&v.HeartbeatInterval, "interval", def.HeartbeatInterval, "Heartbeat interval in seconds")
	fs.DurationVar(&v.CloseTimeout, "close-timeout", def.CloseTimeout, "Close handshake timeout")
	fs.DurationVar(&v.WriteTimeout, "write-timeout", 0, "Frame write timeout (0 = none)")
	fs.DurationVar(&v.SilentAfter, "silent-after", 0, "Stop sending heartbeats after this long (0 = never)")
	fs.StringVar(&v.LogLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&v.ProtocolLog, "protocol-log", "", "Write CBOR protocol events to this file")
	fs.StringVar(&v.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&v.TLS.Enabled, "tls", false, "Enable TLS")
	fs.StringVar(&v.TLS.CertFile, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&v.TLS.KeyFile, "tls-key", "", "TLS key file")
	fs.StringVar(&v.TLS.CAFile, "tls-ca", "", "TLS CA file")
	fs.StringVar(&v.TLS.ServerName, "tls-server-name", "", "Expected server name")
	fs.BoolVar(&v.TLS.InsecureSkipVerify, "tls-insecure", false, "Skip server certificate verification")
	fs.BoolVar(&v.MDNS.Enabled, "mdns", false, "Enable mDNS advertising or browsing")
	fs.StringVar(&v.MDNS.Instance, "instance", "", "mDNS instance name")
	fs.StringVar(&v.MDNS.Interface, "mdns-interface", "", "Restrict mDNS to this interface")

	return f
}

// Load builds the effective configuration after fs was parsed.
func (f *Flags) Load() (*Config, error) {
	cfg := Default()
	if f.configFile != "" {
		loaded, err := Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f.fs.Visit(func(fl *flag.Flag) {
		f.apply(cfg, fl.Name)
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *Flags) apply(cfg *Config, name string) {
	v := &f.values
	switch name {
	case "config":
	case "listen":
		cfg.Listen = v.Listen
	case "connect":
		cfg.Connect = v.Connect
	case "interval":
		cfg.HeartbeatInterval = v.HeartbeatInterval
	case "close-timeout":
		cfg.CloseTimeout = v.CloseTimeout
	case "write-timeout":
		cfg.WriteTimeout = v.WriteTimeout
	case "silent-after":
		cfg.SilentAfter = v.SilentAfter
	case "log-level":
		cfg.LogLevel = v.LogLevel
	case "protocol-log":
		cfg.ProtocolLog = v.ProtocolLog
	case "metrics-addr":
		cfg.MetricsAddr = v.MetricsAddr
	case "tls":
		cfg.TLS.Enabled = v.TLS.Enabled
	case "tls-cert":
		cfg.TLS.CertFile = v.TLS.CertFile
	case "tls-key":
		cfg.TLS.KeyFile = v.TLS.KeyFile
	case "tls-ca":
		cfg.TLS.CAFile = v.TLS.CAFile
	case "tls-server-name":
		cfg.TLS.ServerName = v.TLS.ServerName
	case "tls-insecure":
		cfg.TLS.InsecureSkipVerify = v.TLS.InsecureSkipVerify
	case "mdns":
		cfg.MDNS.Enabled = v.MDNS.Enabled
	case "instance":
		cfg.MDNS.Instance = v.MDNS.Instance
	case "mdns-interface":
		cfg.MDNS.Interface = v.MDNS.Interface
	}
}

// NewLogger returns a text slog.Logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Summary is a one-line description for startup logs.
func (c *Config) Summary() string {
	return fmt.Sprintf("interval=%ds threshold=%ds tls=%t mdns=%t",
		c.HeartbeatInterval, 2*c.HeartbeatInterval, c.TLS.Enabled, c.MDNS.Enabled)
}
