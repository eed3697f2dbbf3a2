// Command liveconn-probe connects to a liveconn peer and watches its liveness.
//
// The probe sends heartbeats and exits with status 3 as soon as the
// peer's heartbeat checker declares the connection dead.
//
// Usage:
//
//	liveconn-probe [flags]
//
// Examples:
//
//	# Connect by address with a 2s heartbeat interval
//	liveconn-probe -connect 10.0.0.2:7420 -interval 2
//
//	# Find the first peer via mDNS and open the console
//	liveconn-probe -mdns -interactive
//
//	# Expose Prometheus metrics while probing
//	liveconn-probe -connect peer:7420 -metrics-addr :9420
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/liveconn/liveconn-go/internal/config"
	"github.com/liveconn/liveconn-go/internal/telemetry"
	"github.com/liveconn/liveconn-go/pkg/discovery"
	"github.com/liveconn/liveconn-go/pkg/heartbeat"
	"github.com/liveconn/liveconn-go/pkg/transport"
	"github.com/liveconn/liveconn-go/pkg/wire"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitDeadPeer = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.RegisterFlags(flag.CommandLine)
	interactive := flag.Bool("interactive", false, "Open the interactive console")
	discoverTimeout := flag.Duration("discover-timeout", 5*time.Second, "mDNS discovery timeout")
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if cfg.Connect == "" && !cfg.MDNS.Enabled {
		fmt.Fprintln(os.Stderr, "Error: -connect or -mdns required")
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var console *Console
	var logOut io.Writer = os.Stderr
	if *interactive {
		console, err = NewConsole()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		logOut = console.Stderr()
	}

	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)

	plogger, closeLog, err := cfg.OpenProtocolLog(logger)
	if err != nil {
		logger.Error("Failed to open protocol log", "err", err)
		return exitError
	}
	defer closeLog()

	metrics := telemetry.New()
	metrics.SetBuildInfo(Version)
	if cfg.MetricsAddr != "" {
		if _, err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
			logger.Error("Failed to start metrics server", "err", err)
			return exitError
		}
	}

	address := cfg.Connect
	if address == "" {
		peer, err := discover(ctx, cfg, *discoverTimeout)
		if err != nil {
			logger.Error("Discovery failed", "err", err)
			return exitError
		}
		logger.Info("Discovered peer",
			"instance", peer.InstanceName,
			"addr", peer.Address(),
			"peer_interval", peer.HeartbeatInterval,
		)
		address = peer.Address()
	}

	connCfg := cfg.ConnectionConfig()
	connCfg.Logger = logger
	connCfg.ProtocolLogger = plogger
	connCfg.Metrics = metrics
	if tlsFiles := cfg.TransportTLS(); tlsFiles != nil {
		connCfg.TLSConfig, err = transport.NewClientTLSConfig(tlsFiles)
		if err != nil {
			logger.Error("Invalid TLS configuration", "err", err)
			return exitError
		}
	}

	w := newWatcher(logger)
	conn := transport.NewConnection(connCfg, w)

	// The connection lives until Close, not until the signal.
	if err := conn.Connect(context.Background(), address); err != nil {
		logger.Error("Connect failed", "addr", address, "err", err)
		return exitError
	}
	logger.Info("Connected",
		"conn_id", conn.ID(),
		"addr", address,
		"config", cfg.Summary(),
	)

	if console != nil {
		console.Attach(conn)
		go console.Run(ctx, cancel)
	}

	select {
	case <-ctx.Done():
		logger.Info("Closing connection")
		if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			logger.Warn("Close did not complete", "err", err)
		}
	case <-conn.Done():
	}

	if console != nil {
		console.Close()
	}

	if err := w.Failure(); err != nil {
		logger.Error("Peer is dead", "err", err)
		return exitDeadPeer
	}
	return exitOK
}

// discover returns the configured mDNS instance, or the first peer found.
func discover(ctx context.Context, cfg *config.Config, timeout time.Duration) (*discovery.PeerService, error) {
	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface: cfg.MDNS.Interface,
		Timeout:   timeout,
	})
	return browser.FindFirst(ctx, cfg.MDNS.Instance)
}

// watcher records what the connection reports.
type watcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	failure error
}

func newWatcher(logger *slog.Logger) *watcher {
	return &watcher{logger: logger}
}

func (w *watcher) OnMessage(c *transport.Connection, msg *wire.DataMessage) {
	w.logger.Info("Message received", "conn_id", c.ID(), "id", msg.ID, "payload", string(msg.Payload))
}

func (w *watcher) OnStateChange(c *transport.Connection, oldState, newState transport.ConnectionState) {
	w.logger.Debug("Connection state", "conn_id", c.ID(), "from", oldState, "to", newState)
}

func (w *watcher) OnError(c *transport.Connection, err error) {
	if !heartbeat.IsLivenessFailure(err) {
		w.logger.Warn("Connection error", "conn_id", c.ID(), "err", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failure == nil {
		w.failure = err
	}
}

// Failure returns the first liveness failure, if any.
func (w *watcher) Failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}
