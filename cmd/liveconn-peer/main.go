// Command liveconn-peer accepts liveconn connections and keeps them alive
// with heartbeats.
//
// It can stop sending heartbeats after a delay to simulate a peer that
// hangs without closing its socket, which the other side's liveness
// checker must detect within twice the heartbeat interval.
//
// Usage:
//
//	liveconn-peer [flags]
//
// Examples:
//
//	# Listen with a 5s heartbeat interval and advertise via mDNS
//	liveconn-peer -interval 5 -mdns -instance lab-peer
//
//	# Go silent 30s after each connection opens
//	liveconn-peer -interval 5 -silent-after 30s
//
//	# Load settings from a file and capture protocol events
//	liveconn-peer -config peer.yaml -protocol-log peer.llog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liveconn/liveconn-go/internal/config"
	"github.com/liveconn/liveconn-go/internal/telemetry"
	"github.com/liveconn/liveconn-go/pkg/discovery"
	"github.com/liveconn/liveconn-go/pkg/transport"
	"github.com/liveconn/liveconn-go/pkg/wire"
)

// Version is set at build time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.RegisterFlags(flag.CommandLine)
	echo := flag.Bool("echo", true, "Echo data messages back to the sender")
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	plogger, closeLog, err := cfg.OpenProtocolLog(logger)
	if err != nil {
		logger.Error("Failed to open protocol log", "err", err)
		return 1
	}
	defer closeLog()

	metrics := telemetry.New()
	metrics.SetBuildInfo(Version)
	if cfg.MetricsAddr != "" {
		if _, err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
			logger.Error("Failed to start metrics server", "err", err)
			return 1
		}
	}

	connCfg := cfg.ConnectionConfig()
	connCfg.Logger = logger
	connCfg.ProtocolLogger = plogger
	connCfg.Metrics = metrics
	if tlsFiles := cfg.TransportTLS(); tlsFiles != nil {
		connCfg.TLSConfig, err = transport.NewServerTLSConfig(tlsFiles)
		if err != nil {
			logger.Error("Invalid TLS configuration", "err", err)
			return 1
		}
	}

	p := &peer{
		logger:      logger,
		echo:        *echo,
		silentAfter: cfg.SilentAfter,
	}

	server := transport.NewServer(transport.ServerConfig{
		Address:      cfg.Listen,
		Connection:   connCfg,
		Logger:       logger,
		OnConnect:    p.onConnect,
		OnDisconnect: p.onDisconnect,
		OnMessage:    p.onMessage,
		OnError:      p.onError,
	})
	// Connections outlive the signal context so Stop can close them gracefully.
	srvCtx, srvCancel := context.WithCancel(context.Background())
	defer srvCancel()

	if err := server.Start(srvCtx); err != nil {
		logger.Error("Failed to start server", "err", err)
		return 1
	}
	logger.Info("liveconn peer listening",
		"version", Version,
		"addr", server.Addr().String(),
		"config", cfg.Summary(),
	)

	if cfg.MDNS.Enabled {
		adv, err := advertise(cfg, server.Addr())
		if err != nil {
			logger.Warn("mDNS advertising failed", "err", err)
		} else {
			defer adv.Stop()
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("Error stopping server", "err", err)
	}
	return 0
}

// peer holds the per-process connection callbacks.
type peer struct {
	logger      *slog.Logger
	echo        bool
	silentAfter time.Duration
}

func (p *peer) onConnect(c *transport.Connection) {
	p.logger.Info("Connection opened", "conn_id", c.ID(), "remote", c.RemoteAddr())

	if p.silentAfter <= 0 {
		return
	}
	timer := time.AfterFunc(p.silentAfter, func() {
		p.logger.Warn("Going silent", "conn_id", c.ID(), "after", p.silentAfter)
		c.PauseHeartbeats(true)
	})
	go func() {
		<-c.Done()
		timer.Stop()
	}()
}

func (p *peer) onDisconnect(c *transport.Connection) {
	stats := c.Stats()
	p.logger.Info("Connection closed",
		"conn_id", c.ID(),
		"frames_in", stats.FramesReceived,
		"frames_out", stats.FramesSent,
		"heartbeats_in", stats.HeartbeatsReceived,
		"liveness_failures", stats.Watchdog.Failures,
	)
}

func (p *peer) onMessage(c *transport.Connection, msg *wire.DataMessage) {
	p.logger.Debug("Message received", "conn_id", c.ID(), "id", msg.ID, "size", len(msg.Payload))
	if !p.echo {
		return
	}
	if _, err := c.Send(msg.Payload); err != nil {
		p.logger.Warn("Echo failed", "conn_id", c.ID(), "err", err)
	}
}

func (p *peer) onError(c *transport.Connection, err error) {
	if c == nil {
		p.logger.Warn("Accept failed", "err", err)
		return
	}
	p.logger.Warn("Connection error", "conn_id", c.ID(), "err", err)
}

// advertise registers the listening port via mDNS.
func advertise(cfg *config.Config, addr net.Addr) (*discovery.Advertiser, error) {
	instance := cfg.MDNS.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		instance = "liveconn-" + host
	}

	var port uint16
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = uint16(tcp.Port)
	}

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: cfg.MDNS.Interface})
	err := adv.Advertise(&discovery.PeerInfo{
		InstanceName:      instance,
		Port:              port,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Version:           Version,
		TLS:               cfg.TLS.Enabled,
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}
