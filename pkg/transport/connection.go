package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/liveconn/liveconn-go/pkg/heartbeat"
	"github.com/liveconn/liveconn-go/pkg/log"
	"github.com/liveconn/liveconn-go/pkg/wire"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosing indicates graceful close in progress.
	StateClosing
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrCloseTimeout     = errors.New("close timeout")
)

const (
	// DefaultHeartbeatInterval is the default heartbeat interval in seconds.
	DefaultHeartbeatInterval = 60

	// DefaultCloseTimeout bounds the close handshake.
	DefaultCloseTimeout = 5 * time.Second
)

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// TLSConfig enables TLS. Nil means plain TCP.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum payload size (default: 64KB).
	MaxMessageSize uint32

	// HeartbeatInterval in seconds drives both the heartbeat sender and
	// the liveness watchdog (default: 60, minimum 1).
	HeartbeatInterval int

	// DisableHeartbeats stops this side from sending heartbeats.
	// Liveness of the peer is still checked.
	DisableHeartbeats bool

	// CloseTimeout bounds the close handshake (default: 5s).
	CloseTimeout time.Duration

	// WriteTimeout is the deadline for each frame write (0 = none).
	WriteTimeout time.Duration

	// ID identifies the connection in logs (default: a random UUID).
	ID string

	// Clock drives heartbeats and liveness checks (default: real clock).
	Clock clock.Clock

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures frames, control messages and state changes (optional).
	ProtocolLogger log.Logger

	// Metrics receives counters (default: NopMetrics).
	Metrics Metrics
}

// DefaultConnectionConfig returns the default connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxMessageSize:    DefaultMaxMessageSize,
		HeartbeatInterval: DefaultHeartbeatInterval,
		CloseTimeout:      DefaultCloseTimeout,
	}
}

// ConnectionHandler handles connection events. Callbacks run on the
// connection's goroutines and must not block.
type ConnectionHandler interface {
	// OnMessage is called for each data message.
	OnMessage(c *Connection, msg *wire.DataMessage)

	// OnStateChange is called when the connection state changes.
	OnStateChange(c *Connection, oldState, newState ConnectionState)

	// OnError is called for read errors and liveness failures.
	OnError(c *Connection, err error)
}

// HandlerFuncs adapts functions to ConnectionHandler. Nil fields are skipped.
type HandlerFuncs struct {
	Message     func(c *Connection, msg *wire.DataMessage)
	StateChange func(c *Connection, oldState, newState ConnectionState)
	Error       func(c *Connection, err error)
}

func (h HandlerFuncs) OnMessage(c *Connection, msg *wire.DataMessage) {
	if h.Message != nil {
		h.Message(c, msg)
	}
}

func (h HandlerFuncs) OnStateChange(c *Connection, oldState, newState ConnectionState) {
	if h.StateChange != nil {
		h.StateChange(c, oldState, newState)
	}
}

func (h HandlerFuncs) OnError(c *Connection, err error) {
	if h.Error != nil {
		h.Error(c, err)
	}
}

// Connection is a framed connection with heartbeats and liveness detection.
//
// Each Connection owns one heartbeat.Watchdog for its lifetime. The read
// loop feeds every frame to the watchdog; the supervise loop drains the
// watchdog's failures and force-closes the connection on the first one.
// A closed Connection cannot be reopened.
type Connection struct {
	config  ConnectionConfig
	handler ConnectionHandler
	id      string
	clock   clock.Clock
	logger  *slog.Logger
	plog    log.Logger
	metrics Metrics
	role    log.Role

	mu       sync.RWMutex
	conn     net.Conn
	framer   *Framer
	watchdog *heartbeat.Watchdog
	errs     *heartbeat.ErrorList
	sender   *HeartbeatSender
	ctx      context.Context
	cancel   context.CancelFunc

	state    atomic.Int32
	closed   atomic.Bool
	done     chan struct{}
	readDone chan struct{}
	closeAck chan struct{}

	messageSeq   atomic.Uint32
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	heartbeatsIn atomic.Uint64
}

// NewConnection creates a connection (not yet connected).
func NewConnection(config ConnectionConfig, handler ConnectionHandler) *Connection {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.CloseTimeout == 0 {
		config.CloseTimeout = DefaultCloseTimeout
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = NopMetrics{}
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	c := &Connection{
		config:   config,
		handler:  handler,
		id:       config.ID,
		clock:    config.Clock,
		logger:   config.Logger.With("conn_id", config.ID),
		plog:     config.ProtocolLogger,
		metrics:  config.Metrics,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		closeAck: make(chan struct{}, 1),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Connect dials address and starts the connection.
func (c *Connection) Connect(ctx context.Context, address string) error {
	if !c.beginConnect() {
		return ErrAlreadyConnected
	}
	c.role = log.RoleClient

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.abortConnect()
		return fmt.Errorf("dial failed: %w", err)
	}

	if c.config.TLSConfig != nil {
		tlsConn := tls.Client(conn, c.config.TLSConfig)
		if err := c.handshake(ctx, tlsConn); err != nil {
			c.abortConnect()
			return err
		}
		conn = tlsConn
	}

	return c.open(ctx, conn)
}

// Accept starts the connection on an accepted net.Conn.
func (c *Connection) Accept(ctx context.Context, conn net.Conn) error {
	if !c.beginConnect() {
		return ErrAlreadyConnected
	}
	c.role = log.RoleServer

	if c.config.TLSConfig != nil {
		tlsConn := tls.Server(conn, c.config.TLSConfig)
		if err := c.handshake(ctx, tlsConn); err != nil {
			c.abortConnect()
			return err
		}
		conn = tlsConn
	}

	return c.open(ctx, conn)
}

func (c *Connection) beginConnect() bool {
	if c.closed.Load() {
		return false
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return false
	}
	c.setState(StateDisconnected, StateConnecting, "")
	return true
}

func (c *Connection) abortConnect() {
	c.state.Store(int32(StateDisconnected))
	c.setState(StateConnecting, StateDisconnected, "connect failed")
}

func (c *Connection) handshake(ctx context.Context, tlsConn *tls.Conn) error {
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
		tlsConn.Close()
		return fmt.Errorf("connection verification failed: %w", err)
	}
	return nil
}

// open wires the watchdog, sender and loops to conn.
func (c *Connection) open(ctx context.Context, conn net.Conn) error {
	wd := heartbeat.NewWatchdogWithConfig(heartbeat.Config{
		IntervalSeconds: c.config.HeartbeatInterval,
		Clock:           c.clock,
		Logger:          c.logger,
		ProtocolLogger:  c.plog,
		ConnectionID:    c.id,
	})
	errs := heartbeat.NewErrorList()

	c.mu.Lock()
	c.conn = conn
	c.framer = NewFramerWithConfig(conn, FramerConfig{
		MaxMessageSize: c.config.MaxMessageSize,
		Logger:         c.plog,
		ConnectionID:   c.id,
		Clock:          c.clock,
	})
	c.watchdog = wd
	c.errs = errs
	c.sender = NewHeartbeatSender(wd.Interval(), c.clock, c.sendHeartbeat)
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := wd.Start(errs); err != nil {
		conn.Close()
		c.abortConnect()
		return fmt.Errorf("failed to start heartbeat checker: %w", err)
	}

	c.state.Store(int32(StateConnected))
	c.metrics.ConnectionOpened()
	c.setState(StateConnecting, StateConnected, "")
	c.logger.Info("Connection established",
		"remote", conn.RemoteAddr(),
		"heartbeat", wd.Interval(),
	)

	go c.readLoop()
	go c.supervise()
	if !c.config.DisableHeartbeats {
		c.sender.Start(c.ctx)
	}
	return nil
}

// Send sends payload as a data message and returns its message ID.
func (c *Connection) Send(payload []byte) (uint32, error) {
	id := c.messageSeq.Add(1)
	if id == 0 {
		id = c.messageSeq.Add(1)
	}
	data, err := wire.EncodeDataMessage(&wire.DataMessage{ID: id, Payload: payload})
	if err != nil {
		return 0, err
	}
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}
	return id, c.writeFrame(data)
}

// PauseHeartbeats stops or resumes heartbeat sending without closing.
// A paused peer looks dead to the other side once it also stops sending data.
func (c *Connection) PauseHeartbeats(paused bool) {
	if s := c.heartbeatSender(); s != nil {
		s.Pause(paused)
	}
}

// Close closes the connection with the close handshake.
func (c *Connection) Close() error {
	return c.CloseWithTimeout(c.config.CloseTimeout)
}

// CloseWithTimeout closes gracefully, waiting at most timeout for the
// peer to acknowledge.
func (c *Connection) CloseWithTimeout(timeout time.Duration) error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return nil
	}
	c.setState(StateConnected, StateClosing, "")
	c.heartbeatSender().Stop()

	if err := c.sendControl(wire.ControlClose, 0); err != nil {
		c.shutdown("close failed")
		return err
	}

	var closeErr error
	select {
	case <-c.closeAck:
	case <-c.readDone:
	case <-c.clock.After(timeout):
		closeErr = ErrCloseTimeout
	}

	c.shutdown("closed")
	return closeErr
}

// ForceClose closes the connection immediately without a handshake.
func (c *Connection) ForceClose() {
	c.shutdown("force closed")
}

// shutdown tears the connection down once. It never blocks on the
// connection's own goroutines, so any of them may call it.
func (c *Connection) shutdown(reason string) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	old := c.State()
	c.watchdog.Stop()
	c.sender.Stop()
	c.cancel()
	conn.Close()

	c.state.Store(int32(StateDisconnected))
	c.metrics.ConnectionClosed()
	c.setState(old, StateDisconnected, reason)
	c.logger.Info("Connection closed", "reason", reason)
	close(c.done)
}

// LocalAddr returns the local network address.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

// ConnectionStats is a snapshot of connection counters.
type ConnectionStats struct {
	ID                 string
	State              ConnectionState
	FramesReceived     uint64
	FramesSent         uint64
	HeartbeatsReceived uint64
	Watchdog           heartbeat.Stats
	Sender             SenderStats
}

// Stats returns current connection counters.
func (c *Connection) Stats() ConnectionStats {
	stats := ConnectionStats{
		ID:                 c.id,
		State:              c.State(),
		FramesReceived:     c.framesIn.Load(),
		FramesSent:         c.framesOut.Load(),
		HeartbeatsReceived: c.heartbeatsIn.Load(),
	}

	c.mu.RLock()
	wd, sender := c.watchdog, c.sender
	c.mu.RUnlock()
	if wd != nil {
		stats.Watchdog = wd.Stats()
	}
	if sender != nil {
		stats.Sender = sender.Stats()
	}
	return stats
}

func (c *Connection) heartbeatSender() *HeartbeatSender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender
}

func (c *Connection) writeFrame(data []byte) error {
	if c.closed.Load() {
		return ErrNotConnected
	}

	c.mu.RLock()
	conn, framer := c.conn, c.framer
	c.mu.RUnlock()
	if framer == nil {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		// Socket deadlines are wall-clock.
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := framer.WriteFrame(data); err != nil {
		return err
	}

	c.framesOut.Add(1)
	c.metrics.FrameSent(FrameSize(len(data)))
	return nil
}

func (c *Connection) sendControl(msgType wire.ControlMessageType, seq uint32) error {
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: msgType, Sequence: seq})
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	if err := c.writeFrame(data); err != nil {
		return err
	}
	c.logControl(msgType, seq, log.DirectionOut)
	return nil
}

func (c *Connection) sendHeartbeat(seq uint32) error {
	if err := c.sendControl(wire.ControlHeartbeat, seq); err != nil {
		return err
	}
	c.metrics.HeartbeatSent()
	return nil
}

// readLoop reads frames until the connection fails or closes.
func (c *Connection) readLoop() {
	defer close(c.readDone)

	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.closed.Load() || c.State() == StateClosing {
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("Peer closed the stream")
			} else {
				c.reportError(fmt.Errorf("read error: %w", err))
			}
			c.shutdown("read failed")
			return
		}

		// Any frame is a sign of life, whatever it contains.
		c.watchdog.RegisterFrameReceived()
		c.framesIn.Add(1)
		c.metrics.FrameReceived(FrameSize(len(data)))

		msgType, err := wire.PeekMessageType(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable frame", "err", err)
			continue
		}

		switch msgType {
		case wire.MessageTypeControl:
			msg, err := wire.DecodeControlMessage(data)
			if err != nil {
				c.logger.Warn("Dropping control frame", "err", err)
				continue
			}
			c.handleControlMessage(msg)

		case wire.MessageTypeData:
			msg, err := wire.DecodeDataMessage(data)
			if err != nil {
				c.logger.Warn("Dropping data frame", "err", err)
				continue
			}
			c.logMessage(msg)
			c.handler.OnMessage(c, msg)

		default:
			c.logger.Warn("Dropping frame of unknown type", "size", len(data))
		}
	}
}

func (c *Connection) handleControlMessage(msg *wire.ControlMessage) {
	c.logControl(msg.Type, msg.Sequence, log.DirectionIn)

	switch msg.Type {
	case wire.ControlHeartbeat:
		c.watchdog.RegisterHeartbeatReceived()
		c.heartbeatsIn.Add(1)
		c.metrics.HeartbeatReceived()

	case wire.ControlClose:
		c.sendControl(wire.ControlCloseAck, 0)
		c.shutdown("closed by peer")

	case wire.ControlCloseAck:
		select {
		case c.closeAck <- struct{}{}:
		default:
		}
	}
}

// supervise drains watchdog failures until the connection shuts down.
func (c *Connection) supervise() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown("context canceled")
			return
		case <-c.errs.Notify():
			for _, err := range c.errs.Drain() {
				c.handleFailure(err)
			}
		}
	}
}

func (c *Connection) handleFailure(err error) {
	c.reportError(err)
	if !heartbeat.IsLivenessFailure(err) {
		return
	}
	c.metrics.LivenessFailure()
	c.shutdown("liveness failure")
}

func (c *Connection) reportError(err error) {
	c.handler.OnError(c, err)
	if c.plog == nil {
		return
	}
	c.plog.Log(log.Event{
		Timestamp:    c.clock.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    c.role,
		RemoteAddr:   c.remoteAddrString(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
		},
	})
}

func (c *Connection) setState(oldState, newState ConnectionState, reason string) {
	c.handler.OnStateChange(c, oldState, newState)
	if c.plog == nil {
		return
	}
	c.plog.Log(log.Event{
		Timestamp:    c.clock.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    c.role,
		RemoteAddr:   c.remoteAddrString(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

func (c *Connection) logControl(msgType wire.ControlMessageType, seq uint32, direction log.Direction) {
	if c.plog == nil {
		return
	}

	var t log.ControlMsgType
	switch msgType {
	case wire.ControlHeartbeat:
		t = log.ControlMsgHeartbeat
	case wire.ControlClose:
		t = log.ControlMsgClose
	case wire.ControlCloseAck:
		t = log.ControlMsgCloseAck
	default:
		return
	}

	c.plog.Log(log.Event{
		Timestamp:    c.clock.Now(),
		ConnectionID: c.id,
		Direction:    direction,
		Layer:        log.LayerWire,
		Category:     log.CategoryControl,
		LocalRole:    c.role,
		RemoteAddr:   c.remoteAddrString(),
		ControlMsg:   &log.ControlMsgEvent{Type: t, Sequence: seq},
	})
}

func (c *Connection) logMessage(msg *wire.DataMessage) {
	if c.plog == nil {
		return
	}
	c.plog.Log(log.Event{
		Timestamp:    c.clock.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    c.role,
		RemoteAddr:   c.remoteAddrString(),
		Message: &log.MessageEvent{
			MessageID:   msg.ID,
			PayloadSize: len(msg.Payload),
		},
	})
}

func (c *Connection) remoteAddrString() string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
