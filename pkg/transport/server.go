package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/liveconn/liveconn-go/pkg/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (default: ":7420").
	Address string

	// Connection is the template for accepted connections. Its ID is
	// replaced per connection.
	Connection ConnectionConfig

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// OnConnect is called when a connection is established.
	OnConnect func(conn *Connection)

	// OnDisconnect is called when a connection has shut down.
	OnDisconnect func(conn *Connection)

	// OnMessage is called for each data message.
	OnMessage func(conn *Connection, msg *wire.DataMessage)

	// OnError is called for accept errors (conn is nil), read errors and
	// liveness failures.
	OnError func(conn *Connection, err error)
}

// Server accepts connections and runs each with its own heartbeat checker.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[string]*Connection
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config: config,
		logger: config.Logger,
		conns:  make(map[string]*Connection),
	}
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener. It returns immediately.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.logger.Info("Listening", "addr", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all connections, each with the close handshake.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.listener.Close()

	s.connsMu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	var closeWg sync.WaitGroup
	for _, c := range conns {
		closeWg.Add(1)
		go func() {
			defer closeWg.Done()
			c.Close()
		}()
	}
	closeWg.Wait()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns the active connections.
func (s *Server) Connections() []*Connection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	cfg := s.config.Connection
	cfg.ID = uuid.New().String()
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}

	c := NewConnection(cfg, HandlerFuncs{
		Message: s.config.OnMessage,
		Error:   s.reportError,
	})
	if err := c.Accept(s.ctx, netConn); err != nil {
		netConn.Close()
		s.reportError(nil, err)
		return
	}

	s.connsMu.Lock()
	s.conns[c.ID()] = c
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	<-c.Done()

	s.connsMu.Lock()
	delete(s.conns, c.ID())
	s.connsMu.Unlock()

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) reportError(c *Connection, err error) {
	if s.config.OnError != nil {
		s.config.OnError(c, err)
		return
	}
	if c != nil {
		s.logger.Warn("Connection error", "conn_id", c.ID(), "err", err)
		return
	}
	s.logger.Warn("Server error", "err", err)
}
