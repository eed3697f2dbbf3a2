package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/liveconn/liveconn-go/pkg/wire"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := NewServer(cfg)
	require.NoError(t, s.Serve(context.Background(), listener))
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestServerAcceptsAndTracksConnections(t *testing.T) {
	connected := make(chan *Connection, 1)
	disconnected := make(chan *Connection, 1)
	messages := make(chan *wire.DataMessage, 1)

	s := startTestServer(t, ServerConfig{
		Connection:   ConnectionConfig{HeartbeatInterval: 1},
		OnConnect:    func(c *Connection) { connected <- c },
		OnDisconnect: func(c *Connection) { disconnected <- c },
		OnMessage:    func(_ *Connection, msg *wire.DataMessage) { messages <- msg },
	})

	client := NewConnection(ConnectionConfig{
		HeartbeatInterval: 1,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil)
	require.NoError(t, client.Connect(context.Background(), s.Addr().String()))
	defer client.ForceClose()

	var sc *Connection
	select {
	case sc = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called")
	}
	require.Equal(t, 1, s.ConnectionCount())
	require.NotEqual(t, client.ID(), sc.ID())
	require.Len(t, s.Connections(), 1)

	_, err := client.Send([]byte("ping"))
	require.NoError(t, err)
	select {
	case msg := <-messages:
		require.Equal(t, []byte("ping"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage not called")
	}

	require.Eventually(t, func() bool {
		return sc.Stats().HeartbeatsReceived >= 1 && client.Stats().HeartbeatsReceived >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	select {
	case c := <-disconnected:
		require.Equal(t, sc.ID(), c.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
	require.Eventually(t, func() bool { return s.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServerStopClosesConnections(t *testing.T) {
	s := startTestServer(t, ServerConfig{Connection: ConnectionConfig{CloseTimeout: time.Second}})

	client := NewConnection(ConnectionConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil)
	require.NoError(t, client.Connect(context.Background(), s.Addr().String()))
	defer client.ForceClose()

	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.Zero(t, s.ConnectionCount())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed by server stop")
	}
}

func TestServerStartTwice(t *testing.T) {
	s := startTestServer(t, ServerConfig{})
	require.Error(t, s.Start(context.Background()))
}

func TestConnectDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	c := NewConnection(ConnectionConfig{}, nil)
	require.Error(t, c.Connect(context.Background(), addr))
	require.Equal(t, StateDisconnected, c.State())
}
