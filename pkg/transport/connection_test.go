package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liveconn/liveconn-go/pkg/heartbeat"
	"github.com/liveconn/liveconn-go/pkg/log"
	"github.com/liveconn/liveconn-go/pkg/wire"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []*wire.DataMessage
	errs     []error
	states   []ConnectionState
}

func (h *recordingHandler) OnMessage(_ *Connection, msg *wire.DataMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) OnStateChange(_ *Connection, _, newState ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, newState)
}

func (h *recordingHandler) OnError(_ *Connection, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func testConnectionConfig(mc clock.Clock, interval int) ConnectionConfig {
	cfg := DefaultConnectionConfig()
	cfg.HeartbeatInterval = interval
	cfg.CloseTimeout = time.Second
	cfg.Clock = mc
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

// newPipePair returns two connected Connections sharing a mock clock.
func newPipePair(t *testing.T, interval int) (a, b *Connection, ha, hb *recordingHandler, mc *clock.Mock) {
	t.Helper()

	mc = clock.NewMock()
	ha, hb = &recordingHandler{}, &recordingHandler{}
	a = NewConnection(testConnectionConfig(mc, interval), ha)
	b = NewConnection(testConnectionConfig(mc, interval), hb)

	left, right := net.Pipe()
	require.NoError(t, a.Accept(context.Background(), left))
	require.NoError(t, b.Accept(context.Background(), right))

	t.Cleanup(func() {
		a.ForceClose()
		b.ForceClose()
	})
	return a, b, ha, hb, mc
}

// newSilentPeer returns a Connection whose peer reads everything and
// writes only what the test sends through the returned Framer.
func newSilentPeer(t *testing.T, interval int) (*Connection, *recordingHandler, *Framer, *clock.Mock) {
	t.Helper()

	mc := clock.NewMock()
	h := &recordingHandler{}
	c := NewConnection(testConnectionConfig(mc, interval), h)

	local, remote := net.Pipe()
	go io.Copy(io.Discard, remote)
	t.Cleanup(func() {
		c.ForceClose()
		remote.Close()
	})

	require.NoError(t, c.Accept(context.Background(), local))
	return c, h, NewFramer(remote), mc
}

// stepChecks advances the clock one interval and waits for the
// connection's heartbeat checker to finish its check.
func stepChecks(t *testing.T, c *Connection, mc *clock.Mock, d time.Duration, want uint64) {
	t.Helper()
	mc.Add(d)
	require.Eventually(t, func() bool {
		return c.Stats().Watchdog.Checks >= want
	}, time.Second, time.Millisecond)
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down")
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := map[ConnectionState]string{
		StateDisconnected:  "DISCONNECTED",
		StateConnecting:    "CONNECTING",
		StateConnected:     "CONNECTED",
		StateClosing:       "CLOSING",
		ConnectionState(9): "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestNewConnectionDefaults(t *testing.T) {
	c := NewConnection(ConnectionConfig{}, nil)

	require.Equal(t, StateDisconnected, c.State())
	require.NotEmpty(t, c.ID())
	require.NotEqual(t, c.ID(), NewConnection(ConnectionConfig{}, nil).ID())

	_, err := c.Send([]byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, c.Close())
	c.ForceClose()
}

func TestConnectionExchangesHeartbeats(t *testing.T) {
	a, b, _, _, mc := newPipePair(t, 1)

	require.Equal(t, StateConnected, a.State())
	require.Equal(t, heartbeat.StateRunning, a.Stats().Watchdog.State)

	// Each side sends one heartbeat on open and one per interval.
	require.Eventually(t, func() bool {
		return a.Stats().HeartbeatsReceived >= 1 && b.Stats().HeartbeatsReceived >= 1
	}, time.Second, time.Millisecond)

	for i := uint64(1); i <= 5; i++ {
		stepChecks(t, a, mc, time.Second, i)
		require.Eventually(t, func() bool {
			return a.Stats().HeartbeatsReceived >= i+1
		}, time.Second, time.Millisecond)
	}

	require.Equal(t, StateConnected, a.State())
	require.Equal(t, StateConnected, b.State())
	require.Zero(t, a.Stats().Watchdog.Failures)
}

func TestConnectionDeliversData(t *testing.T) {
	a, _, _, hb, _ := newPipePair(t, 60)

	id1, err := a.Send([]byte("hello"))
	require.NoError(t, err)
	id2, err := a.Send([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	require.Eventually(t, func() bool { return hb.messageCount() == 2 }, time.Second, time.Millisecond)

	hb.mu.Lock()
	defer hb.mu.Unlock()
	require.Equal(t, []byte("hello"), hb.messages[0].Payload)
	require.Equal(t, id2, hb.messages[1].ID)
}

func TestConnectionDetectsSilentPeer(t *testing.T) {
	c, h, _, mc := newSilentPeer(t, 1)

	stepChecks(t, c, mc, time.Second, 1)
	stepChecks(t, c, mc, time.Second, 2)
	require.Equal(t, StateConnected, c.State())
	require.Empty(t, h.errors())

	stepChecks(t, c, mc, time.Second, 3)
	waitDone(t, c)

	errs := h.errors()
	require.Len(t, errs, 1)
	require.True(t, heartbeat.IsLivenessFailure(errs[0]))
	require.EqualError(t, errs[0], "Connection dead, no heartbeat or data received in 3.0s")

	require.Equal(t, StateDisconnected, c.State())
	require.Equal(t, heartbeat.StateStopped, c.Stats().Watchdog.State)
	require.False(t, c.Stats().Watchdog.TimerPending)
}

func TestConnectionDataKeepsSilentPeerAlive(t *testing.T) {
	c, h, peer, mc := newSilentPeer(t, 1)

	for i := uint64(1); i <= 6; i++ {
		frame, err := wire.EncodeDataMessage(&wire.DataMessage{ID: uint32(i), Payload: []byte("tick")})
		require.NoError(t, err)
		require.NoError(t, peer.WriteFrame(frame))
		require.Eventually(t, func() bool {
			return c.Stats().FramesReceived == i
		}, time.Second, time.Millisecond)

		stepChecks(t, c, mc, time.Second, i)
	}

	require.Equal(t, StateConnected, c.State())
	require.Empty(t, h.errors())
	require.Equal(t, 6, h.messageCount())
	require.Zero(t, c.Stats().HeartbeatsReceived)
}

func TestConnectionCloseHandshake(t *testing.T) {
	a, b, ha, hb, _ := newPipePair(t, 60)

	require.NoError(t, a.Close())
	waitDone(t, a)
	waitDone(t, b)

	require.Equal(t, StateDisconnected, a.State())
	require.Equal(t, StateDisconnected, b.State())
	require.Empty(t, ha.errors())
	require.Empty(t, hb.errors())

	ha.mu.Lock()
	require.Contains(t, ha.states, StateClosing)
	ha.mu.Unlock()

	// Closed connections stay closed.
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Accept(context.Background(), nil), ErrAlreadyConnected)
}

func TestConnectionPeerHangup(t *testing.T) {
	mc := clock.NewMock()
	h := &recordingHandler{}
	c := NewConnection(testConnectionConfig(mc, 60), h)

	local, remote := net.Pipe()
	require.NoError(t, c.Accept(context.Background(), local))
	t.Cleanup(c.ForceClose)

	// Drain the opening heartbeat, then hang up.
	buf := make([]byte, 64)
	_, err := remote.Read(buf)
	require.NoError(t, err)
	remote.Close()

	waitDone(t, c)
	require.Equal(t, StateDisconnected, c.State())
}

func TestConnectionContextCancel(t *testing.T) {
	mc := clock.NewMock()
	c := NewConnection(testConnectionConfig(mc, 60), nil)

	local, remote := net.Pipe()
	go io.Copy(io.Discard, remote)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Accept(ctx, local))
	require.ErrorIs(t, c.Accept(ctx, local), ErrAlreadyConnected)

	cancel()
	waitDone(t, c)
}

func TestConnectionPauseHeartbeats(t *testing.T) {
	a, b, _, hb, mc := newPipePair(t, 1)

	require.Eventually(t, func() bool {
		return b.Stats().HeartbeatsReceived >= 1
	}, time.Second, time.Millisecond)

	// a goes quiet after its opening heartbeat at t=0, so b's silence
	// window is exceeded at t=3.
	a.PauseHeartbeats(true)
	require.True(t, a.Stats().Sender.Paused)

	for i := uint64(1); i <= 3; i++ {
		stepChecks(t, b, mc, time.Second, i)
	}
	waitDone(t, b)

	errs := hb.errors()
	require.NotEmpty(t, errs)
	require.True(t, heartbeat.IsLivenessFailure(errs[0]))
}

func TestConnectionCloseTimeout(t *testing.T) {
	mc := clock.NewMock()
	cfg := testConnectionConfig(mc, 86400)
	cfg.CloseTimeout = time.Hour
	c := NewConnection(cfg, nil)

	// The peer reads the close request but never acknowledges it.
	local, remote := net.Pipe()
	go io.Copy(io.Discard, remote)
	t.Cleanup(func() {
		c.ForceClose()
		remote.Close()
	})
	require.NoError(t, c.Accept(context.Background(), local))

	result := make(chan error, 1)
	go func() { result <- c.Close() }()
	require.Eventually(t, func() bool {
		return c.State() == StateClosing
	}, time.Second, time.Millisecond)

	var err error
	require.Eventually(t, func() bool {
		mc.Add(10 * time.Minute)
		select {
		case err = <-result:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, err, ErrCloseTimeout)
	waitDone(t, c)
}

func TestConnectionEventTimestamps(t *testing.T) {
	mc := clock.NewMock()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mc.Set(start)

	plog := &captureLogger{}
	cfg := testConnectionConfig(mc, 60)
	cfg.ProtocolLogger = plog
	c := NewConnection(cfg, nil)

	local, remote := net.Pipe()
	go io.Copy(io.Discard, remote)
	t.Cleanup(func() {
		c.ForceClose()
		remote.Close()
	})
	require.NoError(t, c.Accept(context.Background(), local))

	require.Eventually(t, func() bool {
		return c.Stats().Sender.Sent == 1
	}, time.Second, time.Millisecond)

	var frames, controls, states int
	for _, e := range plog.snapshot() {
		require.Equal(t, start, e.Timestamp, "%v event", e.Category)
		switch e.Category {
		case log.CategoryMessage:
			frames++
		case log.CategoryControl:
			controls++
		case log.CategoryState:
			states++
		}
	}
	require.Equal(t, 1, frames)
	require.Equal(t, 1, controls)
	require.NotZero(t, states)
}
