package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.FrameReceived(10)
	m.FrameReceived(6)
	m.FrameSent(9)
	m.HeartbeatReceived()
	m.HeartbeatSent()
	m.HeartbeatSent()
	m.LivenessFailure()

	require.Equal(t, 1.0, testutil.ToFloat64(m.connectionsOpen))
	require.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal))
	require.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("in")))
	require.Equal(t, 16.0, testutil.ToFloat64(m.frameBytes.WithLabelValues("in")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("out")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.heartbeats.WithLabelValues("out")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.livenessFailures))
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.SetBuildInfo("test")
	m.LivenessFailure()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, "liveconn_liveness_failures_total 1"), text)
	require.Contains(t, text, `liveconn_build_info{version="test"} 1`)
	require.Contains(t, text, "liveconn_uptime_seconds")
}

func TestMetricsServe(t *testing.T) {
	m := New()
	m.HeartbeatReceived()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.Serve(ctx, "127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `liveconn_heartbeats_total{direction="in"} 1`)

	_, err = m.Serve(ctx, addr.String(), slog.Default())
	require.Error(t, err)
}
