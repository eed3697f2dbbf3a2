package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liveconn/liveconn-go/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.llog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())

	return path
}

func heartbeatEvent(connID string, dir log.Direction, offset time.Duration, seq uint32) log.Event {
	return log.Event{
		Timestamp:    baseTime.Add(offset),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryControl,
		ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgHeartbeat, Sequence: seq},
	}
}

// sessionEvents is a connection whose peer sends two heartbeats and then goes silent.
func sessionEvents() []log.Event {
	const id = "abc12345-6789-0123-4567-890abcdef012"
	return []log.Event{
		{
			Timestamp:    baseTime,
			ConnectionID: id,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			RemoteAddr:   "10.0.0.2:7420",
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "DISCONNECTED", NewState: "CONNECTED"},
		},
		{
			Timestamp:    baseTime,
			ConnectionID: id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			Frame:        &log.FrameEvent{Size: 9, Data: []byte{0xa2, 0x01, 0x01, 0x02, 0x01}},
		},
		heartbeatEvent(id, log.DirectionIn, 0, 1),
		heartbeatEvent(id, log.DirectionOut, time.Second, 1),
		heartbeatEvent(id, log.DirectionIn, 2*time.Second, 2),
		{
			Timestamp:    baseTime.Add(3 * time.Second),
			ConnectionID: id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message:      &log.MessageEvent{MessageID: 7, PayloadSize: 11},
		},
		{
			Timestamp:    baseTime.Add(9 * time.Second),
			ConnectionID: id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerLiveness,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerLiveness,
				Message: "Connection dead, no heartbeat or data received in 6.0s",
				Context: "liveness check",
			},
		},
		{
			Timestamp:    baseTime.Add(9 * time.Second),
			ConnectionID: id,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "CONNECTED", NewState: "CLOSED", Reason: "liveness failure"},
		},
	}
}

func TestFormatFrameEvent(t *testing.T) {
	event := sessionEvents()[1]

	var buf bytes.Buffer
	formatEvent(&buf, event, true)
	output := buf.String()

	assert.Contains(t, output, "2026-01-28T10:15:32.123456Z")
	assert.Contains(t, output, "[conn:abc12345]")
	assert.Contains(t, output, "IN  TRANSPORT Frame")
	assert.Contains(t, output, "Size: 9 bytes")
	assert.Contains(t, output, "Data: a201010201")

	buf.Reset()
	formatEvent(&buf, event, false)
	assert.NotContains(t, buf.String(), "Data:")
}

func TestFormatControlEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, heartbeatEvent("short", log.DirectionOut, 0, 42), false)
	output := buf.String()

	assert.Contains(t, output, "[conn:short]")
	assert.Contains(t, output, "OUT CTRL HEARTBEAT")
	assert.Contains(t, output, "Seq: 42")
}

func TestFormatErrorAndStateEvents(t *testing.T) {
	events := sessionEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[6], false)
	assert.Contains(t, buf.String(), "LIVENESS Error")
	assert.Contains(t, buf.String(), "Message: Connection dead, no heartbeat or data received in 6.0s")
	assert.Contains(t, buf.String(), "Context: liveness check")

	buf.Reset()
	formatEvent(&buf, events[7], false)
	assert.Contains(t, buf.String(), "CONNECTED -> CLOSED")
	assert.Contains(t, buf.String(), "Reason: liveness failure")
}

func TestRunViewFiltersByCategory(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	filter, err := FilterOptions{Category: "control", Direction: "in"}.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RunView(path, ViewOptions{Filter: filter}, &buf))

	output := buf.String()
	assert.Equal(t, 2, strings.Count(output, "HEARTBEAT"))
	assert.NotContains(t, output, "OUT")
	assert.NotContains(t, output, "Frame")
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "missing.llog"), ViewOptions{}, &bytes.Buffer{})
	require.ErrorContains(t, err, "failed to open log file")
}

func TestFilterOptionsBuild(t *testing.T) {
	filter, err := FilterOptions{
		ConnID:    "abc",
		TimeStart: "2026-01-28T10:00:00Z",
		TimeEnd:   "2026-01-28T11:00:00Z",
		Layer:     "LIVENESS",
		Direction: "out",
		Category:  "error",
	}.Build()
	require.NoError(t, err)

	assert.Equal(t, "abc", filter.ConnectionID)
	require.NotNil(t, filter.TimeStart)
	require.NotNil(t, filter.TimeEnd)
	assert.Equal(t, log.LayerLiveness, *filter.Layer)
	assert.Equal(t, log.DirectionOut, *filter.Direction)
	assert.Equal(t, log.CategoryError, *filter.Category)

	tests := []FilterOptions{
		{TimeStart: "yesterday"},
		{TimeEnd: "10:00"},
		{Layer: "service"},
		{Direction: "both"},
		{Category: "snapshot"},
	}
	for _, opts := range tests {
		_, err := opts.Build()
		assert.Error(t, err, "%+v", opts)
	}
}

func TestCollectLivenessStats(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	stats, err := Collect(path, log.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 8, stats.TotalEvents)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.LivenessFailures)
	assert.Equal(t, 9*time.Second, stats.End.Sub(stats.Start))
	require.Len(t, stats.Connections, 1)

	for _, cs := range stats.Connections {
		assert.Equal(t, "10.0.0.2:7420", cs.RemoteAddr)
		assert.Equal(t, 2, cs.HeartbeatsIn)
		assert.Equal(t, 1, cs.HeartbeatsOut)
		assert.Equal(t, 1, cs.Messages)
		assert.Equal(t, 1, cs.LivenessFailures)
		assert.Equal(t, 2*time.Second, cs.LongestHeartbeatGap)
		assert.Equal(t, "CLOSED", cs.FinalState)
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, log.Filter{}, &buf))
	output := buf.String()

	assert.Contains(t, output, "Total Events: 8")
	assert.Contains(t, output, "LIVENESS:")
	assert.Contains(t, output, "CONTROL:")
	assert.Contains(t, output, "Connections: 1")
	assert.Contains(t, output, "[abc12345]")
	assert.Contains(t, output, "Heartbeats: 2 in, 1 out")
	assert.Contains(t, output, "Liveness failures: 1")
	assert.Contains(t, output, "Errors: 1 (liveness: 1)")
}

func TestRunStatsEmptyLog(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, log.Filter{}, &buf))
	assert.Contains(t, buf.String(), "Total Events: 0")
	assert.NotContains(t, buf.String(), "Time Range")
}

func TestRunExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	require.NoError(t, RunExport(path, log.Filter{}, "jsonl", &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)

	var event log.Event
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &event))
	require.NotNil(t, event.ControlMsg)
	assert.Equal(t, log.ControlMsgHeartbeat, event.ControlMsg.Type)
}

func TestRunExportCSV(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	layer := log.LayerLiveness
	var buf bytes.Buffer
	require.NoError(t, RunExport(path, log.Filter{Layer: &layer}, "csv", &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "timestamp", records[0][0])
	assert.Equal(t, "Error", records[1][5])
	assert.Equal(t, "Connection dead, no heartbeat or data received in 6.0s", records[1][6])
}

func TestRunExportUnknownFormat(t *testing.T) {
	err := RunExport("unused", log.Filter{}, "xml", &bytes.Buffer{})
	require.ErrorContains(t, err, "unknown format")
}
