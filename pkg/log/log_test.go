package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.llog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var events []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Layer:        LayerLiveness,
		Category:     CategoryError,
		LocalRole:    RoleServer,
		Error: &ErrorEventData{
			Layer:   LayerLiveness,
			Message: "Connection dead, no heartbeat or data received in 3.0s",
			Context: "liveness check",
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.LocalRole != RoleServer {
		t.Errorf("LocalRole = %v, want SERVER", got.LocalRole)
	}
	if got.Error == nil || got.Error.Message != event.Error.Message {
		t.Errorf("Error = %+v, want %+v", got.Error, event.Error)
	}
	if got.Frame != nil || got.StateChange != nil {
		t.Error("unset payloads should decode as nil")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	event := Event{
		ConnectionID: "c",
		ControlMsg:   &ControlMsgEvent{Type: ControlMsgClose, Sequence: 4},
	}
	a, _ := EncodeEvent(event)
	b, _ := EncodeEvent(event)
	if !bytes.Equal(a, b) {
		t.Errorf("encodings differ: %x vs %x", a, b)
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerWire.String(), "WIRE"},
		{LayerLiveness.String(), "LIVENESS"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryControl.String(), "CONTROL"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{RoleClient.String(), "CLIENT"},
		{RoleServer.String(), "SERVER"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityHeartbeat.String(), "HEARTBEAT"},
		{ControlMsgHeartbeat.String(), "HEARTBEAT"},
		{ControlMsgCloseAck.String(), "CLOSE_ACK"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	now := time.Now()
	path := createTestLogFile(t, []Event{
		{Timestamp: now, ConnectionID: "conn-1", Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: now, ConnectionID: "conn-2", Direction: DirectionOut, Layer: LayerWire, Category: CategoryControl},
		{Timestamp: now, ConnectionID: "conn-3", Layer: LayerLiveness, Category: CategoryState},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].ConnectionID != "conn-1" || events[2].ConnectionID != "conn-3" {
		t.Errorf("events out of order: %q .. %q", events[0].ConnectionID, events[2].ConnectionID)
	}
}

func TestReaderFilter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []Event{
		{Timestamp: base, ConnectionID: "a", Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Layer: LayerLiveness, Category: CategoryError},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Layer: LayerLiveness, Category: CategoryState},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionOut, Layer: LayerWire, Category: CategoryControl},
	})

	liveness := LayerLiveness
	errCat := CategoryError
	out := DirectionOut
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"none", Filter{}, 4},
		{"connection", Filter{ConnectionID: "b"}, 2},
		{"layer", Filter{Layer: &liveness}, 2},
		{"category", Filter{Category: &errCat}, 1},
		{"direction", Filter{Direction: &out}, 1},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "a", Layer: &liveness}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestStreamReader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, id := range []string{"x", "y"} {
		if err := enc.Encode(Event{ConnectionID: id}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	reader := NewStreamReader(&buf, Filter{ConnectionID: "y"})
	events := readAll(t, reader)
	if len(events) != 1 || events[0].ConnectionID != "y" {
		t.Errorf("events = %+v, want one event for y", events)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("Close on stream reader: %v", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.llog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.llog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Log(Event{ConnectionID: "before"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(Event{ConnectionID: "after"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if got := len(readAll(t, reader)); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.llog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Log(Event{ConnectionID: "c", Category: CategoryControl})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if got := len(readAll(t, reader)); got != 500 {
		t.Errorf("got %d events, want 500", got)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b, NoopLogger{})

	m.Log(Event{ConnectionID: "1"})
	m.Log(Event{ConnectionID: "2"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("got %d and %d events, want 2 each", len(a.events), len(b.events))
	}
}

func TestSlogAdapter(t *testing.T) {
	tests := []struct {
		name      string
		event     Event
		wantLevel string
		wantKey   string
		wantValue any
	}{
		{
			name:      "frame",
			event:     Event{Frame: &FrameEvent{Size: 12}},
			wantLevel: "DEBUG",
			wantKey:   "frame_size",
			wantValue: float64(12),
		},
		{
			name:      "state change",
			event:     Event{StateChange: &StateChangeEvent{Entity: StateEntityHeartbeat, OldState: "IDLE", NewState: "RUNNING"}},
			wantLevel: "DEBUG",
			wantKey:   "new_state",
			wantValue: "RUNNING",
		},
		{
			name:      "control",
			event:     Event{ControlMsg: &ControlMsgEvent{Type: ControlMsgHeartbeat, Sequence: 7}},
			wantLevel: "DEBUG",
			wantKey:   "ctrl_type",
			wantValue: "HEARTBEAT",
		},
		{
			name:      "error",
			event:     Event{Layer: LayerLiveness, Error: &ErrorEventData{Layer: LayerLiveness, Message: "dead"}},
			wantLevel: "WARN",
			wantKey:   "error_msg",
			wantValue: "dead",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
			NewSlogAdapter(slog.New(handler)).Log(tt.event)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["msg"] != "protocol" {
				t.Errorf("msg = %v, want protocol", entry["msg"])
			}
			if entry[tt.wantKey] != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, entry[tt.wantKey], tt.wantValue)
			}
		})
	}
}
