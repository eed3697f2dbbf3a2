package heartbeat

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liveconn/liveconn-go/pkg/log"
)

// MinIntervalSeconds is the smallest interval a Watchdog runs with.
// Smaller requested intervals are clamped up to it.
const MinIntervalSeconds = 1

// State is the lifecycle state of a Watchdog.
type State uint8

const (
	// StateIdle indicates the watchdog was created but never started.
	StateIdle State = iota

	// StateStarting indicates Start is arming the first check.
	StateStarting

	// StateRunning indicates checks are scheduled.
	StateRunning

	// StateStopped indicates the watchdog was stopped. It cannot be restarted.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Watchdog.
type Config struct {
	// IntervalSeconds is the check interval. Values below MinIntervalSeconds are clamped.
	IntervalSeconds int

	// Clock schedules checks and reads the time (default: the real clock).
	Clock clock.Clock

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives state change and failure events (optional).
	ProtocolLogger log.Logger

	// ConnectionID tags protocol events.
	ConnectionID string
}

// Watchdog detects a connection on which no frames arrive.
type Watchdog struct {
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	plog      log.Logger
	connID    string

	// Written by the frame reader, swapped to zero by each check.
	frames atomic.Uint64

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	timer         *clock.Timer
	sink          FailureSink
	checks        uint64
	failures      uint64
}

// NewWatchdog creates a watchdog checking every intervalSeconds.
func NewWatchdog(intervalSeconds int) *Watchdog {
	return NewWatchdogWithConfig(Config{IntervalSeconds: intervalSeconds})
}

// NewWatchdogWithConfig creates a watchdog from cfg.
func NewWatchdogWithConfig(cfg Config) *Watchdog {
	if cfg.IntervalSeconds < MinIntervalSeconds {
		cfg.IntervalSeconds = MinIntervalSeconds
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	return &Watchdog{
		interval:  interval,
		threshold: 2 * interval,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		plog:      cfg.ProtocolLogger,
		connID:    cfg.ConnectionID,
		state:     StateIdle,
	}
}

// Interval returns the check interval.
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// Threshold returns the silence duration after which the connection is dead.
func (w *Watchdog) Threshold() time.Duration {
	return w.threshold
}

// IntervalSeconds returns the check interval in whole seconds.
func (w *Watchdog) IntervalSeconds() int {
	return int(w.interval / time.Second)
}

// ThresholdSeconds returns the threshold in whole seconds.
func (w *Watchdog) ThresholdSeconds() int {
	return int(w.threshold / time.Second)
}

// State returns the current lifecycle state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start arms the first check. Failures are appended to sink;
// with a nil sink a failure panics on the check goroutine.
//
// Start returns ErrAlreadyStarted if the watchdog is running
// and ErrStopped if it was stopped.
func (w *Watchdog) Start(sink FailureSink) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateStarting, StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	w.setState(StateStarting)
	w.frames.Store(0)
	w.lastHeartbeat = w.clock.Now()
	w.sink = sink
	w.startTimer()
	w.setState(StateRunning)

	w.logger.Debug("Heartbeat checker started", "conn_id", w.connID, "interval", w.interval)
	return nil
}

// Stop cancels the pending check and moves the watchdog to StateStopped.
// It is idempotent and may be called from a FailureSink.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil {
		w.setState(StateStopped)
		return
	}

	w.timer.Stop()
	w.timer = nil
	w.setState(StateStopped)

	w.logger.Debug("Heartbeat checker stopped", "conn_id", w.connID)
}

// RegisterFrameReceived records that a frame of any kind arrived.
// It never blocks.
func (w *Watchdog) RegisterFrameReceived() {
	w.frames.Add(1)
}

// RegisterHeartbeatReceived records the arrival time of a heartbeat frame.
// The frame itself must also be passed to RegisterFrameReceived.
func (w *Watchdog) RegisterHeartbeatReceived() {
	now := w.clock.Now()

	w.mu.Lock()
	w.lastHeartbeat = now
	w.mu.Unlock()
}

// Stats is a snapshot of watchdog counters.
type Stats struct {
	State            State
	FramesSinceCheck uint64
	LastHeartbeat    time.Time
	Checks           uint64
	Failures         uint64
	TimerPending     bool
}

// Stats returns current watchdog counters.
func (w *Watchdog) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		State:            w.state,
		FramesSinceCheck: w.frames.Load(),
		LastHeartbeat:    w.lastHeartbeat,
		Checks:           w.checks,
		Failures:         w.failures,
		TimerPending:     w.timer != nil,
	}
}

// startTimer schedules the next check. Caller must hold w.mu.
func (w *Watchdog) startTimer() {
	w.timer = w.clock.AfterFunc(w.interval, w.fire)
}

// fire runs on the clock's timer goroutine.
func (w *Watchdog) fire() {
	if err := w.check(); err != nil {
		panic(err)
	}
}

// check looks for any sign of life since the previous check.
//
// A busy peer may not send heartbeats, so the connection is only
// declared dead when no frame at all arrived in the last interval
// and the last heartbeat is older than the threshold.
//
// The returned error is non-nil only for a failure with no sink to take it.
func (w *Watchdog) check() error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil
	}

	// The timer that called us has fired; no check is pending until rearmed.
	w.timer = nil

	now := w.clock.Now()
	elapsed := now.Sub(w.lastHeartbeat)
	beats := w.frames.Swap(0)
	w.logger.Debug("Checking for a heartbeat", "conn_id", w.connID, "frames", beats, "elapsed", elapsed)

	var failure error
	if beats == 0 && elapsed > w.threshold {
		failure = &LivenessError{Elapsed: elapsed.Round(time.Millisecond)}
		w.failures++
		w.logFailure(failure)

		// The next failure needs a new silence window of the same length.
		w.lastHeartbeat = now

		if w.sink == nil {
			// Nobody will drain a failure, so the chain ends here.
			w.checks++
			w.mu.Unlock()
			return failure
		}
	}
	sink := w.sink
	w.mu.Unlock()

	// The sink may call Stop, so it runs without the lock.
	if failure != nil {
		sink.Append(failure)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.checks++
	if w.state != StateStopped {
		w.startTimer()
	}
	return nil
}

// setState changes state and emits a protocol event. Caller must hold w.mu.
func (w *Watchdog) setState(s State) {
	if w.state == s {
		return
	}
	old := w.state
	w.state = s

	if w.plog == nil {
		return
	}
	w.plog.Log(log.Event{
		Timestamp:    w.clock.Now(),
		ConnectionID: w.connID,
		Layer:        log.LayerLiveness,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHeartbeat,
			OldState: old.String(),
			NewState: s.String(),
		},
	})
}

// logFailure reports a detected failure. Caller must hold w.mu.
func (w *Watchdog) logFailure(err error) {
	w.logger.Warn("Connection liveness check failed",
		"conn_id", w.connID,
		"threshold", w.threshold,
		"err", err,
	)

	if w.plog == nil {
		return
	}
	w.plog.Log(log.Event{
		Timestamp:    w.clock.Now(),
		ConnectionID: w.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerLiveness,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerLiveness,
			Message: err.Error(),
			Context: "liveness check",
		},
	})
}
