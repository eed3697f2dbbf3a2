package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// HeartbeatSender sends a heartbeat control frame every interval.
// It only transmits; detecting a silent peer is the watchdog's job.
type HeartbeatSender struct {
	interval time.Duration
	clock    clock.Clock
	send     func(seq uint32) error

	sequence atomic.Uint32
	paused   atomic.Bool

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	lastSent time.Time
	sent     uint64
	failed   uint64
}

// NewHeartbeatSender creates a sender. A nil clock uses the real clock.
func NewHeartbeatSender(interval time.Duration, clk clock.Clock, send func(seq uint32) error) *HeartbeatSender {
	if clk == nil {
		clk = clock.New()
	}
	return &HeartbeatSender{
		interval: interval,
		clock:    clk,
		send:     send,
	}
}

// Start sends the first heartbeat and then one per interval until ctx is
// done or Stop is called.
func (s *HeartbeatSender) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	// Created before returning so a mock clock advanced right after
	// Start still ticks.
	ticker := s.clock.Ticker(s.interval)
	s.mu.Unlock()

	go s.loop(ctx, ticker, stopCh)
}

// Stop stops sending.
func (s *HeartbeatSender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Pause suppresses heartbeats while paused is true. The ticker keeps running.
func (s *HeartbeatSender) Pause(paused bool) {
	s.paused.Store(paused)
}

// Paused reports whether heartbeats are suppressed.
func (s *HeartbeatSender) Paused() bool {
	return s.paused.Load()
}

// IsRunning reports whether the send loop is active.
func (s *HeartbeatSender) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SenderStats contains heartbeat sender statistics.
type SenderStats struct {
	LastSent   time.Time
	Sent       uint64
	Failed     uint64
	CurrentSeq uint32
	Paused     bool
}

// Stats returns current sender statistics.
func (s *HeartbeatSender) Stats() SenderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SenderStats{
		LastSent:   s.lastSent,
		Sent:       s.sent,
		Failed:     s.failed,
		CurrentSeq: s.sequence.Load(),
		Paused:     s.paused.Load(),
	}
}

func (s *HeartbeatSender) loop(ctx context.Context, ticker *clock.Ticker, stopCh chan struct{}) {
	defer ticker.Stop()

	s.sendHeartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}

func (s *HeartbeatSender) sendHeartbeat() {
	if s.paused.Load() {
		return
	}

	seq := s.sequence.Add(1)
	err := s.send(seq)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// A dead link shows up at the peer's watchdog and in our read loop.
		s.failed++
		return
	}
	s.sent++
	s.lastSent = s.clock.Now()
}
