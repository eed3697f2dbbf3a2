package heartbeat

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Watchdog lifecycle errors.
var (
	// ErrAlreadyStarted is returned by Start on a running watchdog.
	ErrAlreadyStarted = errors.New("heartbeat checker already started")

	// ErrStopped is returned by Start on a stopped watchdog.
	ErrStopped = errors.New("heartbeat checker stopped")
)

// LivenessError reports that no frame of any kind was received
// for longer than the threshold.
type LivenessError struct {
	// Elapsed is the time since the watchdog started or last saw a heartbeat,
	// rounded to the millisecond.
	Elapsed time.Duration
}

// ElapsedSeconds returns Elapsed in seconds, rounded to 3 decimals.
func (e *LivenessError) ElapsedSeconds() float64 {
	return math.Round(e.Elapsed.Seconds()*1000) / 1000
}

func (e *LivenessError) Error() string {
	return "Connection dead, no heartbeat or data received in " + formatSeconds(e.ElapsedSeconds()) + "s"
}

// IsLivenessFailure reports whether err is or wraps a *LivenessError.
func IsLivenessFailure(err error) bool {
	var le *LivenessError
	return errors.As(err, &le)
}

// formatSeconds renders whole values with a trailing ".0",
// so three seconds reads as "3.0" rather than "3".
func formatSeconds(s float64) string {
	out := strconv.FormatFloat(s, 'f', -1, 64)
	if !strings.ContainsAny(out, ".eEnN") {
		out += ".0"
	}
	return out
}
