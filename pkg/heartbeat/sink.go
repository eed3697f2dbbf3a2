package heartbeat

import "sync"

// FailureSink receives liveness failures from a Watchdog.
// Append must not block and must be safe for concurrent use.
type FailureSink interface {
	Append(err error)
}

// SinkFunc adapts a function to a FailureSink.
type SinkFunc func(err error)

// Append calls f(err).
func (f SinkFunc) Append(err error) {
	f(err)
}

// ErrorList is an append-only, concurrency-safe list of errors.
// The zero value is not usable; create one with NewErrorList.
type ErrorList struct {
	mu     sync.Mutex
	errs   []error
	notify chan struct{}
}

// NewErrorList returns an empty ErrorList.
func NewErrorList() *ErrorList {
	return &ErrorList{
		notify: make(chan struct{}, 1),
	}
}

// Append adds err to the list and wakes a goroutine waiting on Notify.
// Nil errors are ignored.
func (l *ErrorList) Append(err error) {
	if err == nil {
		return
	}

	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
		// A wakeup is already pending.
	}
}

// Notify returns a channel that receives a value after one or more Appends.
// Several Appends between receives collapse into a single wakeup,
// so the receiver should Drain the whole list.
func (l *ErrorList) Notify() <-chan struct{} {
	return l.notify
}

// Len returns the number of errors currently held.
func (l *ErrorList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// Errors returns a copy of the errors currently held.
func (l *ErrorList) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

// Drain returns the errors currently held and empties the list.
func (l *ErrorList) Drain() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.errs
	l.errs = nil
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ FailureSink = (*ErrorList)(nil)
	_ FailureSink = SinkFunc(nil)
)
