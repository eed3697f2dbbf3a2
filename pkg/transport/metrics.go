package transport

// Metrics receives connection counters. Implementations must be safe
// for concurrent use.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameReceived(size int)
	FrameSent(size int)
	HeartbeatReceived()
	HeartbeatSent()
	LivenessFailure()
}

// NopMetrics discards all counters.
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened()  {}
func (NopMetrics) ConnectionClosed()  {}
func (NopMetrics) FrameReceived(int)  {}
func (NopMetrics) FrameSent(int)      {}
func (NopMetrics) HeartbeatReceived() {}
func (NopMetrics) HeartbeatSent()     {}
func (NopMetrics) LivenessFailure()   {}

var _ Metrics = NopMetrics{}
