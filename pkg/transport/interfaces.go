package transport

import (
	"context"
	"net"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// LiveConnection is a connection supervised by a heartbeat checker.
// Implemented by Connection.
type LiveConnection interface {
	ID() string
	State() ConnectionState
	Send(payload []byte) (uint32, error)
	Stats() ConnectionStats
	Done() <-chan struct{}
	Close() error
	ForceClose()
}

// TransportServer accepts live connections.
// Implemented by Server.
type TransportServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

var (
	_ FrameReadWriter   = (*Framer)(nil)
	_ LiveConnection    = (*Connection)(nil)
	_ TransportServer   = (*Server)(nil)
	_ ConnectionHandler = HandlerFuncs{}
)
