package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/liveconn/liveconn-go/pkg/log"
)

const (
	// LengthPrefixSize is the size of the frame length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum payload size (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize caps the payload bytes copied into protocol log events.
	MaxLogFrameDataSize = 4096
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// FramerConfig configures a Framer.
type FramerConfig struct {
	// MaxMessageSize bounds payloads in both directions (default: 64 KB).
	MaxMessageSize uint32

	// Logger receives a FrameEvent per frame (optional).
	Logger log.Logger

	// ConnectionID tags frame events.
	ConnectionID string

	// Clock timestamps frame events (default: real clock).
	Clock clock.Clock
}

// Framer reads and writes 4-byte big-endian length-prefixed frames.
// Reads must come from a single goroutine; writes may be concurrent.
type Framer struct {
	rw      io.ReadWriter
	maxSize uint32
	logger  log.Logger
	connID  string
	clock   clock.Clock

	lengthBuf [LengthPrefixSize]byte
	writeMu   sync.Mutex
}

// NewFramer creates a framer with default settings.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithConfig(rw, FramerConfig{})
}

// NewFramerWithConfig creates a framer from cfg.
func NewFramerWithConfig(rw io.ReadWriter, cfg FramerConfig) *Framer {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Framer{
		rw:      rw,
		maxSize: cfg.MaxMessageSize,
		logger:  cfg.Logger,
		connID:  cfg.ConnectionID,
		clock:   cfg.Clock,
	}
}

// WriteFrame writes data as one frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > f.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), f.maxSize)
	}

	// Prefix and payload go out in one write so frames never interleave.
	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	f.writeMu.Lock()
	_, err := f.rw.Write(buf)
	f.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	f.logFrame(data, log.DirectionOut)
	return nil
}

// ReadFrame reads one frame and returns its payload.
// It returns io.EOF when the stream ends cleanly between frames.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(f.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > f.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	f.logFrame(payload, log.DirectionIn)
	return payload, nil
}

func (f *Framer) logFrame(data []byte, direction log.Direction) {
	if f.logger == nil {
		return
	}

	logged := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		logged = data[:MaxLogFrameDataSize]
		truncated = true
	}

	f.logger.Log(log.Event{
		Timestamp:    f.clock.Now(),
		ConnectionID: f.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      logged,
			Truncated: truncated,
		},
	})
}

// FrameSize returns the size on the wire of a frame carrying payloadSize bytes.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
