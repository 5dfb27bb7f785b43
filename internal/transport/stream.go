// Package transport owns live client connections: framing-agnostic streams,
// the per-connection receive and write loops, and lifecycle events.
package transport

import (
	"context"
	"errors"
	"net"
)

// FrameKind distinguishes text lines from binary payloads.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// String returns the string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "TEXT"
	case FrameBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Frame is one complete unit received from or sent to a peer.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// TextFrame wraps a protocol line.
func TextFrame(line string) Frame {
	return Frame{Kind: FrameText, Payload: []byte(line)}
}

// BinaryFrame wraps an encoded binary payload.
func BinaryFrame(data []byte) Frame {
	return Frame{Kind: FrameBinary, Payload: data}
}

// ErrFrameTooLarge is returned by streams when a peer sends a frame above
// the configured limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Stream abstracts a framed bidirectional connection for both TCP and
// WebSocket. It isolates wire framing from connection lifecycle.
type Stream interface {
	// Read blocks until one complete frame is available.
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) (Frame, error)

	// Write sends a single frame.
	Write(ctx context.Context, f Frame) error

	// Close closes the underlying connection.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}
