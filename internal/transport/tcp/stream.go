// Package tcp provides the raw TCP stream for the chat server and client.
//
// Text frames are newline-terminated lines. Binary frames start with a zero
// marker byte followed by a uvarint length and the payload; a protocol line
// never starts with a zero byte, so the two can share one byte stream.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/omochice/toy-voice-chat/internal/transport"
)

const binaryMarker = 0x00

const (
	DefaultMaxFrameSize = 1 << 20
	DefaultWriteTimeout = 10 * time.Second
)

// Options tune a Stream. Zero values select the defaults.
type Options struct {
	MaxFrameSize int
	WriteTimeout time.Duration
}

// Stream adapts net.Conn to transport.Stream.
type Stream struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize int
	writeTimeout time.Duration

	wmu sync.Mutex
}

var _ transport.Stream = (*Stream)(nil)

// NewStream wraps conn. reader may be a bufio.Reader that already buffered
// bytes from conn (for example after protocol detection); when nil a new
// one is created.
func NewStream(conn net.Conn, reader *bufio.Reader, opts Options) *Stream {
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Stream{
		conn:         conn,
		reader:       reader,
		maxFrameSize: opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
	}
}

// Read implements transport.Stream.
// Blank lines are skipped and a trailing carriage return is stripped.
func (s *Stream) Read(ctx context.Context) (transport.Frame, error) {
	for {
		head, err := s.reader.Peek(1)
		if err != nil {
			return transport.Frame{}, err
		}
		if head[0] == binaryMarker {
			return s.readBinary()
		}

		line, err := s.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return transport.Frame{}, err
		}
		line = trimEOL(line)
		if len(line) == 0 {
			if err != nil {
				return transport.Frame{}, err
			}
			continue
		}
		return transport.Frame{Kind: transport.FrameText, Payload: line}, nil
	}
}

func (s *Stream) readBinary() (transport.Frame, error) {
	if _, err := s.reader.Discard(1); err != nil {
		return transport.Frame{}, err
	}
	size, err := binary.ReadUvarint(s.reader)
	if err != nil {
		return transport.Frame{}, fmt.Errorf("read binary frame length: %w", noEOF(err))
	}
	if size > uint64(s.maxFrameSize) {
		return transport.Frame{}, transport.ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return transport.Frame{}, fmt.Errorf("read binary frame: %w", noEOF(err))
	}
	return transport.Frame{Kind: transport.FrameBinary, Payload: payload}, nil
}

func (s *Stream) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > s.maxFrameSize {
			return nil, transport.ErrFrameTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// Write implements transport.Stream.
func (s *Stream) Write(ctx context.Context, f transport.Frame) error {
	var buf []byte
	switch f.Kind {
	case transport.FrameText:
		buf = make([]byte, 0, len(f.Payload)+1)
		buf = append(buf, f.Payload...)
		buf = append(buf, '\n')
	case transport.FrameBinary:
		buf = make([]byte, 0, len(f.Payload)+binary.MaxVarintLen64+1)
		buf = append(buf, binaryMarker)
		buf = binary.AppendUvarint(buf, uint64(len(f.Payload)))
		buf = append(buf, f.Payload...)
	default:
		return fmt.Errorf("unsupported frame kind %v", f.Kind)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := s.conn.Write(buf)
	return err
}

// Close implements transport.Stream.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// RemoteAddr implements transport.Stream.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func trimEOL(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// noEOF turns a clean EOF inside a frame into ErrUnexpectedEOF so a
// truncated frame is reported as a fault.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
