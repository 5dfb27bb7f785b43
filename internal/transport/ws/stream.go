// Package ws provides the server side WebSocket stream, built on gobwas/ws.
//
// Text messages carry protocol lines and binary messages carry encoded audio
// frames. Ping and close control frames are answered by wsutil.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/toy-voice-chat/internal/transport"
)

const (
	DefaultMaxFrameSize     = 1 << 20
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Options tune a Stream. Zero values select the defaults.
type Options struct {
	MaxFrameSize     int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// Stream adapts an upgraded net.Conn to transport.Stream.
type Stream struct {
	conn   net.Conn
	reader *wsutil.Reader
	opts   Options

	wmu sync.Mutex
}

var _ transport.Stream = (*Stream)(nil)

// Upgrade performs the server handshake on conn. The HTTP request is read
// from r, which may already hold peeked bytes; a nil r reads from conn.
// Requests for any path other than path are rejected with 404.
func Upgrade(conn net.Conn, r *bufio.Reader, path string, opts Options) (*Stream, error) {
	opts = opts.withDefaults()
	if r == nil {
		r = bufio.NewReader(conn)
	}

	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			reqPath, _, _ := bytes.Cut(uri, []byte("?"))
			if path != "" && string(reqPath) != path {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}

	if err := conn.SetDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		return nil, err
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, conn}
	if _, err := u.Upgrade(rw); err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}

	return NewStream(conn, r, opts), nil
}

// NewStream wraps a connection whose handshake already completed.
func NewStream(conn net.Conn, r io.Reader, opts Options) *Stream {
	if r == nil {
		r = conn
	}
	s := &Stream{conn: conn, opts: opts.withDefaults()}
	s.reader = &wsutil.Reader{
		Source:    r,
		State:     ws.StateServerSide,
		CheckUTF8: true,
	}
	s.reader.OnIntermediate = wsutil.ControlFrameHandler(lockedWriter{s}, ws.StateServerSide)
	return s
}

// Read implements transport.Stream.
// A close frame from the peer is reported as io.EOF.
func (s *Stream) Read(ctx context.Context) (transport.Frame, error) {
	for {
		hdr, err := s.reader.NextFrame()
		if err != nil {
			return transport.Frame{}, err
		}

		if hdr.OpCode.IsControl() {
			if err := s.reader.OnIntermediate(hdr, s.reader); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					return transport.Frame{}, io.EOF
				}
				return transport.Frame{}, err
			}
			continue
		}

		var kind transport.FrameKind
		switch hdr.OpCode {
		case ws.OpText:
			kind = transport.FrameText
		case ws.OpBinary:
			kind = transport.FrameBinary
		default:
			if err := s.reader.Discard(); err != nil {
				return transport.Frame{}, err
			}
			continue
		}

		if hdr.Length > int64(s.opts.MaxFrameSize) {
			return transport.Frame{}, transport.ErrFrameTooLarge
		}
		data, err := io.ReadAll(io.LimitReader(s.reader, int64(s.opts.MaxFrameSize)+1))
		if err != nil {
			return transport.Frame{}, err
		}
		if len(data) > s.opts.MaxFrameSize {
			return transport.Frame{}, transport.ErrFrameTooLarge
		}
		return transport.Frame{Kind: kind, Payload: data}, nil
	}
}

// Write implements transport.Stream.
func (s *Stream) Write(ctx context.Context, f transport.Frame) error {
	op := ws.OpText
	if f.Kind == transport.FrameBinary {
		op = ws.OpBinary
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	deadline := time.Now().Add(s.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(s.conn, op, f.Payload)
}

// Close sends a best effort close frame and closes the connection.
func (s *Stream) Close() error {
	s.wmu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(s.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	s.wmu.Unlock()
	return s.conn.Close()
}

// RemoteAddr implements transport.Stream.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// lockedWriter serialises control frame replies with regular writes.
type lockedWriter struct {
	s *Stream
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.s.wmu.Lock()
	defer w.s.wmu.Unlock()
	return w.s.conn.Write(p)
}
