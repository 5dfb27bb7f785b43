package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/omochice/toy-voice-chat/internal/transport"
)

// wsStream adapts a nhooyr WebSocket to transport.Stream. Text messages
// carry protocol lines, binary messages carry audio frames.
type wsStream struct {
	conn *websocket.Conn
	addr net.Addr
}

var _ transport.Stream = (*wsStream)(nil)

func dialWebSocket(ctx context.Context, rawURL string, maxFrameSize int) (*wsStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", rawURL, err)
	}
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if maxFrameSize > 0 {
		conn.SetReadLimit(int64(maxFrameSize))
	}

	var addr net.Addr = wsAddr(u.Host)
	if tcpAddr, err := net.ResolveTCPAddr("tcp", u.Host); err == nil {
		addr = tcpAddr
	}
	return &wsStream{conn: conn, addr: addr}, nil
}

func (s *wsStream) Read(ctx context.Context) (transport.Frame, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return transport.Frame{}, io.EOF
		case websocket.StatusMessageTooBig:
			return transport.Frame{}, transport.ErrFrameTooLarge
		}
		return transport.Frame{}, err
	}
	if typ == websocket.MessageBinary {
		return transport.BinaryFrame(data), nil
	}
	return transport.Frame{Kind: transport.FrameText, Payload: data}, nil
}

func (s *wsStream) Write(ctx context.Context, f transport.Frame) error {
	typ := websocket.MessageText
	if f.Kind == transport.FrameBinary {
		typ = websocket.MessageBinary
	}
	return s.conn.Write(ctx, typ, f.Payload)
}

func (s *wsStream) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *wsStream) RemoteAddr() net.Addr { return s.addr }

// wsAddr is the server host when it cannot be resolved to a TCP address.
type wsAddr string

func (a wsAddr) Network() string { return "websocket" }
func (a wsAddr) String() string  { return string(a) }
