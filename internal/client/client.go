// Package client is a chat client over raw TCP or WebSocket. It sends typed
// requests, surfaces server pushes as events, and runs the UDP audio relay
// for calls it places or accepts.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/omochice/toy-voice-chat/internal/audio"
	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/internal/transport/tcp"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to server")
	ErrNotLoggedIn  = errors.New("not logged in")
)

// Options configure a Client.
type Options struct {
	// Device plays and captures call audio. A silent device is used when
	// nil so calls can still be signalled.
	Device audio.Device
	// MediaAddr is the local UDP address for call audio, "0.0.0.0:0" when
	// empty.
	MediaAddr    string
	MaxFrameSize int
	Logger       *slog.Logger
}

// Event is one message pushed by the server. Exactly one of Fields and
// Audio is set.
type Event struct {
	Fields protocol.Fields
	Audio  *protocol.AudioFrame
}

// Type returns the message type of a text event, "" for audio.
func (e Event) Type() protocol.MessageType {
	if e.Fields == nil {
		return ""
	}
	return e.Fields.Type()
}

// Client is a connected chat client.
type Client struct {
	conn   *transport.Connection
	opts   Options
	log    *slog.Logger
	events chan Event
	closed chan struct{}

	mu           sync.RWMutex
	username     string
	pendingLogin chan error
	calls        callState
}

// Dial connects to address. An address starting with ws:// or wss:// is
// dialled as a WebSocket; anything else is a raw TCP host:port.
func Dial(ctx context.Context, address string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MediaAddr == "" {
		opts.MediaAddr = "0.0.0.0:0"
	}

	var stream transport.Stream
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		s, err := dialWebSocket(ctx, address, opts.MaxFrameSize)
		if err != nil {
			return nil, err
		}
		stream = s
	} else {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		stream = tcp.NewStream(conn, bufio.NewReader(conn), tcp.Options{MaxFrameSize: opts.MaxFrameSize})
	}

	c := &Client{
		opts:   opts,
		log:    opts.Logger,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	c.conn = transport.NewConnection(stream, c, transport.Options{Logger: opts.Logger})
	c.conn.Start()
	return c, nil
}

// Messages returns the event channel. It is never closed; use Done to
// detect the end of the connection.
func (c *Client) Messages() <-chan Event {
	return c.events
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Username returns the name passed to the last Login, "" before.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Disconnect ends any call and closes the connection.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// OnConnectionReady implements transport.Observer.
func (c *Client) OnConnectionReady(conn *transport.Connection) {
	c.log.Debug("connected", "server", conn.RemoteAddr())
}

// OnReceive implements transport.Observer.
func (c *Client) OnReceive(conn *transport.Connection, f transport.Frame) {
	var ev Event
	switch f.Kind {
	case transport.FrameBinary:
		frame := &protocol.AudioFrame{}
		if err := frame.Decode(f.Payload); err != nil {
			c.log.Warn("malformed audio frame", "error", err)
			return
		}
		ev.Audio = frame
	default:
		ev.Fields = protocol.Decode(string(f.Payload))
		if ev.Fields.Type() == "" {
			return
		}
		c.handlePush(ev.Fields)
	}

	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// OnDisconnect implements transport.Observer.
func (c *Client) OnDisconnect(conn *transport.Connection) {
	c.endCall("")
	c.closeMedia()
	close(c.closed)
	c.log.Debug("disconnected", "server", conn.RemoteAddr())
}

// OnException implements transport.Observer.
func (c *Client) OnException(conn *transport.Connection, err error) {
	c.log.Warn("connection error", "server", conn.RemoteAddr(), "error", err)
}

func (c *Client) send(r protocol.Request) error {
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	c.conn.SendLine(protocol.EncodeRequest(r))
	return nil
}

func (c *Client) self() (string, error) {
	name := c.Username()
	if name == "" {
		return "", ErrNotLoggedIn
	}
	return name, nil
}
