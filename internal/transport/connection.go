package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
)

// DefaultSendBuffer is the number of frames a connection queues before
// Send starts dropping.
const DefaultSendBuffer = 256

// ErrConnectionClosed is returned by SendWait once the connection is
// shutting down.
var ErrConnectionClosed = errors.New("connection closed")

// Observer receives connection lifecycle events. All callbacks except an
// externally driven OnDisconnect run on the connection's receive goroutine.
type Observer interface {
	// OnConnectionReady fires once, before the first read.
	OnConnectionReady(c *Connection)
	// OnReceive fires once per complete frame, in arrival order.
	OnReceive(c *Connection, f Frame)
	// OnDisconnect fires exactly once and is terminal.
	OnDisconnect(c *Connection)
	// OnException reports a transport fault. A disconnect always follows.
	OnException(c *Connection, err error)
}

// Options tune a Connection.
type Options struct {
	SendBuffer int
	Logger     *slog.Logger
}

// Connection is one live transport endpoint. It runs a dedicated receive
// loop and a writer loop; every exit path funnels into Disconnect.
type Connection struct {
	id       string
	stream   Stream
	observer Observer
	log      *slog.Logger

	outgoing   chan Frame
	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	connected    atomic.Bool
	started      atomic.Bool
	streamClosed atomic.Bool

	closeOnce       sync.Once
	closeStreamOnce sync.Once

	mu       sync.Mutex
	writeErr error
}

// NewConnection wraps stream. The connection is live immediately but does
// not read until Start is called.
func NewConnection(stream Stream, observer Observer, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Connection{
		id:         ksuid.New().String(),
		stream:     stream,
		observer:   observer,
		outgoing:   make(chan Frame, opts.SendBuffer),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.log = opts.Logger.With("conn", c.id)
	c.connected.Store(true)
	return c
}

// Start launches the receive and write loops. Calling it more than once has
// no effect.
func (c *Connection) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address as host:port.
func (c *Connection) RemoteAddr() string {
	addr := c.stream.RemoteAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// RemoteIP returns the peer host without the port.
func (c *Connection) RemoteIP() string {
	addr := c.stream.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(c.RemoteAddr())
	if err != nil {
		return c.RemoteAddr()
	}
	return host
}

// RemotePort returns the peer port, or 0 when unknown.
func (c *Connection) RemotePort() int {
	addr := c.stream.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	_, port, err := net.SplitHostPort(c.RemoteAddr())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// IsConnected reports liveness and that the stream is still open.
func (c *Connection) IsConnected() bool {
	return c.connected.Load() && !c.streamClosed.Load()
}

// Done is closed once the disconnect event has fired.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues f for the writer loop. It never blocks and never fails:
// frames for a dead connection are ignored and frames that overflow the
// queue are dropped.
func (c *Connection) Send(f Frame) {
	if !c.IsConnected() {
		return
	}
	select {
	case c.outgoing <- f:
	default:
		c.log.Warn("send buffer full, dropping frame", "kind", f.Kind.String())
	}
}

// SendLine queues one protocol line.
func (c *Connection) SendLine(line string) {
	c.Send(TextFrame(line))
}

// SendWait queues f, waiting for room in the queue. It returns
// ErrConnectionClosed once the connection is going away and ctx.Err() when
// ctx ends first. Only the connection's own receive goroutine should wait
// this way: a slow peer then only slows its own requests.
func (c *Connection) SendWait(ctx context.Context, f Frame) error {
	if !c.IsConnected() {
		return ErrConnectionClosed
	}
	select {
	case c.outgoing <- f:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-c.writerDone:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the connection down. It is idempotent; frames queued
// before the call are flushed before the stream closes, and OnDisconnect
// fires exactly once.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.closing)
		if c.started.Load() {
			<-c.writerDone
		}
		c.closeStream()
		c.observer.OnDisconnect(c)
		close(c.done)
	})
}

func (c *Connection) closeStream() {
	c.closeStreamOnce.Do(func() {
		c.streamClosed.Store(true)
		if err := c.stream.Close(); err != nil && !isClosedError(err) {
			c.log.Debug("close stream", "error", err)
		}
	})
}

func (c *Connection) readLoop() {
	defer c.Disconnect()

	c.observer.OnConnectionReady(c)

	ctx := context.Background()
	for {
		f, err := c.stream.Read(ctx)
		if err != nil {
			if werr := c.writeError(); werr != nil {
				c.observer.OnException(c, werr)
			} else if c.connected.Load() && !isClosedError(err) {
				c.observer.OnException(c, err)
			}
			return
		}
		if !c.connected.Load() {
			return
		}
		c.observer.OnReceive(c, f)
	}
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	ctx := context.Background()
	for {
		select {
		case f := <-c.outgoing:
			if err := c.stream.Write(ctx, f); err != nil {
				c.failWrite(err)
				return
			}
		case <-c.closing:
			c.flush(ctx)
			return
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *Connection) flush(ctx context.Context) {
	for {
		select {
		case f := <-c.outgoing:
			if err := c.stream.Write(ctx, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// failWrite records a write fault and closes the stream so the receive
// loop unblocks, reports the fault and runs the disconnect path.
func (c *Connection) failWrite(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
	c.connected.Store(false)
	c.closeStream()
}

func (c *Connection) writeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
