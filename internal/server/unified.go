// Package server accepts raw TCP and WebSocket clients on one port and
// hands each connection to a transport.Observer.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/internal/transport/tcp"
	"github.com/omochice/toy-voice-chat/internal/transport/ws"
)

// Options configure a UnifiedServer. Zero values select the transport
// defaults.
type Options struct {
	Address      string
	WSPath       string
	SendBuffer   int
	MaxFrameSize int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// UnifiedServer serves TCP and WebSocket clients on a single port. The
// protocol is chosen per connection from its first bytes: an HTTP request
// line starts a WebSocket handshake, anything else is a raw TCP client.
type UnifiedServer struct {
	opts     Options
	observer transport.Observer
	log      *slog.Logger

	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[net.Conn]struct{}
	conns   map[*transport.Connection]string
}

// NewUnifiedServer creates a server that reports every accepted connection
// to observer.
func NewUnifiedServer(observer transport.Observer, opts Options) *UnifiedServer {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &UnifiedServer{
		opts:     opts,
		observer: observer,
		log:      opts.Logger,
		quit:     make(chan struct{}),
		pending:  make(map[net.Conn]struct{}),
		conns:    make(map[*transport.Connection]string),
	}
}

// Listen binds the listening socket.
func (s *UnifiedServer) Listen() error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.log.Info("server started", "addr", listener.Addr().String(), "ws_path", s.opts.WSPath)
	return nil
}

// Serve accepts connections until Stop is called. Listen must succeed
// first.
func (s *UnifiedServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("failed to accept connection", "error", err)
			continue
		}

		if !s.hold(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Start listens and serves, blocking until Stop.
func (s *UnifiedServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener, disconnects every live connection and waits
// for all connection goroutines to finish.
func (s *UnifiedServer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		// Connections still waiting for their first bytes have no
		// transport.Connection yet.
		for conn := range s.pending {
			conn.Close()
		}
		conns := make([]*transport.Connection, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			c.Disconnect()
		}
		s.wg.Wait()
		s.log.Info("server stopped")
	})
}

// Addr returns the listening address.
func (s *UnifiedServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of live client connections.
func (s *UnifiedServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ClientCounts returns live connections per protocol ("tcp", "websocket").
func (s *UnifiedServer) ClientCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{"tcp": 0, "websocket": 0}
	for _, kind := range s.conns {
		counts[kind]++
	}
	return counts
}

// handleConnection determines whether the connection is HTTP (WebSocket) or TCP
func (s *UnifiedServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.release(conn)

	reader := bufio.NewReader(conn)
	first, err := reader.Peek(1)
	if err != nil {
		s.log.Debug("connection closed before first byte", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	isHTTP := false
	if first[0] >= 'A' && first[0] <= 'Z' {
		prefix, _ := reader.Peek(4)
		isHTTP = looksLikeHTTP(prefix)
	}

	var (
		stream transport.Stream
		kind   string
	)
	if isHTTP {
		wsStream, err := ws.Upgrade(conn, reader, s.opts.WSPath, ws.Options{
			MaxFrameSize: s.opts.MaxFrameSize,
			WriteTimeout: s.opts.WriteTimeout,
		})
		if err != nil {
			s.log.Info("websocket handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			return
		}
		stream, kind = wsStream, "websocket"
	} else {
		stream = tcp.NewStream(conn, reader, tcp.Options{
			MaxFrameSize: s.opts.MaxFrameSize,
			WriteTimeout: s.opts.WriteTimeout,
		})
		kind = "tcp"
	}

	c := transport.NewConnection(stream, s.observer, transport.Options{
		SendBuffer: s.opts.SendBuffer,
		Logger:     s.log,
	})
	if !s.track(conn, c, kind) {
		stream.Close()
		return
	}
	s.log.Debug("client accepted", "conn", c.ID(), "protocol", kind, "remote", c.RemoteAddr())
	c.Start()

	<-c.Done()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *UnifiedServer) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// hold records a raw connection whose protocol is not known yet.
func (s *UnifiedServer) hold(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping() {
		return false
	}
	s.pending[conn] = struct{}{}
	return true
}

func (s *UnifiedServer) release(conn net.Conn) {
	s.mu.Lock()
	delete(s.pending, conn)
	s.mu.Unlock()
}

// track promotes conn to a live connection unless the server is shutting
// down.
func (s *UnifiedServer) track(conn net.Conn, c *transport.Connection, kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping() {
		return false
	}
	delete(s.pending, conn)
	s.conns[c] = kind
	return true
}

// HTTP requests start with methods like "GET ", "POST", "PUT ", "HEAD", etc.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

func looksLikeHTTP(prefix []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(prefix, m) {
			return true
		}
	}
	return false
}
