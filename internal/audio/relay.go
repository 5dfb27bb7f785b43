package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// MaxDatagramSize bounds received datagrams.
const MaxDatagramSize = 64 * 1024

var ErrRelayRunning = errors.New("relay already running")

// Relay pumps call audio between a local Device and one remote peer over
// UDP. Captured chunks are sent as single datagrams; datagrams from the
// peer's IP are fed to playback.
type Relay struct {
	conn   *net.UDPConn
	device Device
	log    *slog.Logger

	mu      sync.Mutex
	peer    *net.UDPAddr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sent    int
	recv    int
	ignored int
}

// ListenUDP opens the local media socket. Its port is what a client
// announces in call_start or call_accept.
func ListenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return conn, nil
}

// NewRelay wraps an open UDP socket. The relay closes conn on Close.
func NewRelay(conn *net.UDPConn, device Device, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{conn: conn, device: device, log: logger}
}

// LocalPort returns the UDP port the relay receives on.
func (r *Relay) LocalPort() int {
	if addr, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start begins streaming to and from peer until ctx is done or Stop is
// called.
func (r *Relay) Start(ctx context.Context, peer *net.UDPAddr) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrRelayRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.peer = peer
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.device.StartPlayback(); err != nil {
		r.reset(cancel)
		return fmt.Errorf("start playback: %w", err)
	}
	if err := r.device.StartCapture(r.send); err != nil {
		r.device.StopPlayback()
		r.reset(cancel)
		return fmt.Errorf("start capture: %w", err)
	}

	r.wg.Add(2)
	go r.receive(ctx, peer)
	go func() {
		defer r.wg.Done()
		<-ctx.Done()
		// Unblock the pending read.
		r.conn.SetReadDeadline(time.Now())
	}()

	r.log.Info("audio relay started", "local_port", r.LocalPort(), "peer", peer.String(), "format", r.device.Format().String())
	return nil
}

func (r *Relay) reset(cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	r.cancel, r.peer = nil, nil
	r.mu.Unlock()
}

func (r *Relay) send(chunk []byte) {
	r.mu.Lock()
	peer := r.peer
	r.mu.Unlock()
	if peer == nil {
		return
	}
	if _, err := r.conn.WriteToUDP(chunk, peer); err != nil {
		r.log.Debug("audio send failed", "peer", peer.String(), "error", err)
		return
	}
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *Relay) receive(ctx context.Context, peer *net.UDPAddr) {
	defer r.wg.Done()
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug("audio receive failed", "error", err)
			continue
		}
		if !from.IP.Equal(peer.IP) {
			r.mu.Lock()
			r.ignored++
			r.mu.Unlock()
			continue
		}
		r.device.FeedPlayback(buf[:n])
		r.mu.Lock()
		r.recv++
		r.mu.Unlock()
	}
}

// Stop halts streaming and the device. The socket stays open so the relay
// can be started again.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel, r.peer = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	r.device.StopCapture()
	cancel()
	r.wg.Wait()
	r.device.StopPlayback()
	r.conn.SetReadDeadline(time.Time{})
	r.log.Info("audio relay stopped", "local_port", r.LocalPort())
}

// Close stops the relay and closes the socket.
func (r *Relay) Close() error {
	r.Stop()
	return r.conn.Close()
}

// Running reports whether the relay is streaming.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// RelayStats counts datagrams.
type RelayStats struct {
	Sent    int `json:"sent"`
	Recv    int `json:"recv"`
	Ignored int `json:"ignored"`
}

func (r *Relay) Stats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RelayStats{Sent: r.sent, Recv: r.recv, Ignored: r.ignored}
}
