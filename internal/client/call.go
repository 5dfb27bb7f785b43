package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/omochice/toy-voice-chat/internal/audio"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

var (
	ErrCallActive = errors.New("a call is already active")
	ErrNoCall     = errors.New("no active call")
	ErrNoSuchCall = errors.New("no such incoming call")
)

// IncomingCall is an invitation that has not been accepted yet.
type IncomingCall struct {
	ID         string
	From       string
	To         string
	IsGroup    bool
	CallerIP   string
	CallerPort int
}

// ActiveCall describes the call this client placed or accepted.
type ActiveCall struct {
	ID       string
	Peer     string
	IsGroup  bool
	Outgoing bool
	// Connected is set once media flows to a peer address.
	Connected bool
}

type callState struct {
	active *ActiveCall
	offers map[string]IncomingCall
	// answered is the offer behind an accepted call; its caller hint is
	// used once the server confirms with call_connected.
	answered IncomingCall
	relay    *audio.Relay
}

// StartCall invites a user or group and returns the call id. Media starts
// when the first callee accepts.
func (c *Client) StartCall(to string, isGroup bool) (string, error) {
	me, err := c.self()
	if err != nil {
		return "", err
	}
	port, err := c.mediaPort()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	c.mu.Lock()
	if c.calls.active != nil {
		c.mu.Unlock()
		return "", ErrCallActive
	}
	c.calls.active = &ActiveCall{ID: id, Peer: to, IsGroup: isGroup, Outgoing: true}
	c.mu.Unlock()

	err = c.send(protocol.CallStartRequest{From: me, To: to, IsGroup: isGroup, UDPPort: port, CallID: id})
	if err != nil {
		c.clearCall(id)
		return "", err
	}
	return id, nil
}

// AcceptCall answers an incoming call. Media toward the caller starts when
// the server confirms with call_connected; a rejection clears the call.
func (c *Client) AcceptCall(callID string) error {
	me, err := c.self()
	if err != nil {
		return err
	}

	c.mu.Lock()
	offer, ok := c.calls.offers[callID]
	if !ok {
		c.mu.Unlock()
		return ErrNoSuchCall
	}
	if c.calls.active != nil {
		c.mu.Unlock()
		return ErrCallActive
	}
	c.mu.Unlock()

	port, err := c.mediaPort()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.calls.offers, callID)
	c.calls.active = &ActiveCall{ID: callID, Peer: offer.From, IsGroup: offer.IsGroup}
	c.calls.answered = offer
	c.mu.Unlock()

	if err := c.send(protocol.CallAcceptRequest{From: me, To: offer.From, UDPPort: port, CallID: callID}); err != nil {
		c.clearCall(callID)
		return err
	}
	return nil
}

// EndCall hangs up the active call.
func (c *Client) EndCall() error {
	me, err := c.self()
	if err != nil {
		return err
	}
	c.mu.RLock()
	active := c.calls.active
	c.mu.RUnlock()
	if active == nil {
		return ErrNoCall
	}

	c.endCall(active.ID)
	return c.send(protocol.CallEndRequest{From: me, CallID: active.ID})
}

// ActiveCall returns the current call, if any.
func (c *Client) ActiveCall() (ActiveCall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.calls.active == nil {
		return ActiveCall{}, false
	}
	return *c.calls.active, true
}

// IncomingCalls returns invitations not yet accepted.
func (c *Client) IncomingCalls() []IncomingCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IncomingCall, 0, len(c.calls.offers))
	for _, offer := range c.calls.offers {
		out = append(out, offer)
	}
	return out
}

// MediaStats returns relay counters, zero before the first call.
func (c *Client) MediaStats() audio.RelayStats {
	c.mu.RLock()
	relay := c.calls.relay
	c.mu.RUnlock()
	if relay == nil {
		return audio.RelayStats{}
	}
	return relay.Stats()
}

// handlePush updates client state from server pushes before they are
// delivered as events.
func (c *Client) handlePush(fields protocol.Fields) {
	switch fields.Type() {
	case protocol.TypeLoginSuccess, protocol.TypeLoginError:
		c.resolveLogin(fields)

	case protocol.TypeIncomingCall:
		port, _ := strconv.Atoi(fields.Get(protocol.KeyCallerUDPPort))
		offer := IncomingCall{
			ID:         fields.Get(protocol.KeyCallID),
			From:       fields.Get(protocol.KeyFrom),
			To:         fields.Get(protocol.KeyTo),
			IsGroup:    fields.Get(protocol.KeyIsGroup) == "true",
			CallerIP:   fields.Get(protocol.KeyCallerIP),
			CallerPort: port,
		}
		c.mu.Lock()
		if c.calls.offers == nil {
			c.calls.offers = make(map[string]IncomingCall)
		}
		c.calls.offers[offer.ID] = offer
		c.mu.Unlock()

	case protocol.TypeCallAccepted:
		port, _ := strconv.Atoi(fields.Get(protocol.KeyReceiverUDPPort))
		c.connectMedia(fields.Get(protocol.KeyCallID), fields.Get(protocol.KeyReceiverIP), port)

	case protocol.TypeCallConnected:
		id := fields.Get(protocol.KeyCallID)
		c.mu.RLock()
		offer := c.calls.answered
		c.mu.RUnlock()
		if offer.ID == id {
			c.connectMedia(id, offer.CallerIP, offer.CallerPort)
		}

	case protocol.TypeError:
		// A rejected call_start, call_accept or call_end names the call.
		if id := fields.Get(protocol.KeyCallID); id != "" {
			c.endCall(id)
		}

	case protocol.TypeCallEnded:
		id := fields.Get(protocol.KeyCallID)
		c.mu.Lock()
		delete(c.calls.offers, id)
		c.mu.Unlock()
		c.endCall(id)
	}
}

// mediaPort opens the UDP relay on first use and returns its port.
func (c *Client) mediaPort() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls.relay != nil {
		return c.calls.relay.LocalPort(), nil
	}

	conn, err := audio.ListenUDP(c.opts.MediaAddr)
	if err != nil {
		return 0, fmt.Errorf("open media socket: %w", err)
	}
	device := c.opts.Device
	if device == nil {
		device = audio.NewBufferDevice(audio.DefaultFormat, nil, nil)
	}
	c.calls.relay = audio.NewRelay(conn, device, c.log.With("component", "media"))
	return c.calls.relay.LocalPort(), nil
}

// connectMedia starts the relay for callID toward ip:port unless media is
// already flowing.
func (c *Client) connectMedia(callID, ip string, port int) {
	c.mu.Lock()
	active, relay := c.calls.active, c.calls.relay
	if active == nil || active.ID != callID || active.Connected || relay == nil {
		c.mu.Unlock()
		return
	}
	active.Connected = true
	c.mu.Unlock()

	peerIP := net.ParseIP(ip)
	if peerIP == nil || port <= 0 {
		c.log.Warn("call peer sent no usable media address", "call", callID, "ip", ip, "port", port)
		return
	}
	if err := relay.Start(context.Background(), &net.UDPAddr{IP: peerIP, Port: port}); err != nil {
		c.log.Warn("failed to start media", "call", callID, "error", err)
	}
}

// endCall stops media and forgets callID, or the active call when callID
// is empty.
func (c *Client) endCall(callID string) {
	c.mu.Lock()
	active, relay := c.calls.active, c.calls.relay
	if active == nil || (callID != "" && active.ID != callID) {
		c.mu.Unlock()
		return
	}
	c.calls.active = nil
	c.calls.answered = IncomingCall{}
	c.mu.Unlock()

	if relay != nil {
		relay.Stop()
	}
	c.log.Debug("call ended", "call", active.ID)
}

func (c *Client) clearCall(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls.active != nil && c.calls.active.ID == callID {
		c.calls.active = nil
		c.calls.answered = IncomingCall{}
	}
}

// closeMedia releases the UDP socket.
func (c *Client) closeMedia() {
	c.mu.Lock()
	relay := c.calls.relay
	c.calls.relay = nil
	c.mu.Unlock()
	if relay != nil {
		relay.Close()
	}
}
