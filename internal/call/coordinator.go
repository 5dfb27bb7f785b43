// Package call implements call signaling: it tracks who is calling whom and
// relays the endpoint hints both sides need to open a direct audio channel.
// Media itself never passes through the server.
package call

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

// Presence is the subset of the registry the coordinator consults.
type Presence interface {
	IsOnline(username string) bool
	GroupExists(name string) bool
	GroupMembers(name string) []string
}

// Notifier delivers a signaling message to an online user. Delivery to an
// offline user is silently dropped.
type Notifier interface {
	Notify(ctx context.Context, username string, msg protocol.Fields)
}

// StartRequest describes an outgoing call. CallID is optional.
type StartRequest struct {
	CallID  string
	Caller  string
	Target  string
	IsGroup bool
	Hint    Hint
}

// AcceptRequest answers a ringing call placed by Caller. When CallID is
// empty the caller's ringing call is used.
type AcceptRequest struct {
	CallID   string
	Accepter string
	Caller   string
	Hint     Hint
}

type notification struct {
	to  string
	msg protocol.Fields
}

// Coordinator owns every call session. Notifications are sent only after
// its lock is released.
type Coordinator struct {
	presence Presence
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	// Call ids are chosen by callers and unique per caller, so sessions are
	// keyed by both.
	mu       sync.Mutex
	sessions map[sessionKey]*Session
	byCaller map[string]string
}

type sessionKey struct {
	caller string
	id     string
}

func keyOf(s *Session) sessionKey {
	return sessionKey{caller: s.Caller, id: s.ID}
}

func NewCoordinator(presence Presence, notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		presence: presence,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
		sessions: make(map[sessionKey]*Session),
		byCaller: make(map[string]string),
	}
}

// StartCall opens a session in CALLING, invites the target (or every other
// group member) and acknowledges the caller with call_waiting.
func (c *Coordinator) StartCall(ctx context.Context, req StartRequest) (Session, error) {
	c.mu.Lock()

	if id, busy := c.byCaller[req.Caller]; busy {
		c.mu.Unlock()
		c.log.Debug("call rejected", "caller", req.Caller, "active", id)
		return Session{}, ErrCallerBusy
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}

	var invitees []string
	if req.IsGroup {
		if !c.presence.GroupExists(req.Target) {
			c.mu.Unlock()
			return Session{}, ErrGroupNotFound
		}
		for _, m := range c.presence.GroupMembers(req.Target) {
			if m != req.Caller {
				invitees = append(invitees, m)
			}
		}
	} else {
		if req.Target == req.Caller {
			c.mu.Unlock()
			return Session{}, ErrSelfCall
		}
		if !c.presence.IsOnline(req.Target) {
			c.mu.Unlock()
			return Session{}, ErrTargetOffline
		}
		invitees = []string{req.Target}
	}

	s := &Session{
		ID:         req.CallID,
		Caller:     req.Caller,
		Target:     req.Target,
		IsGroup:    req.IsGroup,
		Invitees:   invitees,
		CallerHint: req.Hint,
		State:      StateCalling,
		StartedAt:  c.now(),
	}
	c.sessions[keyOf(s)] = s
	c.byCaller[s.Caller] = s.ID
	snapshot := s.clone()
	c.mu.Unlock()

	c.log.Info("call started", "call", s.ID, "caller", s.Caller, "target", s.Target, "group", s.IsGroup, "invitees", len(invitees))

	out := make([]notification, 0, len(invitees)+1)
	for _, u := range snapshot.Invitees {
		out = append(out, notification{u, protocol.IncomingCall(
			snapshot.ID, snapshot.Caller, snapshot.Target, snapshot.IsGroup,
			snapshot.CallerHint.IP, snapshot.CallerHint.Port,
		)})
	}
	out = append(out, notification{snapshot.Caller, protocol.CallWaiting(snapshot.ID, snapshot.Target)})
	c.send(ctx, out)

	return snapshot, nil
}

// AcceptCall moves a ringing session to IN_CALL and exchanges endpoint
// hints: the caller gets call_accepted with the accepter's hint and the
// accepter gets call_connected.
func (c *Coordinator) AcceptCall(ctx context.Context, req AcceptRequest) (Session, error) {
	c.mu.Lock()

	id := req.CallID
	if id == "" {
		id = c.byCaller[req.Caller]
	}
	s, ok := c.sessions[sessionKey{caller: req.Caller, id: id}]
	if !ok {
		c.mu.Unlock()
		return Session{}, ErrCallNotFound
	}
	if s.State != StateCalling {
		c.mu.Unlock()
		return Session{}, ErrNotCalling
	}
	if !s.invited(req.Accepter) {
		c.mu.Unlock()
		return Session{}, ErrNotInvited
	}

	s.State = StateInCall
	s.Callee = req.Accepter
	s.CalleeHint = req.Hint
	s.AcceptedAt = c.now()
	snapshot := s.clone()
	c.mu.Unlock()

	c.log.Info("call accepted", "call", snapshot.ID, "caller", snapshot.Caller, "callee", snapshot.Callee)

	c.send(ctx, []notification{
		{snapshot.Caller, protocol.CallAccepted(snapshot.ID, snapshot.Callee, snapshot.CalleeHint.IP, snapshot.CalleeHint.Port)},
		{snapshot.Callee, protocol.CallConnected(snapshot.ID, snapshot.Caller)},
	})

	return snapshot, nil
}

// EndCall tears the session down from any state and tells every participant.
// An unknown id returns ErrCallNotFound, which callers log and otherwise
// ignore.
func (c *Coordinator) EndCall(ctx context.Context, callID, by string) (Session, error) {
	c.mu.Lock()

	s, ok := c.lookup(callID, by)
	if !ok {
		known := c.known(callID)
		c.mu.Unlock()
		if known {
			return Session{}, ErrNotParticipant
		}
		c.log.Debug("end of unknown call ignored", "call", callID, "by", by)
		return Session{}, ErrCallNotFound
	}
	snapshot := c.remove(s)
	c.mu.Unlock()

	c.notifyEnded(ctx, snapshot, by)
	return snapshot, nil
}

// EndCallsFor ends every session username placed, accepted, or was the
// direct target of. Used when a user logs out or disconnects.
func (c *Coordinator) EndCallsFor(ctx context.Context, username string) []Session {
	c.mu.Lock()
	var ended []Session
	for _, s := range c.sessions {
		if s.involves(username) {
			ended = append(ended, c.remove(s))
		}
	}
	c.mu.Unlock()

	for _, s := range ended {
		c.notifyEnded(ctx, s, username)
	}
	return ended
}

// remove runs the ENDING transition and deletes s. Callers hold c.mu.
func (c *Coordinator) remove(s *Session) Session {
	s.State = StateEnding
	snapshot := s.clone()
	delete(c.sessions, keyOf(s))
	if c.byCaller[s.Caller] == s.ID {
		delete(c.byCaller, s.Caller)
	}
	return snapshot
}

func (c *Coordinator) notifyEnded(ctx context.Context, s Session, by string) {
	c.log.Info("call ended", "call", s.ID, "by", by, "state", s.State.String())

	recipients := s.recipients()
	out := make([]notification, 0, len(recipients))
	for _, u := range recipients {
		out = append(out, notification{u, protocol.CallEnded(s.ID, by)})
	}
	c.send(ctx, out)
}

func (c *Coordinator) send(ctx context.Context, out []notification) {
	if c.notifier == nil {
		return
	}
	for _, n := range out {
		c.notifier.Notify(ctx, n.to, n.msg)
	}
}

// lookup finds the session with callID that username takes part in,
// preferring the one they placed, then one they accepted. Callers hold c.mu.
func (c *Coordinator) lookup(callID, username string) (*Session, bool) {
	if s, ok := c.sessions[sessionKey{caller: username, id: callID}]; ok {
		return s, true
	}
	var invited *Session
	for key, s := range c.sessions {
		if key.id != callID {
			continue
		}
		if s.Callee == username {
			return s, true
		}
		if invited == nil && s.invited(username) {
			invited = s
		}
	}
	return invited, invited != nil
}

// known reports whether any caller has a session with callID. Callers
// hold c.mu.
func (c *Coordinator) known(callID string) bool {
	for key := range c.sessions {
		if key.id == callID {
			return true
		}
	}
	return false
}

// Get returns a snapshot of the session caller placed under callID.
func (c *Coordinator) Get(caller, callID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionKey{caller: caller, id: callID}]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Sessions returns snapshots of every live session, oldest first.
func (c *Coordinator) Sessions() []Session {
	c.mu.Lock()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveFor returns the session username placed or accepted, if any.
func (c *Coordinator) ActiveFor(username string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.byCaller[username]; ok {
		return c.sessions[sessionKey{caller: username, id: id}].clone(), true
	}
	for _, s := range c.sessions {
		if s.Callee == username {
			return s.clone(), true
		}
	}
	return Session{}, false
}
