// Package chat routes decoded protocol requests between live connections.
//
// Router is the observer of every transport.Connection. It owns the
// presence registry, the call coordinator and the history sink, and is the
// only writer of the username to connection mapping.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/toy-voice-chat/internal/call"
	"github.com/omochice/toy-voice-chat/internal/history"
	"github.com/omochice/toy-voice-chat/internal/presence"
	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

const tracerName = "github.com/omochice/toy-voice-chat/internal/chat"

// Option configures a Router.
type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.log = logger }
}

func WithHistory(sink history.Sink) Option {
	return func(r *Router) { r.history = sink }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) { r.tracer = tp.Tracer(tracerName) }
}

// Router dispatches requests and fans out replies.
type Router struct {
	registry *presence.Registry
	calls    *call.Coordinator
	history  history.Sink
	log      *slog.Logger
	tracer   trace.Tracer

	// mu guards the maps below. Lock order is mu, then the registry.
	mu    sync.RWMutex
	live  map[*transport.Connection]struct{}
	users map[string]*transport.Connection
	names map[*transport.Connection]string
}

var (
	_ transport.Observer = (*Router)(nil)
	_ call.Notifier      = (*Router)(nil)
)

// NewRouter creates a Router with an empty registry, an in-memory history
// and the global tracer provider unless overridden.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		registry: presence.NewRegistry(),
		history:  history.NewMemoryStore(history.DefaultLimit),
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
		live:     make(map[*transport.Connection]struct{}),
		users:    make(map[string]*transport.Connection),
		names:    make(map[*transport.Connection]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.calls = call.NewCoordinator(r.registry, r, r.log.With("component", "call"))
	return r
}

// Registry exposes the presence registry for read-only status queries.
func (r *Router) Registry() *presence.Registry {
	return r.registry
}

// Calls exposes the call coordinator for read-only status queries.
func (r *Router) Calls() *call.Coordinator {
	return r.calls
}

// ConnectionCount returns the number of live connections, logged in or not.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// OnConnectionReady implements transport.Observer.
func (r *Router) OnConnectionReady(c *transport.Connection) {
	r.mu.Lock()
	r.live[c] = struct{}{}
	r.mu.Unlock()

	r.log.Info("client connected", "conn", c.ID(), "remote", c.RemoteAddr())
}

// OnReceive implements transport.Observer.
func (r *Router) OnReceive(c *transport.Connection, f transport.Frame) {
	switch f.Kind {
	case transport.FrameText:
		r.handleLine(c, string(f.Payload))
	case transport.FrameBinary:
		r.handleAudio(c, f.Payload)
	}
}

// OnDisconnect implements transport.Observer. A logged in user is logged
// out and their calls are ended.
func (r *Router) OnDisconnect(c *transport.Connection) {
	r.mu.Lock()
	delete(r.live, c)
	r.mu.Unlock()

	ctx, span := r.tracer.Start(context.Background(), "chat.disconnect",
		trace.WithAttributes(attribute.String("chat.conn", c.ID())))
	defer span.End()

	if user := r.release(c); user != "" {
		r.afterLogout(ctx, user, "disconnected")
	}
	r.log.Info("client disconnected", "conn", c.ID(), "remote", c.RemoteAddr())
}

// OnException implements transport.Observer.
func (r *Router) OnException(c *transport.Connection, err error) {
	r.log.Warn("connection error", "conn", c.ID(), "remote", c.RemoteAddr(), "error", err)
}

// Notify implements call.Notifier.
func (r *Router) Notify(ctx context.Context, username string, msg protocol.Fields) {
	r.sendTo(username, transport.TextFrame(protocol.Encode(msg)))
}

func (r *Router) handleLine(c *transport.Connection, line string) {
	fields := protocol.Decode(line)
	req, err := protocol.Parse(fields)
	switch {
	case errors.Is(err, protocol.ErrMissingType):
		r.log.Debug("dropping message without type", "conn", c.ID())
		return
	case errors.Is(err, protocol.ErrUnknownType):
		r.log.Warn("unknown message type", "conn", c.ID(), "type", string(fields.Type()))
		return
	case err != nil:
		r.log.Debug("malformed request", "conn", c.ID(), "error", err)
		reply(c, protocol.ErrorMessage(err.Error()))
		return
	}

	ctx, span := r.tracer.Start(context.Background(), "chat."+string(req.Type()),
		trace.WithAttributes(
			attribute.String("chat.conn", c.ID()),
			attribute.String("chat.type", string(req.Type())),
		))
	defer span.End()

	user, ok := r.authorize(c, req)
	if !ok {
		span.AddEvent("unauthorized")
		return
	}
	span.SetAttributes(attribute.String("chat.user", user))

	if err := r.dispatch(ctx, c, user, req); err != nil {
		span.RecordError(err)
	}
}

// authorize enforces that every request but login comes from a logged in
// connection and names that connection's user.
func (r *Router) authorize(c *transport.Connection, req protocol.Request) (string, bool) {
	if _, ok := req.(protocol.LoginRequest); ok {
		return "", true
	}
	user := r.usernameOf(c)
	if user == "" {
		reply(c, protocol.ErrorMessage("not logged in"))
		return "", false
	}
	if id := req.Identity(); id != "" && id != user {
		r.log.Debug("identity mismatch", "conn", c.ID(), "user", user, "claimed", id)
		reply(c, protocol.ErrorMessage("identity does not match logged in user"))
		return "", false
	}
	return user, true
}

func (r *Router) dispatch(ctx context.Context, c *transport.Connection, user string, req protocol.Request) error {
	switch req := req.(type) {
	case protocol.LoginRequest:
		return r.handleLogin(ctx, c, req)
	case protocol.LogoutRequest:
		return r.handleLogout(ctx, c, user)
	case protocol.PrivateMessageRequest:
		return r.handlePrivateMessage(ctx, c, req)
	case protocol.GroupMessageRequest:
		return r.handleGroupMessage(ctx, c, req)
	case protocol.CreateGroupRequest:
		return r.handleCreateGroup(ctx, c, req)
	case protocol.JoinGroupRequest:
		return r.handleJoinGroup(ctx, c, req)
	case protocol.LeaveGroupRequest:
		return r.handleLeaveGroup(ctx, c, req)
	case protocol.GetOnlineUsersRequest:
		reply(c, protocol.OnlineUsers(r.registry.OnlineUsers()))
	case protocol.GetGroupsRequest:
		reply(c, protocol.GroupsList(r.registry.Groups()))
	case protocol.GetGroupMembersRequest:
		return r.handleGetGroupMembers(ctx, c, req)
	case protocol.GetHistoryRequest:
		return r.handleGetHistory(ctx, c, req)
	case protocol.CallStartRequest:
		return r.handleCallStart(ctx, c, req)
	case protocol.CallAcceptRequest:
		return r.handleCallAccept(ctx, c, req)
	case protocol.CallEndRequest:
		return r.handleCallEnd(ctx, c, req)
	default:
		r.log.Warn("no handler for request", "type", string(req.Type()))
	}
	return nil
}

func (r *Router) usernameOf(c *transport.Connection) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[c]
}

// bind logs username in on c. It fails if c already carries a user or has
// gone away.
func (r *Router) bind(c *transport.Connection, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[c]; !ok {
		return errConnectionGone
	}
	if current, ok := r.names[c]; ok {
		return &alreadyLoggedInError{username: current}
	}
	if err := r.registry.Login(username); err != nil {
		return err
	}
	r.users[username] = c
	r.names[c] = username
	return nil
}

// release drops the user bound to c and marks them offline. It returns the
// released username, or "" if c carried none.
func (r *Router) release(c *transport.Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.names[c]
	if !ok {
		return ""
	}
	delete(r.names, c)
	if r.users[user] == c {
		delete(r.users, user)
	}
	r.registry.Logout(user)
	return user
}

func (r *Router) connectionOf(username string) *transport.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[username]
}

// sendTo delivers f to username if they are online and connected.
func (r *Router) sendTo(username string, f transport.Frame) {
	c := r.connectionOf(username)
	if c == nil || !c.IsConnected() {
		return
	}
	c.Send(f)
}

func (r *Router) sendLineTo(username string, msg protocol.Fields) {
	r.sendTo(username, transport.TextFrame(protocol.Encode(msg)))
}

// broadcast sends msg to every logged in connection.
func (r *Router) broadcast(msg protocol.Fields) {
	r.mu.RLock()
	targets := make([]*transport.Connection, 0, len(r.users))
	for _, c := range r.users {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	line := protocol.Encode(msg)
	for _, c := range targets {
		if c.IsConnected() {
			c.SendLine(line)
		}
	}
}

// OnlineUsers returns the logged in users together with their remote
// address, sorted by name.
func (r *Router) OnlineUsers() []UserInfo {
	r.mu.RLock()
	out := make([]UserInfo, 0, len(r.users))
	for name, c := range r.users {
		out = append(out, UserInfo{Username: name, Remote: c.RemoteAddr(), Conn: c.ID()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// UserInfo describes one logged in user.
type UserInfo struct {
	Username string `json:"username"`
	Remote   string `json:"remote"`
	Conn     string `json:"conn"`
}

// reply answers the connection whose request is being handled. It runs on
// that connection's receive goroutine and waits for queue space, so long
// replies such as a history replay are never dropped.
func reply(c *transport.Connection, msg protocol.Fields) {
	_ = c.SendWait(context.Background(), transport.TextFrame(protocol.Encode(msg)))
}
