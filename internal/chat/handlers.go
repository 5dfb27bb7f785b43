package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/omochice/toy-voice-chat/internal/call"
	"github.com/omochice/toy-voice-chat/internal/history"
	"github.com/omochice/toy-voice-chat/internal/presence"
	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

var errConnectionGone = errors.New("connection closed")

type alreadyLoggedInError struct {
	username string
}

func (e *alreadyLoggedInError) Error() string {
	return "already logged in as " + e.username
}

func (r *Router) handleLogin(ctx context.Context, c *transport.Connection, req protocol.LoginRequest) error {
	if err := r.bind(c, req.Username); err != nil {
		if errors.Is(err, errConnectionGone) {
			return err
		}
		r.log.Info("login rejected", "conn", c.ID(), "username", req.Username, "reason", err)
		reply(c, protocol.LoginError(err.Error()))
		return err
	}

	r.log.Info("user logged in", "conn", c.ID(), "username", req.Username, "remote", c.RemoteAddr())
	reply(c, protocol.LoginSuccess(req.Username))
	r.broadcast(protocol.SystemMessage(req.Username + " joined the chat"))
	return nil
}

func (r *Router) handleLogout(ctx context.Context, c *transport.Connection, user string) error {
	if r.release(c) == "" {
		return nil
	}
	r.afterLogout(ctx, user, "logged out")
	return nil
}

// afterLogout ends the user's calls and tells everyone they left.
func (r *Router) afterLogout(ctx context.Context, user, reason string) {
	for _, s := range r.calls.EndCallsFor(ctx, user) {
		r.log.Debug("call ended by departure", "call", s.ID, "user", user)
	}
	r.log.Info("user left", "username", user, "reason", reason)
	r.broadcast(protocol.SystemMessage(user + " left the chat"))
}

func (r *Router) handlePrivateMessage(ctx context.Context, c *transport.Connection, req protocol.PrivateMessageRequest) error {
	r.save(ctx, history.NewMessage(req.From, req.To, req.Content, false))

	msg := protocol.PrivateMessage(req.From, req.Content)
	r.sendLineTo(req.To, msg)
	if req.To != req.From {
		reply(c, msg)
	}
	r.log.Debug("private message", "from", req.From, "to", req.To)
	return nil
}

func (r *Router) handleGroupMessage(ctx context.Context, c *transport.Connection, req protocol.GroupMessageRequest) error {
	if err := r.checkMember(req.Group, req.From); err != nil {
		reply(c, protocol.ErrorMessage(err.Error()))
		return err
	}

	r.save(ctx, history.NewMessage(req.From, req.Group, req.Content, true))

	msg := protocol.GroupMessage(req.From, req.Group, req.Content)
	for _, member := range r.registry.OnlineMembers(req.Group) {
		r.sendLineTo(member, msg)
	}
	r.log.Debug("group message", "from", req.From, "group", req.Group)
	return nil
}

func (r *Router) handleCreateGroup(ctx context.Context, c *transport.Connection, req protocol.CreateGroupRequest) error {
	if err := r.registry.CreateGroup(req.GroupName, req.Creator); err != nil {
		reply(c, protocol.ErrorMessage(fmt.Sprintf("cannot create group %s, %v", req.GroupName, err)))
		return err
	}

	r.log.Info("group created", "group", req.GroupName, "creator", req.Creator)
	reply(c, protocol.GroupCreated(req.GroupName))
	r.broadcast(protocol.SystemMessage(fmt.Sprintf("group %s created by %s", req.GroupName, req.Creator)))
	return nil
}

func (r *Router) handleJoinGroup(ctx context.Context, c *transport.Connection, req protocol.JoinGroupRequest) error {
	if err := r.registry.JoinGroup(req.GroupName, req.Username); err != nil {
		reply(c, protocol.ErrorMessage(fmt.Sprintf("cannot join group %s, %v", req.GroupName, err)))
		return err
	}

	r.log.Info("group joined", "group", req.GroupName, "username", req.Username)
	reply(c, protocol.GroupJoined(req.GroupName))
	r.broadcast(protocol.SystemMessage(fmt.Sprintf("%s joined group %s", req.Username, req.GroupName)))
	return nil
}

func (r *Router) handleLeaveGroup(ctx context.Context, c *transport.Connection, req protocol.LeaveGroupRequest) error {
	if err := r.registry.LeaveGroup(req.GroupName, req.Username); err != nil {
		reply(c, protocol.ErrorMessage(fmt.Sprintf("cannot leave group %s, %v", req.GroupName, err)))
		return err
	}

	r.log.Info("group left", "group", req.GroupName, "username", req.Username)
	reply(c, protocol.GroupLeft(req.GroupName))
	notice := protocol.SystemMessage(fmt.Sprintf("%s left group %s", req.Username, req.GroupName))
	for _, member := range r.registry.OnlineMembers(req.GroupName) {
		r.sendLineTo(member, notice)
	}
	return nil
}

func (r *Router) handleGetGroupMembers(ctx context.Context, c *transport.Connection, req protocol.GetGroupMembersRequest) error {
	if !r.registry.GroupExists(req.GroupName) {
		reply(c, protocol.ErrorMessage(presence.ErrGroupNotFound.Error()))
		return presence.ErrGroupNotFound
	}
	reply(c, protocol.GroupMembers(req.GroupName, r.registry.GroupMembers(req.GroupName)))
	return nil
}

// handleGetHistory replays a group's messages to a member, or the private
// conversation between the requester and another user.
func (r *Router) handleGetHistory(ctx context.Context, c *transport.Connection, req protocol.GetHistoryRequest) error {
	var (
		msgs []history.Message
		err  error
	)
	if req.IsGroup {
		if err := r.checkMember(req.Target, req.Username); err != nil {
			reply(c, protocol.ErrorMessage(err.Error()))
			return err
		}
		msgs, err = r.history.LoadMessages(ctx, req.Target, true)
	} else {
		msgs, err = r.history.LoadMessages(ctx, req.Username, false)
		msgs = history.Between(msgs, req.Username, req.Target)
	}
	if err != nil {
		r.log.Error("load history", "target", req.Target, "error", err)
		reply(c, protocol.ErrorMessage("history unavailable"))
		return err
	}

	for _, m := range msgs {
		reply(c, protocol.HistoryMessage(m.From, m.To, m.IsGroup, m.Content, m.Timestamp))
	}
	reply(c, protocol.HistoryEnd(req.Target, len(msgs)))
	return nil
}

func (r *Router) handleCallStart(ctx context.Context, c *transport.Connection, req protocol.CallStartRequest) error {
	_, err := r.calls.StartCall(ctx, call.StartRequest{
		CallID:  req.CallID,
		Caller:  req.From,
		Target:  req.To,
		IsGroup: req.IsGroup,
		Hint:    call.Hint{IP: c.RemoteIP(), Port: req.UDPPort},
	})
	if err != nil {
		r.log.Debug("call start rejected", "from", req.From, "to", req.To, "reason", err)
		reply(c, protocol.CallError(req.CallID, err.Error()))
	}
	return err
}

func (r *Router) handleCallAccept(ctx context.Context, c *transport.Connection, req protocol.CallAcceptRequest) error {
	_, err := r.calls.AcceptCall(ctx, call.AcceptRequest{
		CallID:   req.CallID,
		Accepter: req.From,
		Caller:   req.To,
		Hint:     call.Hint{IP: c.RemoteIP(), Port: req.UDPPort},
	})
	if err != nil {
		r.log.Debug("call accept rejected", "from", req.From, "to", req.To, "reason", err)
		reply(c, protocol.CallError(req.CallID, err.Error()))
	}
	return err
}

func (r *Router) handleCallEnd(ctx context.Context, c *transport.Connection, req protocol.CallEndRequest) error {
	_, err := r.calls.EndCall(ctx, req.CallID, req.From)
	switch {
	case errors.Is(err, call.ErrCallNotFound):
		r.log.Info("end of unknown call", "call", req.CallID, "from", req.From)
		return nil
	case err != nil:
		reply(c, protocol.CallError(req.CallID, err.Error()))
	}
	return err
}

// handleAudio relays a voice frame to its target and echoes it to the
// sender, then stores it.
func (r *Router) handleAudio(c *transport.Connection, payload []byte) {
	ctx, span := r.tracer.Start(context.Background(), "chat.audio")
	defer span.End()

	var frame protocol.AudioFrame
	if err := frame.Decode(payload); err != nil {
		r.log.Debug("malformed audio frame", "conn", c.ID(), "error", err)
		reply(c, protocol.ErrorMessage("malformed audio frame"))
		return
	}

	user := r.usernameOf(c)
	if user == "" {
		reply(c, protocol.ErrorMessage("not logged in"))
		return
	}
	if frame.From != user {
		reply(c, protocol.ErrorMessage("identity does not match logged in user"))
		return
	}

	out := transport.BinaryFrame(payload)
	if frame.IsGroup {
		if err := r.checkMember(frame.To, user); err != nil {
			reply(c, protocol.ErrorMessage(err.Error()))
			return
		}
		for _, member := range r.registry.OnlineMembers(frame.To) {
			r.sendTo(member, out)
		}
	} else {
		r.sendTo(frame.To, out)
		if frame.To != user {
			c.Send(out)
		}
	}

	if err := r.history.SaveAudioMessage(ctx, frame.From, frame.To, frame.IsGroup, frame.Data); err != nil {
		span.RecordError(err)
		r.log.Error("save audio message", "from", frame.From, "to", frame.To, "error", err)
	}
	r.log.Debug("audio relayed", "from", frame.From, "to", frame.To, "group", frame.IsGroup, "bytes", len(frame.Data))
}

func (r *Router) checkMember(group, user string) error {
	if !r.registry.GroupExists(group) {
		return presence.ErrGroupNotFound
	}
	if !r.registry.IsMember(group, user) {
		return presence.ErrNotMember
	}
	return nil
}

func (r *Router) save(ctx context.Context, msg history.Message) {
	if err := r.history.SaveTextMessage(ctx, msg); err != nil {
		r.log.Error("save message", "from", msg.From, "to", msg.To, "error", err)
	}
}
