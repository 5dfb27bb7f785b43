package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

// LoginError is the server's reason for refusing a login.
type LoginError struct {
	Message string
}

func (e *LoginError) Error() string {
	return "login rejected: " + e.Message
}

// Login registers username and waits for the server's verdict. A refused
// login returns *LoginError and leaves the connection open.
func (c *Client) Login(ctx context.Context, username string) error {
	result := make(chan error, 1)
	c.mu.Lock()
	if c.pendingLogin != nil {
		c.mu.Unlock()
		return errors.New("login already in progress")
	}
	c.pendingLogin = result
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pendingLogin = nil
		c.mu.Unlock()
	}()

	if err := c.send(protocol.LoginRequest{Username: username}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-c.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveLogin is called from the receive goroutine for login replies.
func (c *Client) resolveLogin(fields protocol.Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if fields.Type() == protocol.TypeLoginSuccess {
		c.username = fields.Get(protocol.KeyUsername)
	} else {
		err = &LoginError{Message: fields.Get(protocol.KeyMessage)}
	}
	if c.pendingLogin != nil {
		c.pendingLogin <- err
	}
}

// Logout ends the session but keeps the connection.
func (c *Client) Logout() error {
	c.endCall("")
	if err := c.send(protocol.LogoutRequest{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.username = ""
	c.mu.Unlock()
	return nil
}

func (c *Client) SendPrivate(to, content string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.PrivateMessageRequest{From: me, To: to, Content: content})
}

func (c *Client) SendGroup(group, content string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.GroupMessageRequest{From: me, Group: group, Content: content})
}

func (c *Client) CreateGroup(name string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.CreateGroupRequest{GroupName: name, Creator: me})
}

func (c *Client) JoinGroup(name string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.JoinGroupRequest{GroupName: name, Username: me})
}

func (c *Client) LeaveGroup(name string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.LeaveGroupRequest{GroupName: name, Username: me})
}

func (c *Client) RequestOnlineUsers() error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.GetOnlineUsersRequest{Username: me})
}

func (c *Client) RequestGroups() error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.GetGroupsRequest{Username: me})
}

func (c *Client) RequestGroupMembers(group string) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.GetGroupMembersRequest{Username: me, GroupName: group})
}

// RequestHistory asks for the conversation with a user, or a group's
// messages when isGroup is set. The server answers with history_message
// events followed by history_end.
func (c *Client) RequestHistory(target string, isGroup bool) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	return c.send(protocol.GetHistoryRequest{Username: me, Target: target, IsGroup: isGroup})
}

// SendAudio sends a recorded voice message.
func (c *Client) SendAudio(to string, isGroup bool, data []byte) error {
	me, err := c.self()
	if err != nil {
		return err
	}
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	frame := protocol.AudioFrame{From: me, To: to, IsGroup: isGroup, Data: data}
	payload, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode audio frame: %w", err)
	}
	c.conn.Send(transport.BinaryFrame(payload))
	return nil
}
