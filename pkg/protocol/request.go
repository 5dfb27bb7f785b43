package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the value of the type field.
type MessageType string

// Request types (client to server).
const (
	TypeLogin           MessageType = "login"
	TypeLogout          MessageType = "logout"
	TypePrivateMessage  MessageType = "private_message"
	TypeGroupMessage    MessageType = "group_message"
	TypeCreateGroup     MessageType = "create_group"
	TypeJoinGroup       MessageType = "join_group"
	TypeLeaveGroup      MessageType = "leave_group"
	TypeGetOnlineUsers  MessageType = "get_online_users"
	TypeGetGroups       MessageType = "get_groups"
	TypeGetGroupMembers MessageType = "get_group_members"
	TypeGetHistory      MessageType = "get_history"
	TypeCallStart       MessageType = "call_start"
	TypeCallAccept      MessageType = "call_accept"
	TypeCallEnd         MessageType = "call_end"
)

// Reply and push types (server to client).
const (
	TypeLoginSuccess   MessageType = "login_success"
	TypeLoginError     MessageType = "login_error"
	TypeError          MessageType = "error"
	TypeSystemMessage  MessageType = "system_message"
	TypeGroupCreated   MessageType = "group_created"
	TypeGroupJoined    MessageType = "group_joined"
	TypeGroupLeft      MessageType = "group_left"
	TypeOnlineUsers    MessageType = "online_users"
	TypeGroupsList     MessageType = "groups_list"
	TypeGroupMembers   MessageType = "group_members"
	TypeHistoryMessage MessageType = "history_message"
	TypeHistoryEnd     MessageType = "history_end"
	TypeIncomingCall   MessageType = "incoming_call"
	TypeCallWaiting    MessageType = "call_waiting"
	TypeCallAccepted   MessageType = "call_accepted"
	TypeCallConnected  MessageType = "call_connected"
	TypeCallEnded      MessageType = "call_ended"
)

// Field keys.
const (
	KeyType            = "type"
	KeyUsername        = "username"
	KeyFrom            = "from"
	KeyTo              = "to"
	KeyContent         = "content"
	KeyGroup           = "group"
	KeyGroupName       = "group_name"
	KeyCreator         = "creator"
	KeyIsGroup         = "isGroup"
	KeyUDPPort         = "udpPort"
	KeyCallID          = "callId"
	KeyMessage         = "message"
	KeyUsers           = "users"
	KeyGroups          = "groups"
	KeyMembers         = "members"
	KeyTarget          = "target"
	KeyTimestamp       = "timestamp"
	KeyCount           = "count"
	KeyCallerIP        = "callerIp"
	KeyCallerUDPPort   = "callerUdpPort"
	KeyReceiverIP      = "receiverIp"
	KeyReceiverUDPPort = "receiverUdpPort"
	KeyPeer            = "peer"
	KeyBy              = "by"
)

var (
	// ErrMissingType is returned for lines without a type field. Such lines
	// are unroutable and dropped without reply.
	ErrMissingType = errors.New("message has no type")
	// ErrUnknownType is returned for types the server does not handle.
	ErrUnknownType = errors.New("unknown message type")
)

// FieldError reports a missing or invalid field of a known request type.
type FieldError struct {
	Type   MessageType
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s request, %s %s", e.Type, e.Field, e.Reason)
}

// Request is a validated client request.
type Request interface {
	// Type returns the wire type of the request.
	Type() MessageType
	// Identity returns the username the request claims to act for, or ""
	// when the request carries no identity.
	Identity() string
}

type LoginRequest struct {
	Username string
}

type LogoutRequest struct{}

type PrivateMessageRequest struct {
	From    string
	To      string
	Content string
}

type GroupMessageRequest struct {
	From    string
	Group   string
	Content string
}

type CreateGroupRequest struct {
	GroupName string
	Creator   string
}

type JoinGroupRequest struct {
	GroupName string
	Username  string
}

type LeaveGroupRequest struct {
	GroupName string
	Username  string
}

type GetOnlineUsersRequest struct {
	Username string
}

type GetGroupsRequest struct {
	Username string
}

type GetGroupMembersRequest struct {
	Username  string
	GroupName string
}

type GetHistoryRequest struct {
	Username string
	Target   string
	IsGroup  bool
}

// CallStartRequest asks the server to invite To (a user, or a group when
// IsGroup is set). CallID is optional; the server generates one if empty.
type CallStartRequest struct {
	From    string
	To      string
	IsGroup bool
	UDPPort int
	CallID  string
}

// CallAcceptRequest accepts the pending call placed by To. CallID is
// optional and disambiguates when present.
type CallAcceptRequest struct {
	From    string
	To      string
	UDPPort int
	CallID  string
}

type CallEndRequest struct {
	From   string
	CallID string
}

func (LoginRequest) Type() MessageType           { return TypeLogin }
func (LogoutRequest) Type() MessageType          { return TypeLogout }
func (PrivateMessageRequest) Type() MessageType  { return TypePrivateMessage }
func (GroupMessageRequest) Type() MessageType    { return TypeGroupMessage }
func (CreateGroupRequest) Type() MessageType     { return TypeCreateGroup }
func (JoinGroupRequest) Type() MessageType       { return TypeJoinGroup }
func (LeaveGroupRequest) Type() MessageType      { return TypeLeaveGroup }
func (GetOnlineUsersRequest) Type() MessageType  { return TypeGetOnlineUsers }
func (GetGroupsRequest) Type() MessageType       { return TypeGetGroups }
func (GetGroupMembersRequest) Type() MessageType { return TypeGetGroupMembers }
func (GetHistoryRequest) Type() MessageType      { return TypeGetHistory }
func (CallStartRequest) Type() MessageType       { return TypeCallStart }
func (CallAcceptRequest) Type() MessageType      { return TypeCallAccept }
func (CallEndRequest) Type() MessageType         { return TypeCallEnd }

func (LoginRequest) Identity() string             { return "" }
func (LogoutRequest) Identity() string            { return "" }
func (r PrivateMessageRequest) Identity() string  { return r.From }
func (r GroupMessageRequest) Identity() string    { return r.From }
func (r CreateGroupRequest) Identity() string     { return r.Creator }
func (r JoinGroupRequest) Identity() string       { return r.Username }
func (r LeaveGroupRequest) Identity() string      { return r.Username }
func (r GetOnlineUsersRequest) Identity() string  { return r.Username }
func (r GetGroupsRequest) Identity() string       { return r.Username }
func (r GetGroupMembersRequest) Identity() string { return r.Username }
func (r GetHistoryRequest) Identity() string      { return r.Username }
func (r CallStartRequest) Identity() string       { return r.From }
func (r CallAcceptRequest) Identity() string      { return r.From }
func (r CallEndRequest) Identity() string         { return r.From }

// Parse validates fields against the schema of their type and returns the
// typed request. It returns ErrMissingType, an error wrapping
// ErrUnknownType, or a *FieldError.
func Parse(fields Fields) (Request, error) {
	raw, ok := fields[KeyType]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, ErrMissingType
	}
	t := MessageType(strings.TrimSpace(raw))
	p := &parser{typ: t, fields: fields}

	switch t {
	case TypeLogin:
		return p.result(LoginRequest{Username: p.name(KeyUsername)})
	case TypeLogout:
		return LogoutRequest{}, nil
	case TypePrivateMessage:
		return p.result(PrivateMessageRequest{
			From:    p.name(KeyFrom),
			To:      p.name(KeyTo),
			Content: p.text(KeyContent),
		})
	case TypeGroupMessage:
		return p.result(GroupMessageRequest{
			From:    p.name(KeyFrom),
			Group:   p.name(KeyGroup),
			Content: p.text(KeyContent),
		})
	case TypeCreateGroup:
		return p.result(CreateGroupRequest{
			GroupName: p.name(KeyGroupName),
			Creator:   p.name(KeyCreator),
		})
	case TypeJoinGroup:
		return p.result(JoinGroupRequest{
			GroupName: p.name(KeyGroupName),
			Username:  p.name(KeyUsername),
		})
	case TypeLeaveGroup:
		return p.result(LeaveGroupRequest{
			GroupName: p.name(KeyGroupName),
			Username:  p.name(KeyUsername),
		})
	case TypeGetOnlineUsers:
		return p.result(GetOnlineUsersRequest{Username: p.name(KeyUsername)})
	case TypeGetGroups:
		return p.result(GetGroupsRequest{Username: p.name(KeyUsername)})
	case TypeGetGroupMembers:
		return p.result(GetGroupMembersRequest{
			Username:  p.name(KeyUsername),
			GroupName: p.name(KeyGroupName),
		})
	case TypeGetHistory:
		return p.result(GetHistoryRequest{
			Username: p.name(KeyUsername),
			Target:   p.name(KeyTarget),
			IsGroup:  p.boolean(KeyIsGroup),
		})
	case TypeCallStart:
		return p.result(CallStartRequest{
			From:    p.name(KeyFrom),
			To:      p.name(KeyTo),
			IsGroup: p.boolean(KeyIsGroup),
			UDPPort: p.port(KeyUDPPort),
			CallID:  p.optional(KeyCallID),
		})
	case TypeCallAccept:
		return p.result(CallAcceptRequest{
			From:    p.name(KeyFrom),
			To:      p.name(KeyTo),
			UDPPort: p.port(KeyUDPPort),
			CallID:  p.optional(KeyCallID),
		})
	case TypeCallEnd:
		return p.result(CallEndRequest{
			From:   p.name(KeyFrom),
			CallID: p.name(KeyCallID),
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

// parser records the first schema violation; later lookups still return
// values so request literals can be built in one expression.
type parser struct {
	typ    MessageType
	fields Fields
	err    error
}

func (p *parser) fail(field, reason string) {
	if p.err == nil {
		p.err = &FieldError{Type: p.typ, Field: field, Reason: reason}
	}
}

// name returns a required identifier, trimmed.
func (p *parser) name(key string) string {
	v := strings.TrimSpace(p.fields[key])
	if v == "" {
		p.fail(key, "is missing")
	}
	return v
}

// text returns a required free-form value, untrimmed.
func (p *parser) text(key string) string {
	v := p.fields[key]
	if strings.TrimSpace(v) == "" {
		p.fail(key, "is missing")
	}
	return v
}

func (p *parser) optional(key string) string {
	return strings.TrimSpace(p.fields[key])
}

func (p *parser) boolean(key string) bool {
	v, ok := p.fields[key]
	if !ok {
		p.fail(key, "is missing")
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true
	case "false":
		return false
	default:
		p.fail(key, "must be true or false")
		return false
	}
}

func (p *parser) port(key string) int {
	v, ok := p.fields[key]
	if !ok {
		p.fail(key, "is missing")
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 || n > 65535 {
		p.fail(key, "must be a port number")
		return 0
	}
	return n
}

func (p *parser) result(r Request) (Request, error) {
	if p.err != nil {
		return nil, p.err
	}
	return r, nil
}
