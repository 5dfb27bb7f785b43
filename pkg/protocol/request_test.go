package protocol_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want protocol.Request
	}{
		{
			name: "login trims username",
			line: "type:login|username: alice ",
			want: protocol.LoginRequest{Username: "alice"},
		},
		{
			name: "logout has no fields",
			line: "type:logout",
			want: protocol.LogoutRequest{},
		},
		{
			name: "private message keeps content verbatim",
			line: "type:private_message|from:alice|to:bob|content: hi there",
			want: protocol.PrivateMessageRequest{From: "alice", To: "bob", Content: " hi there"},
		},
		{
			name: "group message",
			line: "type:group_message|from:alice|group:team|content:hello",
			want: protocol.GroupMessageRequest{From: "alice", Group: "team", Content: "hello"},
		},
		{
			name: "create group",
			line: "type:create_group|group_name:team|creator:alice",
			want: protocol.CreateGroupRequest{GroupName: "team", Creator: "alice"},
		},
		{
			name: "join group",
			line: "type:join_group|group_name:team|username:bob",
			want: protocol.JoinGroupRequest{GroupName: "team", Username: "bob"},
		},
		{
			name: "leave group",
			line: "type:leave_group|group_name:team|username:bob",
			want: protocol.LeaveGroupRequest{GroupName: "team", Username: "bob"},
		},
		{
			name: "get online users",
			line: "type:get_online_users|username:alice",
			want: protocol.GetOnlineUsersRequest{Username: "alice"},
		},
		{
			name: "get groups",
			line: "type:get_groups|username:alice",
			want: protocol.GetGroupsRequest{Username: "alice"},
		},
		{
			name: "get group members",
			line: "type:get_group_members|username:alice|group_name:team",
			want: protocol.GetGroupMembersRequest{Username: "alice", GroupName: "team"},
		},
		{
			name: "get history",
			line: "type:get_history|username:alice|target:team|isGroup:TRUE",
			want: protocol.GetHistoryRequest{Username: "alice", Target: "team", IsGroup: true},
		},
		{
			name: "call start without call id",
			line: "type:call_start|from:alice|to:bob|isGroup:false|udpPort:6000",
			want: protocol.CallStartRequest{From: "alice", To: "bob", UDPPort: 6000},
		},
		{
			name: "call start with call id",
			line: "type:call_start|from:alice|to:team|isGroup:true|udpPort:6000|callId:c1",
			want: protocol.CallStartRequest{From: "alice", To: "team", IsGroup: true, UDPPort: 6000, CallID: "c1"},
		},
		{
			name: "call accept",
			line: "type:call_accept|from:bob|to:alice|udpPort:7000",
			want: protocol.CallAcceptRequest{From: "bob", To: "alice", UDPPort: 7000},
		},
		{
			name: "call end",
			line: "type:call_end|from:alice|callId:c1",
			want: protocol.CallEndRequest{From: "alice", CallID: "c1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Parse(protocol.Decode(tt.line))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %#v, want %#v", got, tt.want)
			}
			if got.Type() != protocol.Decode(tt.line).Type() {
				t.Errorf("Type() = %q", got.Type())
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantErr   error
		wantField string
	}{
		{name: "no type", line: "username:alice", wantErr: protocol.ErrMissingType},
		{name: "blank type", line: "type: |username:alice", wantErr: protocol.ErrMissingType},
		{name: "unknown type", line: "type:dance", wantErr: protocol.ErrUnknownType},
		{name: "missing username", line: "type:login", wantField: "username"},
		{name: "blank username", line: "type:login|username:   ", wantField: "username"},
		{name: "missing content", line: "type:private_message|from:a|to:b", wantField: "content"},
		{name: "first missing field reported", line: "type:private_message|content:hi", wantField: "from"},
		{name: "bad port", line: "type:call_start|from:a|to:b|isGroup:false|udpPort:abc", wantField: "udpPort"},
		{name: "port out of range", line: "type:call_accept|from:a|to:b|udpPort:70000", wantField: "udpPort"},
		{name: "bad bool", line: "type:call_start|from:a|to:b|isGroup:maybe|udpPort:6000", wantField: "isGroup"},
		{name: "missing bool", line: "type:call_start|from:a|to:b|udpPort:6000", wantField: "isGroup"},
		{name: "call end requires call id", line: "type:call_end|from:a", wantField: "callId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := protocol.Parse(protocol.Decode(tt.line))
			if err == nil {
				t.Fatalf("Parse() = %#v, want error", req)
			}
			if req != nil {
				t.Errorf("Parse() returned request %#v alongside error", req)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			var fe *protocol.FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("Parse() error = %T %v, want *FieldError", err, err)
			}
			if fe.Field != tt.wantField {
				t.Errorf("FieldError.Field = %q, want %q", fe.Field, tt.wantField)
			}
		})
	}
}

func TestRequest_Identity(t *testing.T) {
	tests := []struct {
		req  protocol.Request
		want string
	}{
		{protocol.LoginRequest{Username: "alice"}, ""},
		{protocol.PrivateMessageRequest{From: "alice"}, "alice"},
		{protocol.CreateGroupRequest{Creator: "bob"}, "bob"},
		{protocol.JoinGroupRequest{Username: "carol"}, "carol"},
		{protocol.CallEndRequest{From: "dave"}, "dave"},
	}
	for _, tt := range tests {
		if got := tt.req.Identity(); got != tt.want {
			t.Errorf("%T.Identity() = %q, want %q", tt.req, got, tt.want)
		}
	}
}

func TestFieldError_NoSeparators(t *testing.T) {
	_, err := protocol.Parse(protocol.Decode("type:login"))
	msg := err.Error()
	for _, r := range msg {
		if r == '|' || r == ':' {
			t.Fatalf("error text %q must be safe to embed in a wire value", msg)
		}
	}
}
