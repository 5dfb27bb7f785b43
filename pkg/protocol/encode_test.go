package protocol_test

import (
	"reflect"
	"testing"

	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		req  protocol.Request
		want string
	}{
		{protocol.LoginRequest{Username: "alice"}, "type:login|username:alice"},
		{protocol.LogoutRequest{}, "type:logout"},
		{
			protocol.CallStartRequest{From: "alice", To: "bob", UDPPort: 6000},
			"type:call_start|from:alice|isGroup:false|to:bob|udpPort:6000",
		},
		{
			protocol.CallAcceptRequest{From: "bob", To: "alice", UDPPort: 7000, CallID: "c1"},
			"type:call_accept|callId:c1|from:bob|to:alice|udpPort:7000",
		},
	}
	for _, tt := range tests {
		if got := protocol.EncodeRequest(tt.req); got != tt.want {
			t.Errorf("EncodeRequest(%#v) = %q, want %q", tt.req, got, tt.want)
		}
	}
}

// Every request the client library can build must pass server validation.
func TestRequestFields_ParseBack(t *testing.T) {
	reqs := []protocol.Request{
		protocol.PrivateMessageRequest{From: "alice", To: "bob", Content: "hi: there"},
		protocol.GroupMessageRequest{From: "alice", Group: "team", Content: "hello"},
		protocol.CreateGroupRequest{GroupName: "team", Creator: "alice"},
		protocol.LeaveGroupRequest{GroupName: "team", Username: "alice"},
		protocol.GetGroupMembersRequest{Username: "alice", GroupName: "team"},
		protocol.GetHistoryRequest{Username: "alice", Target: "team", IsGroup: true},
		protocol.CallStartRequest{From: "alice", To: "team", IsGroup: true, UDPPort: 1, CallID: "x"},
		protocol.CallEndRequest{From: "alice", CallID: "x"},
	}
	for _, req := range reqs {
		got, err := protocol.Parse(protocol.Decode(protocol.EncodeRequest(req)))
		if err != nil {
			t.Errorf("Parse(%T) failed: %v", req, err)
			continue
		}
		if !reflect.DeepEqual(got, req) {
			t.Errorf("Parse(EncodeRequest(%#v)) = %#v", req, got)
		}
	}
}

func TestCallError(t *testing.T) {
	if got := protocol.Encode(protocol.CallError("c1", "target user is not online")); got != "type:error|callId:c1|message:target user is not online" {
		t.Errorf("CallError with id = %q", got)
	}
	if got := protocol.Encode(protocol.CallError("", "busy")); got != "type:error|message:busy" {
		t.Errorf("CallError without id = %q", got)
	}
}
