package protocol

import "strconv"

// RequestFields converts a request into wire fields. Optional fields are
// omitted when empty.
func RequestFields(r Request) Fields {
	switch r := r.(type) {
	case LoginRequest:
		return reply(TypeLogin, KeyUsername, r.Username)
	case LogoutRequest:
		return reply(TypeLogout)
	case PrivateMessageRequest:
		return reply(TypePrivateMessage, KeyFrom, r.From, KeyTo, r.To, KeyContent, r.Content)
	case GroupMessageRequest:
		return reply(TypeGroupMessage, KeyFrom, r.From, KeyGroup, r.Group, KeyContent, r.Content)
	case CreateGroupRequest:
		return reply(TypeCreateGroup, KeyGroupName, r.GroupName, KeyCreator, r.Creator)
	case JoinGroupRequest:
		return reply(TypeJoinGroup, KeyGroupName, r.GroupName, KeyUsername, r.Username)
	case LeaveGroupRequest:
		return reply(TypeLeaveGroup, KeyGroupName, r.GroupName, KeyUsername, r.Username)
	case GetOnlineUsersRequest:
		return reply(TypeGetOnlineUsers, KeyUsername, r.Username)
	case GetGroupsRequest:
		return reply(TypeGetGroups, KeyUsername, r.Username)
	case GetGroupMembersRequest:
		return reply(TypeGetGroupMembers, KeyUsername, r.Username, KeyGroupName, r.GroupName)
	case GetHistoryRequest:
		return reply(TypeGetHistory, KeyUsername, r.Username, KeyTarget, r.Target, KeyIsGroup, strconv.FormatBool(r.IsGroup))
	case CallStartRequest:
		f := reply(TypeCallStart,
			KeyFrom, r.From,
			KeyTo, r.To,
			KeyIsGroup, strconv.FormatBool(r.IsGroup),
			KeyUDPPort, strconv.Itoa(r.UDPPort),
		)
		if r.CallID != "" {
			f[KeyCallID] = r.CallID
		}
		return f
	case CallAcceptRequest:
		f := reply(TypeCallAccept, KeyFrom, r.From, KeyTo, r.To, KeyUDPPort, strconv.Itoa(r.UDPPort))
		if r.CallID != "" {
			f[KeyCallID] = r.CallID
		}
		return f
	case CallEndRequest:
		return reply(TypeCallEnd, KeyFrom, r.From, KeyCallID, r.CallID)
	}
	return reply(r.Type())
}

// EncodeRequest is Encode(RequestFields(r)).
func EncodeRequest(r Request) string {
	return Encode(RequestFields(r))
}
