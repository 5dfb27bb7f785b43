package protocol

import (
	"strconv"
	"time"
)

func reply(t MessageType, kv ...string) Fields {
	f := Fields{KeyType: string(t)}
	for i := 0; i+1 < len(kv); i += 2 {
		f[kv[i]] = kv[i+1]
	}
	return f
}

func LoginSuccess(username string) Fields {
	return reply(TypeLoginSuccess, KeyUsername, username)
}

func LoginError(message string) Fields {
	return reply(TypeLoginError, KeyMessage, message)
}

// ErrorMessage builds the generic error reply.
func ErrorMessage(message string) Fields {
	return reply(TypeError, KeyMessage, message)
}

// CallError rejects a call request. It is an error reply that also names
// the call, so the requester can drop its pending state.
func CallError(callID, message string) Fields {
	f := ErrorMessage(message)
	if callID != "" {
		f[KeyCallID] = callID
	}
	return f
}

func SystemMessage(content string) Fields {
	return reply(TypeSystemMessage, KeyContent, content)
}

// PrivateMessage is delivered to both the recipient and the sender.
func PrivateMessage(from, content string) Fields {
	return reply(TypePrivateMessage, KeyFrom, from, KeyContent, content)
}

func GroupMessage(from, group, content string) Fields {
	return reply(TypeGroupMessage, KeyFrom, from, KeyGroup, group, KeyContent, content)
}

func GroupCreated(name string) Fields {
	return reply(TypeGroupCreated, KeyGroupName, name)
}

func GroupJoined(name string) Fields {
	return reply(TypeGroupJoined, KeyGroupName, name)
}

func GroupLeft(name string) Fields {
	return reply(TypeGroupLeft, KeyGroupName, name)
}

func OnlineUsers(users []string) Fields {
	return reply(TypeOnlineUsers, KeyUsers, JoinList(users))
}

func GroupsList(groups []string) Fields {
	return reply(TypeGroupsList, KeyGroups, JoinList(groups))
}

func GroupMembers(group string, members []string) Fields {
	return reply(TypeGroupMembers, KeyGroupName, group, KeyMembers, JoinList(members))
}

// HistoryMessage carries one replayed message. The timestamp is Unix
// milliseconds.
func HistoryMessage(from, to string, isGroup bool, content string, at time.Time) Fields {
	return reply(TypeHistoryMessage,
		KeyFrom, from,
		KeyTo, to,
		KeyIsGroup, strconv.FormatBool(isGroup),
		KeyContent, content,
		KeyTimestamp, strconv.FormatInt(at.UnixMilli(), 10),
	)
}

func HistoryEnd(target string, count int) Fields {
	return reply(TypeHistoryEnd, KeyTarget, target, KeyCount, strconv.Itoa(count))
}

func IncomingCall(callID, from, to string, isGroup bool, callerIP string, callerPort int) Fields {
	return reply(TypeIncomingCall,
		KeyCallID, callID,
		KeyFrom, from,
		KeyTo, to,
		KeyIsGroup, strconv.FormatBool(isGroup),
		KeyCallerIP, callerIP,
		KeyCallerUDPPort, strconv.Itoa(callerPort),
	)
}

func CallWaiting(callID, to string) Fields {
	return reply(TypeCallWaiting, KeyCallID, callID, KeyTo, to)
}

func CallAccepted(callID, from, receiverIP string, receiverPort int) Fields {
	return reply(TypeCallAccepted,
		KeyCallID, callID,
		KeyFrom, from,
		KeyReceiverIP, receiverIP,
		KeyReceiverUDPPort, strconv.Itoa(receiverPort),
	)
}

func CallConnected(callID, peer string) Fields {
	return reply(TypeCallConnected, KeyCallID, callID, KeyPeer, peer)
}

func CallEnded(callID, by string) Fields {
	return reply(TypeCallEnded, KeyCallID, callID, KeyBy, by)
}
