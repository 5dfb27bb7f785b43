package call

import "errors"

var (
	ErrCallerBusy     = errors.New("caller already has an active call")
	ErrSelfCall       = errors.New("cannot call yourself")
	ErrTargetOffline  = errors.New("target user is not online")
	ErrGroupNotFound  = errors.New("group not found")
	ErrCallNotFound   = errors.New("call not found")
	ErrNotCalling     = errors.New("call is not ringing")
	ErrNotInvited     = errors.New("not invited to this call")
	ErrNotParticipant = errors.New("not a participant of this call")
)
