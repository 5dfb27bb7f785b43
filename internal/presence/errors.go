package presence

import "errors"

var (
	ErrInvalidName   = errors.New("name must not be blank")
	ErrUserExists    = errors.New("user already online")
	ErrUserNotOnline = errors.New("user not online")
	ErrGroupExists   = errors.New("group already exists")
	ErrGroupNotFound = errors.New("group not found")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
)
