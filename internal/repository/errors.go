package repository

import "errors"

// Sentinel errors returned by the store. The service layer maps these to
// its own error taxonomy.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrAlreadyMember    = errors.New("user is already a member")
	ErrAlreadyModerator = errors.New("user is already a moderator")
)
