package room

import "errors"

var (
	ErrNotAParticipant  = errors.New("user is not a participant of this room")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRoomClosed       = errors.New("room closed")
	ErrRegistryClosed   = errors.New("room registry closed")
)
