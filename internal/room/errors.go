package room

import "errors"

var (
	ErrInvalidCode   = errors.New("room code must be 6 letters or digits")
	ErrRoomNotFound  = errors.New("room not found")
	ErrTooManyRooms  = errors.New("active room limit reached")
	ErrCodeExhausted = errors.New("could not allocate a free room code")
)

// Error codes carried on the wire in error frames.
const (
	CodeInvalidRoom   = "invalidRoomCode"
	CodeRoomNotFound  = "roomNotFound"
	CodeNotYourTurn   = "notYourTurn"
	CodeIllegalMove   = "illegalMove"
	CodeMalformedMove = "malformedMoveInput"
	CodeStaleAction   = "staleAction"
	CodeNotSeated     = "notSeated"
)
