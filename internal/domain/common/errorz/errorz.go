package errorz

import "errors"

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrInvalidStatus   = errors.New("game status does not allow this operation")
	ErrAlreadyJoined   = errors.New("user already joined the game")
	ErrNotJoined       = errors.New("user has not joined the game")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
