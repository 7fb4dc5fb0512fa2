package chat

import "errors"

var (
	// ErrStopped is returned to callers once the event loop has exited.
	ErrStopped = errors.New("chat service stopped")

	ErrUnknownRoom      = errors.New("unknown room")
	ErrReservedIdentity = errors.New("identity is reserved for the bot")
	ErrIdentityMismatch = errors.New("connection is bound to a different username")
	ErrInvalidUsername  = errors.New("username is required")
	ErrInvalidText      = errors.New("message text is empty or too long")
)
