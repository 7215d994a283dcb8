package registry

import "errors"

var (
	ErrAlreadyInitialized = errors.New("registry already initialized")
	ErrNotInitialized     = errors.New("registry not initialized")
	ErrInvalidIdentity    = errors.New("organizer and asset identities are required")
	ErrTicketIDsExhausted = errors.New("ticket id space exhausted")
)
