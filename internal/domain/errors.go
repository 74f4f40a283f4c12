package domain

import "errors"

// Error taxonomy shared across services and adapters. A storage NotFound is
// always distinct from a policy DENIED.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrTokenExpired           = errors.New("override token expired")
	ErrTokenAlreadyConsumed   = errors.New("override token already consumed")
	ErrOverrideInvalid        = errors.New("override token invalid for this action")
	ErrConcurrentModification = errors.New("concurrent modification")
)
