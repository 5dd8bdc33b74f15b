package services

import "errors"

var (
	// ErrInvalidTransition is an illegal state change: rejected, logged, not
	// retried.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyTerminal is a transition request against a resolved or
	// cancelled response. No-op on state, still audit-logged.
	ErrAlreadyTerminal = errors.New("response already terminal")
	// ErrNotFound is an unknown incident or response id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is a malformed trigger or action payload.
	ErrInvalidInput = errors.New("invalid input")
)
