package store

import "errors"

var (
	// ErrNotFound indicates the requested record could not be found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a session status change that would move
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrConstraint indicates the database rejected a write (foreign key,
	// uniqueness or check constraint).
	ErrConstraint = errors.New("constraint violation")
)
