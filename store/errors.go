package store

import "errors"

var (
	// ErrNotFound is returned when a lookup or conditional update matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEmail is returned by CreateUser when the email is taken.
	ErrDuplicateEmail = errors.New("store: duplicate email")
	// ErrStateConflict is returned when a two-factor transition is not allowed
	// from the user's current state.
	ErrStateConflict = errors.New("store: state conflict")
)
