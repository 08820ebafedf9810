package rate

import "errors"

var (
	// ErrCounterUnavailable wraps any failure of the backing counter store.
	ErrCounterUnavailable = errors.New("rate counter unavailable")
)
