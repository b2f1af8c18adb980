// Package common defines shared constants, event plumbing and sentinel errors
// used across goterm components. Callers should use errors.Is to match the
// error kinds.
package common

import "errors"

var (
	// ErrNotFound reports an unknown profile, session, terminal, task or challenge id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState reports an operation that is illegal for the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrAuthFailed reports a credential or host-key rejection.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTransport reports a network or I/O failure on an established connection.
	ErrTransport = errors.New("transport error")

	// ErrTimeout reports a host-key decision or connect attempt that exceeded its bound.
	ErrTimeout = errors.New("timeout")

	// ErrValidation reports malformed input: paths, SQL, profile fields.
	ErrValidation = errors.New("validation error")
)

// kinds is ordered by precedence: an error wrapping both AuthFailed and
// Timeout classifies as AuthFailed.
var kinds = []error{
	ErrNotFound,
	ErrValidation,
	ErrAuthFailed,
	ErrTimeout,
	ErrInvalidState,
	ErrTransport,
}

// KindOf returns the sentinel that classifies err, or nil if err carries none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
