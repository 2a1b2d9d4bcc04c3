// Package errkind classifies domain errors so transports can map them to
// status codes without knowing every sentinel.
package errkind

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("authentication required")
	ErrConflict        = errors.New("conflict")
)

// New returns a sentinel whose message is msg and which matches kind via errors.Is.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Of reports the kind of err, or nil when err is unclassified (treated as internal).
func Of(err error) error {
	for _, kind := range []error{ErrValidation, ErrForbidden, ErrNotFound, ErrUnauthenticated, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
