package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the store could not be reached. Jobs abort on it
	// without writing a partial summary.
	ErrUnavailable = errors.New("store unavailable")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// identity.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMissingIdentity is returned when an operation that addresses
	// documents by identity receives one without.
	ErrMissingIdentity = errors.New("document has no identity")

	// ErrInvalidCollection is returned for names that fail ValidCollection.
	ErrInvalidCollection = errors.New("invalid collection name")
)

// Unavailable wraps a connectivity error so errors.Is(err, ErrUnavailable)
// holds while the cause stays inspectable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{err: err}
}

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnavailable, e.err)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

// IsUnavailable reports whether err signals an unreachable store.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// CheckCollection returns ErrInvalidCollection for unusable names.
func CheckCollection(name string) error {
	if !ValidCollection(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}
