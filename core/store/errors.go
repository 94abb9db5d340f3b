package store

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("store: not found")

	// ErrTransient matches every [TransientError] via errors.Is.
	ErrTransient = errors.New("store: transient failure")

	// ErrInvalidKey is returned for keys that escape the store root.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrInvalidLocation is returned when a location string cannot be parsed.
	ErrInvalidLocation = errors.New("store: invalid location")

	// ErrCredentials is returned when a credential chain cannot produce
	// credentials at construction time.
	ErrCredentials = errors.New("store: credentials unavailable")
)

// TransientError reports a read that failed for a reason other than the key
// being absent: network errors, throttling, permission problems, I/O errors.
type TransientError struct {
	Store string
	Key   string
	Err   error
}

// Error implements error.
func (e *TransientError) Error() string {
	return fmt.Sprintf("store: read %s from %s: %v", e.Key, e.Store, e.Err)
}

// Unwrap returns ErrTransient and the underlying cause.
func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

func transient(s Store, key string, err error) error {
	return &TransientError{Store: s.Name(), Key: key, Err: err}
}
