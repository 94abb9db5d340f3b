package store

import (
	"context"
	"path"
	"strings"
)

// DefaultMaxObjectBytes caps the size of a single object read (1 GiB).
const DefaultMaxObjectBytes = 1 << 30

// Store reads whole objects by slash-separated key.
//
// Implementations must be safe for concurrent use. Get returns [ErrNotFound]
// when the key does not exist and an error matching [ErrTransient] for any
// other failure.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Name identifies the store, e.g. for logs and cache keys.
	Name() string
}

// Join joins key elements with slashes and strips leading slashes, so the
// result is always relative to the store root.
func Join(elem ...string) string {
	return strings.TrimLeft(path.Join(elem...), "/")
}

// cleanKey validates key and returns its canonical form.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}
