package multiscale

import (
	"errors"
	"fmt"
)

// ErrMetadata matches every [MetadataError] via errors.Is.
var ErrMetadata = errors.New("multiscale: invalid metadata")

// MetadataError reports pyramid metadata that is missing, malformed or of an
// unsupported version. It is fatal for the image at Path.
type MetadataError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *MetadataError) Error() string {
	return fmt.Sprintf("multiscale: invalid metadata at %q: %v", e.Path, e.Err)
}

// Unwrap returns ErrMetadata and the underlying cause.
func (e *MetadataError) Unwrap() []error {
	return []error{ErrMetadata, e.Err}
}

func metadataError(path string, format string, args ...any) error {
	return &MetadataError{Path: path, Err: fmt.Errorf(format, args...)}
}
