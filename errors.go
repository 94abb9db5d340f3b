package pyramid

import (
	"errors"

	"github.com/meigma/pyramid/core/cache"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/grid"
	"github.com/meigma/pyramid/core/multiscale"
	"github.com/meigma/pyramid/core/store"
)

// Errors re-exported from core.
var (
	// ErrNotReady is returned by volatile images for cells still loading.
	ErrNotReady = cache.ErrNotReady

	// ErrCleared is returned when a pending request was dropped by
	// ClearCache.
	ErrCleared = cache.ErrCleared

	// ErrMetadata is returned when multiscale metadata is missing or invalid.
	ErrMetadata = multiscale.ErrMetadata

	// ErrUnsupported is returned for data types, codecs or layouts that
	// cannot be read.
	ErrUnsupported = chunked.ErrUnsupported

	// ErrOutOfBounds is returned for cells, voxels, channels or timepoints
	// outside the image.
	ErrOutOfBounds = grid.ErrOutOfBounds

	// ErrNotFound is returned when a store object does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidLocation is returned for malformed dataset locations.
	ErrInvalidLocation = store.ErrInvalidLocation

	// ErrCredentials is returned when S3 credentials cannot be resolved.
	ErrCredentials = store.ErrCredentials
)

var (
	// ErrUnknownSetup is returned for setup ids the dataset does not have.
	ErrUnknownSetup = errors.New("pyramid: unknown setup")

	// ErrNoFormat is returned when the location holds neither Zarr nor N5
	// metadata.
	ErrNoFormat = errors.New("pyramid: no zarr or n5 metadata found")
)
