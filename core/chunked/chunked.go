// Package chunked defines how the cache reads n-dimensional chunked arrays,
// independent of the on-disk format.
//
// Shapes are always given in viewer order: the fastest-varying axis first
// (x, y, z, then any channel or time axes). Format readers reorder their
// native metadata to match.
package chunked

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/internal/sizing"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a dataset or attribute does not exist.
	ErrNotFound = errors.New("chunked: not found")

	// ErrUnsupported is returned for datasets whose layout, element kind or
	// compression cannot be read.
	ErrUnsupported = errors.New("chunked: unsupported dataset")

	// ErrCorrupt is returned when a stored chunk cannot be decoded.
	ErrCorrupt = errors.New("chunked: corrupt chunk")
)

// Format names an on-disk array format.
type Format string

// Supported formats.
const (
	Zarr Format = "zarr"
	N5   Format = "n5"
)

// Attributes describes one chunked array. It is immutable once read.
type Attributes struct {
	// Shape is the array extent per axis in viewer order.
	Shape []int64
	// ChunkShape is the nominal chunk extent per axis in viewer order.
	ChunkShape []int
	DataType   array.DataType
	ByteOrder  binary.ByteOrder
	// Compression applies to each stored chunk.
	Compression codec.ID
	// Separator joins chunk indices in Zarr chunk keys.
	Separator string
}

// NumDims returns the number of axes.
func (a *Attributes) NumDims() int {
	return len(a.Shape)
}

// GridShape returns the number of chunks along each axis.
func (a *Attributes) GridShape() []int64 {
	grid := make([]int64, len(a.Shape))
	for i, n := range a.Shape {
		c := int64(a.ChunkShape[i])
		grid[i] = (n + c - 1) / c
	}
	return grid
}

// Validate checks that the attributes describe a readable array.
func (a *Attributes) Validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("%w: zero-dimensional array", ErrUnsupported)
	}
	if len(a.ChunkShape) != len(a.Shape) {
		return fmt.Errorf("%w: chunk rank %d does not match shape rank %d", ErrUnsupported, len(a.ChunkShape), len(a.Shape))
	}
	for i, n := range a.Shape {
		if n < 0 {
			return fmt.Errorf("%w: negative extent on axis %d", ErrUnsupported, i)
		}
		if a.ChunkShape[i] <= 0 {
			return fmt.Errorf("%w: non-positive chunk extent on axis %d", ErrUnsupported, i)
		}
	}
	if _, err := sizing.Product(a.ChunkShape...); err != nil {
		return fmt.Errorf("%w: chunk too large", ErrUnsupported)
	}
	if !a.DataType.Valid() {
		return fmt.Errorf("%w: %w", ErrUnsupported, array.ErrUnsupported)
	}
	return nil
}

// RawBlock is one decompressed chunk.
type RawBlock struct {
	// Dims is the stored chunk extent in viewer order. Zarr stores edge
	// chunks at full size; N5 stores them truncated.
	Dims []int
	// Data holds the elements in x-fastest order, encoded with the
	// dataset's byte order.
	Data []byte
}

// NumElements returns the element count implied by Dims.
func (b *RawBlock) NumElements() int {
	n, err := sizing.Product(b.Dims...)
	if err != nil {
		return 0
	}
	return n
}

// Reader reads metadata and chunks of arrays stored under slash paths.
// Implementations are safe for concurrent use.
type Reader interface {
	// Format reports the on-disk format.
	Format() Format

	// DatasetAttributes reads the array metadata at path. It returns
	// ErrNotFound when no array exists there and ErrUnsupported when the
	// array cannot be read by this module.
	DatasetAttributes(ctx context.Context, path string) (*Attributes, error)

	// ReadBlock reads and decompresses the chunk at grid position pos
	// (viewer order). It returns (nil, nil) when the chunk was never written.
	// Transport failures match store.ErrTransient.
	ReadBlock(ctx context.Context, path string, attrs *Attributes, pos []int64) (*RawBlock, error)

	// Attribute decodes the user attribute key of the group or array at path
	// into dst. It returns ErrNotFound when the attribute is absent.
	Attribute(ctx context.Context, path, key string, dst any) error
}

// CheckBlock verifies that data holds at least the elements dims imply.
func CheckBlock(attrs *Attributes, dims []int, data []byte) error {
	if len(dims) != len(attrs.Shape) {
		return fmt.Errorf("%w: block rank %d, array rank %d", ErrCorrupt, len(dims), len(attrs.Shape))
	}
	n, err := sizing.Product(dims...)
	if err != nil {
		return fmt.Errorf("%w: block dims %v", ErrCorrupt, dims)
	}
	if need := n * attrs.DataType.Size(); len(data) < need {
		return fmt.Errorf("%w: have %d bytes, block dims %v need %d", ErrCorrupt, len(data), dims, need)
	}
	return nil
}
