// Package codec decompresses chunk payloads for the supported array formats.
package codec

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/meigma/pyramid/internal/sizing"
)

// ID names a chunk compression scheme.
type ID string

// Supported compression schemes.
const (
	None  ID = "raw"
	Gzip  ID = "gzip"
	Zlib  ID = "zlib"
	Zstd  ID = "zstd"
	Bzip2 ID = "bzip2"
)

// DefaultMaxBlockBytes caps the decompressed size of a single chunk (1 GiB).
const DefaultMaxBlockBytes = 1 << 30

var (
	// ErrUnsupported is returned for compression schemes that cannot be decoded.
	ErrUnsupported = errors.New("codec: unsupported compression")

	// ErrTooLarge is returned when a chunk decompresses past the configured limit.
	ErrTooLarge = errors.New("codec: decompressed chunk too large")

	// ErrCorrupt is returned when a payload cannot be decompressed.
	ErrCorrupt = errors.New("codec: corrupt payload")
)

// Parse maps a compressor name used by Zarr or N5 metadata to an ID.
// The empty string and "null" mean no compression.
func Parse(name string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "null", "raw":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "bzip2", "bz2":
		return Bzip2, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// Decompressor decodes chunk payloads. It is safe for concurrent use.
type Decompressor struct {
	zstd          *ZstdPool
	maxBlockBytes uint64
}

// Option configures a Decompressor.
type Option func(*Decompressor)

// WithMaxBlockBytes limits the decompressed size of one chunk.
// Set limit to 0 to disable the limit.
func WithMaxBlockBytes(limit uint64) Option {
	return func(d *Decompressor) {
		d.maxBlockBytes = limit
	}
}

// New creates a Decompressor.
func New(opts ...Option) *Decompressor {
	d := &Decompressor{
		maxBlockBytes: DefaultMaxBlockBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.zstd = NewZstdPool(d.maxBlockBytes)
	return d
}

// Decompress decodes data compressed with id. sizeHint, when positive, is
// the expected decoded length and is used to presize buffers.
func (d *Decompressor) Decompress(id ID, data []byte, sizeHint int) ([]byte, error) {
	switch id {
	case None:
		return data, nil
	case Zstd:
		out, err := d.zstd.DecodeAll(data, sizeHint)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		return out, nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %w", ErrCorrupt, err)
		}
		defer zr.Close()
		return d.readAll(zr, "gzip")
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %w", ErrCorrupt, err)
		}
		defer zr.Close()
		return d.readAll(zr, "zlib")
	case Bzip2:
		return d.readAll(bzip2.NewReader(bytes.NewReader(data)), "bzip2")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, string(id))
	}
}

func (d *Decompressor) readAll(r io.Reader, name string) ([]byte, error) {
	if d.maxBlockBytes == 0 {
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		return out, nil
	}
	out, err := sizing.ReadAllWithLimit(r, d.maxBlockBytes, ErrTooLarge)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	return out, nil
}
