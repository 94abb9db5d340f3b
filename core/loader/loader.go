// Package loader turns a chunk read into a typed cell block.
//
// Loading never fails from the caller's point of view: a chunk that was
// never written becomes a zero block tagged [OriginAbsent], and a read or
// decode failure becomes a zero block tagged [OriginFailed]. Either way the
// block has the clipped dims of its cell.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/grid"
)

// Origin records where a block's data came from.
type Origin uint8

// Block origins.
const (
	// OriginStore means the data was read from the store.
	OriginStore Origin = iota
	// OriginAbsent means the chunk does not exist; the block is zero.
	OriginAbsent
	// OriginFailed means reading the chunk failed; the block is zero.
	OriginFailed
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginStore:
		return "store"
	case OriginAbsent:
		return "absent"
	case OriginFailed:
		return "failed"
	default:
		return fmt.Sprintf("Origin(%d)", uint8(o))
	}
}

// Block is a loaded cell. It is immutable once returned.
type Block struct {
	// Dims is the clipped cell extent along x, y and z.
	Dims [3]int
	// Data holds Dims[0]*Dims[1]*Dims[2] elements, x fastest.
	Data   array.Array
	Origin Origin
}

// Empty reports whether the block was synthesized rather than read.
func (b *Block) Empty() bool {
	return b.Origin != OriginStore
}

// Request describes one cell load.
type Request struct {
	// Path is the dataset path in the store.
	Path   string
	Attrs  *chunked.Attributes
	Mapper *grid.Mapper
	// Coord is the chunk holding the cell.
	Coord grid.Coordinate
	// Dims is the clipped cell extent.
	Dims [3]int
	// Decode converts raw chunk bytes; it is resolved once per dataset.
	Decode array.DecodeFunc
}

// Observer receives one call per completed load.
type Observer func(origin Origin, elapsed time.Duration)

// Loader reads cells through a chunked.Reader. It is safe for concurrent use.
type Loader struct {
	reader   chunked.Reader
	logger   *slog.Logger
	observer Observer
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger for degraded loads.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithObserver sets a callback invoked after every load.
func WithObserver(fn Observer) Option {
	return func(l *Loader) {
		l.observer = fn
	}
}

// New returns a Loader reading from r.
func New(r chunked.Reader, opts ...Option) *Loader {
	l := &Loader{reader: r}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the cell described by req. It performs exactly one store read
// and does not retry.
func (l *Loader) Load(ctx context.Context, req Request) *Block {
	start := time.Now()
	b := l.load(ctx, req)
	if l.observer != nil {
		l.observer(b.Origin, time.Since(start))
	}
	return b
}

func (l *Loader) load(ctx context.Context, req Request) *Block {
	raw, err := l.reader.ReadBlock(ctx, req.Path, req.Attrs, req.Coord.Pos)
	if err != nil {
		return l.failed(req, err)
	}
	if raw == nil {
		return Empty(req.Attrs.DataType, req.Dims, OriginAbsent)
	}

	data, err := req.Decode(raw.Data, raw.NumElements())
	if err != nil {
		return l.failed(req, err)
	}
	cell, err := array.Extract(data, req.Mapper.Layout(req.Coord, raw.Dims, req.Dims))
	if err != nil {
		return l.failed(req, err)
	}
	return &Block{Dims: req.Dims, Data: cell, Origin: OriginStore}
}

func (l *Loader) failed(req Request, err error) *Block {
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	l.log().Log(context.Background(), level, "block load degraded to empty",
		"path", req.Path,
		"pos", req.Coord.Pos,
		"error", err,
	)
	return Empty(req.Attrs.DataType, req.Dims, OriginFailed)
}

func (l *Loader) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Empty returns a zero block of kind dt with the given dims.
func Empty(dt array.DataType, dims [3]int, origin Origin) *Block {
	return &Block{
		Dims:   dims,
		Data:   array.Zeros(dt, dims[0]*dims[1]*dims[2]),
		Origin: origin,
	}
}
