// Package zarr reads Zarr v2 arrays.
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/store"
)

// Metadata keys.
const (
	ArrayKey = ".zarray"
	AttrsKey = ".zattrs"
	GroupKey = ".zgroup"
)

// arrayMeta is the subset of .zarray this package understands.
type arrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      []int64         `json:"shape"`
	Chunks     []int           `json:"chunks"`
	Dtype      json.RawMessage `json:"dtype"`
	Compressor *struct {
		ID string `json:"id"`
	} `json:"compressor"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator"`
}

// Reader reads Zarr v2 arrays from a store.
type Reader struct {
	store store.Store
	codec *codec.Decompressor
}

var _ chunked.Reader = (*Reader)(nil)

// New returns a Reader over s that decompresses chunks with dec.
func New(s store.Store, dec *codec.Decompressor) *Reader {
	if dec == nil {
		dec = codec.New()
	}
	return &Reader{store: s, codec: dec}
}

// Format implements chunked.Reader.
func (r *Reader) Format() chunked.Format {
	return chunked.Zarr
}

// DatasetAttributes implements chunked.Reader. Zarr lists dimensions
// slowest first, so shape and chunks are reversed into viewer order.
func (r *Reader) DatasetAttributes(ctx context.Context, path string) (*chunked.Attributes, error) {
	raw, err := r.get(ctx, store.Join(path, ArrayKey))
	if err != nil {
		return nil, err
	}
	var meta arrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chunked.ErrUnsupported, store.Join(path, ArrayKey), err)
	}
	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("%w: zarr_format %d", chunked.ErrUnsupported, meta.ZarrFormat)
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, fmt.Errorf("%w: order %q", chunked.ErrUnsupported, meta.Order)
	}
	if len(meta.Filters) > 0 {
		return nil, fmt.Errorf("%w: filters", chunked.ErrUnsupported)
	}
	var typestr string
	if err := json.Unmarshal(meta.Dtype, &typestr); err != nil {
		return nil, fmt.Errorf("%w: structured dtype %s", chunked.ErrUnsupported, meta.Dtype)
	}
	dt, order, err := array.ParseZarr(typestr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chunked.ErrUnsupported, err)
	}
	comp := codec.None
	if meta.Compressor != nil {
		if comp, err = codec.Parse(meta.Compressor.ID); err != nil {
			return nil, fmt.Errorf("%w: %w", chunked.ErrUnsupported, err)
		}
	}
	switch meta.DimensionSeparator {
	case "":
		meta.DimensionSeparator = "."
	case ".", "/":
	default:
		return nil, fmt.Errorf("%w: dimension_separator %q", chunked.ErrUnsupported, meta.DimensionSeparator)
	}

	attrs := &chunked.Attributes{
		Shape:       slices.Clone(meta.Shape),
		ChunkShape:  slices.Clone(meta.Chunks),
		DataType:    dt,
		ByteOrder:   order,
		Compression: comp,
		Separator:   meta.DimensionSeparator,
	}
	slices.Reverse(attrs.Shape)
	slices.Reverse(attrs.ChunkShape)
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// ReadBlock implements chunked.Reader. Zarr stores every chunk at full
// chunk size, so the returned dims always equal attrs.ChunkShape.
func (r *Reader) ReadBlock(ctx context.Context, path string, attrs *chunked.Attributes, pos []int64) (*chunked.RawBlock, error) {
	if len(pos) != attrs.NumDims() {
		return nil, fmt.Errorf("%w: grid position rank %d, array rank %d", chunked.ErrCorrupt, len(pos), attrs.NumDims())
	}
	key := store.Join(path, ChunkKey(pos, attrs.Separator))
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	n := 1
	for _, c := range attrs.ChunkShape {
		n *= c
	}
	data, err := r.codec.Decompress(attrs.Compression, raw, n*attrs.DataType.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chunked.ErrCorrupt, key, err)
	}
	dims := slices.Clone(attrs.ChunkShape)
	if err := chunked.CheckBlock(attrs, dims, data); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &chunked.RawBlock{Dims: dims, Data: data}, nil
}

// Attribute implements chunked.Reader using the .zattrs document at path.
func (r *Reader) Attribute(ctx context.Context, path, key string, dst any) error {
	raw, err := r.get(ctx, store.Join(path, AttrsKey))
	if err != nil {
		return err
	}
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return fmt.Errorf("zarr: decode %s: %w", store.Join(path, AttrsKey), err)
	}
	v, ok := attrs[key]
	if !ok {
		return fmt.Errorf("%w: attribute %q at %q", chunked.ErrNotFound, key, path)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("zarr: decode attribute %q at %q: %w", key, path, err)
	}
	return nil
}

// ChunkKey builds the chunk key for a viewer-order grid position. An empty
// separator means ".".
func ChunkKey(pos []int64, sep string) string {
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[len(pos)-1-i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(parts, sep)
}

func (r *Reader) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", chunked.ErrNotFound, key)
	}
	return raw, err
}
