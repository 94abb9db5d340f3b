// Package n5 reads N5 datasets.
//
// N5 lists dimensions fastest first, which is already viewer order. Blocks
// are stored under path/x/y/z/... with a big-endian header, and blocks at
// the upper edge of a dataset are stored truncated.
package n5

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/store"
	"github.com/meigma/pyramid/internal/sizing"
)

// AttributesKey is the metadata document of every N5 group and dataset.
const AttributesKey = "attributes.json"

// Block header modes.
const (
	modeDefault   = 0
	modeVarLength = 1
	modeObject    = 2
)

// datasetMeta is the subset of attributes.json describing a dataset.
type datasetMeta struct {
	Dimensions  []int64 `json:"dimensions"`
	BlockSize   []int   `json:"blockSize"`
	DataType    string  `json:"dataType"`
	Compression *struct {
		Type    string `json:"type"`
		UseZlib bool   `json:"useZlib"`
	} `json:"compression"`
	// CompressionType is the pre-2.0 spelling of compression.type.
	CompressionType string `json:"compressionType"`
}

// Reader reads N5 datasets from a store.
type Reader struct {
	store store.Store
	codec *codec.Decompressor
}

var _ chunked.Reader = (*Reader)(nil)

// New returns a Reader over s that decompresses blocks with dec.
func New(s store.Store, dec *codec.Decompressor) *Reader {
	if dec == nil {
		dec = codec.New()
	}
	return &Reader{store: s, codec: dec}
}

// Format implements chunked.Reader.
func (r *Reader) Format() chunked.Format {
	return chunked.N5
}

// DatasetAttributes implements chunked.Reader.
func (r *Reader) DatasetAttributes(ctx context.Context, path string) (*chunked.Attributes, error) {
	raw, err := r.attributes(ctx, path)
	if err != nil {
		return nil, err
	}
	var meta datasetMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chunked.ErrUnsupported, store.Join(path, AttributesKey), err)
	}
	if meta.Dimensions == nil || meta.DataType == "" {
		return nil, fmt.Errorf("%w: no dataset at %q", chunked.ErrNotFound, path)
	}
	dt, err := array.ParseN5(meta.DataType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chunked.ErrUnsupported, err)
	}
	comp, err := parseCompression(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chunked.ErrUnsupported, err)
	}
	attrs := &chunked.Attributes{
		Shape:       meta.Dimensions,
		ChunkShape:  meta.BlockSize,
		DataType:    dt,
		ByteOrder:   binary.BigEndian,
		Compression: comp,
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return attrs, nil
}

func parseCompression(meta datasetMeta) (codec.ID, error) {
	name := meta.CompressionType
	if meta.Compression != nil {
		name = meta.Compression.Type
		if name == "gzip" && meta.Compression.UseZlib {
			return codec.Zlib, nil
		}
	}
	return codec.Parse(name)
}

// ReadBlock implements chunked.Reader.
func (r *Reader) ReadBlock(ctx context.Context, path string, attrs *chunked.Attributes, pos []int64) (*chunked.RawBlock, error) {
	if len(pos) != attrs.NumDims() {
		return nil, fmt.Errorf("%w: grid position rank %d, array rank %d", chunked.ErrCorrupt, len(pos), attrs.NumDims())
	}
	key := store.Join(path, BlockKey(pos))
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dims, payload, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	n, err := sizing.Product(dims...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: block dims %v", chunked.ErrCorrupt, key, dims)
	}
	data, err := r.codec.Decompress(attrs.Compression, payload, n*attrs.DataType.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chunked.ErrCorrupt, key, err)
	}
	if err := chunked.CheckBlock(attrs, dims, data); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &chunked.RawBlock{Dims: dims, Data: data}, nil
}

// parseHeader splits a stored block into its dims and compressed payload.
func parseHeader(raw []byte) ([]int, []byte, error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("%w: short block header", chunked.ErrCorrupt)
	}
	mode := binary.BigEndian.Uint16(raw[0:2])
	ndim := int(binary.BigEndian.Uint16(raw[2:4]))
	switch mode {
	case modeDefault:
	case modeVarLength, modeObject:
		return nil, nil, fmt.Errorf("%w: block mode %d", chunked.ErrUnsupported, mode)
	default:
		return nil, nil, fmt.Errorf("%w: unknown block mode %d", chunked.ErrCorrupt, mode)
	}
	off := 4 + 4*ndim
	if len(raw) < off {
		return nil, nil, fmt.Errorf("%w: short block header", chunked.ErrCorrupt)
	}
	dims := make([]int, ndim)
	for i := range dims {
		d, err := sizing.ToInt(int64(binary.BigEndian.Uint32(raw[4+4*i:])))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: block dim %d", chunked.ErrCorrupt, i)
		}
		dims[i] = d
	}
	return dims, raw[off:], nil
}

// Attribute implements chunked.Reader using attributes.json at path.
func (r *Reader) Attribute(ctx context.Context, path, key string, dst any) error {
	raw, err := r.attributes(ctx, path)
	if err != nil {
		return err
	}
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return fmt.Errorf("n5: decode %s: %w", store.Join(path, AttributesKey), err)
	}
	v, ok := attrs[key]
	if !ok {
		return fmt.Errorf("%w: attribute %q at %q", chunked.ErrNotFound, key, path)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("n5: decode attribute %q at %q: %w", key, path, err)
	}
	return nil
}

func (r *Reader) attributes(ctx context.Context, path string) ([]byte, error) {
	key := store.Join(path, AttributesKey)
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", chunked.ErrNotFound, key)
	}
	return raw, err
}

// BlockKey builds the block key for a grid position.
func BlockKey(pos []int64) string {
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(parts, "/")
}

// EncodeBlock prefixes an already compressed payload with a default-mode
// block header for dims.
func EncodeBlock(dims []int, payload []byte) []byte {
	out := make([]byte, 4+4*len(dims), 4+4*len(dims)+len(payload))
	binary.BigEndian.PutUint16(out[0:2], modeDefault)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(dims))) //nolint:gosec // rank is small
	for i, d := range dims {
		binary.BigEndian.PutUint32(out[4+4*i:], uint32(d)) //nolint:gosec // block dims fit in uint32
	}
	return append(out, payload...)
}
