package zarr_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/chunked/zarr"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/store"
)

func TestDatasetAttributes(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore("zarr")
	s.Put("img/0/.zarray", []byte(`{
		"zarr_format": 2,
		"shape": [2, 3, 100, 90, 80],
		"chunks": [1, 1, 32, 32, 32],
		"dtype": "<u2",
		"compressor": {"id": "zstd", "level": 3},
		"fill_value": 0,
		"order": "C",
		"filters": null,
		"dimension_separator": "/"
	}`))

	attrs, err := zarr.New(s, nil).DatasetAttributes(context.Background(), "img/0")
	require.NoError(t, err)
	assert.Equal(t, []int64{80, 90, 100, 3, 2}, attrs.Shape)
	assert.Equal(t, []int{32, 32, 32, 1, 1}, attrs.ChunkShape)
	assert.Equal(t, array.Uint16, attrs.DataType)
	assert.Equal(t, binary.LittleEndian, attrs.ByteOrder)
	assert.Equal(t, codec.Zstd, attrs.Compression)
	assert.Equal(t, "/", attrs.Separator)
	assert.Equal(t, []int64{3, 3, 4, 3, 2}, attrs.GridShape())
}

func TestDatasetAttributesUnsupported(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"fortran order": `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<u1","compressor":null,"order":"F"}`,
		"blosc":         `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<u1","compressor":{"id":"blosc"},"order":"C"}`,
		"structured":    `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":[["a","<u1"]],"compressor":null,"order":"C"}`,
		"complex":       `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<c8","compressor":null,"order":"C"}`,
		"filters":       `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<u1","compressor":null,"order":"C","filters":[{"id":"delta"}]}`,
		"version 3":     `{"zarr_format":3,"shape":[4],"chunks":[4],"dtype":"<u1"}`,
		"zero chunk":    `{"zarr_format":2,"shape":[4],"chunks":[0],"dtype":"<u1","compressor":null,"order":"C"}`,
		"scalar":        `{"zarr_format":2,"shape":[],"chunks":[],"dtype":"<u1","compressor":null,"order":"C"}`,
		"separator":     `{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<u1","compressor":null,"order":"C","dimension_separator":"-"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := store.NewMemoryStore(name)
			s.Put("a/.zarray", []byte(doc))
			_, err := zarr.New(s, nil).DatasetAttributes(context.Background(), "a")
			require.ErrorIs(t, err, chunked.ErrUnsupported)
		})
	}

	_, err := zarr.New(store.NewMemoryStore("empty"), nil).DatasetAttributes(context.Background(), "missing")
	require.ErrorIs(t, err, chunked.ErrNotFound)
}

func TestReadBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore("zarr")
	s.Put("0/.zarray", []byte(`{"zarr_format":2,"shape":[3,4],"chunks":[2,2],"dtype":">i2","compressor":{"id":"zstd"},"order":"C"}`))

	// chunk (row 1, col 0) in C order covers rows 2..3 (row 3 is padding)
	chunk := array.Int16s{-1, 2, 0, 0}
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	s.Put("0/1.0", enc.EncodeAll(array.Encode(chunk, binary.BigEndian), nil))
	require.NoError(t, enc.Close())

	r := zarr.New(s, codec.New())
	attrs, err := r.DatasetAttributes(ctx, "0")
	require.NoError(t, err)

	// viewer order is (col, row)
	block, err := r.ReadBlock(ctx, "0", attrs, []int64{0, 1})
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, []int{2, 2}, block.Dims)
	assert.Equal(t, 4, block.NumElements())

	dec, err := array.DecoderFor(attrs.DataType, attrs.ByteOrder)
	require.NoError(t, err)
	got, err := dec(block.Data, block.NumElements())
	require.NoError(t, err)
	assert.Equal(t, chunk, got)

	absent, err := r.ReadBlock(ctx, "0", attrs, []int64{1, 1})
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestReadBlockFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore("zarr")
	s.Put("0/.zarray", []byte(`{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"<u4","compressor":null,"order":"C"}`))
	r := zarr.New(s, nil)
	attrs, err := r.DatasetAttributes(ctx, "0")
	require.NoError(t, err)

	s.Put("0/0", []byte{1, 2, 3})
	_, err = r.ReadBlock(ctx, "0", attrs, []int64{0})
	require.ErrorIs(t, err, chunked.ErrCorrupt)

	s.FailWith("0/0", errors.New("connection reset"))
	_, err = r.ReadBlock(ctx, "0", attrs, []int64{0})
	require.ErrorIs(t, err, store.ErrTransient)
	assert.Equal(t, 2, s.Gets("0/0"))

	_, err = r.ReadBlock(ctx, "0", attrs, []int64{0, 0})
	require.ErrorIs(t, err, chunked.ErrCorrupt)
}

func TestAttribute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore("zarr")
	s.Put(".zattrs", []byte(`{"multiscales":[{"version":"0.4"}],"name":"cells"}`))
	r := zarr.New(s, nil)

	var name string
	require.NoError(t, r.Attribute(ctx, "", "name", &name))
	assert.Equal(t, "cells", name)

	var missing int
	require.ErrorIs(t, r.Attribute(ctx, "", "nope", &missing), chunked.ErrNotFound)
	require.ErrorIs(t, r.Attribute(ctx, "sub", "name", &name), chunked.ErrNotFound)
	assert.Equal(t, chunked.Zarr, r.Format())
}

func TestChunkKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3.2.1", zarr.ChunkKey([]int64{1, 2, 3}, ""))
	assert.Equal(t, "0/0/7/1/4", zarr.ChunkKey([]int64{4, 1, 7, 0, 0}, "/"))
}
