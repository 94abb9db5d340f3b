// Package testutil writes synthetic Zarr and N5 pyramids for tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/chunked/n5"
	"github.com/meigma/pyramid/core/chunked/zarr"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/store"
)

// Pyramid describes a synthetic multiscale image. Each level halves the
// previous one along x, y and z.
type Pyramid struct {
	Format chunked.Format
	// Shape is the level-0 extent along x, y and z.
	Shape [3]int64
	Chunk [3]int
	// Levels defaults to 1.
	Levels int
	// DataType defaults to uint16.
	DataType    array.DataType
	Compression codec.ID
	// Channels and Timepoints default to 1. Zarr images with either above 1
	// are written 5-D (t, c, z, y, x); N5 images keep one group per
	// timepoint and ignore Channels.
	Channels   int
	Timepoints int
	// Skip reports chunks that should not be written.
	Skip func(level int, cell [3]int64) bool
}

func (p *Pyramid) defaults() {
	if p.Format == "" {
		p.Format = chunked.Zarr
	}
	if p.Levels == 0 {
		p.Levels = 1
	}
	if p.DataType == array.Invalid {
		p.DataType = array.Uint16
	}
	if p.Compression == "" {
		p.Compression = codec.None
	}
	p.Channels = max(p.Channels, 1)
	p.Timepoints = max(p.Timepoints, 1)
}

// LevelShape returns the extent of level along x, y and z.
func (p Pyramid) LevelShape(level int) [3]int64 {
	var s [3]int64
	for i, n := range p.Shape {
		f := int64(1) << level
		s[i] = max((n+f-1)/f, 1)
	}
	return s
}

// Value is the deterministic voxel value of every fixture. It fits every
// supported element kind.
func Value(level, timepoint, channel int, x, y, z int64) float64 {
	return float64((x + 3*y + 7*z + 11*int64(channel) + 13*int64(timepoint) + 17*int64(level)) % 113)
}

// WritePyramid writes p into s under root.
func WritePyramid(tb testing.TB, s *store.MemoryStore, root string, p Pyramid) {
	tb.Helper()
	p.defaults()
	switch p.Format {
	case chunked.Zarr:
		writeZarr(tb, s, root, p)
	case chunked.N5:
		writeN5(tb, s, root, p)
	default:
		tb.Fatalf("testutil: unknown format %q", p.Format)
	}
}

func (p Pyramid) fiveD() bool {
	return p.Channels > 1 || p.Timepoints > 1
}

func writeZarr(tb testing.TB, s *store.MemoryStore, root string, p Pyramid) {
	tb.Helper()

	type axis struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	type transform struct {
		Type  string    `json:"type"`
		Scale []float64 `json:"scale"`
	}
	type dataset struct {
		Path                      string      `json:"path"`
		CoordinateTransformations []transform `json:"coordinateTransformations"`
	}
	axes := []axis{{"z", "space"}, {"y", "space"}, {"x", "space"}}
	if p.fiveD() {
		axes = append([]axis{{"t", "time"}, {"c", "channel"}}, axes...)
	}
	var datasets []dataset
	for l := range p.Levels {
		f := float64(int64(1) << l)
		scale := []float64{f, f, f}
		if p.fiveD() {
			scale = append([]float64{1, 1}, scale...)
		}
		datasets = append(datasets, dataset{
			Path:                      fmt.Sprint(l),
			CoordinateTransformations: []transform{{Type: "scale", Scale: scale}},
		})
	}
	putJSON(tb, s, store.Join(root, zarr.GroupKey), map[string]any{"zarr_format": 2})
	putJSON(tb, s, store.Join(root, zarr.AttrsKey), map[string]any{
		"multiscales": []map[string]any{{
			"version":  "0.4",
			"name":     "fixture",
			"axes":     axes,
			"datasets": datasets,
		}},
	})

	typestr, err := zarrTypestr(p.DataType)
	if err != nil {
		tb.Fatal(err)
	}
	for l := range p.Levels {
		shape := p.LevelShape(l)
		path := store.Join(root, fmt.Sprint(l))
		cShape := []int64{shape[2], shape[1], shape[0]}
		cChunks := []int{p.Chunk[2], p.Chunk[1], p.Chunk[0]}
		if p.fiveD() {
			cShape = append([]int64{int64(p.Timepoints), int64(p.Channels)}, cShape...)
			cChunks = append([]int{1, 1}, cChunks...)
		}
		var compressor any
		if p.Compression != codec.None {
			compressor = map[string]string{"id": string(p.Compression)}
		}
		putJSON(tb, s, store.Join(path, zarr.ArrayKey), map[string]any{
			"zarr_format": 2,
			"shape":       cShape,
			"chunks":      cChunks,
			"dtype":       typestr,
			"compressor":  compressor,
			"fill_value":  0,
			"order":       "C",
			"filters":     nil,
		})

		forEachCell(shape, p.Chunk, func(cell [3]int64) {
			if p.Skip != nil && p.Skip(l, cell) {
				return
			}
			for t := range p.Timepoints {
				for c := range p.Channels {
					// zarr stores edge chunks at full size
					data := chunkData(p, l, t, c, cell, shape, p.Chunk, false)
					pos := []int64{cell[0], cell[1], cell[2]}
					if p.fiveD() {
						pos = append(pos, int64(c), int64(t))
					}
					key := store.Join(path, zarr.ChunkKey(pos, "."))
					s.Put(key, compress(tb, p.Compression, array.Encode(data, binary.LittleEndian)))
				}
			}
		})
	}
}

func writeN5(tb testing.TB, s *store.MemoryStore, root string, p Pyramid) {
	tb.Helper()

	factors := make([][]int64, p.Levels)
	for l := range factors {
		f := int64(1) << l
		factors[l] = []int64{f, f, f}
	}
	putJSON(tb, s, store.Join(root, n5.AttributesKey), map[string]any{
		"n5":                  "2.5.1",
		"downsamplingFactors": factors,
		"pixelResolution":     map[string]any{"dimensions": []float64{1, 1, 1}, "unit": "um"},
	})

	compression := map[string]any{"type": string(p.Compression)}
	if p.Compression == codec.Zlib {
		compression = map[string]any{"type": "gzip", "useZlib": true}
	}
	for t := range p.Timepoints {
		base := root
		if p.Timepoints > 1 {
			base = store.Join(root, fmt.Sprintf("timepoint%d", t))
		}
		for l := range p.Levels {
			shape := p.LevelShape(l)
			path := store.Join(base, fmt.Sprintf("s%d", l))
			putJSON(tb, s, store.Join(path, n5.AttributesKey), map[string]any{
				"dimensions":  shape[:],
				"blockSize":   p.Chunk[:],
				"dataType":    p.DataType.String(),
				"compression": compression,
			})
			forEachCell(shape, p.Chunk, func(cell [3]int64) {
				if p.Skip != nil && p.Skip(l, cell) {
					return
				}
				// N5 stores edge blocks truncated
				data := chunkData(p, l, t, 0, cell, shape, p.Chunk, true)
				dims := clipped(cell, shape, p.Chunk)
				payload := compress(tb, p.Compression, array.Encode(data, binary.BigEndian))
				key := store.Join(path, n5.BlockKey(cell[:]))
				s.Put(key, n5.EncodeBlock(dims[:], payload))
			})
		}
	}
}

// WriteDir writes p under dir as plain files.
func WriteDir(tb testing.TB, dir string, p Pyramid) {
	tb.Helper()
	s := store.NewMemoryStore("dir")
	WritePyramid(tb, s, "", p)
	for _, key := range s.Keys() {
		data, err := s.Get(context.Background(), key)
		if err != nil {
			tb.Fatal(err)
		}
		path := filepath.Join(dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // test fixture
			tb.Fatal(err)
		}
	}
}

// ExpectedCell returns the voxel values of a cell as written by WritePyramid,
// clipped at the volume boundary.
func ExpectedCell(p Pyramid, level, timepoint, channel int, cell [3]int64) []float64 {
	p.defaults()
	shape := p.LevelShape(level)
	dims := clipped(cell, shape, p.Chunk)
	out := make([]float64, 0, dims[0]*dims[1]*dims[2])
	for z := range int64(dims[2]) {
		for y := range int64(dims[1]) {
			for x := range int64(dims[0]) {
				gx := cell[0]*int64(p.Chunk[0]) + x
				gy := cell[1]*int64(p.Chunk[1]) + y
				gz := cell[2]*int64(p.Chunk[2]) + z
				out = append(out, Value(level, timepoint, channel, gx, gy, gz))
			}
		}
	}
	return out
}

func clipped(cell [3]int64, shape [3]int64, chunk [3]int) [3]int {
	var dims [3]int
	for i := range dims {
		dims[i] = int(min(int64(chunk[i]), shape[i]-cell[i]*int64(chunk[i])))
	}
	return dims
}

func chunkData(p Pyramid, level, t, c int, cell, shape [3]int64, chunk [3]int, truncate bool) array.Array {
	dims := chunk
	if truncate {
		dims = clipped(cell, shape, chunk)
	}
	vals := make([]float64, dims[0]*dims[1]*dims[2])
	i := 0
	for z := range int64(dims[2]) {
		for y := range int64(dims[1]) {
			for x := range int64(dims[0]) {
				gx := cell[0]*int64(chunk[0]) + x
				gy := cell[1]*int64(chunk[1]) + y
				gz := cell[2]*int64(chunk[2]) + z
				if gx < shape[0] && gy < shape[1] && gz < shape[2] {
					vals[i] = Value(level, t, c, gx, gy, gz)
				}
				i++
			}
		}
	}
	return FromFloat64(p.DataType, vals)
}

func forEachCell(shape [3]int64, chunk [3]int, fn func([3]int64)) {
	var grid [3]int64
	for i := range grid {
		grid[i] = (shape[i] + int64(chunk[i]) - 1) / int64(chunk[i])
	}
	for z := range grid[2] {
		for y := range grid[1] {
			for x := range grid[0] {
				fn([3]int64{x, y, z})
			}
		}
	}
}

// FromFloat64 converts vals to an array of kind dt.
func FromFloat64(dt array.DataType, vals []float64) array.Array {
	switch dt {
	case array.Uint8:
		return convert[uint8, array.Uint8s](vals)
	case array.Uint16:
		return convert[uint16, array.Uint16s](vals)
	case array.Uint32:
		return convert[uint32, array.Uint32s](vals)
	case array.Uint64:
		return convert[uint64, array.Uint64s](vals)
	case array.Int8:
		return convert[int8, array.Int8s](vals)
	case array.Int16:
		return convert[int16, array.Int16s](vals)
	case array.Int32:
		return convert[int32, array.Int32s](vals)
	case array.Int64:
		return convert[int64, array.Int64s](vals)
	case array.Float32:
		return convert[float32, array.Float32s](vals)
	case array.Float64:
		return array.Float64s(slices.Clone(vals))
	default:
		return nil
	}
}

type number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32
}

func convert[T number, S ~[]T](vals []float64) S {
	out := make(S, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}

// ToFloat64 widens every element of a.
func ToFloat64(a array.Array) []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Float64(i)
	}
	return out
}

func zarrTypestr(dt array.DataType) (string, error) {
	kind := map[array.DataType]string{
		array.Uint8: "|u1", array.Int8: "|i1",
		array.Uint16: "<u2", array.Int16: "<i2",
		array.Uint32: "<u4", array.Int32: "<i4", array.Float32: "<f4",
		array.Uint64: "<u8", array.Int64: "<i8", array.Float64: "<f8",
	}[dt]
	if kind == "" {
		return "", fmt.Errorf("testutil: no zarr typestr for %s", dt)
	}
	return kind, nil
}

func compress(tb testing.TB, id codec.ID, data []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	switch id {
	case codec.None:
		return data
	case codec.Gzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			tb.Fatal(err)
		}
		if err := w.Close(); err != nil {
			tb.Fatal(err)
		}
	case codec.Zlib:
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			tb.Fatal(err)
		}
		if err := w.Close(); err != nil {
			tb.Fatal(err)
		}
	case codec.Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			tb.Fatal(err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	default:
		tb.Fatalf("testutil: cannot write %s chunks", id)
	}
	return buf.Bytes()
}

func putJSON(tb testing.TB, s *store.MemoryStore, key string, v any) {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatal(err)
	}
	s.Put(key, data)
}
