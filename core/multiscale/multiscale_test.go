package multiscale_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/chunked/n5"
	"github.com/meigma/pyramid/core/chunked/zarr"
	"github.com/meigma/pyramid/core/geom"
	"github.com/meigma/pyramid/core/multiscale"
	"github.com/meigma/pyramid/core/store"
)

// putZarray writes .zarray for a C-order shape.
func putZarray(s *store.MemoryStore, path string, shape, chunks []int) {
	s.Put(store.Join(path, ".zarray"), fmt.Appendf(nil,
		`{"zarr_format":2,"shape":%s,"chunks":%s,"dtype":"<u2","compressor":null,"order":"C","fill_value":0}`,
		jsonInts(shape), jsonInts(chunks)))
}

func jsonInts(v []int) string {
	out := "["
	for i, n := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(n)
	}
	return out + "]"
}

func omeStore(t *testing.T, attrs string) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(t.Name())
	s.Put(".zattrs", []byte(attrs))
	putZarray(s, "0", []int{2, 3, 100, 100, 100}, []int{1, 1, 32, 32, 32})
	putZarray(s, "1", []int{2, 3, 50, 50, 50}, []int{1, 1, 32, 32, 32})
	putZarray(s, "2", []int{2, 3, 25, 25, 25}, []int{1, 1, 32, 32, 32})
	return s
}

const omeV04 = `{"multiscales":[{
	"version": "0.4",
	"name": "cells",
	"axes": [
		{"name":"t","type":"time","unit":"second"},
		{"name":"c","type":"channel"},
		{"name":"z","type":"space","unit":"micrometer"},
		{"name":"y","type":"space","unit":"micrometer"},
		{"name":"x","type":"space","unit":"micrometer"}
	],
	"datasets": [
		{"path":"0","coordinateTransformations":[{"type":"scale","scale":[1,1,2.0,0.5,0.5]}]},
		{"path":"1","coordinateTransformations":[{"type":"scale","scale":[1,1,4.0,1.0,1.0]}]},
		{"path":"2","coordinateTransformations":[{"type":"scale","scale":[1,1,8.0,2.0,2.0]}]}
	],
	"coordinateTransformations": [{"type":"scale","scale":[1,1,1,2,2]}]
}]}`

func TestResolveOMEv04(t *testing.T) {
	t.Parallel()

	s := omeStore(t, omeV04)
	d, err := multiscale.Resolve(context.Background(), zarr.New(s, nil), "")
	require.NoError(t, err)

	assert.Equal(t, 3, d.NumLevels())
	assert.Equal(t, "0.4", d.Version)
	assert.Equal(t, "cells", d.Name)
	assert.Equal(t, chunked.Zarr, d.Format)
	assert.Equal(t, [][3]float64{{1, 1, 1}, {2, 2, 2}, {4, 4, 4}}, d.Factors())
	assert.Equal(t, multiscale.Roles{Spatial: [3]int{0, 1, 2}, Channel: 3, Time: 4}, d.Roles)
	assert.Equal(t, 3, d.NumChannels)
	assert.Equal(t, 2, d.NumTimepoints)
	assert.Equal(t, [3]float64{1, 1, 2}, d.VoxelSize)
	assert.Equal(t, "micrometer", d.Unit)
	assert.True(t, d.Transforms()[1].EqualApprox(geom.MipmapTransform([3]float64{2, 2, 2}), 1e-12))
	assert.Equal(t, []int64{25, 25, 25, 3, 2}, d.Levels[2].Attrs.Shape)

	p, err := d.DatasetPath(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "2", p)
	_, err = d.DatasetPath(0, 3)
	require.Error(t, err)
	_, err = d.DatasetPath(2, 0)
	require.Error(t, err)
}

func TestResolveOMEShapeFactors(t *testing.T) {
	t.Parallel()

	// 0.1 has no axes and no scales: default t,c,z,y,x and shape ratios
	s := omeStore(t, `{"multiscales":[{"version":"0.1","datasets":[{"path":"0"},{"path":"1"},{"path":"2"}]}]}`)
	d, err := multiscale.Resolve(context.Background(), zarr.New(s, nil), "")
	require.NoError(t, err)
	assert.Equal(t, [][3]float64{{1, 1, 1}, {2, 2, 2}, {4, 4, 4}}, d.Factors())
	assert.Equal(t, [3]float64{1, 1, 1}, d.VoxelSize)
	assert.Equal(t, "x", d.Axes[0].Name)
	assert.Equal(t, "t", d.Axes[4].Name)

	// 0.3 lists axis names
	s = omeStore(t, `{"multiscales":[{"version":"0.3","axes":["t","c","z","y","x"],"datasets":[{"path":"0"},{"path":"1"}]}]}`)
	d, err = multiscale.Resolve(context.Background(), zarr.New(s, nil), "")
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumLevels())
	assert.Equal(t, multiscale.AxisTime, d.Axes[4].Type)
}

func TestResolveOMEErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad version":     `{"multiscales":[{"version":"0.5","datasets":[{"path":"0"}]}]}`,
		"missing version": `{"multiscales":[{"datasets":[{"path":"0"}]}]}`,
		"no datasets":     `{"multiscales":[{"version":"0.4","datasets":[]}]}`,
		"empty list":      `{"multiscales":[]}`,
		"no multiscales":  `{"other":1}`,
		"v04 no scale":    `{"multiscales":[{"version":"0.4","axes":["t","c","z","y","x"],"datasets":[{"path":"0"}]}]}`,
		"axis count":      `{"multiscales":[{"version":"0.3","axes":["z","y","x"],"datasets":[{"path":"0"}]}]}`,
		"missing dataset": `{"multiscales":[{"version":"0.2","datasets":[{"path":"0"},{"path":"9"}]}]}`,
		"bad axis type":   `{"multiscales":[{"version":"0.4","axes":[{"name":"t","type":"time"},{"name":"c","type":"channel"},{"name":"z","type":"space"},{"name":"y","type":"space"},{"name":"q","type":"weird"}],"datasets":[{"path":"0","coordinateTransformations":[{"type":"scale","scale":[1,1,1,1,1]}]}]}]}`,
	}
	for name, attrs := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := omeStore(t, attrs)
			_, err := multiscale.Resolve(context.Background(), zarr.New(s, nil), "")
			require.ErrorIs(t, err, multiscale.ErrMetadata)
			var me *multiscale.MetadataError
			require.ErrorAs(t, err, &me)
		})
	}
}

func TestDiscoverBioformats2raw(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore("b2r")
	s.Put(".zattrs", []byte(`{"bioformats2raw.layout":3}`))
	for _, series := range []string{"0", "1"} {
		s.Put(series+"/.zattrs", []byte(`{"multiscales":[{"version":"0.4","axes":["z","y","x"],"datasets":[{"path":"0","coordinateTransformations":[{"type":"scale","scale":[1,1,1]}]}]}]}`))
		putZarray(s, series+"/0", []int{8, 8, 8}, []int{4, 4, 4})
	}

	images, err := multiscale.Discover(context.Background(), zarr.New(s, nil), "")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "1", images[1].Path)
	p, err := images[1].DatasetPath(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "1/0", p)
}

func putN5(s *store.MemoryStore, path string, dims []int) {
	s.Put(store.Join(path, n5.AttributesKey), fmt.Appendf(nil,
		`{"dimensions":%s,"blockSize":[32,32,32],"dataType":"uint16","compression":{"type":"raw"}}`, jsonInts(dims)))
}

func TestResolveN5(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore("n5")
	s.Put("attributes.json", []byte(`{"n5":"2.5.1","downsamplingFactors":[[1,1,1],[2,2,1],[4,4,2]],"pixelResolution":{"dimensions":[0.2,0.2,1.5],"unit":"um"}}`))
	putN5(s, "s0", []int{100, 100, 40})
	putN5(s, "s1", []int{50, 50, 40})
	putN5(s, "s2", []int{25, 25, 20})

	images, err := multiscale.Discover(context.Background(), n5.New(s, nil), "")
	require.NoError(t, err)
	require.Len(t, images, 1)
	d := images[0]
	assert.Equal(t, [][3]float64{{1, 1, 1}, {2, 2, 1}, {4, 4, 2}}, d.Factors())
	assert.Equal(t, [3]float64{0.2, 0.2, 1.5}, d.VoxelSize)
	assert.Equal(t, "um", d.Unit)
	assert.Equal(t, 1, d.NumTimepoints)
	assert.Equal(t, 1, d.NumChannels)
	p, err := d.DatasetPath(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "s2", p)
}

func TestDiscoverN5Setups(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore("bdv")
	s.Put("attributes.json", []byte(`{"n5":"2.0.0"}`))
	for setup := range 2 {
		sp := fmt.Sprintf("setup%d", setup)
		// no factors listed: probe levels and derive factors from shapes
		s.Put(sp+"/attributes.json", []byte(`{"dataType":"uint16"}`))
		for tp := range 3 {
			putN5(s, fmt.Sprintf("%s/timepoint%d/s0", sp, tp), []int{64, 64, 64})
			putN5(s, fmt.Sprintf("%s/timepoint%d/s1", sp, tp), []int{32, 32, 32})
		}
	}

	images, err := multiscale.Discover(context.Background(), n5.New(s, nil), "")
	require.NoError(t, err)
	require.Len(t, images, 2)
	d := images[1]
	assert.Equal(t, 3, d.NumTimepoints)
	assert.Equal(t, [][3]float64{{1, 1, 1}, {2, 2, 2}}, d.Factors())
	p, err := d.DatasetPath(2, 1)
	require.NoError(t, err)
	assert.Equal(t, "setup1/timepoint2/s1", p)
}

func TestResolveN5DeniedLookups(t *testing.T) {
	t.Parallel()

	denied := errors.New("403 AccessDenied")
	s := store.NewMemoryStore("denied")
	s.Put("attributes.json", []byte(`{"n5":"2.0.0"}`))
	putN5(s, "timepoint0/s0", []int{64, 64, 64})
	putN5(s, "timepoint0/s1", []int{32, 32, 32})
	putN5(s, "timepoint1/s0", []int{64, 64, 64})
	// a bucket without list permission answers the first missing key with 403
	s.FailWith("timepoint0/s2/attributes.json", denied)
	s.FailWith("timepoint2/s0/attributes.json", denied)

	d, err := multiscale.Resolve(context.Background(), n5.New(s, nil), "")
	require.NoError(t, err)
	assert.Equal(t, [][3]float64{{1, 1, 1}, {2, 2, 2}}, d.Factors())
	assert.Equal(t, 2, d.NumTimepoints)

	t.Run("first level", func(t *testing.T) {
		t.Parallel()
		s := store.NewMemoryStore("denied-s0")
		s.Put("attributes.json", []byte(`{"n5":"2.0.0"}`))
		putN5(s, "s0", []int{8, 8, 8})
		s.FailWith("s0/attributes.json", denied)
		_, err := multiscale.Resolve(context.Background(), n5.New(s, nil), "")
		require.ErrorIs(t, err, store.ErrTransient)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := multiscale.Resolve(ctx, n5.New(s, nil), "")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestResolveN5Errors(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore("n5")
	s.Put("attributes.json", []byte(`{"n5":"5.0.0"}`))
	putN5(s, "s0", []int{8, 8, 8})
	_, err := multiscale.Discover(context.Background(), n5.New(s, nil), "")
	require.ErrorIs(t, err, multiscale.ErrMetadata)

	empty := store.NewMemoryStore("empty")
	empty.Put("attributes.json", []byte(`{"n5":"2.0.0"}`))
	_, err = multiscale.Discover(context.Background(), n5.New(empty, nil), "")
	require.ErrorIs(t, err, multiscale.ErrMetadata)

	short := store.NewMemoryStore("short")
	short.Put("attributes.json", []byte(`{"downsamplingFactors":[[1,1,1],[2,2,2]]}`))
	putN5(short, "s0", []int{8, 8, 8})
	_, err = multiscale.Resolve(context.Background(), n5.New(short, nil), "")
	require.ErrorIs(t, err, multiscale.ErrMetadata)
}

func TestRolesOf(t *testing.T) {
	t.Parallel()

	r, err := multiscale.RolesOf([]multiscale.Axis{{Name: "x"}, {Name: "y"}})
	require.NoError(t, err)
	assert.Equal(t, [3]int{0, 1, -1}, r.Spatial)

	r, err = multiscale.RolesOf([]multiscale.Axis{{Name: "u", Type: "space"}, {Name: "v", Type: "space"}, {Name: "c"}})
	require.NoError(t, err)
	assert.Equal(t, [3]int{0, 1, -1}, r.Spatial)
	assert.Equal(t, 2, r.Channel)

	_, err = multiscale.RolesOf([]multiscale.Axis{{Name: "c"}, {Name: "t"}})
	require.Error(t, err)
	_, err = multiscale.RolesOf([]multiscale.Axis{{Name: "x"}, {Name: "c"}, {Name: "c"}})
	require.Error(t, err)
}
