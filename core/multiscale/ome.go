package multiscale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/store"
)

// OME-NGFF attribute key and supported versions.
const omeKey = "multiscales"

var omeVersions = []string{"0.1", "0.2", "0.3", "0.4"}

type omeMultiscale struct {
	Version                   string          `json:"version"`
	Name                      string          `json:"name"`
	Axes                      json.RawMessage `json:"axes"`
	Datasets                  []omeDataset    `json:"datasets"`
	CoordinateTransformations []omeTransform  `json:"coordinateTransformations"`
}

type omeDataset struct {
	Path                      string         `json:"path"`
	CoordinateTransformations []omeTransform `json:"coordinateTransformations"`
}

type omeTransform struct {
	Type        string    `json:"type"`
	Scale       []float64 `json:"scale"`
	Translation []float64 `json:"translation"`
}

func scaleOf(ts []omeTransform) []float64 {
	for _, t := range ts {
		if t.Type == "scale" {
			return t.Scale
		}
	}
	return nil
}

// parseAxes accepts the 0.3 list of names and the 0.4 list of objects.
func parseAxes(raw json.RawMessage) ([]Axis, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		axes := make([]Axis, len(names))
		for i, n := range names {
			axes[i] = Axis{Name: n}
			axes[i].Type = axisType(axes[i])
		}
		return axes, nil
	}
	var axes []Axis
	if err := json.Unmarshal(raw, &axes); err != nil {
		return nil, fmt.Errorf("decode axes: %w", err)
	}
	return axes, nil
}

// resolveOME reads the first multiscale of the Zarr group at path.
func resolveOME(ctx context.Context, r chunked.Reader, path string) (*Descriptor, error) {
	var all []omeMultiscale
	if err := r.Attribute(ctx, path, omeKey, &all); err != nil {
		if errors.Is(err, chunked.ErrNotFound) {
			return nil, &MetadataError{Path: path, Err: err}
		}
		return nil, err
	}
	if len(all) == 0 {
		return nil, metadataError(path, "empty multiscales list")
	}
	ms := all[0]
	if !slices.Contains(omeVersions, ms.Version) {
		return nil, metadataError(path, "unsupported OME-NGFF version %q", ms.Version)
	}
	if len(ms.Datasets) == 0 {
		return nil, metadataError(path, "no datasets")
	}

	attrs := make([]*chunked.Attributes, len(ms.Datasets))
	for i, ds := range ms.Datasets {
		a, err := r.DatasetAttributes(ctx, store.Join(path, ds.Path))
		if err != nil {
			if errors.Is(err, chunked.ErrNotFound) {
				return nil, &MetadataError{Path: path, Err: fmt.Errorf("dataset %q: %w", ds.Path, err)}
			}
			return nil, err
		}
		if i > 0 && a.NumDims() != attrs[0].NumDims() {
			return nil, metadataError(path, "dataset %q has rank %d, level 0 has %d", ds.Path, a.NumDims(), attrs[0].NumDims())
		}
		attrs[i] = a
	}
	rank := attrs[0].NumDims()

	axes, err := parseAxes(ms.Axes)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	if axes == nil {
		if axes, err = defaultAxes(rank); err != nil {
			return nil, &MetadataError{Path: path, Err: err}
		}
	} else {
		if len(axes) != rank {
			return nil, metadataError(path, "%d axes for %d dimensions", len(axes), rank)
		}
		// metadata lists axes slowest first
		slices.Reverse(axes)
	}
	roles, err := RolesOf(axes)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}

	d := &Descriptor{
		Path:          path,
		Format:        chunked.Zarr,
		Version:       ms.Version,
		Name:          ms.Name,
		Axes:          axes,
		Roles:         roles,
		NumChannels:   axisLen(attrs[0], roles.Channel),
		NumTimepoints: axisLen(attrs[0], roles.Time),
		VoxelSize:     [3]float64{1, 1, 1},
		Unit:          axes[roles.Spatial[0]].Unit,
	}

	scales := make([][]float64, len(ms.Datasets))
	for i, ds := range ms.Datasets {
		s := scaleOf(ds.CoordinateTransformations)
		if s == nil && ms.Version == "0.4" {
			return nil, metadataError(path, "dataset %q has no scale transformation", ds.Path)
		}
		if s != nil && len(s) != rank {
			return nil, metadataError(path, "dataset %q scale has %d entries for %d dimensions", ds.Path, len(s), rank)
		}
		if s != nil {
			s = slices.Clone(s)
			slices.Reverse(s)
		}
		scales[i] = s
	}
	var global []float64
	if g := scaleOf(ms.CoordinateTransformations); g != nil {
		if len(g) != rank {
			return nil, metadataError(path, "global scale has %d entries for %d dimensions", len(g), rank)
		}
		global = slices.Clone(g)
		slices.Reverse(global)
	}

	if scales[0] != nil {
		for s, axis := range roles.Spatial {
			if axis < 0 {
				continue
			}
			d.VoxelSize[s] = scales[0][axis]
			if global != nil {
				d.VoxelSize[s] *= global[axis]
			}
		}
	}

	for i, ds := range ms.Datasets {
		var factors [3]float64
		for s, axis := range roles.Spatial {
			switch {
			case axis < 0:
				factors[s] = 1
			case scales[i] != nil && scales[0] != nil && scales[0][axis] != 0:
				factors[s] = scales[i][axis] / scales[0][axis]
			default:
				factors[s] = shapeFactor(attrs[0].Shape[axis], attrs[i].Shape[axis])
			}
			if factors[s] <= 0 || math.IsInf(factors[s], 0) || math.IsNaN(factors[s]) {
				return nil, metadataError(path, "dataset %q has invalid factor %v on axis %d", ds.Path, factors[s], s)
			}
		}
		d.Levels = append(d.Levels, newLevel(ds.Path, factors, attrs[i]))
	}
	return d, nil
}

// shapeFactor derives a downsampling factor from level extents, rounded to
// the nearest integer as pyramids are built with integer factors.
func shapeFactor(full, level int64) float64 {
	if level <= 0 {
		return math.Inf(1)
	}
	return math.Max(1, math.Round(float64(full)/float64(level)))
}

func axisLen(a *chunked.Attributes, axis int) int {
	if axis < 0 {
		return 1
	}
	return int(a.Shape[axis])
}
