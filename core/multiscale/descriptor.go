package multiscale

import (
	"fmt"
	"strconv"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/geom"
	"github.com/meigma/pyramid/core/store"
)

// Level is one resolution of a pyramid.
type Level struct {
	// Path is the dataset path relative to the image.
	Path string
	// Factors is the downsampling factor along x, y and z relative to
	// level 0.
	Factors [3]float64
	// Transform maps level voxel coordinates to level-0 coordinates.
	Transform geom.Affine3D
	// Attrs describes the level's array. For images stored one timepoint
	// per group it is read from the first timepoint and assumed to hold for
	// all of them.
	Attrs *chunked.Attributes
}

// Descriptor is the resolved pyramid of one image.
type Descriptor struct {
	// Path is the image group inside the store.
	Path    string
	Format  chunked.Format
	Version string
	Name    string

	// Axes lists the array axes in viewer order.
	Axes  []Axis
	Roles Roles

	// Levels are ordered finest (0) to coarsest.
	Levels []Level

	// VoxelSize is the level-0 voxel extent along x, y and z in Unit.
	VoxelSize [3]float64
	Unit      string

	NumChannels   int
	NumTimepoints int

	// timepointGroups is set for N5 images that store each timepoint in
	// its own timepoint<N> group.
	timepointGroups bool
}

// NumLevels returns the number of resolution levels.
func (d *Descriptor) NumLevels() int {
	return len(d.Levels)
}

// Factors returns the downsampling factors of every level.
func (d *Descriptor) Factors() [][3]float64 {
	out := make([][3]float64, len(d.Levels))
	for i, l := range d.Levels {
		out[i] = l.Factors
	}
	return out
}

// Transforms returns the mipmap transform of every level.
func (d *Descriptor) Transforms() []geom.Affine3D {
	out := make([]geom.Affine3D, len(d.Levels))
	for i, l := range d.Levels {
		out[i] = l.Transform
	}
	return out
}

// DatasetPath returns the store path of the array holding level at
// timepoint.
func (d *Descriptor) DatasetPath(timepoint, level int) (string, error) {
	if level < 0 || level >= len(d.Levels) {
		return "", fmt.Errorf("multiscale: level %d out of range [0, %d)", level, len(d.Levels))
	}
	if timepoint < 0 || timepoint >= d.NumTimepoints {
		return "", fmt.Errorf("multiscale: timepoint %d out of range [0, %d)", timepoint, d.NumTimepoints)
	}
	if d.timepointGroups {
		return store.Join(d.Path, "timepoint"+strconv.Itoa(timepoint), d.Levels[level].Path), nil
	}
	return store.Join(d.Path, d.Levels[level].Path), nil
}

// newLevel builds a level and its mipmap transform.
func newLevel(path string, factors [3]float64, attrs *chunked.Attributes) Level {
	return Level{
		Path:      path,
		Factors:   factors,
		Transform: geom.MipmapTransform(factors),
		Attrs:     attrs,
	}
}
