// Package grid maps viewer cell positions onto the chunk grid of an
// n-dimensional store array.
//
// The viewer sees every level as a 3-D grid of cells, one cell per chunk.
// Channel and time axes of the store are fixed per image and timepoint, so a
// cell position plus (timepoint, channel) selects exactly one chunk and an
// offset inside it along those axes.
package grid

import (
	"errors"
	"fmt"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/multiscale"
)

// ErrOutOfBounds is returned for cell, channel or timepoint indices outside
// the array.
var ErrOutOfBounds = errors.New("grid: position out of bounds")

// Coordinate addresses one chunk of the store array.
type Coordinate struct {
	// Pos is the chunk grid position along every store axis.
	Pos []int64
	// Offsets is the element offset inside the chunk along every store
	// axis. It is zero on spatial axes.
	Offsets []int
}

// Mapper translates between viewer cells and store chunks for one level.
// It is immutable and safe for concurrent use.
type Mapper struct {
	attrs     *chunked.Attributes
	roles     multiscale.Roles
	imageDims [3]int64
	cellDims  [3]int
	gridDims  [3]int64
}

// NewMapper builds the mapper for an array whose axes play roles.
// Spatial axes absent from the array have extent 1.
func NewMapper(attrs *chunked.Attributes, roles multiscale.Roles) (*Mapper, error) {
	rank := attrs.NumDims()
	check := func(name string, axis int) error {
		if axis >= rank {
			return fmt.Errorf("grid: %s axis %d outside rank %d", name, axis, rank)
		}
		return nil
	}
	for s, axis := range roles.Spatial {
		if err := check(fmt.Sprintf("spatial %d", s), axis); err != nil {
			return nil, err
		}
	}
	if err := check("channel", roles.Channel); err != nil {
		return nil, err
	}
	if err := check("time", roles.Time); err != nil {
		return nil, err
	}

	m := &Mapper{attrs: attrs, roles: roles}
	for s, axis := range roles.Spatial {
		if axis < 0 {
			m.imageDims[s], m.cellDims[s], m.gridDims[s] = 1, 1, 1
			continue
		}
		m.imageDims[s] = attrs.Shape[axis]
		m.cellDims[s] = attrs.ChunkShape[axis]
		m.gridDims[s] = (attrs.Shape[axis] + int64(attrs.ChunkShape[axis]) - 1) / int64(attrs.ChunkShape[axis])
	}
	return m, nil
}

// ImageDims returns the level extent in voxels along x, y and z.
func (m *Mapper) ImageDims() [3]int64 {
	return m.imageDims
}

// GridDims returns the number of cells along x, y and z.
func (m *Mapper) GridDims() [3]int64 {
	return m.gridDims
}

// NominalCellDims returns the unclipped cell extent.
func (m *Mapper) NominalCellDims() [3]int {
	return m.cellDims
}

// Contains reports whether cell lies inside the grid.
func (m *Mapper) Contains(cell [3]int64) bool {
	for s, c := range cell {
		if c < 0 || c >= m.gridDims[s] {
			return false
		}
	}
	return true
}

// CellDims returns the extent of cell, clipped at the upper volume
// boundary.
func (m *Mapper) CellDims(cell [3]int64) ([3]int, error) {
	if !m.Contains(cell) {
		return [3]int{}, fmt.Errorf("%w: cell %v, grid %v", ErrOutOfBounds, cell, m.gridDims)
	}
	var dims [3]int
	for s, c := range cell {
		start := c * int64(m.cellDims[s])
		dims[s] = int(min(int64(m.cellDims[s]), m.imageDims[s]-start))
	}
	return dims, nil
}

// CellOf returns the cell holding voxel pos.
func (m *Mapper) CellOf(pos [3]int64) ([3]int64, error) {
	var cell [3]int64
	for s, p := range pos {
		if p < 0 || p >= m.imageDims[s] {
			return cell, fmt.Errorf("%w: voxel %v, image %v", ErrOutOfBounds, pos, m.imageDims)
		}
		cell[s] = p / int64(m.cellDims[s])
	}
	return cell, nil
}

// ToStoreCoordinate returns the chunk holding cell at timepoint and channel.
func (m *Mapper) ToStoreCoordinate(cell [3]int64, timepoint, channel int) (Coordinate, error) {
	if !m.Contains(cell) {
		return Coordinate{}, fmt.Errorf("%w: cell %v, grid %v", ErrOutOfBounds, cell, m.gridDims)
	}
	rank := m.attrs.NumDims()
	c := Coordinate{Pos: make([]int64, rank), Offsets: make([]int, rank)}
	for s, axis := range m.roles.Spatial {
		if axis >= 0 {
			c.Pos[axis] = cell[s]
		}
	}
	if err := m.fix(c, m.roles.Channel, channel, "channel"); err != nil {
		return Coordinate{}, err
	}
	if err := m.fix(c, m.roles.Time, timepoint, "timepoint"); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// fix pins a non-spatial axis to index. Without such an axis only index 0
// is valid.
func (m *Mapper) fix(c Coordinate, axis, index int, name string) error {
	if axis < 0 {
		if index != 0 {
			return fmt.Errorf("%w: %s %d of 1", ErrOutOfBounds, name, index)
		}
		return nil
	}
	if index < 0 || int64(index) >= m.attrs.Shape[axis] {
		return fmt.Errorf("%w: %s %d of %d", ErrOutOfBounds, name, index, m.attrs.Shape[axis])
	}
	chunk := m.attrs.ChunkShape[axis]
	c.Pos[axis] = int64(index / chunk)
	c.Offsets[axis] = index % chunk
	return nil
}

// Layout describes how to cut a cell of cellDims out of a decoded block
// of blockDims read at c.
func (m *Mapper) Layout(c Coordinate, blockDims []int, cellDims [3]int) array.Layout {
	return array.Layout{
		SrcDims: blockDims,
		Spatial: m.roles.Spatial,
		Offsets: c.Offsets,
		OutDims: cellDims,
	}
}
