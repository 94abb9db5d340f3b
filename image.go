package pyramid

import (
	"context"
	"errors"
	"fmt"

	"github.com/meigma/pyramid/core/cache"
	"github.com/meigma/pyramid/core/grid"
	"github.com/meigma/pyramid/core/loader"
)

// maxAttempts bounds how often a read follows the loader through Close and
// reopen.
const maxAttempts = 3

// CellImage is one level of one setup at one timepoint, addressed by cell.
type CellImage struct {
	setup     *SetupLoader
	timepoint int
	level     int
	strategy  cache.Strategy
	mapper    *grid.Mapper
}

// Dims returns the image extent in voxels.
func (im *CellImage) Dims() [3]int64 {
	return im.mapper.ImageDims()
}

// GridDims returns the number of cells along x, y and z.
func (im *CellImage) GridDims() [3]int64 {
	return im.mapper.GridDims()
}

// CellDims returns the extent of cell, clipped at the image boundary.
func (im *CellImage) CellDims(cell [3]int64) ([3]int, error) {
	return im.mapper.CellDims(cell)
}

// Level returns the resolution level.
func (im *CellImage) Level() int {
	return im.level
}

// Timepoint returns the timepoint.
func (im *CellImage) Timepoint() int {
	return im.timepoint
}

// Cell returns the block of cell. Volatile images return ErrNotReady for
// cells that are still loading.
func (im *CellImage) Cell(ctx context.Context, cell [3]int64) (*Block, error) {
	if !im.mapper.Contains(cell) {
		return nil, fmt.Errorf("%w: cell %v, grid %v", ErrOutOfBounds, cell, im.mapper.GridDims())
	}
	key := cache.Key{
		Setup:     im.setup.ID(),
		Timepoint: im.timepoint,
		Level:     im.level,
		Grid:      cell,
	}
	// coarse levels get the lowest queue index
	priority := im.setup.NumMipmapLevels() - 1 - im.level

	var err error
	for range maxAttempts {
		var sess *session
		sess, err = im.setup.loader.acquire(ctx)
		if err != nil {
			return nil, err
		}
		var load cache.LoadFunc
		load, err = im.loadFunc(sess, cell)
		if err != nil {
			return nil, err
		}

		var b *Block
		b, err = sess.cache.Get(ctx, key, im.strategy, load, priority)
		if errors.Is(err, cache.ErrCleared) && ctx.Err() == nil {
			continue
		}
		return b, err
	}
	return nil, err
}

// loadFunc builds the load of cell against sess.
func (im *CellImage) loadFunc(sess *session, cell [3]int64) (cache.LoadFunc, error) {
	id := im.setup.ID()
	if id >= len(sess.setups) {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownSetup, id, len(sess.setups))
	}
	st := sess.setups[id]
	lv := st.levels[im.level]
	coord, err := lv.mapper.ToStoreCoordinate(cell, im.timepoint, st.channel)
	if err != nil {
		return nil, err
	}
	dims, err := lv.mapper.CellDims(cell)
	if err != nil {
		return nil, err
	}
	path, err := st.desc.DatasetPath(im.timepoint, im.level)
	if err != nil {
		return nil, err
	}
	req := loader.Request{
		Path:   path,
		Attrs:  lv.attrs,
		Mapper: lv.mapper,
		Coord:  coord,
		Dims:   dims,
		Decode: lv.decode,
	}
	return func(ctx context.Context) *loader.Block {
		return sess.loader.Load(ctx, req)
	}, nil
}

// Voxel returns the value at pos, in voxels of this level.
func (im *CellImage) Voxel(ctx context.Context, pos [3]int64) (float64, error) {
	cell, err := im.mapper.CellOf(pos)
	if err != nil {
		return 0, err
	}
	b, err := im.Cell(ctx, cell)
	if err != nil {
		return 0, err
	}
	nominal := im.mapper.NominalCellDims()
	var local [3]int
	for i := range local {
		local[i] = int(pos[i] - cell[i]*int64(nominal[i]))
	}
	return b.Data.Float64(local[0] + b.Dims[0]*(local[1]+b.Dims[1]*local[2])), nil
}
