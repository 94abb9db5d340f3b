package pyramid

import (
	"fmt"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/cache"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/geom"
)

// SetupLoader exposes one setup: one channel of one image. Its metadata
// is fixed when it is created; reads always go through the loader's current
// session, so a SetupLoader survives Close and reopen.
type SetupLoader struct {
	loader *Loader
	setup  *setup
}

// ID returns the setup id.
func (s *SetupLoader) ID() int {
	return s.setup.id
}

// Name returns the image name from the metadata, if any.
func (s *SetupLoader) Name() string {
	return s.setup.desc.Name
}

// ImageIndex returns the index of the image among the dataset's images.
func (s *SetupLoader) ImageIndex() int {
	return s.setup.image
}

// Channel returns the channel index inside the image.
func (s *SetupLoader) Channel() int {
	return s.setup.channel
}

// Format returns the on-disk format.
func (s *SetupLoader) Format() chunked.Format {
	return s.setup.desc.Format
}

// DataType returns the element kind of the full-resolution level.
func (s *SetupLoader) DataType() array.DataType {
	return s.setup.levels[0].attrs.DataType
}

// NumTimepoints returns the number of timepoints.
func (s *SetupLoader) NumTimepoints() int {
	return s.setup.desc.NumTimepoints
}

// NumMipmapLevels returns the number of resolution levels; level 0 is the
// finest.
func (s *SetupLoader) NumMipmapLevels() int {
	return s.setup.desc.NumLevels()
}

// MipmapResolutions returns the downsampling factors of every level along
// x, y and z.
func (s *SetupLoader) MipmapResolutions() [][3]float64 {
	return s.setup.desc.Factors()
}

// MipmapTransforms returns the transform from each level's voxel grid to
// full-resolution voxel coordinates.
func (s *SetupLoader) MipmapTransforms() []geom.Affine3D {
	return s.setup.desc.Transforms()
}

// VoxelSize returns the physical size of a full-resolution voxel and its
// unit.
func (s *SetupLoader) VoxelSize() ([3]float64, string) {
	return s.setup.desc.VoxelSize, s.setup.desc.Unit
}

// ImageSize returns the extent of level at timepoint in voxels.
func (s *SetupLoader) ImageSize(timepoint, level int) ([3]int64, error) {
	if err := s.check(timepoint, level); err != nil {
		return [3]int64{}, err
	}
	return s.setup.levels[level].mapper.ImageDims(), nil
}

// CellDims returns the nominal cell extent of level.
func (s *SetupLoader) CellDims(level int) ([3]int, error) {
	if err := s.check(0, level); err != nil {
		return [3]int{}, err
	}
	return s.setup.levels[level].mapper.NominalCellDims(), nil
}

// Image returns level at timepoint as a cell image whose reads wait for
// missing cells.
func (s *SetupLoader) Image(timepoint, level int) (*CellImage, error) {
	return s.image(timepoint, level, cache.Blocking)
}

// VolatileImage returns level at timepoint as a cell image whose reads never
// wait: missing cells are queued and reported as ErrNotReady.
func (s *SetupLoader) VolatileImage(timepoint, level int) (*CellImage, error) {
	return s.image(timepoint, level, cache.Budgeted)
}

// CachedImage returns level at timepoint as a cell image that only reports
// cells already loaded.
func (s *SetupLoader) CachedImage(timepoint, level int) (*CellImage, error) {
	return s.image(timepoint, level, cache.DontLoad)
}

func (s *SetupLoader) image(timepoint, level int, strategy cache.Strategy) (*CellImage, error) {
	if err := s.check(timepoint, level); err != nil {
		return nil, err
	}
	return &CellImage{
		setup:     s,
		timepoint: timepoint,
		level:     level,
		strategy:  strategy,
		mapper:    s.setup.levels[level].mapper,
	}, nil
}

func (s *SetupLoader) check(timepoint, level int) error {
	if level < 0 || level >= s.NumMipmapLevels() {
		return fmt.Errorf("%w: level %d of %d", ErrOutOfBounds, level, s.NumMipmapLevels())
	}
	if timepoint < 0 || timepoint >= s.NumTimepoints() {
		return fmt.Errorf("%w: timepoint %d of %d", ErrOutOfBounds, timepoint, s.NumTimepoints())
	}
	return nil
}
