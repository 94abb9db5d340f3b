package multiscale

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/store"
)

// maxN5Major is the newest N5 major version this package reads.
const maxN5Major = 4

// errNoLevels reports a group without an s0 dataset.
var errNoLevels = errors.New("no s0 dataset")

// maxProbe bounds how many level or timepoint groups are probed when the
// metadata does not list them.
const maxProbe = 1 << 16

type pixelResolution struct {
	Dimensions []float64 `json:"dimensions"`
	Unit       string    `json:"unit"`
}

// checkN5Version validates the "n5" version attribute at path if present.
func checkN5Version(ctx context.Context, r chunked.Reader, path string) error {
	var version string
	err := r.Attribute(ctx, path, "n5", &version)
	if errors.Is(err, chunked.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n > maxN5Major {
		return metadataError(path, "unsupported N5 version %q", version)
	}
	return nil
}

// optionalAttribute decodes key into dst and reports whether it was present.
func optionalAttribute(ctx context.Context, r chunked.Reader, path, key string, dst any) (bool, error) {
	err := r.Attribute(ctx, path, key, dst)
	if errors.Is(err, chunked.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &MetadataError{Path: path, Err: err}
	}
	return true, nil
}

// resolveN5 reads an N5 multiscale group. Levels are the datasets s0, s1, ...
// either directly under path or under path/timepoint<N>.
func resolveN5(ctx context.Context, r chunked.Reader, path string) (*Descriptor, error) {
	if err := checkN5Version(ctx, r, path); err != nil {
		return nil, err
	}

	var factors [][]float64
	found, err := optionalAttribute(ctx, r, path, "downsamplingFactors", &factors)
	if err != nil {
		return nil, err
	}
	if !found {
		if _, err := optionalAttribute(ctx, r, path, "scales", &factors); err != nil {
			return nil, err
		}
	}

	d := &Descriptor{
		Path:          path,
		Format:        chunked.N5,
		VoxelSize:     [3]float64{1, 1, 1},
		NumTimepoints: 1,
	}
	base := path
	if _, err := r.DatasetAttributes(ctx, store.Join(path, "s0")); errors.Is(err, chunked.ErrNotFound) {
		if _, err := r.DatasetAttributes(ctx, store.Join(path, "timepoint0", "s0")); err != nil {
			if errors.Is(err, chunked.ErrNotFound) {
				return nil, &MetadataError{Path: path, Err: errNoLevels}
			}
			return nil, err
		}
		d.timepointGroups = true
		base = store.Join(path, "timepoint0")
	} else if err != nil {
		return nil, err
	}

	var attrs []*chunked.Attributes
	if len(factors) > 0 {
		for i := range factors {
			a, err := r.DatasetAttributes(ctx, store.Join(base, levelPath(i)))
			if err != nil {
				if errors.Is(err, chunked.ErrNotFound) {
					return nil, &MetadataError{Path: path, Err: fmt.Errorf("level %d: %w", i, err)}
				}
				return nil, err
			}
			attrs = append(attrs, a)
		}
	} else {
		for i := range maxProbe {
			a, err := r.DatasetAttributes(ctx, store.Join(base, levelPath(i)))
			if err != nil {
				if endsSequence(ctx, err, len(attrs)) {
					break
				}
				return nil, err
			}
			attrs = append(attrs, a)
		}
	}
	rank := attrs[0].NumDims()
	for i, a := range attrs {
		if a.NumDims() != rank {
			return nil, metadataError(path, "level %d has rank %d, level 0 has %d", i, a.NumDims(), rank)
		}
	}

	var names []string
	if _, err := optionalAttribute(ctx, r, path, "axes", &names); err != nil {
		return nil, err
	}
	if names != nil {
		if len(names) != rank {
			return nil, metadataError(path, "%d axes for %d dimensions", len(names), rank)
		}
		d.Axes = make([]Axis, rank)
		for i, n := range names {
			d.Axes[i] = Axis{Name: n}
		}
	} else if d.Axes, err = defaultAxes(rank); err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	if d.Roles, err = RolesOf(d.Axes); err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	d.NumChannels = axisLen(attrs[0], d.Roles.Channel)
	if !d.timepointGroups {
		d.NumTimepoints = axisLen(attrs[0], d.Roles.Time)
	}

	for i, a := range attrs {
		var f [3]float64
		for s, axis := range d.Roles.Spatial {
			switch {
			case axis < 0:
				f[s] = 1
			case len(factors) > 0 && axis < len(factors[i]):
				f[s] = factors[i][axis]
			default:
				f[s] = shapeFactor(attrs[0].Shape[axis], a.Shape[axis])
			}
			if f[s] <= 0 {
				return nil, metadataError(path, "level %d has invalid factor %v on axis %d", i, f[s], s)
			}
		}
		d.Levels = append(d.Levels, newLevel(levelPath(i), f, a))
	}

	if err := d.readN5Resolution(ctx, r); err != nil {
		return nil, err
	}
	if d.timepointGroups {
		if d.NumTimepoints, err = countTimepoints(ctx, r, path); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// readN5Resolution reads pixelResolution, falling back to the plain
// resolution list.
func (d *Descriptor) readN5Resolution(ctx context.Context, r chunked.Reader) error {
	var res pixelResolution
	found, err := optionalAttribute(ctx, r, d.Path, "pixelResolution", &res)
	if err != nil {
		return err
	}
	if !found {
		if _, err := optionalAttribute(ctx, r, d.Path, "resolution", &res.Dimensions); err != nil {
			return err
		}
	}
	for s, axis := range d.Roles.Spatial {
		if axis >= 0 && axis < len(res.Dimensions) {
			d.VoxelSize[s] = res.Dimensions[axis]
		}
	}
	d.Unit = res.Unit
	return nil
}

func countTimepoints(ctx context.Context, r chunked.Reader, path string) (int, error) {
	n := 1
	for n < maxProbe {
		_, err := r.DatasetAttributes(ctx, store.Join(path, "timepoint"+strconv.Itoa(n), "s0"))
		if err != nil {
			if endsSequence(ctx, err, n) {
				break
			}
			return 0, err
		}
		n++
	}
	return n, nil
}

// endsSequence reports whether a failed lookup of the next numbered group ends
// the sequence. Absent keys always do. Once found groups exist, other read
// failures do too, since stores that deny listing often answer a missing key
// with 403. Cancellation never does.
func endsSequence(ctx context.Context, err error, found int) bool {
	if errors.Is(err, chunked.ErrNotFound) {
		return true
	}
	return found > 0 && ctx.Err() == nil
}

func levelPath(i int) string {
	return "s" + strconv.Itoa(i)
}
