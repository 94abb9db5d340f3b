package multiscale

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/store"
)

// Resolve reads the pyramid of the image group at path.
func Resolve(ctx context.Context, r chunked.Reader, path string) (*Descriptor, error) {
	switch r.Format() {
	case chunked.Zarr:
		return resolveOME(ctx, r, path)
	case chunked.N5:
		return resolveN5(ctx, r, path)
	default:
		return nil, fmt.Errorf("multiscale: unknown format %q", r.Format())
	}
}

// Discover finds the images under root:
//   - a Zarr group with multiscales metadata is one image;
//   - a bioformats2raw layout lists one image per numbered series group;
//   - an N5 group with levels is one image;
//   - otherwise N5 setup<N> groups are one image each.
func Discover(ctx context.Context, r chunked.Reader, root string) ([]*Descriptor, error) {
	switch r.Format() {
	case chunked.Zarr:
		return discoverZarr(ctx, r, root)
	case chunked.N5:
		return discoverN5(ctx, r, root)
	default:
		return nil, fmt.Errorf("multiscale: unknown format %q", r.Format())
	}
}

func discoverZarr(ctx context.Context, r chunked.Reader, root string) ([]*Descriptor, error) {
	var layout int
	found, err := optionalAttribute(ctx, r, root, "bioformats2raw.layout", &layout)
	if err != nil {
		return nil, err
	}
	if !found {
		d, err := resolveOME(ctx, r, root)
		if err != nil {
			return nil, err
		}
		return []*Descriptor{d}, nil
	}
	if layout != 3 {
		return nil, metadataError(root, "unsupported bioformats2raw layout %d", layout)
	}

	var images []*Descriptor
	for i := range maxProbe {
		series := store.Join(root, strconv.Itoa(i))
		var ms []omeMultiscale
		if err := r.Attribute(ctx, series, omeKey, &ms); errors.Is(err, chunked.ErrNotFound) {
			break
		} else if err != nil {
			return nil, err
		}
		d, err := resolveOME(ctx, r, series)
		if err != nil {
			return nil, err
		}
		images = append(images, d)
	}
	if len(images) == 0 {
		return nil, metadataError(root, "bioformats2raw layout without series")
	}
	return images, nil
}

func discoverN5(ctx context.Context, r chunked.Reader, root string) ([]*Descriptor, error) {
	if err := checkN5Version(ctx, r, root); err != nil {
		return nil, err
	}
	d, err := resolveN5(ctx, r, root)
	if err == nil {
		return []*Descriptor{d}, nil
	}
	if !errors.Is(err, ErrMetadata) {
		return nil, err
	}

	var images []*Descriptor
	for i := range maxProbe {
		setup := store.Join(root, "setup"+strconv.Itoa(i))
		sd, serr := resolveN5(ctx, r, setup)
		if serr != nil {
			if i > 0 && isMissingLevel(serr) {
				break
			}
			if i == 0 && isMissingLevel(serr) {
				// no setups either: report the root failure
				return nil, err
			}
			return nil, serr
		}
		images = append(images, sd)
	}
	return images, nil
}

// isMissingLevel reports whether err means no s0 dataset exists at all.
func isMissingLevel(err error) bool {
	return errors.Is(err, errNoLevels)
}
