package pyramid

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/pyramid/core/array"
	"github.com/meigma/pyramid/core/cache"
	"github.com/meigma/pyramid/core/chunked"
	"github.com/meigma/pyramid/core/chunked/n5"
	"github.com/meigma/pyramid/core/chunked/zarr"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/fetch"
	"github.com/meigma/pyramid/core/grid"
	"github.com/meigma/pyramid/core/loader"
	"github.com/meigma/pyramid/core/multiscale"
	"github.com/meigma/pyramid/core/store"
)

// session is everything one open produces. It is dropped on Close.
type session struct {
	store  store.Store
	reader chunked.Reader
	setups []*setup
	sched  *fetch.Scheduler
	loader *loader.Loader
	cache  *cache.Cache
}

func (s *session) close() {
	s.sched.Stop()
	s.cache.Clear()
}

// setup is one channel of one image with its per-level lookups resolved.
type setup struct {
	id      int
	image   int
	channel int
	desc    *multiscale.Descriptor
	levels  []level
}

type level struct {
	attrs  *chunked.Attributes
	mapper *grid.Mapper
	decode array.DecodeFunc
}

// detectFormat probes the root for Zarr and N5 metadata. Zarr wins when
// both are present. Read failures only surface when no metadata was found,
// since stores that deny listing often answer a missing key with 403.
func detectFormat(ctx context.Context, s store.Store, dec *codec.Decompressor) (chunked.Reader, error) {
	keys := []string{zarr.GroupKey, zarr.AttrsKey, zarr.ArrayKey, n5.AttributesKey}
	found := make([]bool, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			_, err := s.Get(ctx, key)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				errs[i] = fmt.Errorf("pyramid: probe %s: %w", key, err)
			default:
				found[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case found[0] || found[1] || found[2]:
		return zarr.New(s, dec), nil
	case found[3]:
		return n5.New(s, dec), nil
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w at %s", ErrNoFormat, s.Name())
}

// buildSetups discovers the images under the root and resolves every level
// of every image concurrently. Setup ids number channels image by image.
func buildSetups(ctx context.Context, r chunked.Reader) ([]*setup, error) {
	descs, err := multiscale.Discover(ctx, r, "")
	if err != nil {
		return nil, err
	}

	levels := make([][]level, len(descs))
	var g errgroup.Group
	for i, d := range descs {
		g.Go(func() error {
			lv, err := resolveLevels(d)
			if err != nil {
				return err
			}
			levels[i] = lv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var setups []*setup
	for i, d := range descs {
		for c := range max(d.NumChannels, 1) {
			setups = append(setups, &setup{
				id:      len(setups),
				image:   i,
				channel: c,
				desc:    d,
				levels:  levels[i],
			})
		}
	}
	return setups, nil
}

func resolveLevels(d *multiscale.Descriptor) ([]level, error) {
	out := make([]level, len(d.Levels))
	for i, lv := range d.Levels {
		m, err := grid.NewMapper(lv.Attrs, d.Roles)
		if err != nil {
			return nil, &multiscale.MetadataError{Path: d.Path, Err: err}
		}
		dec, err := array.DecoderFor(lv.Attrs.DataType, lv.Attrs.ByteOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: %s level %d: %w", chunked.ErrUnsupported, d.Path, i, err)
		}
		out[i] = level{attrs: lv.Attrs, mapper: m, decode: dec}
	}
	return out, nil
}
