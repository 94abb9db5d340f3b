// Package pyramid is a lazy multi-resolution block cache for chunked
// microscopy pyramids stored as Zarr (OME-NGFF) or N5.
//
// A [Loader] turns "this cell at this level, for this channel and
// timepoint" into a typed in-memory block. Blocks are read on demand from
// local disk, S3 or HTTP, fetched concurrently with coarse levels first,
// and kept until the cache is cleared. Missing chunks read as zeros, and a
// failed read degrades to a zero block instead of an error.
//
// # Quick Start
//
// Open a pyramid and read one cell:
//
//	l, err := pyramid.New("s3://bucket/image.ome.zarr",
//	    pyramid.WithS3(store.S3Config{Region: "us-east-1"}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	s, err := l.Setup(ctx, 0)
//	if err != nil {
//	    return err
//	}
//	img, err := s.Image(0, s.NumMipmapLevels()-1)
//	if err != nil {
//	    return err
//	}
//	block, err := img.Cell(ctx, [3]int64{0, 0, 0})
//
// # Rendering
//
// A renderer draws from [SetupLoader.VolatileImage], which never waits:
// cells that are not loaded yet return [ErrNotReady] and are queued in
// the background. Call [Loader.PrepareNextFrame] before each frame so
// requests of the previous frame are demoted behind the new ones.
//
// # Lifecycle
//
// The loader opens itself on first use and can be closed and reopened any
// number of times. Concurrent first uses share one initialization.
package pyramid
