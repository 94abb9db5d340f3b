// Package multiscale resolves the resolution pyramid of an image from its
// group metadata: OME-NGFF multiscales (versions 0.1 to 0.4) for Zarr, and
// downsampling factor attributes for N5.
//
// A [Descriptor] orders levels finest first. Each level carries its
// downsampling factors and the mipmap transform derived from them, computed
// once at resolve time.
package multiscale
