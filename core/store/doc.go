// Package store provides the key/value transports chunked arrays are read
// from: local directories, S3-compatible object storage, plain HTTP and an
// in-memory map.
//
// Every transport reports a missing key as [ErrNotFound] and wraps any other
// failure in a [TransientError], so callers can tell "this chunk was never
// written" apart from "this read did not work right now".
package store
