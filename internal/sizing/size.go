// Package sizing provides overflow-checked size arithmetic for block shapes
// and bounded reads.
package sizing

import (
	"errors"
	"io"
	"math"
)

// ErrOverflow is returned when a size computation does not fit in an int.
var ErrOverflow = errors.New("sizing: size overflow")

// Product multiplies dims, returning ErrOverflow if the result does not fit
// in an int or any dimension is negative.
func Product(dims ...int) (int, error) {
	n := 1
	for _, d := range dims {
		if d < 0 {
			return 0, ErrOverflow
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, ErrOverflow
		}
		n *= d
	}
	return n, nil
}

// Product64 is Product for int64 dimensions.
func Product64(dims ...int64) (int64, error) {
	n := int64(1)
	for _, d := range dims {
		if d < 0 {
			return 0, ErrOverflow
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, ErrOverflow
		}
		n *= d
	}
	return n, nil
}

// ToInt converts an int64 to int, returning ErrOverflow if it doesn't fit.
func ToInt(v int64) (int, error) {
	if v > math.MaxInt || v < math.MinInt {
		return 0, ErrOverflow
	}
	return int(v), nil
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// Returns overflowErr if more than maxSize bytes are available.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: int64(maxSize) + 1} //nolint:gosec // checked above
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize { //nolint:gosec // len is always non-negative
		return nil, overflowErr
	}
	return data, nil
}
