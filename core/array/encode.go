package array

import (
	"encoding/binary"
	"math"
)

// Encode serializes a in the given byte order. A nil order means
// little-endian. It is the inverse of the DecodeFunc for the same kind.
func Encode(a Array, order binary.ByteOrder) []byte {
	if order == nil {
		order = binary.LittleEndian
	}
	out := make([]byte, a.Len()*a.DataType().Size())
	switch s := a.(type) {
	case Uint8s:
		copy(out, s)
	case Int8s:
		for i, v := range s {
			out[i] = byte(v)
		}
	case Uint16s:
		for i, v := range s {
			order.PutUint16(out[2*i:], v)
		}
	case Int16s:
		for i, v := range s {
			order.PutUint16(out[2*i:], uint16(v)) //nolint:gosec // two's complement reinterpretation
		}
	case Uint32s:
		for i, v := range s {
			order.PutUint32(out[4*i:], v)
		}
	case Int32s:
		for i, v := range s {
			order.PutUint32(out[4*i:], uint32(v)) //nolint:gosec // two's complement reinterpretation
		}
	case Float32s:
		for i, v := range s {
			order.PutUint32(out[4*i:], math.Float32bits(v))
		}
	case Uint64s:
		for i, v := range s {
			order.PutUint64(out[8*i:], v)
		}
	case Int64s:
		for i, v := range s {
			order.PutUint64(out[8*i:], uint64(v)) //nolint:gosec // two's complement reinterpretation
		}
	case Float64s:
		for i, v := range s {
			order.PutUint64(out[8*i:], math.Float64bits(v))
		}
	}
	return out
}

// MinMax returns the smallest and largest element of a widened to float64.
// It returns zeros for an empty array.
func MinMax(a Array) (lo, hi float64) {
	n := a.Len()
	if n == 0 {
		return 0, 0
	}
	lo, hi = a.Float64(0), a.Float64(0)
	for i := 1; i < n; i++ {
		v := a.Float64(i)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
