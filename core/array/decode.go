package array

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeFunc converts the first n encoded elements of data into an Array.
type DecodeFunc func(data []byte, n int) (Array, error)

// DecoderFor returns the conversion function for kind dt stored with the
// given byte order. The lookup happens once; the returned closure does no
// further dispatch.
func DecoderFor(dt DataType, order binary.ByteOrder) (DecodeFunc, error) {
	if order == nil {
		order = binary.LittleEndian
	}
	switch dt {
	case Uint8:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 1); err != nil {
				return nil, err
			}
			out := make(Uint8s, n)
			copy(out, data)
			return out, nil
		}, nil
	case Int8:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 1); err != nil {
				return nil, err
			}
			out := make(Int8s, n)
			for i := range out {
				out[i] = int8(data[i]) //nolint:gosec // two's complement reinterpretation
			}
			return out, nil
		}, nil
	case Uint16:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 2); err != nil {
				return nil, err
			}
			out := make(Uint16s, n)
			for i := range out {
				out[i] = order.Uint16(data[2*i:])
			}
			return out, nil
		}, nil
	case Int16:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 2); err != nil {
				return nil, err
			}
			out := make(Int16s, n)
			for i := range out {
				out[i] = int16(order.Uint16(data[2*i:])) //nolint:gosec // two's complement reinterpretation
			}
			return out, nil
		}, nil
	case Uint32:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 4); err != nil {
				return nil, err
			}
			out := make(Uint32s, n)
			for i := range out {
				out[i] = order.Uint32(data[4*i:])
			}
			return out, nil
		}, nil
	case Int32:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 4); err != nil {
				return nil, err
			}
			out := make(Int32s, n)
			for i := range out {
				out[i] = int32(order.Uint32(data[4*i:])) //nolint:gosec // two's complement reinterpretation
			}
			return out, nil
		}, nil
	case Float32:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 4); err != nil {
				return nil, err
			}
			out := make(Float32s, n)
			for i := range out {
				out[i] = math.Float32frombits(order.Uint32(data[4*i:]))
			}
			return out, nil
		}, nil
	case Uint64:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 8); err != nil {
				return nil, err
			}
			out := make(Uint64s, n)
			for i := range out {
				out[i] = order.Uint64(data[8*i:])
			}
			return out, nil
		}, nil
	case Int64:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 8); err != nil {
				return nil, err
			}
			out := make(Int64s, n)
			for i := range out {
				out[i] = int64(order.Uint64(data[8*i:])) //nolint:gosec // two's complement reinterpretation
			}
			return out, nil
		}, nil
	case Float64:
		return func(data []byte, n int) (Array, error) {
			if err := checkLen(data, n, 8); err != nil {
				return nil, err
			}
			out := make(Float64s, n)
			for i := range out {
				out[i] = math.Float64frombits(order.Uint64(data[8*i:]))
			}
			return out, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, dt)
	}
}

func checkLen(data []byte, n, size int) error {
	if n < 0 || len(data) < n*size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortData, len(data), n*size)
	}
	return nil
}
