package array

import "fmt"

// Layout describes how a 3-D cell is cut out of an n-D decoded block.
//
// SrcDims lists the block extents fastest axis first. Spatial holds the
// index into SrcDims of the x, y and z axes, or -1 when the block has no such
// axis (the cell extent along it must then be 1). Offsets holds the start
// index along every source axis; non-spatial axes use it to select a single
// channel or timepoint.
type Layout struct {
	SrcDims []int
	Spatial [3]int
	Offsets []int
	OutDims [3]int
}

// identity reports whether extraction would return the source unchanged.
func (l Layout) identity() bool {
	if len(l.SrcDims) != 3 || l.Spatial != [3]int{0, 1, 2} {
		return false
	}
	for i, off := range l.Offsets {
		if off != 0 || l.SrcDims[i] != l.OutDims[i] {
			return false
		}
	}
	return true
}

func (l Layout) validate(srcLen int) error {
	if len(l.Offsets) != len(l.SrcDims) {
		return fmt.Errorf("%w: %d offsets for %d dims", ErrShape, len(l.Offsets), len(l.SrcDims))
	}
	n := 1
	for i, d := range l.SrcDims {
		if l.Offsets[i] < 0 || l.Offsets[i] >= max(d, 1) {
			return fmt.Errorf("%w: offset %d outside axis %d of size %d", ErrShape, l.Offsets[i], i, d)
		}
		n *= d
	}
	if srcLen < n {
		return fmt.Errorf("%w: source has %d elements, dims need %d", ErrShape, srcLen, n)
	}
	for a, axis := range l.Spatial {
		out := l.OutDims[a]
		if out < 0 {
			return fmt.Errorf("%w: negative extent on axis %d", ErrShape, a)
		}
		if axis < 0 {
			if out > 1 {
				return fmt.Errorf("%w: missing axis %d cannot have extent %d", ErrShape, a, out)
			}
			continue
		}
		if axis >= len(l.SrcDims) || l.Offsets[axis]+out > l.SrcDims[axis] {
			return fmt.Errorf("%w: extent %d exceeds source axis %d", ErrShape, out, axis)
		}
	}
	return nil
}

// Extract copies the cell described by l out of src. When the layout is
// the identity the source is returned as is.
func Extract(src Array, l Layout) (Array, error) {
	if err := l.validate(src.Len()); err != nil {
		return nil, err
	}
	if l.identity() {
		return src, nil
	}
	switch s := src.(type) {
	case Uint8s:
		return Uint8s(extract(s, l)), nil
	case Uint16s:
		return Uint16s(extract(s, l)), nil
	case Uint32s:
		return Uint32s(extract(s, l)), nil
	case Uint64s:
		return Uint64s(extract(s, l)), nil
	case Int8s:
		return Int8s(extract(s, l)), nil
	case Int16s:
		return Int16s(extract(s, l)), nil
	case Int32s:
		return Int32s(extract(s, l)), nil
	case Int64s:
		return Int64s(extract(s, l)), nil
	case Float32s:
		return Float32s(extract(s, l)), nil
	case Float64s:
		return Float64s(extract(s, l)), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, src)
	}
}

func extract[T any](src []T, l Layout) []T {
	nx, ny, nz := l.OutDims[0], l.OutDims[1], l.OutDims[2]
	out := make([]T, nx*ny*nz)
	if len(out) == 0 {
		return out
	}

	strides := make([]int, len(l.SrcDims))
	stride := 1
	for i, d := range l.SrcDims {
		strides[i] = stride
		stride *= d
	}
	base := 0
	for i, off := range l.Offsets {
		base += off * strides[i]
	}
	var step [3]int
	for a, axis := range l.Spatial {
		if axis >= 0 {
			step[a] = strides[axis]
		}
	}

	i := 0
	for z := range nz {
		for y := range ny {
			row := base + z*step[2] + y*step[1]
			if step[0] == 1 {
				copy(out[i:i+nx], src[row:row+nx])
				i += nx
				continue
			}
			for x := range nx {
				out[i] = src[row+x*step[0]]
				i++
			}
		}
	}
	return out
}
