package array

// Array is a typed, flat element buffer in x-fastest order.
//
// Every concrete implementation is a named slice of one Go scalar type, so a
// type switch on the Array recovers the underlying slice without copying.
type Array interface {
	// DataType returns the element kind.
	DataType() DataType

	// Len returns the number of elements.
	Len() int

	// Float64 returns element i widened to float64.
	Float64(i int) float64
}

// Concrete arrays, one per DataType.
type (
	Uint8s   []uint8
	Uint16s  []uint16
	Uint32s  []uint32
	Uint64s  []uint64
	Int8s    []int8
	Int16s   []int16
	Int32s   []int32
	Int64s   []int64
	Float32s []float32
	Float64s []float64
)

// Interface compliance.
var (
	_ Array = Uint8s(nil)
	_ Array = Uint16s(nil)
	_ Array = Uint32s(nil)
	_ Array = Uint64s(nil)
	_ Array = Int8s(nil)
	_ Array = Int16s(nil)
	_ Array = Int32s(nil)
	_ Array = Int64s(nil)
	_ Array = Float32s(nil)
	_ Array = Float64s(nil)
)

func (a Uint8s) DataType() DataType   { return Uint8 }
func (a Uint16s) DataType() DataType  { return Uint16 }
func (a Uint32s) DataType() DataType  { return Uint32 }
func (a Uint64s) DataType() DataType  { return Uint64 }
func (a Int8s) DataType() DataType    { return Int8 }
func (a Int16s) DataType() DataType   { return Int16 }
func (a Int32s) DataType() DataType   { return Int32 }
func (a Int64s) DataType() DataType   { return Int64 }
func (a Float32s) DataType() DataType { return Float32 }
func (a Float64s) DataType() DataType { return Float64 }

func (a Uint8s) Len() int   { return len(a) }
func (a Uint16s) Len() int  { return len(a) }
func (a Uint32s) Len() int  { return len(a) }
func (a Uint64s) Len() int  { return len(a) }
func (a Int8s) Len() int    { return len(a) }
func (a Int16s) Len() int   { return len(a) }
func (a Int32s) Len() int   { return len(a) }
func (a Int64s) Len() int   { return len(a) }
func (a Float32s) Len() int { return len(a) }
func (a Float64s) Len() int { return len(a) }

func (a Uint8s) Float64(i int) float64   { return float64(a[i]) }
func (a Uint16s) Float64(i int) float64  { return float64(a[i]) }
func (a Uint32s) Float64(i int) float64  { return float64(a[i]) }
func (a Uint64s) Float64(i int) float64  { return float64(a[i]) }
func (a Int8s) Float64(i int) float64    { return float64(a[i]) }
func (a Int16s) Float64(i int) float64   { return float64(a[i]) }
func (a Int32s) Float64(i int) float64   { return float64(a[i]) }
func (a Int64s) Float64(i int) float64   { return float64(a[i]) }
func (a Float32s) Float64(i int) float64 { return float64(a[i]) }
func (a Float64s) Float64(i int) float64 { return a[i] }

// Zeros returns a zero-filled array of n elements of kind dt.
// It returns nil for an unsupported kind.
func Zeros(dt DataType, n int) Array {
	switch dt {
	case Uint8:
		return make(Uint8s, n)
	case Uint16:
		return make(Uint16s, n)
	case Uint32:
		return make(Uint32s, n)
	case Uint64:
		return make(Uint64s, n)
	case Int8:
		return make(Int8s, n)
	case Int16:
		return make(Int16s, n)
	case Int32:
		return make(Int32s, n)
	case Int64:
		return make(Int64s, n)
	case Float32:
		return make(Float32s, n)
	case Float64:
		return make(Float64s, n)
	default:
		return nil
	}
}
