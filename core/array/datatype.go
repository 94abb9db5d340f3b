// Package array defines the element kinds a pyramid can hold and the typed
// slices blocks are decoded into.
//
// The set of kinds is closed. Conversion from a store's raw bytes is chosen
// once per dataset with DecoderFor and reused for every block.
package array

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnsupported is returned for element kinds outside the supported set.
	ErrUnsupported = errors.New("array: unsupported data type")

	// ErrShortData is returned when a raw buffer holds fewer bytes than the
	// element count requires.
	ErrShortData = errors.New("array: short data")

	// ErrShape is returned when an extraction layout does not fit its source.
	ErrShape = errors.New("array: shape mismatch")
)

// DataType identifies the scalar kind of every element in a dataset.
type DataType uint8

// Supported element kinds.
const (
	Invalid DataType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dataTypeNames = [...]string{
	Invalid: "invalid",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

// String returns the N5 spelling of the kind.
func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return "DataType(" + strconv.Itoa(int(dt)) + ")"
}

// Size returns the number of bytes one element occupies.
func (dt DataType) Size() int {
	switch dt {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether dt is one of the supported kinds.
func (dt DataType) Valid() bool {
	return dt > Invalid && dt <= Float64
}

// ParseN5 parses an N5 "dataType" attribute value such as "uint16".
func ParseN5(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for dt := Uint8; dt <= Float64; dt++ {
		if dataTypeNames[dt] == name {
			return dt, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// ParseZarr parses a numpy array-protocol typestr such as "<u2" or "|u1"
// and returns the kind together with the byte order of the encoded data.
func ParseZarr(typestr string) (DataType, binary.ByteOrder, error) {
	// some writers HTML-escape the byte order marker
	s := strings.Replace(typestr, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)
	if len(s) < 3 {
		return Invalid, nil, fmt.Errorf("%w: %q", ErrUnsupported, typestr)
	}

	var order binary.ByteOrder
	switch s[0] {
	case '<', '|':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return Invalid, nil, fmt.Errorf("%w: byte order in %q", ErrUnsupported, typestr)
	}

	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return Invalid, nil, fmt.Errorf("%w: %q", ErrUnsupported, typestr)
	}

	var dt DataType
	switch s[1] {
	case 'u':
		dt = pickBySize(size, Uint8, Uint16, Uint32, Uint64)
	case 'i':
		dt = pickBySize(size, Int8, Int16, Int32, Int64)
	case 'f':
		dt = pickBySize(size, Invalid, Invalid, Float32, Float64)
	}
	if !dt.Valid() {
		return Invalid, nil, fmt.Errorf("%w: %q", ErrUnsupported, typestr)
	}
	return dt, order, nil
}

func pickBySize(size int, one, two, four, eight DataType) DataType {
	switch size {
	case 1:
		return one
	case 2:
		return two
	case 4:
		return four
	case 8:
		return eight
	default:
		return Invalid
	}
}
