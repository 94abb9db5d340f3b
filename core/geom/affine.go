// Package geom holds the 3-D affine transforms that place each resolution
// level in the coordinate space of the full-resolution image.
package geom

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when inverting a non-invertible transform.
var ErrSingular = errors.New("geom: singular transform")

// Affine3D maps points p to A·p + t. The zero value is not usable; start from
// Identity or one of the constructors. Values are immutable.
type Affine3D struct {
	m *mat.Dense // 4x4 homogeneous matrix, last row 0 0 0 1
}

// Identity returns the identity transform.
func Identity() Affine3D {
	return Affine3D{m: homogeneous([12]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})}
}

// NewAffine3D builds a transform from the row-packed 3x4 matrix
// [a00 a01 a02 t0 a10 a11 a12 t1 a20 a21 a22 t2].
func NewAffine3D(rowPacked [12]float64) Affine3D {
	return Affine3D{m: homogeneous(rowPacked)}
}

// Scale returns a transform that scales each axis.
func Scale(s [3]float64) Affine3D {
	return NewAffine3D([12]float64{
		s[0], 0, 0, 0,
		0, s[1], 0, 0,
		0, 0, s[2], 0,
	})
}

// Translation returns a transform that shifts by t.
func Translation(t [3]float64) Affine3D {
	return NewAffine3D([12]float64{
		1, 0, 0, t[0],
		0, 1, 0, t[1],
		0, 0, 1, t[2],
	})
}

// MipmapTransform maps voxel coordinates of a level downsampled by factors
// into full-resolution coordinates: scale by the factor and shift by
// (factor-1)/2, so voxel centers line up.
func MipmapTransform(factors [3]float64) Affine3D {
	return NewAffine3D([12]float64{
		factors[0], 0, 0, (factors[0] - 1) / 2,
		0, factors[1], 0, (factors[1] - 1) / 2,
		0, 0, factors[2], (factors[2] - 1) / 2,
	})
}

func homogeneous(p [12]float64) *mat.Dense {
	data := make([]float64, 16)
	copy(data, p[:])
	data[15] = 1
	return mat.NewDense(4, 4, data)
}

// Apply transforms p.
func (a Affine3D) Apply(p [3]float64) [3]float64 {
	in := mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1})
	var out mat.VecDense
	out.MulVec(a.m, in)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Concatenate returns the transform that applies b first and then a.
func (a Affine3D) Concatenate(b Affine3D) Affine3D {
	var out mat.Dense
	out.Mul(a.m, b.m)
	return Affine3D{m: &out}
}

// Inverse returns the inverse transform.
func (a Affine3D) Inverse() (Affine3D, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.m); err != nil {
		return Affine3D{}, fmt.Errorf("%w: %w", ErrSingular, err)
	}
	return Affine3D{m: &inv}, nil
}

// RowPacked returns the 3x4 matrix in row-major order.
func (a Affine3D) RowPacked() [12]float64 {
	var p [12]float64
	for r := range 3 {
		for c := range 4 {
			p[4*r+c] = a.m.At(r, c)
		}
	}
	return p
}

// EqualApprox reports whether a and b agree element-wise within tol.
func (a Affine3D) EqualApprox(b Affine3D, tol float64) bool {
	return mat.EqualApprox(a.m, b.m, tol)
}

// String formats the 3x4 matrix.
func (a Affine3D) String() string {
	return fmt.Sprintf("%v", a.RowPacked())
}
