package geom

import (
	"errors"
	"testing"
)

const tol = 1e-12

func TestMipmapTransform(t *testing.T) {
	t.Parallel()

	m := MipmapTransform([3]float64{2, 4, 1})
	want := [12]float64{
		2, 0, 0, 0.5,
		0, 4, 0, 1.5,
		0, 0, 1, 0,
	}
	if got := m.RowPacked(); got != want {
		t.Fatalf("RowPacked() = %v, want %v", got, want)
	}

	// voxel 0 of a 2x level covers full-res voxels 0 and 1, centered at 0.5
	if got := m.Apply([3]float64{0, 0, 0}); got != [3]float64{0.5, 1.5, 0} {
		t.Fatalf("Apply(0) = %v", got)
	}
	if !MipmapTransform([3]float64{1, 1, 1}).EqualApprox(Identity(), tol) {
		t.Fatal("factor 1 must be the identity")
	}
}

func TestConcatenate(t *testing.T) {
	t.Parallel()

	s := Scale([3]float64{2, 2, 2})
	tr := Translation([3]float64{1, 0, -1})

	// translate first, then scale
	got := s.Concatenate(tr).Apply([3]float64{1, 1, 1})
	if got != [3]float64{4, 2, 0} {
		t.Fatalf("Apply = %v", got)
	}
}

func TestInverse(t *testing.T) {
	t.Parallel()

	m := MipmapTransform([3]float64{2, 2, 4})
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("Inverse() error = %v", err)
	}
	if !m.Concatenate(inv).EqualApprox(Identity(), tol) {
		t.Fatalf("m * inv(m) = %v", m.Concatenate(inv))
	}

	if _, err := Scale([3]float64{1, 0, 1}).Inverse(); !errors.Is(err, ErrSingular) {
		t.Fatalf("Inverse(singular) error = %v, want ErrSingular", err)
	}
}
