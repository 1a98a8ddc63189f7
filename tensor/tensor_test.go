package tensor

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestNewShapeAndVolume verifies allocation sizes for a few shapes.
func TestNewShapeAndVolume(t *testing.T) {
	tests := []struct {
		shape []int
		want  int
	}{
		{[]int{2, 3}, 6},
		{[]int{2, 3, 4, 4}, 96},
		{[]int{1}, 1},
		{[]int{}, 1},
		{[]int{3, 0}, 0},
	}
	for _, tt := range tests {
		x := New(tt.shape...)
		if x.Len() != tt.want {
			t.Errorf("New(%v).Len() = %d, want %d", tt.shape, x.Len(), tt.want)
		}
		if x.Rank() != len(tt.shape) {
			t.Errorf("New(%v).Rank() = %d, want %d", tt.shape, x.Rank(), len(tt.shape))
		}
	}
}

// TestFromDataRejectsWrongLength verifies FromData reports ErrShape.
func TestFromDataRejectsWrongLength(t *testing.T) {
	if _, err := FromData(make([]float64, 5), 2, 3); !errors.Is(err, ErrShape) {
		t.Fatalf("FromData: expected ErrShape, got %v", err)
	}
	x, err := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	if x.At(1, 2) != 6 {
		t.Errorf("At(1,2) = %f, want 6", x.At(1, 2))
	}
}

// TestSubAndMatrixShareData verifies views write through to the parent.
func TestSubAndMatrixShareData(t *testing.T) {
	x := New(2, 3, 2, 2)
	m := x.Matrix(1, 2)
	m.Set(1, 0, 7)
	if got := x.At(1, 2, 1, 0); got != 7 {
		t.Errorf("write through Matrix view: got %f, want 7", got)
	}
	s := x.Sub(1)
	s.Set(3, 0, 1, 1)
	if got := x.At(1, 0, 1, 1); got != 3 {
		t.Errorf("write through Sub view: got %f, want 3", got)
	}
	r := x.Row(0, 0, 1)
	r[0] = 9
	if got := x.At(0, 0, 1, 0); got != 9 {
		t.Errorf("write through Row view: got %f, want 9", got)
	}
}

// TestSubOffsets verifies row-major addressing of leading indices.
func TestSubOffsets(t *testing.T) {
	data := make([]float64, 24)
	for i := range data {
		data[i] = float64(i)
	}
	x, _ := FromData(data, 2, 3, 4)
	if got := x.Sub(1, 2).Data[0]; got != 20 {
		t.Errorf("Sub(1,2)[0] = %f, want 20", got)
	}
	if got := x.Sub(1).Data[0]; got != 12 {
		t.Errorf("Sub(1)[0] = %f, want 12", got)
	}
}

// TestCloneIndependence verifies Clone does not alias.
func TestCloneIndependence(t *testing.T) {
	x := Full(2, 2, 2)
	y := x.Clone()
	y.Data[0] = 5
	if x.Data[0] != 2 {
		t.Errorf("Clone aliases parent data")
	}
	if !x.SameShape(y) {
		t.Errorf("Clone changed shape: %v vs %v", x.Shape, y.Shape)
	}
}

// TestCopyFromShapeCheck verifies CopyFrom refuses mismatched shapes.
func TestCopyFromShapeCheck(t *testing.T) {
	a := New(2, 3)
	if err := a.CopyFrom(New(3, 2)); !errors.Is(err, ErrShape) {
		t.Errorf("CopyFrom: expected ErrShape, got %v", err)
	}
	if err := a.CopyFrom(Full(1, 2, 3)); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if a.At(1, 1) != 1 {
		t.Errorf("CopyFrom did not copy")
	}
}

// TestStack verifies row and matrix stacking.
func TestStack(t *testing.T) {
	s, err := Stack([][]float64{{1, 2}, {3, 4}, {5, 6}})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if !EqualShape(s.Shape, []int{3, 2}) || s.At(2, 1) != 6 {
		t.Errorf("Stack: got shape %v data %v", s.Shape, s.Data)
	}
	if _, err := Stack([][]float64{{1}, {1, 2}}); !errors.Is(err, ErrShape) {
		t.Errorf("Stack ragged: expected ErrShape, got %v", err)
	}

	ms := []*mat.Dense{mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(2, 2, []float64{5, 6, 7, 8})}
	st, err := StackMatrices(ms)
	if err != nil {
		t.Fatalf("StackMatrices: %v", err)
	}
	if st.At(1, 1, 0) != 7 {
		t.Errorf("StackMatrices: At(1,1,0) = %f, want 7", st.At(1, 1, 0))
	}
	if _, err := StackMatrices([]*mat.Dense{mat.NewDense(1, 2, nil), mat.NewDense(2, 1, nil)}); !errors.Is(err, ErrShape) {
		t.Errorf("StackMatrices mismatched: expected ErrShape, got %v", err)
	}
}

// TestIndexPanics verifies out-of-range indices panic.
func TestIndexPanics(t *testing.T) {
	x := New(2, 2)
	defer func() {
		if recover() == nil {
			t.Errorf("At(2,0) did not panic")
		}
	}()
	_ = x.At(2, 0)
}
