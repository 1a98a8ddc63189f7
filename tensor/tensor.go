// Package tensor implements a small dense, row-major n-dimensional array
// whose trailing two axes can be viewed as gonum matrices.
//
// The policy network keeps every parameter and every batched activation in a
// Tensor and hands 2-D slices of it to gonum for the actual arithmetic.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when data does not fit the requested shape.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major array. Data is shared by views returned from
// Sub and Matrix.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// New allocates a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, Volume(shape))}
}

// FromData wraps data (not copied) with the given shape.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if len(data) != Volume(shape) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Full allocates a tensor of the given shape with every entry set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Volume returns the number of elements of a shape.
func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return EqualShape(t.Shape, o.Shape)
}

// EqualShape reports whether two shapes are identical.
func EqualShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float64(nil), t.Data...)}
}

// CopyFrom overwrites t's data with o's. Shapes must match.
func (t *Tensor) CopyFrom(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: %v vs %v", ErrShape, t.Shape, o.Shape)
	}
	copy(t.Data, o.Data)
	return nil
}

// offset returns the flat index of the first element addressed by a
// (possibly partial) leading index.
func (t *Tensor) offset(idx []int) int {
	if len(idx) > len(t.Shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range [0,%d) on axis %d", x, t.Shape[i], i))
		}
		off = off*t.Shape[i] + x
	}
	return off * Volume(t.Shape[len(idx):])
}

// At returns the element at a full index.
func (t *Tensor) At(idx ...int) float64 {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: At needs %d indices, got %d", len(t.Shape), len(idx)))
	}
	return t.Data[t.offset(idx)]
}

// Set writes v at a full index.
func (t *Tensor) Set(v float64, idx ...int) {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: Set needs %d indices, got %d", len(t.Shape), len(idx)))
	}
	t.Data[t.offset(idx)] = v
}

// Sub returns a view of the sub-tensor addressed by a leading index.
func (t *Tensor) Sub(lead ...int) *Tensor {
	off := t.offset(lead)
	shape := t.Shape[len(lead):]
	n := Volume(shape)
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data[off : off+n : off+n]}
}

// Row returns a view of the innermost vector addressed by all but the last axis.
func (t *Tensor) Row(lead ...int) []float64 {
	if len(lead) != len(t.Shape)-1 {
		panic(fmt.Sprintf("tensor: Row needs %d indices, got %d", len(t.Shape)-1, len(lead)))
	}
	return t.Sub(lead...).Data
}

// Matrix returns a gonum view of the trailing 2-D block addressed by lead.
// Writes through the matrix are visible in t.
func (t *Tensor) Matrix(lead ...int) *mat.Dense {
	if len(lead) != len(t.Shape)-2 {
		panic(fmt.Sprintf("tensor: Matrix needs %d indices for shape %v, got %d", len(t.Shape)-2, t.Shape, len(lead)))
	}
	s := t.Sub(lead...)
	return mat.NewDense(s.Shape[0], s.Shape[1], s.Data)
}

// SetMatrix copies m into the trailing 2-D block addressed by lead.
func (t *Tensor) SetMatrix(m mat.Matrix, lead ...int) {
	t.Matrix(lead...).Copy(m)
}

// Stack joins equally sized rows into a [len(rows), width] tensor.
func Stack(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	w := len(rows[0])
	out := New(len(rows), w)
	for i, r := range rows {
		if len(r) != w {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(r), w)
		}
		copy(out.Data[i*w:], r)
	}
	return out, nil
}

// StackMatrices joins equally sized matrices into a [len(ms), r, c] tensor.
func StackMatrices(ms []*mat.Dense) (*Tensor, error) {
	if len(ms) == 0 {
		return New(0, 0, 0), nil
	}
	r, c := ms[0].Dims()
	out := New(len(ms), r, c)
	for i, m := range ms {
		mr, mc := m.Dims()
		if mr != r || mc != c {
			return nil, fmt.Errorf("%w: matrix %d is %dx%d, want %dx%d", ErrShape, i, mr, mc, r, c)
		}
		out.SetMatrix(m, i)
	}
	return out, nil
}
