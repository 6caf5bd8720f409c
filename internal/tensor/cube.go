// Package tensor provides the 4D container used by every bridge.
package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned whenever tensor dimensions violate a required relation.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnsupportedConfig is returned when a layout, data type, lowering type
	// or function combination has no implementation.
	ErrUnsupportedConfig = errors.New("unsupported configuration")
)

// Cube is a 4D tensor with dimensions (R, C, D, B) stored in CRDB order:
// columns vary fastest, then rows, then depth, then batch.
//
// A Cube created with NewCube owns its buffer. A Cube created with NewView
// aliases a buffer owned by someone else.
type Cube struct {
	R, C, D, B int
	Data       []float32

	owned bool
}

// NewCube allocates a zeroed cube.
func NewCube(r, c, d, b int) *Cube {
	if r < 0 || c < 0 || d < 0 || b < 0 {
		panic(fmt.Sprintf("tensor: negative dimension (%d, %d, %d, %d)", r, c, d, b))
	}
	return &Cube{
		R:     r,
		C:     c,
		D:     d,
		B:     b,
		Data:  make([]float32, r*c*d*b),
		owned: true,
	}
}

// NewView reinterprets data as an (r, c, d, b) cube without copying.
func NewView(data []float32, r, c, d, b int) (*Cube, error) {
	n := r * c * d * b
	if r < 0 || c < 0 || d < 0 || b < 0 || len(data) < n {
		return nil, fmt.Errorf("view (%d, %d, %d, %d) over buffer of %d: %w", r, c, d, b, len(data), ErrShapeMismatch)
	}
	return &Cube{R: r, C: c, D: d, B: b, Data: data[:n]}, nil
}

// FromSlice builds an owning cube by copying values.
func FromSlice(values []float32, r, c, d, b int) (*Cube, error) {
	if len(values) != r*c*d*b {
		return nil, fmt.Errorf("%d values for shape (%d, %d, %d, %d): %w", len(values), r, c, d, b, ErrShapeMismatch)
	}
	cube := NewCube(r, c, d, b)
	copy(cube.Data, values)
	return cube, nil
}

// Matrix returns a (rows, cols, 1, 1) view over the cube's storage.
func (t *Cube) Matrix(rows, cols int) (*Cube, error) {
	if rows*cols != len(t.Data) {
		return nil, fmt.Errorf("matrix %dx%d over cube %v: %w", rows, cols, t.Shape(), ErrShapeMismatch)
	}
	return NewView(t.Data, rows, cols, 1, 1)
}

// Owned reports whether the cube owns its buffer.
func (t *Cube) Owned() bool { return t.owned }

// Len returns R*C*D*B.
func (t *Cube) Len() int { return len(t.Data) }

// Shape returns the dimensions as [R, C, D, B].
func (t *Cube) Shape() [4]int { return [4]int{t.R, t.C, t.D, t.B} }

// SameShape reports whether both cubes have identical dimensions.
func (t *Cube) SameShape(o *Cube) bool { return t.Shape() == o.Shape() }

// Index returns the physical offset of (r, c, d, b).
func (t *Cube) Index(r, c, d, b int) int {
	return c + t.C*(r+t.R*(d+t.D*b))
}

// At returns the element at (r, c, d, b).
func (t *Cube) At(r, c, d, b int) float32 {
	return t.Data[t.Index(r, c, d, b)]
}

// Set stores v at (r, c, d, b).
func (t *Cube) Set(r, c, d, b int, v float32) {
	t.Data[t.Index(r, c, d, b)] = v
}

// BatchSlice returns the contiguous R*C*D elements of batch element b.
func (t *Cube) BatchSlice(b int) []float32 {
	n := t.R * t.C * t.D
	return t.Data[b*n : (b+1)*n]
}

// Zero clears the buffer.
func (t *Cube) Zero() {
	clear(t.Data)
}

// Fill sets every element to v.
func (t *Cube) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// CopyFrom copies src into t. Shapes must hold the same number of elements.
func (t *Cube) CopyFrom(src *Cube) error {
	if len(src.Data) != len(t.Data) {
		return fmt.Errorf("copy %v into %v: %w", src.Shape(), t.Shape(), ErrShapeMismatch)
	}
	copy(t.Data, src.Data)
	return nil
}

func (t *Cube) String() string {
	return fmt.Sprintf("Cube(R=%d, C=%d, D=%d, B=%d)", t.R, t.C, t.D, t.B)
}
