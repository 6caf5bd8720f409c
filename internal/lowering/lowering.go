// Package lowering implements the type-1 image-to-column transform that turns
// a stride-1, unpadded convolution into a dense matrix multiply.
package lowering

import (
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Type identifies a lowering strategy. Only Type1 is implemented.
type Type int

const (
	Type1 Type = iota + 1
)

func (t Type) String() string {
	if t == Type1 {
		return "LOWERING_TYPE1"
	}
	return fmt.Sprintf("LoweringType(%d)", int(t))
}

// Config records the window extent of a lowering.
type Config struct {
	KernelSize int
}

// OutputExtent returns the number of valid window positions along an axis
// of length n.
func (c Config) OutputExtent(n int) int {
	return n - c.KernelSize + 1
}

// LoweredShape returns the (rows, cols) of the matrix produced by lowering in.
func (c Config) LoweredShape(in *tensor.Cube) (rows, cols int) {
	k := c.KernelSize
	return k * k * in.D, c.OutputExtent(in.R) * c.OutputExtent(in.C) * in.B
}

func (c Config) check(in, lowered *tensor.Cube) error {
	k := c.KernelSize
	if k < 1 || k > in.R || k > in.C {
		return fmt.Errorf("kernel %d over input %v: %w", k, in, tensor.ErrShapeMismatch)
	}
	rows, cols := c.LoweredShape(in)
	if lowered.Len() != rows*cols || lowered.D*lowered.B != 1 || lowered.R != rows {
		return fmt.Errorf("lowered %v, want %dx%d for input %v: %w", lowered, rows, cols, in, tensor.ErrShapeMismatch)
	}
	return nil
}

// Lower copies every k x k window of in into one column of out.
//
// Row index within a column is d*k*k + kr*k + kc, matching a CRDB model
// cube (k, k, D, O) read as an O x k*k*D matrix. Column index is
// b*oR*oC + or*oC + oc.
func Lower(in, out *tensor.Cube, cfg Config) error {
	if err := cfg.check(in, out); err != nil {
		return err
	}
	k := cfg.KernelSize
	oR, oC := cfg.OutputExtent(in.R), cfg.OutputExtent(in.C)
	cols := oR * oC * in.B
	dst := out.Data

	for b := 0; b < in.B; b++ {
		src := in.BatchSlice(b)
		for d := 0; d < in.D; d++ {
			plane := src[d*in.R*in.C : (d+1)*in.R*in.C]
			for kr := 0; kr < k; kr++ {
				for kc := 0; kc < k; kc++ {
					row := dst[((d*k+kr)*k+kc)*cols:]
					colBase := b * oR * oC
					for or := 0; or < oR; or++ {
						srcRow := plane[(or+kr)*in.C+kc:]
						copy(row[colBase+or*oC:colBase+(or+1)*oC], srcRow[:oC])
					}
				}
			}
		}
	}
	return nil
}

// InverseLower is the adjoint of Lower. It zeroes grad and sums every
// column of lowered back into the window it came from, so locations
// covered by several windows accumulate all of their contributions.
func InverseLower(lowered, grad *tensor.Cube, cfg Config) error {
	if err := cfg.check(grad, lowered); err != nil {
		return err
	}
	k := cfg.KernelSize
	oR, oC := cfg.OutputExtent(grad.R), cfg.OutputExtent(grad.C)
	cols := oR * oC * grad.B
	src := lowered.Data

	grad.Zero()
	for b := 0; b < grad.B; b++ {
		dst := grad.BatchSlice(b)
		for d := 0; d < grad.D; d++ {
			plane := dst[d*grad.R*grad.C : (d+1)*grad.R*grad.C]
			for kr := 0; kr < k; kr++ {
				for kc := 0; kc < k; kc++ {
					row := src[((d*k+kr)*k+kc)*cols:]
					colBase := b * oR * oC
					for or := 0; or < oR; or++ {
						dstRow := plane[(or+kr)*grad.C+kc:]
						srcRow := row[colBase+or*oC:]
						for oc := 0; oc < oC; oc++ {
							dstRow[oc] += srcRow[oc]
						}
					}
				}
			}
		}
	}
	return nil
}
