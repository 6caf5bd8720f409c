package tensor

import "fmt"

// RemapOutput rewrites t from the depth-major layout produced by a lowered
// GEMM, [depth][batch][spatial], into CRDB batch-contiguous order,
// [batch][depth][spatial]. scratch must hold at least t.Len() elements;
// it is overwritten.
func (t *Cube) RemapOutput(scratch []float32, depth, batch, spatial int) error {
	if err := checkRemap(t, scratch, depth, batch, spatial); err != nil {
		return err
	}
	src := scratch[:len(t.Data)]
	copy(src, t.Data)
	transposeBlocks(t.Data, src, depth, batch, spatial)
	return nil
}

// InverseRemapOutput is the adjoint of RemapOutput: it reads src in
// [batch][depth][spatial] order and writes [depth][batch][spatial] into t.
func (t *Cube) InverseRemapOutput(src *Cube, depth, batch, spatial int) error {
	if len(src.Data) != len(t.Data) {
		return fmt.Errorf("inverse remap %v into %v: %w", src.Shape(), t.Shape(), ErrShapeMismatch)
	}
	if err := checkRemap(t, t.Data, depth, batch, spatial); err != nil {
		return err
	}
	transposeBlocks(t.Data, src.Data, batch, depth, spatial)
	return nil
}

func checkRemap(t *Cube, scratch []float32, depth, batch, spatial int) error {
	if depth*batch*spatial != len(t.Data) || len(scratch) < len(t.Data) {
		return fmt.Errorf("remap %d x %d x %d over %v (scratch %d): %w",
			depth, batch, spatial, t.Shape(), len(scratch), ErrShapeMismatch)
	}
	return nil
}

// transposeBlocks swaps the two outer axes of src, [outer][inner][block],
// writing [inner][outer][block] into dst.
func transposeBlocks(dst, src []float32, outer, inner, block int) {
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			s := (o*inner + i) * block
			d := (i*outer + o) * block
			copy(dst[d:d+block], src[s:s+block])
		}
	}
}
