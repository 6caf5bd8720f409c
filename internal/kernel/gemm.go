// Package kernel provides the dense matrix kernels consumed by the bridges.
package kernel

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// minRowsPerWorker keeps row blocks large enough to amortize goroutine startup.
const minRowsPerWorker = 8

// GEMM computes C := Alpha*op(A)*op(B) + Beta*C on matrix views.
//
// Each operand is read as a row-major matrix with rows = R and
// cols = C*D*B, so 2D views built with tensor.Cube.Matrix are the natural
// argument. Alpha and Beta may be changed between calls.
type GEMM struct {
	TransA, TransB bool
	Alpha, Beta    float32

	lastReport report.Report
}

// NewGEMM returns a kernel with Alpha = 1 and Beta = 0.
func NewGEMM(transA, transB bool) *GEMM {
	return &GEMM{TransA: transA, TransB: transB, Alpha: 1}
}

func general(t *tensor.Cube) blas32.General {
	cols := t.C * t.D * t.B
	return blas32.General{Rows: t.R, Cols: cols, Stride: cols, Data: t.Data}
}

func transpose(trans bool) blas.Transpose {
	if trans {
		return blas.Trans
	}
	return blas.NoTrans
}

func dims(g blas32.General, trans bool) (rows, cols int) {
	if trans {
		return g.Cols, g.Rows
	}
	return g.Rows, g.Cols
}

// Compute runs the multiply. threads is a hint for how many goroutines may
// share the work; values below 2 run on the calling goroutine.
func (k *GEMM) Compute(a, b, c *tensor.Cube, threads int) error {
	ga, gb, gc := general(a), general(b), general(c)
	m, ka := dims(ga, k.TransA)
	kb, n := dims(gb, k.TransB)
	if ka != kb || gc.Rows != m || gc.Cols != n {
		return fmt.Errorf("gemm op(A) %dx%d, op(B) %dx%d, C %dx%d: %w",
			m, ka, kb, n, gc.Rows, gc.Cols, tensor.ErrShapeMismatch)
	}

	k.lastReport.Start()
	if m > 0 && n > 0 {
		k.run(ga, gb, gc, m, threads)
	}
	read := int64(len(ga.Data)+len(gb.Data)) * 4
	if k.Beta != 0 {
		read += int64(len(gc.Data)) * 4
	}
	k.lastReport.End(2*int64(m)*int64(n)*int64(ka), read, int64(len(gc.Data))*4)
	return nil
}

func (k *GEMM) run(ga, gb, gc blas32.General, m, threads int) {
	tA, tB := transpose(k.TransA), transpose(k.TransB)
	workers := min(threads, (m+minRowsPerWorker-1)/minRowsPerWorker)
	if workers < 2 {
		blas32.Gemm(tA, tB, k.Alpha, ga, gb, k.Beta, gc)
		return
	}

	chunk := (m + workers - 1) / workers
	var wg sync.WaitGroup
	for r0 := 0; r0 < m; r0 += chunk {
		r1 := min(r0+chunk, m)
		wg.Add(1)
		go func(r0, r1 int) {
			defer wg.Done()
			blas32.Gemm(tA, tB, k.Alpha, rowBlock(ga, k.TransA, r0, r1), gb, k.Beta, rowBlock(gc, false, r0, r1))
		}(r0, r1)
	}
	wg.Wait()
}

// rowBlock returns the sub-matrix holding rows [r0, r1) of op(g).
func rowBlock(g blas32.General, trans bool, r0, r1 int) blas32.General {
	if trans {
		return blas32.General{Rows: g.Rows, Cols: r1 - r0, Stride: g.Stride, Data: g.Data[r0:]}
	}
	return blas32.General{Rows: r1 - r0, Cols: g.Cols, Stride: g.Stride, Data: g.Data[r0*g.Stride:]}
}

// LastReport returns the statistics of the most recent Compute.
func (k *GEMM) LastReport() report.Report { return k.lastReport }
