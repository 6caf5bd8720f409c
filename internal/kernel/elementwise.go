package kernel

import (
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// ElementwiseMul computes out[i] = a[i] * b[i].
type ElementwiseMul struct {
	lastReport report.Report
}

// Compute runs the multiply. out may alias a or b.
func (k *ElementwiseMul) Compute(a, b, out *tensor.Cube) error {
	if a.Len() != b.Len() || a.Len() != out.Len() {
		return fmt.Errorf("elementwise mul %v * %v -> %v: %w", a, b, out, tensor.ErrShapeMismatch)
	}
	k.lastReport.Start()
	for i, v := range a.Data {
		out.Data[i] = v * b.Data[i]
	}
	n := int64(out.Len())
	k.lastReport.End(n, 2*n*4, n*4)
	return nil
}

// LastReport returns the statistics of the most recent Compute.
func (k *ElementwiseMul) LastReport() report.Report { return k.lastReport }
