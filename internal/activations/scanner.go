package activations

import (
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Scanner applies a NonLinearFunction in place over a cube.
type Scanner struct {
	fn  NonLinearFunction
	act Activation

	lastReport report.Report
}

// NewScanner returns a scanner for f.
func NewScanner(f NonLinearFunction) (*Scanner, error) {
	act, err := Lookup(f)
	if err != nil {
		return nil, err
	}
	return &Scanner{fn: f, act: act}, nil
}

// Function returns the tag the scanner was built with.
func (s *Scanner) Function() NonLinearFunction { return s.fn }

// Enabled reports whether Apply does anything.
func (s *Scanner) Enabled() bool { return s.fn != FuncNone }

// Apply replaces every element x of t with f(x). It is a no-op for FuncNone.
func (s *Scanner) Apply(t *tensor.Cube) {
	if !s.Enabled() {
		return
	}
	s.lastReport.Start()
	for i, x := range t.Data {
		t.Data[i] = s.act.Activate(x)
	}
	n := int64(t.Len())
	s.lastReport.End(n, n*4, n*4)
}

// Derivative writes f'(x) into dst for every activated value y = f(x) in src.
func (s *Scanner) Derivative(src, dst *tensor.Cube) error {
	if src.Len() != dst.Len() {
		return fmt.Errorf("derivative of %v into %v: %w", src, dst, tensor.ErrShapeMismatch)
	}
	for i, y := range src.Data {
		dst.Data[i] = s.act.OutputDerivative(y)
	}
	return nil
}

// LastReport returns the statistics of the most recent Apply.
func (s *Scanner) LastReport() report.Report { return s.lastReport }
