// Package loss provides the terminal softmax loss bridge.
package loss

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/lowernet/internal/layer"
	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

var _ layer.Bridge = (*SoftmaxLossBridge)(nil)

// ErrInvalidLabel is returned when a ground-truth label is not an integer
// in [0, depth).
var ErrInvalidLabel = errors.New("invalid label")

// SoftmaxLossBridge computes exponentiated activations and a running loss
// against integer labels, one label per batch element.
//
// The output holds exp(x - max) per batch element, not divided by the
// denominator. The loss accumulates denom - x[label] over every Forward
// until ResetLoss.
type SoftmaxLossBridge struct {
	layer.Base

	labels *tensor.Cube
	loss   float32

	// stride is the offset of channel d inside one batch slice.
	stride int
}

// NewSoftmaxLossBridge binds in and out, which must share shape, to labels of
// shape (1, 1, 1, B).
func NewSoftmaxLossBridge(in, out *layer.Layer, labels *tensor.Cube) (*SoftmaxLossBridge, error) {
	if in == nil || out == nil || in.Data == nil || out.Data == nil || labels == nil {
		return nil, fmt.Errorf("softmax loss needs input, output and labels: %w", tensor.ErrShapeMismatch)
	}
	if !in.Data.SameShape(out.Data) {
		return nil, fmt.Errorf("softmax input %v vs output %v: %w", in.Data, out.Data, tensor.ErrShapeMismatch)
	}
	if labels.R != 1 || labels.C != 1 || labels.D != 1 || labels.B != in.Data.B {
		return nil, fmt.Errorf("labels %v, want 1x1x1x%d: %w", labels, in.Data.B, tensor.ErrShapeMismatch)
	}
	if in.Gradient == nil || !in.Gradient.SameShape(in.Data) || out.Gradient == nil || !out.Gradient.SameShape(out.Data) {
		return nil, fmt.Errorf("softmax gradients must match data %v: %w", in.Data, tensor.ErrShapeMismatch)
	}

	b := &SoftmaxLossBridge{
		Base:   layer.NewBase(in, out),
		labels: labels,
		stride: in.Data.R * in.Data.C,
	}
	return b, nil
}

// label returns the validated label of batch element i.
func (b *SoftmaxLossBridge) label(i int) (int, error) {
	v := b.labels.Data[i]
	depth := b.Input().Data.D
	if math32.IsNaN(v) || v != math32.Trunc(v) || v < 0 || v >= float32(depth) {
		return 0, fmt.Errorf("label %v for batch %d outside [0, %d): %w", v, i, depth, ErrInvalidLabel)
	}
	return int(v), nil
}

// CheckLabels reports the first label that is not an integer in [0, D).
func (b *SoftmaxLossBridge) CheckLabels() error {
	for i := range b.labels.Data {
		if _, err := b.label(i); err != nil {
			return err
		}
	}
	return nil
}

// Forward exponentiates every batch element after subtracting its maximum
// and adds denom - x[label] to the running loss.
func (b *SoftmaxLossBridge) Forward() error {
	if err := b.CheckLabels(); err != nil {
		return err
	}
	b.StartForward()
	in, out := b.Input().Data, b.Output().Data

	for i := 0; i < in.B; i++ {
		x := in.BatchSlice(i)
		y := out.BatchSlice(i)

		peak := x[0]
		for _, v := range x[1:] {
			if v > peak {
				peak = v
			}
		}
		var denom float32
		for j, v := range x {
			e := math32.Exp(v - peak)
			y[j] = e
			denom += e
		}
		label, _ := b.label(i)
		b.loss += denom - x[label*b.stride]
	}

	n := int64(in.Len())
	b.FinishForward(report.Report{FLOPs: 3 * n, BytesRead: n * 4, BytesWritten: n * 4})
	return nil
}

// Backward copies the output gradient into the input gradient, subtracts 1
// at every label and scales by loss / B / (R*C).
func (b *SoftmaxLossBridge) Backward() error {
	if err := b.CheckLabels(); err != nil {
		return err
	}
	b.StartBackward()
	in, out := b.Input(), b.Output()

	if err := in.Gradient.CopyFrom(out.Gradient); err != nil {
		return err
	}
	for i := 0; i < in.Gradient.B; i++ {
		label, _ := b.label(i)
		in.Gradient.BatchSlice(i)[label*b.stride] -= 1
	}

	g := in.Gradient
	scale := b.loss / float32(g.B) / float32(g.R*g.C)
	for j := range g.Data {
		g.Data[j] *= scale
	}

	n := int64(g.Len())
	b.FinishBackward(report.Report{FLOPs: n + int64(g.B), BytesRead: n * 4, BytesWritten: n * 4})
	return nil
}

// Loss returns the loss accumulated since construction or the last ResetLoss.
func (b *SoftmaxLossBridge) Loss() float32 { return b.loss }

// ResetLoss zeroes the running loss.
func (b *SoftmaxLossBridge) ResetLoss() { b.loss = 0 }

// Labels returns the bound label cube. Callers may overwrite its values
// between iterations.
func (b *SoftmaxLossBridge) Labels() *tensor.Cube { return b.labels }
