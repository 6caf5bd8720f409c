// Package layer provides the layer triple and the bridges that connect layers.
package layer

import (
	"errors"
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// ErrNotForwarded is returned by Backward when no Forward has run yet.
var ErrNotForwarded = errors.New("backward called before forward")

// Layer is a (Data, Model, Gradient) triple. Model is nil for layers without
// learnable parameters.
type Layer struct {
	Data     *tensor.Cube
	Model    *tensor.Cube
	Gradient *tensor.Cube
}

// NewLayer allocates Data and Gradient of shape (r, c, d, b) and attaches model.
func NewLayer(r, c, d, b int, model *tensor.Cube) *Layer {
	return &Layer{
		Data:     tensor.NewCube(r, c, d, b),
		Model:    model,
		Gradient: tensor.NewCube(r, c, d, b),
	}
}

// FromCubes wraps existing cubes. Data and Gradient must share shape.
func FromCubes(data, model, grad *tensor.Cube) (*Layer, error) {
	if data == nil || grad == nil {
		return nil, fmt.Errorf("layer needs data and gradient cubes: %w", tensor.ErrShapeMismatch)
	}
	if !data.SameShape(grad) {
		return nil, fmt.Errorf("data %v vs gradient %v: %w", data, grad, tensor.ErrShapeMismatch)
	}
	return &Layer{Data: data, Model: model, Gradient: grad}, nil
}

// Bridge connects an input layer to an output layer.
type Bridge interface {
	// Forward reads the input layer and writes the output layer's data.
	Forward() error

	// Backward reads the output layer's gradient, writes the input layer's
	// gradient and updates any parameters the bridge owns.
	Backward() error

	ForwardReport() report.Report
	BackwardReport() report.Report
}

// Base carries the layer references, the thread hint and the reports
// every bridge keeps. Bridges embed it.
type Base struct {
	input, output *Layer

	// Threads is passed to matrix kernels on every call.
	Threads int

	constructor     report.Report
	forwardLast     report.Report
	forwardHistory  report.Report
	backwardLast    report.Report
	backwardHistory report.Report
}

// NewBase binds in and out.
func NewBase(in, out *Layer) Base {
	return Base{input: in, output: out, Threads: 1}
}

func (b *Base) Input() *Layer  { return b.input }
func (b *Base) Output() *Layer { return b.output }

// StartForward resets the last-forward report.
func (b *Base) StartForward() { b.forwardLast.Start() }

// FinishForward closes the last-forward report, adds the cost of parts and
// folds it into the history.
func (b *Base) FinishForward(parts ...report.Report) {
	b.forwardLast.End(0, 0, 0)
	for _, p := range parts {
		b.forwardLast.AggregateStats(p)
	}
	b.forwardHistory.Aggregate(b.forwardLast)
}

// StartBackward resets the last-backward report.
func (b *Base) StartBackward() { b.backwardLast.Start() }

// FinishBackward is the backward counterpart of FinishForward.
func (b *Base) FinishBackward(parts ...report.Report) {
	b.backwardLast.End(0, 0, 0)
	for _, p := range parts {
		b.backwardLast.AggregateStats(p)
	}
	b.backwardHistory.Aggregate(b.backwardLast)
}

// ForwardReport returns the statistics of the last Forward.
func (b *Base) ForwardReport() report.Report { return b.forwardLast }

// BackwardReport returns the statistics of the last Backward.
func (b *Base) BackwardReport() report.Report { return b.backwardLast }

// ForwardHistory aggregates every Forward since construction.
func (b *Base) ForwardHistory() report.Report { return b.forwardHistory }

// BackwardHistory aggregates every Backward since construction.
func (b *Base) BackwardHistory() report.Report { return b.backwardHistory }

// ConstructorReport covers the scratch allocation done at construction.
func (b *Base) ConstructorReport() report.Report { return b.constructor }
