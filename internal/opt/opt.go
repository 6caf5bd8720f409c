// Package opt provides the gradient updaters that apply solver steps to a
// flat parameter buffer.
package opt

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("updater closed")

// GradientUpdater updates a model in place from a gradient of the same
// length. Implementations keep per-parameter history and are not safe for
// concurrent use.
type GradientUpdater interface {
	// Update increments the iteration, regularizes grad in place when weight
	// decay is nonzero, and applies one step to the model.
	Update(grad []float32) error

	Iter() int
	StepSize() float32
	WeightDecay() float32

	// ResetZero zeroes the model.
	ResetZero()

	// Close releases the history buffer.
	Close()
}

type updater struct {
	iter    int
	model   []float32
	history []float32
	solver  *SolverConfig
	sched   Scheduler
	closed  bool

	baseLR, baseReg float32
}

func newUpdater(model []float32, solver *SolverConfig, baseLR, baseReg float32) (updater, error) {
	if solver == nil {
		return updater{}, fmt.Errorf("updater needs a solver config: %w", tensor.ErrUnsupportedConfig)
	}
	sched, err := NewScheduler(solver)
	if err != nil {
		return updater{}, err
	}
	return updater{
		model:   model,
		history: make([]float32, len(model)),
		solver:  solver,
		sched:   sched,
		baseLR:  baseLR,
		baseReg: baseReg,
	}, nil
}

// begin validates grad, advances the iteration and applies weight decay.
func (u *updater) begin(grad []float32) error {
	if u.closed {
		return ErrClosed
	}
	if len(grad) != len(u.model) {
		return fmt.Errorf("gradient of %d elements for model of %d: %w", len(grad), len(u.model), tensor.ErrShapeMismatch)
	}
	u.iter++
	if lambda := u.WeightDecay(); lambda != 0 {
		Regularize(u.solver.Regularization, lambda, grad, u.model)
	}
	return nil
}

func (u *updater) Iter() int { return u.iter }

// StepSize returns baseLR times the scheduled rate at the current iteration.
func (u *updater) StepSize() float32 { return u.baseLR * u.sched.GetLR(u.iter) }

func (u *updater) WeightDecay() float32 { return u.solver.WeightDecay * u.baseReg }

// BaseLR returns the per-group learning rate multiplier.
func (u *updater) BaseLR() float32 { return u.baseLR }

// SetBaseLR replaces the per-group learning rate multiplier.
func (u *updater) SetBaseLR(lr float32) { u.baseLR = lr }

func (u *updater) ResetZero() { clear(u.model) }

func (u *updater) Close() {
	u.history = nil
	u.closed = true
}

// History returns the momentum or squared-gradient accumulator.
func (u *updater) History() []float32 { return u.history }

func vec(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// Regularize adds the weight-decay term to grad in place: lambda*w for L2,
// lambda*sign(w) for L1.
func Regularize(kind Regularization, lambda float32, grad, model []float32) {
	switch kind {
	case L1:
		for i, w := range model {
			switch {
			case w > 0:
				grad[i] += lambda
			case w < 0:
				grad[i] -= lambda
			}
		}
	default:
		blas32.Axpy(lambda, vec(model), vec(grad))
	}
}

// SGD is stochastic gradient descent with momentum:
//
//	h = stepsize*g + momentum*h
//	w -= h
type SGD struct {
	updater
	momentum float32
}

// NewSGD returns an SGD updater over model.
func NewSGD(model []float32, solver *SolverConfig, baseLR, baseReg float32) (*SGD, error) {
	u, err := newUpdater(model, solver, baseLR, baseReg)
	if err != nil {
		return nil, err
	}
	return &SGD{updater: u, momentum: solver.Momentum}, nil
}

func (s *SGD) Update(grad []float32) error {
	if err := s.begin(grad); err != nil {
		return err
	}
	h := vec(s.history)
	blas32.Scal(s.momentum, h)
	blas32.Axpy(s.StepSize(), vec(grad), h)
	blas32.Axpy(-1, h, vec(s.model))
	return nil
}

// Momentum returns the configured momentum.
func (s *SGD) Momentum() float32 { return s.momentum }

// AdaGrad scales each parameter's step by the inverse root of its
// accumulated squared gradient:
//
//	h += g*g
//	w -= stepsize / (sqrt(h) + delta) * g
type AdaGrad struct {
	updater
	delta float32
}

// NewAdaGrad returns an AdaGrad updater over model.
func NewAdaGrad(model []float32, solver *SolverConfig, baseLR, baseReg float32) (*AdaGrad, error) {
	u, err := newUpdater(model, solver, baseLR, baseReg)
	if err != nil {
		return nil, err
	}
	delta := solver.Delta
	if delta == 0 {
		delta = DefaultDelta
	}
	return &AdaGrad{updater: u, delta: delta}, nil
}

func (a *AdaGrad) Update(grad []float32) error {
	if err := a.begin(grad); err != nil {
		return err
	}
	stepsize := a.StepSize()
	for i, g := range grad {
		a.history[i] += g * g
		a.model[i] -= stepsize / (math32.Sqrt(a.history[i]) + a.delta) * g
	}
	return nil
}

// EffectiveStepSize returns the step parameter i receives at the current
// iteration. It is 0 once the updater is closed.
func (a *AdaGrad) EffectiveStepSize(i int) float32 {
	if a.closed {
		return 0
	}
	return a.StepSize() / (math32.Sqrt(a.history[i]) + a.delta)
}

// Nesterov is momentum with a lookahead correction:
//
//	h' = stepsize*g + momentum*h
//	w -= (1+momentum)*h' - momentum*h
type Nesterov struct {
	updater
	momentum float32
}

// NewNesterov returns a Nesterov updater over model.
func NewNesterov(model []float32, solver *SolverConfig, baseLR, baseReg float32) (*Nesterov, error) {
	u, err := newUpdater(model, solver, baseLR, baseReg)
	if err != nil {
		return nil, err
	}
	return &Nesterov{updater: u, momentum: solver.Momentum}, nil
}

func (n *Nesterov) Update(grad []float32) error {
	if err := n.begin(grad); err != nil {
		return err
	}
	stepsize, m := n.StepSize(), n.momentum
	for i, g := range grad {
		prev := n.history[i]
		n.history[i] = stepsize*g + m*prev
		n.model[i] -= (1+m)*n.history[i] - m*prev
	}
	return nil
}

// Momentum returns the configured momentum.
func (n *Nesterov) Momentum() float32 { return n.momentum }

// NewGradientUpdater returns the updater named by solver.Type.
func NewGradientUpdater(model []float32, solver *SolverConfig, baseLR, baseReg float32) (GradientUpdater, error) {
	if solver == nil {
		return nil, fmt.Errorf("updater needs a solver config: %w", tensor.ErrUnsupportedConfig)
	}
	var (
		u   GradientUpdater
		err error
	)
	switch solver.Type {
	case SolverSGD, "":
		u, err = NewSGD(model, solver, baseLR, baseReg)
	case SolverAdaGrad:
		u, err = NewAdaGrad(model, solver, baseLR, baseReg)
	case SolverNesterov:
		u, err = NewNesterov(model, solver, baseLR, baseReg)
	default:
		return nil, fmt.Errorf("solver type %q: %w", solver.Type, tensor.ErrUnsupportedConfig)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
