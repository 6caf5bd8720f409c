// Package activations provides the pointwise nonlinearities applied by bridges.
package activations

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float32) float32

	// Derivative computes f'(x)
	Derivative(x float32) float32

	// OutputDerivative computes f'(x) given y = f(x).
	OutputDerivative(y float32) float32
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) OutputDerivative(y float32) float32 { return r.Derivative(y) }

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float32) float32 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float32) float32 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

func (s Sigmoid) OutputDerivative(y float32) float32 { return y * (1 - y) }

// LeakyReLU activation function to prevent dying neurons.
type LeakyReLU struct {
	Alpha float32 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float32) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// OutputDerivative assumes Alpha > 0 so that sign(y) == sign(x).
func (l *LeakyReLU) OutputDerivative(y float32) float32 { return l.Derivative(y) }

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float32) float32 {
	return math32.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float32) float32 {
	tanhX := math32.Tanh(x)
	return 1 - tanhX*tanhX
}

func (t Tanh) OutputDerivative(y float32) float32 { return 1 - y*y }

// Linear is the identity.
type Linear struct{}

func (Linear) Activate(x float32) float32       { return x }
func (Linear) Derivative(float32) float32       { return 1 }
func (Linear) OutputDerivative(float32) float32 { return 1 }

// NonLinearFunction tags the function a bridge applies to its output.
type NonLinearFunction int

const (
	FuncNone NonLinearFunction = iota
	FuncTanh
	FuncReLU
	FuncSigmoid
	FuncLeakyReLU
)

// DefaultLeakySlope is the negative slope used by FuncLeakyReLU.
const DefaultLeakySlope = 0.01

func (f NonLinearFunction) String() string {
	switch f {
	case FuncNone:
		return "FUNC_NOFUNC"
	case FuncTanh:
		return "FUNC_TANH"
	case FuncReLU:
		return "FUNC_RELU"
	case FuncSigmoid:
		return "FUNC_SIGMOID"
	case FuncLeakyReLU:
		return "FUNC_LEAKY_RELU"
	}
	return fmt.Sprintf("NonLinearFunction(%d)", int(f))
}

// Lookup returns the activation for f. FuncNone maps to Linear.
func Lookup(f NonLinearFunction) (Activation, error) {
	switch f {
	case FuncNone:
		return Linear{}, nil
	case FuncTanh:
		return Tanh{}, nil
	case FuncReLU:
		return ReLU{}, nil
	case FuncSigmoid:
		return Sigmoid{}, nil
	case FuncLeakyReLU:
		return NewLeakyReLU(DefaultLeakySlope), nil
	}
	return nil, fmt.Errorf("function %s: %w", f, tensor.ErrUnsupportedConfig)
}
