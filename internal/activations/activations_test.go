package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

func TestReLU(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input, expected, deriv float32
	}{
		{-1.0, 0.0, 0},
		{0.0, 0.0, 0}, // derivative at zero is 0 (x must be > 0)
		{1.0, 1.0, 1},
		{2.5, 2.5, 1},
		{-0.1, 0.0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, relu.Activate(tt.input), "ReLU(%v)", tt.input)
		assert.Equal(t, tt.deriv, relu.Derivative(tt.input), "ReLU'(%v)", tt.input)
	}
}

func TestSigmoid(t *testing.T) {
	s := Sigmoid{}
	for _, x := range []float32{-2, -1, 0, 1, 2} {
		want := float32(1 / (1 + math.Exp(-float64(x))))
		assert.InDelta(t, want, s.Activate(x), 1e-6)
		assert.InDelta(t, want*(1-want), s.Derivative(x), 1e-6)
	}
	assert.Equal(t, float32(0), s.Activate(float32(math.Inf(-1))))
	assert.Equal(t, float32(1), s.Activate(float32(math.Inf(1))))
}

func TestTanh(t *testing.T) {
	th := Tanh{}
	for _, x := range []float32{-2, -1, 0, 1, 2} {
		want := math.Tanh(float64(x))
		assert.InDelta(t, want, th.Activate(x), 1e-6)
		assert.InDelta(t, 1-want*want, th.Derivative(x), 1e-6)
		// tanh is odd
		assert.InDelta(t, 0, th.Activate(x)+th.Activate(-x), 1e-6)
	}
}

func TestLeakyReLUDifferentAlphas(t *testing.T) {
	for _, alpha := range []float32{0.01, 0.1, 0.3} {
		l := NewLeakyReLU(alpha)
		assert.InDelta(t, -alpha, l.Activate(-1), 1e-7)
		assert.Equal(t, float32(3), l.Activate(3))
		assert.Equal(t, alpha, l.Derivative(-5))
		assert.Equal(t, float32(1), l.Derivative(5))
	}
}

func TestOutputDerivativeMatchesDerivative(t *testing.T) {
	acts := map[string]Activation{
		"relu":    ReLU{},
		"sigmoid": Sigmoid{},
		"tanh":    Tanh{},
		"leaky":   NewLeakyReLU(0.05),
		"linear":  Linear{},
	}
	for name, act := range acts {
		for _, x := range []float32{-1.5, -0.3, 0.4, 2} {
			y := act.Activate(x)
			assert.InDelta(t, act.Derivative(x), act.OutputDerivative(y), 1e-5, "%s at %v", name, x)
		}
	}
}

func TestNumericDerivative(t *testing.T) {
	const h = 1e-3
	for _, act := range []Activation{Sigmoid{}, Tanh{}} {
		for _, x := range []float32{-1, -0.5, 0.5, 1} {
			numeric := (act.Activate(x+h) - act.Activate(x-h)) / (2 * h)
			assert.InDelta(t, act.Derivative(x), numeric, 1e-3)
		}
	}
}

func TestLookup(t *testing.T) {
	act, err := Lookup(FuncTanh)
	require.NoError(t, err)
	assert.IsType(t, Tanh{}, act)

	act, err = Lookup(FuncNone)
	require.NoError(t, err)
	assert.IsType(t, Linear{}, act)

	act, err = Lookup(FuncLeakyReLU)
	require.NoError(t, err)
	assert.InDelta(t, -0.02, act.Activate(-2), 1e-7)

	_, err = Lookup(NonLinearFunction(42))
	assert.ErrorIs(t, err, tensor.ErrUnsupportedConfig)
	assert.Equal(t, "FUNC_TANH", FuncTanh.String())
	assert.Equal(t, "NonLinearFunction(42)", NonLinearFunction(42).String())
}

func TestScannerApply(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{-1, 0, 2, -3}, 2, 2, 1, 1)

	none, err := NewScanner(FuncNone)
	require.NoError(t, err)
	none.Apply(x)
	assert.Equal(t, []float32{-1, 0, 2, -3}, x.Data)
	assert.Zero(t, none.LastReport().Calls)

	relu, err := NewScanner(FuncReLU)
	require.NoError(t, err)
	assert.True(t, relu.Enabled())
	relu.Apply(x)
	assert.Equal(t, []float32{0, 0, 2, 0}, x.Data)
	assert.Equal(t, 1, relu.LastReport().Calls)

	d := tensor.NewCube(2, 2, 1, 1)
	require.NoError(t, relu.Derivative(x, d))
	assert.Equal(t, []float32{0, 0, 1, 0}, d.Data)
	assert.ErrorIs(t, relu.Derivative(x, tensor.NewCube(1, 1, 1, 1)), tensor.ErrShapeMismatch)

	_, err = NewScanner(NonLinearFunction(-1))
	assert.ErrorIs(t, err, tensor.ErrUnsupportedConfig)
}
