package layer

import (
	"bytes"
	"log"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/FlavioCFOliveira/lowernet/internal/activations"
	"github.com/FlavioCFOliveira/lowernet/internal/lowering"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

type convFixture struct {
	in, out *Layer
	bridge  *ConvolutionBridge
}

func fillRandom(rng *rand.Rand, t *tensor.Cube) {
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
}

func newConvFixture(t testing.TB, r, c, d, b, k, o int, opts ConvOptions) *convFixture {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	model := tensor.NewCube(k, k, d, o)
	fillRandom(rng, model)
	in := NewLayer(r, c, d, b, model)
	fillRandom(rng, in.Data)
	out := NewLayer(r-k+1, c-k+1, o, b, nil)
	bridge, err := NewConvolutionBridge(in, out, opts)
	require.NoError(t, err)
	return &convFixture{in: in, out: out, bridge: bridge}
}

// directConv computes the stride-1, unpadded convolution with plain loops.
func directConv(in, model *tensor.Cube, act activations.Activation) *tensor.Cube {
	k := model.R
	out := tensor.NewCube(in.R-k+1, in.C-k+1, model.B, in.B)
	for b := 0; b < in.B; b++ {
		for o := 0; o < model.B; o++ {
			for r := 0; r < out.R; r++ {
				for c := 0; c < out.C; c++ {
					var sum float32
					for d := 0; d < in.D; d++ {
						for kr := 0; kr < k; kr++ {
							for kc := 0; kc < k; kc++ {
								sum += model.At(kr, kc, d, o) * in.At(r+kr, c+kc, d, b)
							}
						}
					}
					out.Set(r, c, o, b, act.Activate(sum))
				}
			}
		}
	}
	return out
}

func TestConvolutionShapeContract(t *testing.T) {
	f := newConvFixture(t, 5, 5, 3, 2, 3, 4, ConvOptions{})
	assert.Equal(t, [4]int{3, 3, 4, 2}, f.out.Data.Shape())
	assert.Equal(t, lowering.Config{KernelSize: 3}, f.bridge.LoweringConfig())
	assert.Equal(t, [4]int{27, 18, 1, 1}, f.bridge.Lowered().Shape())

	require.NoError(t, f.bridge.Forward())
	fillRandom(rand.New(rand.NewSource(3)), f.out.Gradient)
	require.NoError(t, f.bridge.Backward())
	assert.Equal(t, f.in.Data.Shape(), f.in.Gradient.Shape())
}

func TestConvolutionForwardMatchesDirect(t *testing.T) {
	cases := []struct {
		name string
		fn   activations.NonLinearFunction
		act  activations.Activation
	}{
		{"none", activations.FuncNone, activations.Linear{}},
		{"tanh", activations.FuncTanh, activations.Tanh{}},
		{"relu", activations.FuncReLU, activations.ReLU{}},
		{"sigmoid", activations.FuncSigmoid, activations.Sigmoid{}},
		{"leaky", activations.FuncLeakyReLU, activations.NewLeakyReLU(activations.DefaultLeakySlope)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newConvFixture(t, 6, 5, 2, 3, 2, 4, ConvOptions{Function: tc.fn})
			require.NoError(t, f.bridge.Forward())
			want := directConv(f.in.Data, f.in.Model, tc.act)
			assert.InDeltaSlice(t, want.Data, f.out.Data.Data, 1e-5)
			assert.Equal(t, 1, f.bridge.ForwardReport().Calls)
			assert.Positive(t, f.bridge.ForwardReport().FLOPs)
		})
	}
}

func TestConvolutionForwardDeterministic(t *testing.T) {
	f := newConvFixture(t, 5, 5, 3, 2, 3, 4, ConvOptions{Function: activations.FuncTanh, Threads: 4})
	require.NoError(t, f.bridge.Forward())
	first := append([]float32(nil), f.out.Data.Data...)
	require.NoError(t, f.bridge.Forward())
	assert.Equal(t, first, f.out.Data.Data)
	assert.Equal(t, 2, f.bridge.ForwardHistory().Calls)
}

func TestConvolutionThreadsDoNotChangeResults(t *testing.T) {
	single := newConvFixture(t, 12, 12, 3, 2, 3, 20, ConvOptions{Threads: 1})
	multi := newConvFixture(t, 12, 12, 3, 2, 3, 20, ConvOptions{Threads: 8})
	require.NoError(t, single.bridge.Forward())
	require.NoError(t, multi.bridge.Forward())
	assert.InDeltaSlice(t, single.out.Data.Data, multi.out.Data.Data, 1e-5)
}

// objective returns sum(out * weights) after a fresh forward.
func objective(t *testing.T, f *convFixture, weights *tensor.Cube) float64 {
	require.NoError(t, f.bridge.Forward())
	var sum float64
	for i, v := range f.out.Data.Data {
		sum += float64(v) * float64(weights.Data[i])
	}
	return sum
}

func numericGradient(t *testing.T, f *convFixture, target, weights *tensor.Cube) []float64 {
	x := make([]float64, target.Len())
	for i, v := range target.Data {
		x[i] = float64(v)
	}
	saved := append([]float32(nil), target.Data...)
	grad := fd.Gradient(nil, func(p []float64) float64 {
		for i, v := range p {
			target.Data[i] = float32(v)
		}
		return objective(t, f, weights)
	}, x, &fd.Settings{Formula: fd.Central, Step: 1e-2})
	copy(target.Data, saved)
	return grad
}

func TestConvolutionBackwardMatchesNumericGradient(t *testing.T) {
	f := newConvFixture(t, 5, 4, 2, 2, 2, 3, ConvOptions{StepSize: 0.5})
	weights := tensor.NewCube(f.out.Data.R, f.out.Data.C, f.out.Data.D, f.out.Data.B)
	fillRandom(rand.New(rand.NewSource(11)), weights)

	wantInput := numericGradient(t, f, f.in.Data, weights)
	wantModel := numericGradient(t, f, f.in.Model, weights)
	oldModel := append([]float32(nil), f.in.Model.Data...)

	require.NoError(t, f.bridge.Forward())
	require.NoError(t, f.out.Gradient.CopyFrom(weights))
	require.NoError(t, f.bridge.Backward())

	assert.InDeltaSlice(t, wantInput, toFloat64(f.in.Gradient.Data), 2e-3)
	for i, g := range wantModel {
		assert.InDelta(t, float64(oldModel[i])-0.5*g, f.in.Model.Data[i], 2e-3, "model[%d]", i)
	}
	assert.Equal(t, 1, f.bridge.BackwardReport().Calls)
}

func TestConvolutionExternalUpdate(t *testing.T) {
	f := newConvFixture(t, 5, 5, 2, 2, 3, 2, ConvOptions{ExternalUpdate: true})
	weights := tensor.NewCube(f.out.Data.R, f.out.Data.C, f.out.Data.D, f.out.Data.B)
	fillRandom(rand.New(rand.NewSource(13)), weights)
	want := numericGradient(t, f, f.in.Model, weights)
	model := append([]float32(nil), f.in.Model.Data...)

	require.NoError(t, f.bridge.Forward())
	require.NoError(t, f.out.Gradient.CopyFrom(weights))
	require.NoError(t, f.bridge.Backward())

	assert.Equal(t, model, f.bridge.Model().Data)
	require.NotNil(t, f.bridge.ModelGradient())
	assert.Equal(t, f.in.Model.Shape(), f.bridge.ModelGradient().Shape())
	assert.InDeltaSlice(t, want, toFloat64(f.bridge.ModelGradient().Data), 2e-3)

	// A second backward overwrites rather than accumulates.
	require.NoError(t, f.bridge.Backward())
	assert.InDeltaSlice(t, want, toFloat64(f.bridge.ModelGradient().Data), 2e-3)
}

func TestConvolutionBackwardUsesOutputGradientAsIs(t *testing.T) {
	// With a nonlinearity configured, the default backward skips its
	// derivative: the input gradient equals the linear bridge's.
	tanh := newConvFixture(t, 4, 4, 1, 1, 2, 2, ConvOptions{Function: activations.FuncTanh})
	linear := newConvFixture(t, 4, 4, 1, 1, 2, 2, ConvOptions{})
	for _, f := range []*convFixture{tanh, linear} {
		require.NoError(t, f.bridge.Forward())
		f.out.Gradient.Fill(1)
		require.NoError(t, f.bridge.Backward())
	}
	assert.Equal(t, linear.in.Gradient.Data, tanh.in.Gradient.Data)
}

func TestConvolutionApplyActivationGradient(t *testing.T) {
	f := newConvFixture(t, 4, 5, 2, 2, 3, 2, ConvOptions{
		Function:                activations.FuncTanh,
		ApplyActivationGradient: true,
	})
	weights := tensor.NewCube(f.out.Data.R, f.out.Data.C, f.out.Data.D, f.out.Data.B)
	fillRandom(rand.New(rand.NewSource(5)), weights)
	want := numericGradient(t, f, f.in.Data, weights)

	require.NoError(t, f.bridge.Forward())
	require.NoError(t, f.out.Gradient.CopyFrom(weights))
	require.NoError(t, f.bridge.Backward())
	assert.InDeltaSlice(t, want, toFloat64(f.in.Gradient.Data), 2e-3)
}

func TestConvolutionBackwardBeforeForward(t *testing.T) {
	f := newConvFixture(t, 3, 3, 1, 1, 2, 1, ConvOptions{})
	assert.ErrorIs(t, f.bridge.Backward(), ErrNotForwarded)
}

func TestConvolutionRejectsBadShapes(t *testing.T) {
	model := tensor.NewCube(3, 3, 3, 4)
	cases := []struct {
		name    string
		in, out *Layer
	}{
		{"output extent", NewLayer(5, 5, 3, 2, model), NewLayer(4, 4, 4, 2, nil)},
		{"depth", NewLayer(5, 5, 2, 2, model), NewLayer(3, 3, 4, 2, nil)},
		{"batch", NewLayer(5, 5, 3, 2, model), NewLayer(3, 3, 4, 1, nil)},
		{"channels", NewLayer(5, 5, 3, 2, model), NewLayer(3, 3, 5, 2, nil)},
		{"no model", NewLayer(5, 5, 3, 2, nil), NewLayer(3, 3, 4, 2, nil)},
		{"non-square kernel", NewLayer(5, 5, 3, 2, tensor.NewCube(3, 2, 3, 4)), NewLayer(3, 4, 4, 2, nil)},
		{"kernel too large", NewLayer(2, 2, 3, 2, model), NewLayer(0, 0, 4, 2, nil)},
		{"nil layer", nil, NewLayer(3, 3, 4, 2, nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConvolutionBridge(tc.in, tc.out, ConvOptions{})
			assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
		})
	}

	bad := &Layer{Data: tensor.NewCube(3, 3, 4, 2), Gradient: tensor.NewCube(3, 3, 4, 1)}
	_, err := NewConvolutionBridge(NewLayer(5, 5, 3, 2, model), bad, ConvOptions{})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestConvolutionUnsupportedConfig(t *testing.T) {
	model := tensor.NewCube(2, 2, 1, 1)
	in, out := NewLayer(3, 3, 1, 1, model), NewLayer(2, 2, 1, 1, nil)

	_, err := NewConvolutionBridge(in, out, ConvOptions{Lowering: lowering.Type(2)})
	assert.ErrorIs(t, err, tensor.ErrUnsupportedConfig)
	_, err = NewConvolutionBridge(in, out, ConvOptions{Function: activations.NonLinearFunction(99)})
	assert.ErrorIs(t, err, tensor.ErrUnsupportedConfig)
}

func TestConvolutionOptionsDefaultsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	f := newConvFixture(t, 4, 4, 1, 1, 2, 1, ConvOptions{Logger: log.New(&buf, "", 0)})
	assert.Equal(t, DefaultStepSize, f.bridge.StepSize())
	assert.Equal(t, 1, f.bridge.Threads)
	assert.Equal(t, activations.FuncNone, f.bridge.Function())
	assert.Contains(t, buf.String(), "lowering matrix (4 x 9)")
	assert.Positive(t, f.bridge.ConstructorReport().BytesWritten)
	assert.Nil(t, f.bridge.ModelGradient())

	f.bridge.SetStepSize(0.1)
	assert.Equal(t, float32(0.1), f.bridge.StepSize())
}

func TestFromCubes(t *testing.T) {
	_, err := FromCubes(tensor.NewCube(2, 2, 1, 1), nil, tensor.NewCube(2, 2, 1, 2))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = FromCubes(nil, nil, nil)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	l, err := FromCubes(tensor.NewCube(2, 2, 1, 1), nil, tensor.NewCube(2, 2, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, l.Model)
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}
