package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

func randomMatrix(rng *rand.Rand, rows, cols int) *tensor.Cube {
	m := tensor.NewCube(rows, cols, 1, 1)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m
}

func at(m *tensor.Cube, r, c int, trans bool) float32 {
	if trans {
		return m.At(c, r, 0, 0)
	}
	return m.At(r, c, 0, 0)
}

// naive computes alpha*op(a)*op(b) + beta*c with plain loops.
func naive(a, b, c *tensor.Cube, transA, transB bool, alpha, beta float32) []float32 {
	m, n := c.R, c.C
	k := a.C
	if transA {
		k = a.R
	}
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += at(a, i, p, transA) * at(b, p, j, transB)
			}
			out[i*n+j] = alpha*sum + beta*c.Data[i*n+j]
		}
	}
	return out
}

func TestGEMMVariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const m, k, n = 37, 11, 23

	cases := []struct {
		name           string
		transA, transB bool
		alpha, beta    float32
	}{
		{"NoTrans x NoTrans", false, false, 1, 0},
		{"NoTrans x Trans accumulate", false, true, -0.5, 1},
		{"Trans x NoTrans", true, false, 2, 0},
	}
	for _, tc := range cases {
		for _, threads := range []int{0, 1, 3, 16} {
			a := randomMatrix(rng, m, k)
			if tc.transA {
				a = randomMatrix(rng, k, m)
			}
			b := randomMatrix(rng, k, n)
			if tc.transB {
				b = randomMatrix(rng, n, k)
			}
			c := randomMatrix(rng, m, n)
			want := naive(a, b, c, tc.transA, tc.transB, tc.alpha, tc.beta)

			g := NewGEMM(tc.transA, tc.transB)
			g.Alpha, g.Beta = tc.alpha, tc.beta
			require.NoError(t, g.Compute(a, b, c, threads), tc.name)
			assert.InDeltaSlice(t, want, c.Data, 1e-4, "%s threads=%d", tc.name, threads)
			assert.Equal(t, int64(2*m*n*k), g.LastReport().FLOPs)
		}
	}
}

func TestGEMMBetaZeroOverwrites(t *testing.T) {
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 2, 2, 1, 1)
	b, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, 2, 2, 1, 1)
	c := tensor.NewCube(2, 2, 1, 1)
	c.Fill(99)
	require.NoError(t, NewGEMM(false, false).Compute(a, b, c, 1))
	assert.Equal(t, []float32{1, 2, 3, 4}, c.Data)
}

func TestGEMMReadsCubesAsMatrices(t *testing.T) {
	// A (2, 1, 3, 1) cube is a 2x3 matrix.
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 1, 3, 1)
	b, _ := tensor.FromSlice([]float32{1, 1, 1}, 3, 1, 1, 1)
	c := tensor.NewCube(2, 1, 1, 1)
	require.NoError(t, NewGEMM(false, false).Compute(a, b, c, 1))
	assert.Equal(t, []float32{6, 15}, c.Data)
}

func TestGEMMShapeMismatch(t *testing.T) {
	a := tensor.NewCube(2, 3, 1, 1)
	b := tensor.NewCube(2, 3, 1, 1)
	c := tensor.NewCube(2, 3, 1, 1)
	c.Fill(1)
	assert.ErrorIs(t, NewGEMM(false, false).Compute(a, b, c, 1), tensor.ErrShapeMismatch)
	assert.Equal(t, float32(1), c.Data[0])

	assert.ErrorIs(t, NewGEMM(false, true).Compute(a, b, tensor.NewCube(3, 3, 1, 1), 1), tensor.ErrShapeMismatch)
	assert.NoError(t, NewGEMM(false, true).Compute(a, b, tensor.NewCube(2, 2, 1, 1), 1))
}

func TestElementwiseMul(t *testing.T) {
	a, _ := tensor.FromSlice([]float32{1, 2, 3}, 1, 3, 1, 1)
	b, _ := tensor.FromSlice([]float32{2, 0.5, -1}, 3, 1, 1, 1)
	var k ElementwiseMul
	require.NoError(t, k.Compute(a, b, a))
	assert.Equal(t, []float32{2, 1, -3}, a.Data)
	assert.Equal(t, int64(3), k.LastReport().FLOPs)
	assert.ErrorIs(t, k.Compute(a, tensor.NewCube(2, 1, 1, 1), a), tensor.ErrShapeMismatch)
}
