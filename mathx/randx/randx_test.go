package randx_test

import (
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/gflow/mathx/randx"
	"math/rand/v2"
	"testing"
)

func TestCategoricalNeverDrawsMasked(t *testing.T) {
	inf := math32.Inf(-1)
	logProbs := []float32{inf, math32.Log(0.5), inf, math32.Log(0.5)}
	src := randx.NewPCG(1)
	counts := make([]int, len(logProbs))
	for range 2000 {
		idx, err := randx.Categorical(logProbs, src)
		require.NoError(t, err)
		counts[idx]++
	}
	assert.Zero(t, counts[0])
	assert.Zero(t, counts[2])
	assert.InDelta(t, 1000, counts[1], 150)
}

func TestCategoricalErrors(t *testing.T) {
	inf := math32.Inf(-1)
	_, err := randx.Categorical([]float32{inf, inf}, randx.NewPCG(1))
	assert.ErrorIs(t, err, randx.ErrNoSupport)

	_, err = randx.Categorical([]float32{0, math32.NaN()}, randx.NewPCG(1))
	assert.ErrorIs(t, err, randx.ErrBadWeight)

	assert.NotPanics(t, func() {
		_, err = randx.Categorical(nil, randx.NewPCG(1))
	})
	assert.ErrorIs(t, err, randx.ErrNoSupport)
}

func TestSeedEverything(t *testing.T) {
	a, b := randx.NewPCG(0), randx.NewPCG(0)
	randx.SeedEverything(42, a, b)
	first := rand.New(a).Uint64()

	c, d := randx.NewPCG(7), randx.NewPCG(7)
	randx.SeedEverything(42, c, d)
	assert.Equal(t, first, rand.New(c).Uint64())
	assert.NotEqual(t, rand.New(b).Uint64(), first)
}
