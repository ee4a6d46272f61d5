// Package randx provides explicit seeding and categorical sampling over log-probabilities.
package randx

import (
	"errors"
	"fmt"
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/stat/sampleuv"
	"math/rand/v2"
)

var (
	ErrNoSupport = errors.New("Categoricalエラー: 確率が全て0です")
	ErrBadWeight = errors.New("Categoricalエラー: 値が不正です（NaN/+Inf）")
)

func NewPCG(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// SeedEverything reseeds every given source from one seed, each on its own stream.
func SeedEverything(seed uint64, srcs ...*rand.PCG) {
	for i, src := range srcs {
		s := seed + uint64(i)
		src.Seed(s, s^0x9e3779b97f4a7c15)
	}
}

// Categorical draws an index with probability exp(logProbs[i]). -Inf entries are never drawn.
func Categorical(logProbs []float32, src rand.Source) (int, error) {
	if len(logProbs) == 0 {
		return -1, ErrNoSupport
	}
	ws := make([]float64, len(logProbs))
	for i, lp := range logProbs {
		if math32.IsNaN(lp) || math32.IsInf(lp, 1) {
			return -1, fmt.Errorf("%w: logProbs[%d] = %v", ErrBadWeight, i, lp)
		}
		ws[i] = float64(math32.Exp(lp))
	}
	idx, ok := sampleuv.NewWeighted(ws, src).Take()
	if !ok {
		return -1, ErrNoSupport
	}
	return idx, nil
}

func Uniform(n int, r *rand.Rand) (int, error) {
	if n <= 0 {
		return -1, ErrNoSupport
	}
	return r.IntN(n), nil
}
