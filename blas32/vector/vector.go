// Package vector provides float32 vector helpers on top of gonum's blas32.Vector:
// construction, scatter/gather by index and the reductions used by the objectives.
package vector

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

// FromSlice wraps xs without copying.
func FromSlice(xs []float32) blas32.Vector {
	return blas32.Vector{
		N:    len(xs),
		Inc:  1,
		Data: xs,
	}
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

// Sub returns x - y.
func Sub(x, y blas32.Vector) (blas32.Vector, error) {
	if x.N != y.N {
		return blas32.Vector{}, fmt.Errorf("%w: Sub x = %d, y = %d", gflow.ErrLengthMismatch, x.N, y.N)
	}
	z := Clone(x)
	blas32.Axpy(-1.0, y, z)
	return z, nil
}

// ScatterAdd returns a copy of input where src[i] has been added at position index[i].
// Repeated indices accumulate.
func ScatterAdd(input blas32.Vector, index []int, src blas32.Vector) (blas32.Vector, error) {
	if len(index) != src.N {
		return blas32.Vector{}, fmt.Errorf("%w: ScatterAdd index = %d, src = %d", gflow.ErrLengthMismatch, len(index), src.N)
	}
	y := Clone(input)
	for i, idx := range index {
		if idx < 0 || idx >= y.N {
			return blas32.Vector{}, fmt.Errorf("%w: ScatterAdd index[%d] = %d, n = %d", gflow.ErrIndexOutOfRange, i, idx, y.N)
		}
		y.Data[idx] += src.Data[i]
	}
	return y, nil
}

// RepeatInterleave expands counts into [0]*counts[0] ++ [1]*counts[1] ++ ...
func RepeatInterleave(counts []int) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	indices := make([]int, 0, total)
	for i, c := range counts {
		for range c {
			indices = append(indices, i)
		}
	}
	return indices
}

func Sum(x blas32.Vector) float32 {
	var sum float32
	for _, v := range x.Data {
		sum += v
	}
	return sum
}

func Mean(x blas32.Vector) float32 {
	if x.N == 0 {
		return math32.NaN()
	}
	return Sum(x) / float32(x.N)
}

// SquaredMean returns mean(x^2). Infinite entries give +Inf.
func SquaredMean(x blas32.Vector) float32 {
	if x.N == 0 {
		return math32.NaN()
	}
	return blas32.Dot(x, x) / float32(x.N)
}
