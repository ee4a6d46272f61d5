package tensor2d

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewFilled(rows, cols int, v float32) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = v
	}
	return gen
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

func Row(gen blas32.General, row int) []float32 {
	offset := row * gen.Stride
	return gen.Data[offset : offset+gen.Cols]
}

// ToDense packs ragged rows into a (len(rows), max row length) matrix, padding with fill.
func ToDense(rows [][]float32, fill float32) blas32.General {
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	gen := NewFilled(len(rows), cols, fill)
	for i, r := range rows {
		copy(Row(gen, i), r)
	}
	return gen
}

// MaskedLogSoftmax normalises each row of logits over its first lens[row] columns and
// writes -Inf into the remaining columns. Rows with no valid column are all -Inf.
func MaskedLogSoftmax(logits blas32.General, lens []int) (blas32.General, error) {
	if len(lens) != logits.Rows {
		return blas32.General{}, fmt.Errorf("%w: MaskedLogSoftmax rows = %d, lens = %d", gflow.ErrLengthMismatch, logits.Rows, len(lens))
	}
	y := NewFilled(logits.Rows, logits.Cols, math32.Inf(-1))
	for r, n := range lens {
		if n < 0 || n > logits.Cols {
			return blas32.General{}, fmt.Errorf("%w: MaskedLogSoftmax lens[%d] = %d, cols = %d", gflow.ErrIndexOutOfRange, r, n, logits.Cols)
		}
		if n == 0 {
			continue
		}
		src := Row(logits, r)[:n]
		dst := Row(y, r)[:n]
		// オーバーフロー対策
		m := slices.Max(src)
		var sum float32
		for _, v := range src {
			sum += math32.Exp(v - m)
		}
		logZ := m + math32.Log(sum)
		for c, v := range src {
			dst[c] = v - logZ
		}
	}
	return y, nil
}

// GatherFlat picks gen[row, indices[row]] for every row through the flat
// index row*Stride + indices[row].
func GatherFlat(gen blas32.General, indices []int) ([]float32, error) {
	if len(indices) != gen.Rows {
		return nil, fmt.Errorf("%w: GatherFlat rows = %d, indices = %d", gflow.ErrLengthMismatch, gen.Rows, len(indices))
	}
	ys := make([]float32, gen.Rows)
	for r, idx := range indices {
		if idx < 0 || idx >= gen.Cols {
			return nil, fmt.Errorf("%w: GatherFlat indices[%d] = %d, cols = %d", gflow.ErrIndexOutOfRange, r, idx, gen.Cols)
		}
		ys[r] = gen.Data[At(gen, r, idx)]
	}
	return ys, nil
}
