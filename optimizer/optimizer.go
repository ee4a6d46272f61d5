package optimizer

import (
	"github.com/sw965/gflow/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

// Optimizer updates the parameter w in place from its gradient. name identifies the parameter
// so stateful optimizers can keep per-parameter buffers.
type Optimizer interface {
	Train(name string, w, grad []float32, lr float32)
}

type SGD struct{}

func (SGD) Train(name string, w, grad []float32, lr float32) {
	blas32.Axpy(-lr, vector.FromSlice(grad), vector.FromSlice(w))
}

type Momentum struct {
	Momentum float32
	Velocity map[string]blas32.Vector
}

func NewMomentum(momentum float32) *Momentum {
	return &Momentum{
		Momentum: momentum,
		Velocity: map[string]blas32.Vector{},
	}
}

// Train applies v = momentum*v - lr*grad, w += v.
func (opt *Momentum) Train(name string, w, grad []float32, lr float32) {
	v, ok := opt.Velocity[name]
	if !ok || v.N != len(w) {
		v = vector.NewZeros(len(w))
		opt.Velocity[name] = v
	}
	blas32.Scal(opt.Momentum, v)
	blas32.Axpy(-lr, vector.FromSlice(grad), v)
	blas32.Axpy(1.0, v, vector.FromSlice(w))
}
