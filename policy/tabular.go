package policy

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/tensor/2d"
	"github.com/sw965/gflow/optimizer"
	"gonum.org/v1/gonum/blas/blas32"
	"log/slog"
	"math/rand/v2"
)

type KeyFunc[S any] func(S) string

// Tabular is a trainable FewPhase policy that keeps one logit row per (kind, state) and one
// log-flow per state. Gradients are accumulated by the Accumulate methods and applied by Step.
type Tabular[S, A any] struct {
	KeyFunc KeyFunc[S]

	logits     map[string][]float32
	logitGrads map[string][]float32
	flows      map[string][]float32
	flowGrads  map[string][]float32

	fewPhase *FewPhase[S, A, struct{}]
}

func NewTabular[S, A any](kinds []gflow.Kind, keyFunc KeyFunc[S], src rand.Source, logger *slog.Logger) (*Tabular[S, A], error) {
	if keyFunc == nil {
		return nil, fmt.Errorf("%w: KeyFunc", ErrNilFunc)
	}
	t := &Tabular[S, A]{
		KeyFunc:    keyFunc,
		logits:     map[string][]float32{},
		logitGrads: map[string][]float32{},
		flows:      map[string][]float32{},
		flowGrads:  map[string][]float32{},
	}
	phases := make([]Phase[S, A, struct{}], len(kinds))
	for i, kind := range kinds {
		phases[i] = Phase[S, A, struct{}]{Kind: kind, Func: t.phaseFunc(kind)}
	}
	t.fewPhase = &FewPhase[S, A, struct{}]{
		Phases:               phases,
		SharedEmbeddingsFunc: func([]S) (struct{}, error) { return struct{}{}, nil },
		LogFlowFunc:          t.logFlows,
		Source:               src,
		Logger:               logger,
	}
	if err := t.fewPhase.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tabular[S, A]) tableKey(kind gflow.Kind, s S) string {
	return string(kind) + "/" + t.KeyFunc(s)
}

func row(table map[string][]float32, key string, n int) []float32 {
	r := table[key]
	if len(r) < n {
		r = append(r, make([]float32, n-len(r))...)
		table[key] = r
	}
	return r[:n]
}

func (t *Tabular[S, A]) phaseFunc(kind gflow.Kind) PhaseFunc[S, A, struct{}] {
	return func(_ struct{}, _ []int, states []S, spaces []gflow.ActionSpace[A]) (blas32.General, error) {
		rows := make([][]float32, len(states))
		lens := make([]int, len(states))
		for i, s := range states {
			lens[i] = spaces[i].Len()
			rows[i] = row(t.logits, t.tableKey(kind, s), lens[i])
		}
		return tensor2d.MaskedLogSoftmax(tensor2d.ToDense(rows, math32.Inf(-1)), lens)
	}
}

func (t *Tabular[S, A]) logFlows(states []S) ([]float32, error) {
	flows := make([]float32, len(states))
	for i, s := range states {
		flows[i] = row(t.flows, t.KeyFunc(s), 1)[0]
	}
	return flows, nil
}

func (t *Tabular[S, A]) SampleActions(states []S, spaces []gflow.ActionSpace[A]) ([]A, error) {
	return t.fewPhase.SampleActions(states, spaces)
}

func (t *Tabular[S, A]) ComputeActionLogProbs(states []S, spaces []gflow.ActionSpace[A], actions []A) ([]float32, error) {
	return t.fewPhase.ComputeActionLogProbs(states, spaces, actions)
}

func (t *Tabular[S, A]) ComputeStatesLogFlow(states []S) ([]float32, error) {
	return t.fewPhase.ComputeStatesLogFlow(states)
}

// SetLogFlow overwrites the log-flow of one state, e.g. to initialise log Z.
func (t *Tabular[S, A]) SetLogFlow(s S, v float32) {
	row(t.flows, t.KeyFunc(s), 1)[0] = v
}

// AccumulateActionGrad adds upstream[i] * d logp(actions[i]) / d logits into the logit
// gradients. d logp(a) / d logit_j = 1[j == a] - p_j.
func (t *Tabular[S, A]) AccumulateActionGrad(states []S, spaces []gflow.ActionSpace[A], actions []A, upstream []float32) error {
	if err := gflow.CheckBatch(states, spaces); err != nil {
		return err
	}
	if len(actions) != len(states) || len(upstream) != len(states) {
		return fmt.Errorf("%w: states = %d, actions = %d, upstream = %d", gflow.ErrLengthMismatch, len(states), len(actions), len(upstream))
	}
	for i, s := range states {
		space := spaces[i]
		n := space.Len()
		idx, err := space.IndexOf(actions[i])
		if err != nil {
			return fmt.Errorf("batch position %d: %w", i, err)
		}
		key := t.tableKey(space.Kind(), s)
		logits := row(t.logits, key, n)
		logProbs, err := tensor2d.MaskedLogSoftmax(blas32.General{Rows: 1, Cols: n, Stride: n, Data: logits}, []int{n})
		if err != nil {
			return err
		}
		grad := row(t.logitGrads, key, n)
		for j, lp := range logProbs.Data {
			g := -math32.Exp(lp)
			if j == idx {
				g += 1
			}
			grad[j] += upstream[i] * g
		}
	}
	return nil
}

func (t *Tabular[S, A]) AccumulateLogFlowGrad(states []S, upstream []float32) error {
	if len(upstream) != len(states) {
		return fmt.Errorf("%w: states = %d, upstream = %d", gflow.ErrLengthMismatch, len(states), len(upstream))
	}
	for i, s := range states {
		row(t.flowGrads, t.KeyFunc(s), 1)[0] += upstream[i]
	}
	return nil
}

// Step applies and clears every accumulated gradient.
func (t *Tabular[S, A]) Step(opt optimizer.Optimizer, lr float32) {
	for key, grad := range t.logitGrads {
		opt.Train("logits/"+key, row(t.logits, key, len(grad)), grad, lr)
	}
	for key, grad := range t.flowGrads {
		opt.Train("flows/"+key, row(t.flows, key, 1), grad, lr)
	}
	clear(t.logitGrads)
	clear(t.flowGrads)
}

// LogitRow returns the live logit row of s for kind, or nil if it was never touched.
func (t *Tabular[S, A]) LogitRow(kind gflow.Kind, s S) []float32 {
	return t.logits[t.tableKey(kind, s)]
}

// LogitGrad returns the pending gradient of LogitRow(kind, s).
func (t *Tabular[S, A]) LogitGrad(kind gflow.Kind, s S) []float32 {
	return t.logitGrads[t.tableKey(kind, s)]
}

func (t *Tabular[S, A]) NumParams() int {
	n := len(t.flows)
	for _, r := range t.logits {
		n += len(r)
	}
	return n
}
