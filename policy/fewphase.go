// Package policy provides batched policies over heterogeneous action spaces.
//
// FewPhase partitions a batch by ActionSpace.Kind, runs one scoring function per phase over
// dense (rows, maxActions) log-probability matrices and scatters the results back to the
// original batch order.
package policy

import (
	"errors"
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/tensor/2d"
	"github.com/sw965/gflow/mathx/randx"
	"gonum.org/v1/gonum/blas/blas32"
	"log/slog"
	"math/rand/v2"
)

var (
	ErrNilFunc          = errors.New("Policyエラー: フィールドの関数がnilです")
	ErrNoPhases         = errors.New("Policyエラー: フェーズが登録されていません")
	ErrDuplicateKind    = errors.New("Policyエラー: Kindが重複して登録されています")
	ErrUnregisteredKind = errors.New("Policyエラー: 登録されていないKindです")
	ErrPhaseOutput      = errors.New("Policyエラー: フェーズ関数の出力が不正です")
	ErrRecombination    = errors.New("Policyエラー: 再結合に失敗しました")
)

// PhaseFunc scores the states of one phase. positions are the indices of those states in
// the whole batch, so shared embeddings can be looked up by position. The result has one row
// per state and at least as many columns as the largest space; column c of row r is the
// log-probability of ActionAt(c), and every column at or beyond spaces[r].Len() is -Inf.
type PhaseFunc[S, A, E any] func(emb E, positions []int, states []S, spaces []gflow.ActionSpace[A]) (blas32.General, error)

type SharedEmbeddingsFunc[S, E any] func(states []S) (E, error)

type LogFlowFunc[S any] func(states []S) ([]float32, error)

type Phase[S, A, E any] struct {
	Kind gflow.Kind
	Func PhaseFunc[S, A, E]
}

// FewPhase dispatches a batch to its phases in registration order. Within a phase the
// original batch order is preserved.
type FewPhase[S, A, E any] struct {
	Phases               []Phase[S, A, E]
	SharedEmbeddingsFunc SharedEmbeddingsFunc[S, E]
	// LogFlowFunc is optional. Without it ComputeStatesLogFlow returns gflow.ErrNotImplemented.
	LogFlowFunc LogFlowFunc[S]
	Source      rand.Source
	Logger      *slog.Logger
}

func (p *FewPhase[S, A, E]) Validate() error {
	if len(p.Phases) == 0 {
		return ErrNoPhases
	}
	seen := map[gflow.Kind]struct{}{}
	for i, ph := range p.Phases {
		if ph.Func == nil {
			return fmt.Errorf("%w: Phases[%d].Func (kind = %s)", ErrNilFunc, i, ph.Kind)
		}
		if _, ok := seen[ph.Kind]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, ph.Kind)
		}
		seen[ph.Kind] = struct{}{}
	}
	if p.SharedEmbeddingsFunc == nil {
		return fmt.Errorf("%w: SharedEmbeddingsFunc", ErrNilFunc)
	}
	if p.Source == nil {
		return fmt.Errorf("%w: Source", ErrNilFunc)
	}
	return nil
}

func (p *FewPhase[S, A, E]) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// partition returns, per registered phase, the batch positions of its states.
func (p *FewPhase[S, A, E]) partition(spaces []gflow.ActionSpace[A]) ([][]int, error) {
	phaseOf := make(map[gflow.Kind]int, len(p.Phases))
	for i, ph := range p.Phases {
		phaseOf[ph.Kind] = i
	}
	positions := make([][]int, len(p.Phases))
	for i, s := range spaces {
		k, ok := phaseOf[s.Kind()]
		if !ok {
			return nil, fmt.Errorf("%w: %s (batch position %d)", ErrUnregisteredKind, s.Kind(), i)
		}
		positions[k] = append(positions[k], i)
	}
	return positions, nil
}

type phaseBatch[S, A any] struct {
	positions []int
	states    []S
	spaces    []gflow.ActionSpace[A]
	logProbs  blas32.General
}

// dispatch runs every non-empty phase and hands each result to fn.
func (p *FewPhase[S, A, E]) dispatch(states []S, spaces []gflow.ActionSpace[A], fn func(phaseBatch[S, A]) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := gflow.CheckBatch(states, spaces); err != nil {
		return err
	}
	positions, err := p.partition(spaces)
	if err != nil {
		return err
	}
	emb, err := p.SharedEmbeddingsFunc(states)
	if err != nil {
		return fmt.Errorf("shared embeddings: %w", err)
	}

	for k, pos := range positions {
		if len(pos) == 0 {
			continue
		}
		ph := p.Phases[k]
		b := phaseBatch[S, A]{
			positions: pos,
			states:    make([]S, len(pos)),
			spaces:    make([]gflow.ActionSpace[A], len(pos)),
		}
		for r, i := range pos {
			b.states[r] = states[i]
			b.spaces[r] = spaces[i]
		}
		b.logProbs, err = ph.Func(emb, pos, b.states, b.spaces)
		if err != nil {
			return fmt.Errorf("phase %s: %w", ph.Kind, err)
		}
		if err := checkPhaseOutput(b.logProbs, b.spaces); err != nil {
			return fmt.Errorf("phase %s: %w", ph.Kind, err)
		}
		p.logger().Debug("phase dispatched", "kind", ph.Kind, "rows", len(pos), "cols", b.logProbs.Cols)
		if err := fn(b); err != nil {
			return fmt.Errorf("phase %s: %w", ph.Kind, err)
		}
	}
	return nil
}

func checkPhaseOutput[A any](logProbs blas32.General, spaces []gflow.ActionSpace[A]) error {
	if logProbs.Rows != len(spaces) {
		return fmt.Errorf("%w: rows = %d, states = %d", ErrPhaseOutput, logProbs.Rows, len(spaces))
	}
	for r, s := range spaces {
		if s.Len() > logProbs.Cols {
			return fmt.Errorf("%w: row %d has %d actions, cols = %d", ErrPhaseOutput, r, s.Len(), logProbs.Cols)
		}
		for _, v := range tensor2d.Row(logProbs, r)[s.Len():] {
			if !math32.IsInf(v, -1) {
				return fmt.Errorf("%w: row %d padding is not -Inf", ErrPhaseOutput, r)
			}
		}
	}
	return nil
}

// recombiner fills each batch position exactly once.
type recombiner[X any] struct {
	out    []X
	filled []bool
}

func newRecombiner[X any](n int) *recombiner[X] {
	return &recombiner[X]{out: make([]X, n), filled: make([]bool, n)}
}

func (rc *recombiner[X]) put(pos int, x X) error {
	if rc.filled[pos] {
		return fmt.Errorf("%w: position %d filled twice", ErrRecombination, pos)
	}
	rc.out[pos] = x
	rc.filled[pos] = true
	return nil
}

func (rc *recombiner[X]) result() ([]X, error) {
	for i, ok := range rc.filled {
		if !ok {
			return nil, fmt.Errorf("%w: position %d not filled", ErrRecombination, i)
		}
	}
	return rc.out, nil
}

func (p *FewPhase[S, A, E]) SampleActions(states []S, spaces []gflow.ActionSpace[A]) ([]A, error) {
	rc := newRecombiner[A](len(states))
	err := p.dispatch(states, spaces, func(b phaseBatch[S, A]) error {
		for r, pos := range b.positions {
			space := b.spaces[r]
			if space.Len() == 0 {
				return fmt.Errorf("%w: batch position %d", gflow.ErrEmptyActionSpace, pos)
			}
			idx, err := randx.Categorical(tensor2d.Row(b.logProbs, r)[:space.Len()], p.Source)
			if err != nil {
				return fmt.Errorf("batch position %d: %w", pos, err)
			}
			a, err := space.ActionAt(idx)
			if err != nil {
				return err
			}
			if err := rc.put(pos, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc.result()
}

func (p *FewPhase[S, A, E]) ComputeActionLogProbs(states []S, spaces []gflow.ActionSpace[A], actions []A) ([]float32, error) {
	if len(actions) != len(states) {
		return nil, fmt.Errorf("%w: states = %d, actions = %d", gflow.ErrLengthMismatch, len(states), len(actions))
	}
	rc := newRecombiner[float32](len(states))
	err := p.dispatch(states, spaces, func(b phaseBatch[S, A]) error {
		indices := make([]int, len(b.positions))
		for r, pos := range b.positions {
			idx, err := b.spaces[r].IndexOf(actions[pos])
			if err != nil {
				return fmt.Errorf("batch position %d: %w", pos, err)
			}
			indices[r] = idx
		}
		logProbs, err := tensor2d.GatherFlat(b.logProbs, indices)
		if err != nil {
			return err
		}
		for r, pos := range b.positions {
			if err := rc.put(pos, logProbs[r]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc.result()
}

func (p *FewPhase[S, A, E]) ComputeStatesLogFlow(states []S) ([]float32, error) {
	if p.LogFlowFunc == nil {
		return nil, gflow.ErrNotImplemented
	}
	flows, err := p.LogFlowFunc(states)
	if err != nil {
		return nil, err
	}
	if len(flows) != len(states) {
		return nil, fmt.Errorf("%w: states = %d, log flows = %d", gflow.ErrLengthMismatch, len(states), len(flows))
	}
	return flows, nil
}
