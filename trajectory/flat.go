package trajectory

import (
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/vector"
)

func (ts *Trajectories[S, A]) ActionCounts() ([]int, error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	counts := make([]int, len(ts.trajs))
	for i, t := range ts.trajs {
		counts[i] = t.Len()
	}
	return counts, nil
}

func (ts *Trajectories[S, A]) StateCounts() ([]int, error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	counts := make([]int, len(ts.trajs))
	for i, t := range ts.trajs {
		counts[i] = len(t.States)
	}
	return counts, nil
}

// NumActions is the length of every per-action flat view.
func (ts *Trajectories[S, A]) NumActions() int {
	n := 0
	for _, t := range ts.trajs {
		n += t.Len()
	}
	return n
}

func flatten[S, A, X any](ts *Trajectories[S, A], f func(*Trajectory[S, A]) []X) ([]X, error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	var ys []X
	for _, t := range ts.trajs {
		ys = append(ys, f(t)...)
	}
	return ys, nil
}

func (ts *Trajectories[S, A]) SourceStatesFlat() ([]S, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []S { return t.States[:1] })
}

func (ts *Trajectories[S, A]) LastStatesFlat() ([]S, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []S { return t.States[len(t.States)-1:] })
}

func (ts *Trajectories[S, A]) NonLastStatesFlat() ([]S, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []S { return t.States[:len(t.States)-1] })
}

func (ts *Trajectories[S, A]) NonSourceStatesFlat() ([]S, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []S { return t.States[1:] })
}

func (ts *Trajectories[S, A]) AllStatesFlat() ([]S, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []S { return t.States })
}

func (ts *Trajectories[S, A]) ActionsFlat() ([]A, error) {
	return flatten(ts, func(t *Trajectory[S, A]) []A { return t.Actions })
}

func (ts *Trajectories[S, A]) ForwardActionSpacesFlat() ([]gflow.ActionSpace[A], error) {
	return flatten(ts, func(t *Trajectory[S, A]) []gflow.ActionSpace[A] { return t.ForwardSpaces })
}

func (ts *Trajectories[S, A]) BackwardActionSpacesFlat() ([]gflow.ActionSpace[A], error) {
	return flatten(ts, func(t *Trajectory[S, A]) []gflow.ActionSpace[A] { return t.BackwardSpaces })
}

// IndexFlat gives, for every flattened action, the index of its trajectory.
func (ts *Trajectories[S, A]) IndexFlat() ([]int, error) {
	counts, err := ts.ActionCounts()
	if err != nil {
		return nil, err
	}
	return vector.RepeatInterleave(counts), nil
}

// StepIndexFlat gives, for every flattened action, its position inside its trajectory.
func (ts *Trajectories[S, A]) StepIndexFlat() ([]int, error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	steps := make([]int, 0, ts.NumActions())
	for _, t := range ts.trajs {
		for k := range t.Len() {
			steps = append(steps, k)
		}
	}
	return steps, nil
}

func (ts *Trajectories[S, A]) setPerAction(dst *[]float32, xs []float32, name string) error {
	if !ts.finalized {
		return ErrNotFinalized
	}
	if n := ts.NumActions(); len(xs) != n {
		return fmt.Errorf("%w: %s = %d, actions = %d", gflow.ErrLengthMismatch, name, len(xs), n)
	}
	*dst = append(make([]float32, 0, len(xs)), xs...)
	return nil
}

func getPerAction(src []float32, name string) ([]float32, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAssigned, name)
	}
	return src, nil
}

func (ts *Trajectories[S, A]) SetForwardLogProbsFlat(xs []float32) error {
	return ts.setPerAction(&ts.forwardLogProbs, xs, "forward log probs")
}

func (ts *Trajectories[S, A]) SetBackwardLogProbsFlat(xs []float32) error {
	return ts.setPerAction(&ts.backwardLogProbs, xs, "backward log probs")
}

// SetLogFlowsFlat stores one log-flow per non-last state.
func (ts *Trajectories[S, A]) SetLogFlowsFlat(xs []float32) error {
	return ts.setPerAction(&ts.logFlows, xs, "log flows")
}

func (ts *Trajectories[S, A]) ForwardLogProbsFlat() ([]float32, error) {
	return getPerAction(ts.forwardLogProbs, "forward log probs")
}

func (ts *Trajectories[S, A]) BackwardLogProbsFlat() ([]float32, error) {
	return getPerAction(ts.backwardLogProbs, "backward log probs")
}

func (ts *Trajectories[S, A]) LogFlowsFlat() ([]float32, error) {
	return getPerAction(ts.logFlows, "log flows")
}
