// Package trajectory provides the batch container the samplers fill and the objectives read.
//
// A Trajectories value is built with AddSourceStates and AddActionsStates, frozen with
// Finalize, and then annotated with rewards, log-probabilities and log-flows. Every flat view
// walks the trajectories in order and each trajectory from its first step to its last, so
// IndexFlat and StepIndexFlat map every flat entry back to (trajectory, step).
//
// Package trajectory はサンプラーが構築し、目的関数が参照する軌跡のバッチを提供します。
package trajectory

import (
	"errors"
	"fmt"
	"github.com/sw965/gflow"
	"slices"
)

var (
	ErrFinalized    = errors.New("Trajectoriesエラー: Finalize後に構造を変更できません")
	ErrNotFinalized = errors.New("Trajectoriesエラー: Finalizeされていません")
	ErrNotAssigned  = errors.New("Trajectoriesエラー: 値が割り当てられていません")
	ErrMaskMismatch = errors.New("Trajectoriesエラー: マスクと入力の要素数が一致しません")
)

type Trajectory[S, A any] struct {
	States         []S
	Actions        []A
	ForwardSpaces  []gflow.ActionSpace[A]
	BackwardSpaces []gflow.ActionSpace[A]
}

func (t *Trajectory[S, A]) Len() int {
	return len(t.Actions)
}

func (t *Trajectory[S, A]) Validate() error {
	n := len(t.States)
	if n == 0 {
		return fmt.Errorf("%w: 状態が空の軌跡", gflow.ErrLengthMismatch)
	}
	if len(t.Actions)+1 != n || len(t.ForwardSpaces)+1 != n || len(t.BackwardSpaces)+1 != n {
		return fmt.Errorf("%w: states = %d, actions = %d, forward spaces = %d, backward spaces = %d",
			gflow.ErrLengthMismatch, n, len(t.Actions), len(t.ForwardSpaces), len(t.BackwardSpaces))
	}
	return nil
}

func (t *Trajectory[S, A]) Reversed() *Trajectory[S, A] {
	y := &Trajectory[S, A]{
		States:         slices.Clone(t.States),
		Actions:        slices.Clone(t.Actions),
		ForwardSpaces:  slices.Clone(t.BackwardSpaces),
		BackwardSpaces: slices.Clone(t.ForwardSpaces),
	}
	slices.Reverse(y.States)
	slices.Reverse(y.Actions)
	slices.Reverse(y.ForwardSpaces)
	slices.Reverse(y.BackwardSpaces)
	return y
}

func (t *Trajectory[S, A]) clone() *Trajectory[S, A] {
	return &Trajectory[S, A]{
		States:         slices.Clone(t.States),
		Actions:        slices.Clone(t.Actions),
		ForwardSpaces:  slices.Clone(t.ForwardSpaces),
		BackwardSpaces: slices.Clone(t.BackwardSpaces),
	}
}

type Trajectories[S, A any] struct {
	trajs     []*Trajectory[S, A]
	finalized bool

	rewardOutputs    *gflow.RewardOutput
	forwardLogProbs  []float32
	backwardLogProbs []float32
	logFlows         []float32
}

func New[S, A any]() *Trajectories[S, A] {
	return &Trajectories[S, A]{}
}

// FromList builds finalized Trajectories from complete trajectories.
func FromList[S, A any](trajs []*Trajectory[S, A]) (*Trajectories[S, A], error) {
	ts := New[S, A]()
	for _, t := range trajs {
		ts.trajs = append(ts.trajs, t.clone())
	}
	if err := ts.Finalize(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *Trajectories[S, A]) Len() int {
	return len(ts.trajs)
}

func (ts *Trajectories[S, A]) IsFinalized() bool {
	return ts.finalized
}

// At returns a copy of the i-th trajectory.
func (ts *Trajectories[S, A]) At(i int) *Trajectory[S, A] {
	return ts.trajs[i].clone()
}

// All returns a copy of every trajectory. Select and Concat share trajectories between
// containers, so none is ever handed out directly.
func (ts *Trajectories[S, A]) All() []*Trajectory[S, A] {
	ys := make([]*Trajectory[S, A], len(ts.trajs))
	for i, t := range ts.trajs {
		ys[i] = t.clone()
	}
	return ys
}

// Frontier returns the current last state of every trajectory. Unlike LastStatesFlat it
// works while the batch is still being built.
func (ts *Trajectories[S, A]) Frontier() []S {
	states := make([]S, len(ts.trajs))
	for i, t := range ts.trajs {
		states[i] = t.States[len(t.States)-1]
	}
	return states
}

// AddSourceStates starts one new trajectory per state.
func (ts *Trajectories[S, A]) AddSourceStates(states []S) error {
	if ts.finalized {
		return ErrFinalized
	}
	for _, s := range states {
		ts.trajs = append(ts.trajs, &Trajectory[S, A]{States: []S{s}})
	}
	return nil
}

// AddActionsStates appends one step to every trajectory whose entry in notTerminated is
// true, consuming the inputs in order. A nil mask selects every trajectory.
func (ts *Trajectories[S, A]) AddActionsStates(fwdSpaces, bwdSpaces []gflow.ActionSpace[A], actions []A, states []S, notTerminated []bool) error {
	if ts.finalized {
		return ErrFinalized
	}
	n := len(actions)
	if len(fwdSpaces) != n || len(bwdSpaces) != n || len(states) != n {
		return fmt.Errorf("%w: forward spaces = %d, backward spaces = %d, actions = %d, states = %d",
			gflow.ErrLengthMismatch, len(fwdSpaces), len(bwdSpaces), n, len(states))
	}
	if notTerminated == nil {
		notTerminated = make([]bool, len(ts.trajs))
		for i := range notTerminated {
			notTerminated[i] = true
		}
	}
	if len(notTerminated) != len(ts.trajs) {
		return fmt.Errorf("%w: mask = %d, trajectories = %d", ErrMaskMismatch, len(notTerminated), len(ts.trajs))
	}
	active := 0
	for _, ok := range notTerminated {
		if ok {
			active++
		}
	}
	if active != n {
		return fmt.Errorf("%w: active = %d, inputs = %d", ErrMaskMismatch, active, n)
	}

	j := 0
	for i, ok := range notTerminated {
		if !ok {
			continue
		}
		t := ts.trajs[i]
		t.ForwardSpaces = append(t.ForwardSpaces, fwdSpaces[j])
		t.BackwardSpaces = append(t.BackwardSpaces, bwdSpaces[j])
		t.Actions = append(t.Actions, actions[j])
		t.States = append(t.States, states[j])
		j++
	}
	return nil
}

// Finalize validates every trajectory and freezes the structure.
func (ts *Trajectories[S, A]) Finalize() error {
	if ts.finalized {
		return nil
	}
	for i, t := range ts.trajs {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trajectory %d: %w", i, err)
		}
	}
	ts.finalized = true
	return nil
}

// Reversed swaps forward and backward roles and reverses the order inside every trajectory.
// Rewards and other annotations are not carried over.
func (ts *Trajectories[S, A]) Reversed() (*Trajectories[S, A], error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	y := &Trajectories[S, A]{
		trajs:     make([]*Trajectory[S, A], len(ts.trajs)),
		finalized: true,
	}
	for i, t := range ts.trajs {
		y.trajs[i] = t.Reversed()
	}
	return y, nil
}

// Concat keeps order. Reward outputs survive only if every input has them.
func Concat[S, A any](tss ...*Trajectories[S, A]) (*Trajectories[S, A], error) {
	y := &Trajectories[S, A]{finalized: true}
	outs := make([]*gflow.RewardOutput, 0, len(tss))
	for i, ts := range tss {
		if !ts.finalized {
			return nil, fmt.Errorf("Concat %d: %w", i, ErrNotFinalized)
		}
		y.trajs = append(y.trajs, ts.trajs...)
		if ts.rewardOutputs != nil {
			outs = append(outs, ts.rewardOutputs)
		}
	}
	if len(outs) == len(tss) && len(tss) > 0 {
		y.rewardOutputs = gflow.ConcatRewardOutputs(outs...)
	}
	return y, nil
}

func (ts *Trajectories[S, A]) Select(indices []int) (*Trajectories[S, A], error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	y := &Trajectories[S, A]{
		trajs:     make([]*Trajectory[S, A], len(indices)),
		finalized: true,
	}
	for i, idx := range indices {
		if idx < 0 || idx >= len(ts.trajs) {
			return nil, fmt.Errorf("%w: Select indices[%d] = %d", gflow.ErrIndexOutOfRange, i, idx)
		}
		y.trajs[i] = ts.trajs[idx]
	}
	if ts.rewardOutputs != nil {
		y.rewardOutputs = ts.rewardOutputs.Select(indices)
	}
	return y, nil
}

func (ts *Trajectories[S, A]) SetRewardOutputs(r *gflow.RewardOutput) error {
	if !ts.finalized {
		return ErrNotFinalized
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Len() != len(ts.trajs) {
		return fmt.Errorf("%w: reward outputs = %d, trajectories = %d", gflow.ErrLengthMismatch, r.Len(), len(ts.trajs))
	}
	ts.rewardOutputs = r
	return nil
}

// RewardOutputs returns nil when no reward has been attached.
func (ts *Trajectories[S, A]) RewardOutputs() *gflow.RewardOutput {
	return ts.rewardOutputs
}
