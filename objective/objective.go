// Package objective computes GFlowNet training losses on a finalized batch of trajectories.
//
// Losses are plain float32 computations. Every Output also carries the analytic gradient of the
// loss with respect to the quantities the policies produced, laid out like the per-action flat
// views of trajectory.Trajectories, so a trainable policy can back-propagate without an
// autodiff engine.
package objective

import (
	"errors"
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/trajectory"
)

var (
	ErrNilPolicy = errors.New("Objectiveエラー: 方策がnilです")
	ErrNoRewards = errors.New("Objectiveエラー: 報酬が割り当てられていません")
	ErrBadLambda = errors.New("Objectiveエラー: lambdaは正の値である必要があります")
)

// Gradients holds dLoss/dx for every policy output x. The log-prob slices have one entry per
// flat action. LogFlows[k] is the gradient for the log-flow of the k-th non-last state and
// SourceLogFlows[t] the one for the source state of trajectory t. An objective that does not
// read a flow leaves its slice nil.
type Gradients struct {
	ForwardLogProbs  []float32
	BackwardLogProbs []float32
	LogFlows         []float32
	SourceLogFlows   []float32
}

type Output struct {
	Loss      float32
	Metrics   map[string]float32
	Gradients Gradients
}

type Objective[S, A any] interface {
	ComputeObjectiveOutput(ts *trajectory.Trajectories[S, A]) (*Output, error)
}

// Base holds the two policies every objective scores trajectories with. They may be the same
// value.
type Base[S, A any] struct {
	ForwardPolicy  gflow.Policy[S, A]
	BackwardPolicy gflow.Policy[S, A]
}

func (b *Base[S, A]) Validate() error {
	if b.ForwardPolicy == nil {
		return fmt.Errorf("%w: ForwardPolicy", ErrNilPolicy)
	}
	if b.BackwardPolicy == nil {
		return fmt.Errorf("%w: BackwardPolicy", ErrNilPolicy)
	}
	return nil
}

// AssignLogProbs scores every action forward from its non-last state and backward from its
// non-source state, and stores both on ts.
func (b *Base[S, A]) AssignLogProbs(ts *trajectory.Trajectories[S, A]) error {
	actions, err := ts.ActionsFlat()
	if err != nil {
		return err
	}

	fwdStates, err := ts.NonLastStatesFlat()
	if err != nil {
		return err
	}
	fwdSpaces, err := ts.ForwardActionSpacesFlat()
	if err != nil {
		return err
	}
	fwd, err := b.ForwardPolicy.ComputeActionLogProbs(fwdStates, fwdSpaces, actions)
	if err != nil {
		return fmt.Errorf("forward log probs: %w", err)
	}

	bwdStates, err := ts.NonSourceStatesFlat()
	if err != nil {
		return err
	}
	bwdSpaces, err := ts.BackwardActionSpacesFlat()
	if err != nil {
		return err
	}
	bwd, err := b.BackwardPolicy.ComputeActionLogProbs(bwdStates, bwdSpaces, actions)
	if err != nil {
		return fmt.Errorf("backward log probs: %w", err)
	}

	if err := ts.SetForwardLogProbsFlat(fwd); err != nil {
		return err
	}
	return ts.SetBackwardLogProbsFlat(bwd)
}

// AssignLogFlows stores the forward policy's log-flow of every non-last state on ts.
func (b *Base[S, A]) AssignLogFlows(ts *trajectory.Trajectories[S, A]) error {
	states, err := ts.NonLastStatesFlat()
	if err != nil {
		return err
	}
	flows, err := b.ForwardPolicy.ComputeStatesLogFlow(states)
	if err != nil {
		return fmt.Errorf("log flows: %w", err)
	}
	return ts.SetLogFlowsFlat(flows)
}

func logRewards[S, A any](ts *trajectory.Trajectories[S, A]) ([]float32, error) {
	out := ts.RewardOutputs()
	if out == nil {
		return nil, ErrNoRewards
	}
	if out.Len() != ts.Len() {
		return nil, fmt.Errorf("%w: rewards = %d, trajectories = %d", gflow.ErrLengthMismatch, out.Len(), ts.Len())
	}
	return out.LogReward, nil
}
