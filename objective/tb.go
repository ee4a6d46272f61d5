package objective

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/vector"
	"github.com/sw965/gflow/trajectory"
	"gonum.org/v1/gonum/blas/blas32"
)

// TrajectoryBalance is the TB loss
//
//	delta_t = log Z(s_0) + sum_k log PF(a_k|s_k) - log R(s_n) - sum_k log PB(a_k|s_{k+1})
//	loss    = mean_t delta_t^2
//
// log Z is the forward policy's log-flow of the source state.
type TrajectoryBalance[S, A any] struct {
	Base[S, A]
}

func NewTrajectoryBalance[S, A any](forward, backward gflow.Policy[S, A]) *TrajectoryBalance[S, A] {
	return &TrajectoryBalance[S, A]{Base: Base[S, A]{ForwardPolicy: forward, BackwardPolicy: backward}}
}

func (o *TrajectoryBalance[S, A]) ComputeObjectiveOutput(ts *trajectory.Trajectories[S, A]) (*Output, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := o.AssignLogProbs(ts); err != nil {
		return nil, err
	}
	delta, logZ, err := o.residuals(ts)
	if err != nil {
		return nil, err
	}
	index, err := ts.IndexFlat()
	if err != nil {
		return nil, err
	}

	// dL/ddelta_t = 2 delta_t / T
	n := float32(delta.N)
	grads := Gradients{
		ForwardLogProbs:  make([]float32, len(index)),
		BackwardLogProbs: make([]float32, len(index)),
		SourceLogFlows:   make([]float32, delta.N),
	}
	for t, d := range delta.Data {
		grads.SourceLogFlows[t] = 2.0 * d / n
	}
	for k, t := range index {
		grads.ForwardLogProbs[k] = grads.SourceLogFlows[t]
		grads.BackwardLogProbs[k] = -grads.SourceLogFlows[t]
	}

	meanLogZ := vector.Mean(logZ)
	return &Output{
		Loss: vector.SquaredMean(delta),
		Metrics: map[string]float32{
			"mean_log_flow":     meanLogZ,
			"abs_mean_log_flow": math32.Abs(meanLogZ),
		},
		Gradients: grads,
	}, nil
}

// Residuals returns delta_t of every trajectory. ts must already carry log-probs and rewards.
func (o *TrajectoryBalance[S, A]) Residuals(ts *trajectory.Trajectories[S, A]) ([]float32, error) {
	delta, _, err := o.residuals(ts)
	if err != nil {
		return nil, err
	}
	return delta.Data, nil
}

func (o *TrajectoryBalance[S, A]) residuals(ts *trajectory.Trajectories[S, A]) (blas32.Vector, blas32.Vector, error) {
	logReward, err := logRewards(ts)
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	fwd, err := ts.ForwardLogProbsFlat()
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	bwd, err := ts.BackwardLogProbsFlat()
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	index, err := ts.IndexFlat()
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	sources, err := ts.SourceStatesFlat()
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	logZ, err := o.ForwardPolicy.ComputeStatesLogFlow(sources)
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, fmt.Errorf("source log flow: %w", err)
	}

	diff, err := vector.Sub(vector.FromSlice(fwd), vector.FromSlice(bwd))
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	init, err := vector.Sub(vector.FromSlice(logZ), vector.FromSlice(logReward))
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	delta, err := vector.ScatterAdd(init, index, diff)
	if err != nil {
		return blas32.Vector{}, blas32.Vector{}, err
	}
	return delta, vector.FromSlice(logZ), nil
}
