package objective

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/vector"
	"github.com/sw965/gflow/trajectory"
)

// SubTrajectoryBalance is the SubTB(lambda) loss. For every pair of positions i < j along a
// trajectory of n actions
//
//	delta_ij = F(s_i) + sum_{k=i}^{j-1} (log PF(a_k|s_k) - log PB(a_k|s_{k+1})) - F(s_j)
//
// where F is the forward policy's log-flow and F(s_n) = log R(s_n). The loss of a trajectory
// is sum lambda^(j-i) delta_ij^2 / sum lambda^(j-i), averaged over trajectories that have at
// least one action.
type SubTrajectoryBalance[S, A any] struct {
	Base[S, A]
	Lambda float32
}

func NewSubTrajectoryBalance[S, A any](forward, backward gflow.Policy[S, A], lambda float32) *SubTrajectoryBalance[S, A] {
	return &SubTrajectoryBalance[S, A]{
		Base:   Base[S, A]{ForwardPolicy: forward, BackwardPolicy: backward},
		Lambda: lambda,
	}
}

type subPair struct {
	traj, offset, i, j int
	weight, delta      float32
}

func (o *SubTrajectoryBalance[S, A]) ComputeObjectiveOutput(ts *trajectory.Trajectories[S, A]) (*Output, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if !(o.Lambda > 0) {
		return nil, fmt.Errorf("%w: %v", ErrBadLambda, o.Lambda)
	}
	logReward, err := logRewards(ts)
	if err != nil {
		return nil, err
	}
	if err := o.AssignLogProbs(ts); err != nil {
		return nil, err
	}
	if err := o.AssignLogFlows(ts); err != nil {
		return nil, err
	}
	fwd, err := ts.ForwardLogProbsFlat()
	if err != nil {
		return nil, err
	}
	bwd, err := ts.BackwardLogProbsFlat()
	if err != nil {
		return nil, err
	}
	flows, err := ts.LogFlowsFlat()
	if err != nil {
		return nil, err
	}
	counts, err := ts.ActionCounts()
	if err != nil {
		return nil, err
	}

	var pairs []subPair
	var sourceFlows []float32
	offset := 0
	for t, n := range counts {
		flow := func(i int) float32 {
			if i == n {
				return logReward[t]
			}
			return flows[offset+i]
		}
		// cum[m] = sum_{k<m} (fwd_k - bwd_k)
		cum := make([]float32, n+1)
		for k := range n {
			cum[k+1] = cum[k] + fwd[offset+k] - bwd[offset+k]
		}
		if n > 0 {
			sourceFlows = append(sourceFlows, flows[offset])
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j <= n; j++ {
				pairs = append(pairs, subPair{
					traj:   t,
					offset: offset,
					i:      i,
					j:      j,
					weight: math32.Pow(o.Lambda, float32(j-i)),
					delta:  flow(i) + cum[j] - cum[i] - flow(j),
				})
			}
		}
		offset += n
	}

	index := make([]int, len(pairs))
	weighted := make([]float32, len(pairs))
	weights := make([]float32, len(pairs))
	for p, pair := range pairs {
		index[p] = pair.traj
		weighted[p] = pair.weight * pair.delta * pair.delta
		weights[p] = pair.weight
	}
	num, err := vector.ScatterAdd(vector.NewZeros(len(counts)), index, vector.FromSlice(weighted))
	if err != nil {
		return nil, err
	}
	den, err := vector.ScatterAdd(vector.NewZeros(len(counts)), index, vector.FromSlice(weights))
	if err != nil {
		return nil, err
	}

	var loss float32
	active := 0
	for t, n := range counts {
		if n > 0 {
			loss += num.Data[t] / den.Data[t]
			active++
		}
	}
	if active > 0 {
		loss /= float32(active)
	}

	numActions := len(fwd)
	grads := Gradients{
		ForwardLogProbs:  make([]float32, numActions),
		BackwardLogProbs: make([]float32, numActions),
		LogFlows:         make([]float32, numActions),
	}
	for _, pair := range pairs {
		g := 2.0 * pair.weight * pair.delta / (den.Data[pair.traj] * float32(active))
		grads.LogFlows[pair.offset+pair.i] += g
		if pair.j < counts[pair.traj] {
			grads.LogFlows[pair.offset+pair.j] -= g
		}
		for k := pair.i; k < pair.j; k++ {
			grads.ForwardLogProbs[pair.offset+k] += g
			grads.BackwardLogProbs[pair.offset+k] -= g
		}
	}

	meanLogFlow := vector.Mean(vector.FromSlice(sourceFlows))
	return &Output{
		Loss: loss,
		Metrics: map[string]float32{
			"mean_log_flow":       meanLogFlow,
			"abs_mean_log_flow":   math32.Abs(meanLogFlow),
			"num_subtrajectories": float32(len(pairs)),
		},
		Gradients: grads,
	}, nil
}
