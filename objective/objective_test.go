package objective_test

import (
	"slices"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/mathx"
	"github.com/sw965/gflow/objective"
	"github.com/sw965/gflow/reward"
	"github.com/sw965/gflow/trajectory"
)

// mockPolicy ignores actions: log p(a|s) = -0.3*log(1+s), log F(s) = 1/(1+s).
type mockPolicy struct{}

func (mockPolicy) SampleActions([]int, []gflow.ActionSpace[int]) ([]int, error) {
	return nil, gflow.ErrNotImplemented
}

func (mockPolicy) ComputeActionLogProbs(states []int, _ []gflow.ActionSpace[int], _ []int) ([]float32, error) {
	ys := make([]float32, len(states))
	for i, s := range states {
		ys[i] = -0.3 * math32.Log(1+float32(s))
	}
	return ys, nil
}

func (mockPolicy) ComputeStatesLogFlow(states []int) ([]float32, error) {
	ys := make([]float32, len(states))
	for i, s := range states {
		ys[i] = 1 / (1 + float32(s))
	}
	return ys, nil
}

// slicePolicy returns fixed values in call order, so tests can perturb them directly.
type slicePolicy struct {
	logProbs []float32
	logFlows []float32
}

func (p *slicePolicy) SampleActions([]int, []gflow.ActionSpace[int]) ([]int, error) {
	return nil, gflow.ErrNotImplemented
}

func (p *slicePolicy) ComputeActionLogProbs(states []int, _ []gflow.ActionSpace[int], _ []int) ([]float32, error) {
	if len(states) != len(p.logProbs) {
		return nil, gflow.ErrLengthMismatch
	}
	return slices.Clone(p.logProbs), nil
}

func (p *slicePolicy) ComputeStatesLogFlow(states []int) ([]float32, error) {
	if len(states) != len(p.logFlows) {
		return nil, gflow.ErrLengthMismatch
	}
	return slices.Clone(p.logFlows), nil
}

func cosProxy(states []int) (*gflow.ProxyOutput, error) {
	vs := make([]float32, len(states))
	for i, s := range states {
		vs[i] = math32.Cos(float32(s)) / 4
	}
	return &gflow.ProxyOutput{Value: vs}, nil
}

func newBatch(t *testing.T, states ...[]int) *trajectory.Trajectories[int, int] {
	t.Helper()
	space, err := gflow.NewListSpace[int]("digit", []int{0, 1, 2})
	require.NoError(t, err)

	trajs := make([]*trajectory.Trajectory[int, int], len(states))
	for i, ss := range states {
		n := len(ss) - 1
		traj := &trajectory.Trajectory[int, int]{States: ss}
		for k := range n {
			traj.Actions = append(traj.Actions, ss[k+1]-ss[k])
			traj.ForwardSpaces = append(traj.ForwardSpaces, space)
			traj.BackwardSpaces = append(traj.BackwardSpaces, space)
		}
		trajs[i] = traj
	}
	ts, err := trajectory.FromList(trajs)
	require.NoError(t, err)
	return ts
}

func attachRewards(t *testing.T, ts *trajectory.Trajectories[int, int], proxy reward.Proxy[int, int], cfg reward.Config) {
	t.Helper()
	r, err := reward.New(proxy, cfg)
	require.NoError(t, err)
	lasts, err := ts.LastStatesFlat()
	require.NoError(t, err)
	out, err := r.ComputeRewardOutput(lasts)
	require.NoError(t, err)
	require.NoError(t, ts.SetRewardOutputs(out))
}

var exponential = reward.Config{Boosting: reward.Exponential, Beta: 1, MinReward: 0}

func TestTrajectoryBalanceRegression(t *testing.T) {
	tests := []struct {
		name   string
		states [][]int
	}{
		{"正常_単一軌跡", [][]int{{0, 2, 4, 6}}},
		{"正常_複数軌跡", [][]int{{0, 2, 4, 6}, {0, 3, 6}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newBatch(t, tc.states...)
			attachRewards(t, ts, &reward.Static[int, int]{Func: cosProxy, HigherBetter: true}, exponential)

			o := objective.NewTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{})
			out, err := o.ComputeObjectiveOutput(ts)
			require.NoError(t, err)
			assert.InEpsilon(t, 1.8057, out.Loss, 1e-4)
			assert.InDelta(t, 1.0, out.Metrics["mean_log_flow"], 1e-6)
		})
	}
}

func TestTrajectoryBalanceFixedPoint(t *testing.T) {
	ts := newBatch(t, []int{0, 1, 2}, []int{0, 2})
	attachRewards(t, ts, &reward.Static[int, int]{
		Func: func(states []int) (*gflow.ProxyOutput, error) {
			return &gflow.ProxyOutput{Value: []float32{0.7, 0.7}}, nil
		},
		HigherBetter: true,
	}, exponential)

	fwd := &slicePolicy{logProbs: []float32{-0.5, -1, -0.25}, logFlows: []float32{0.7, 0.7}}
	bwd := &slicePolicy{logProbs: []float32{-1, -0.5, -0.25}}
	o := objective.NewTrajectoryBalance[int, int](fwd, bwd)
	out, err := o.ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.InDelta(t, 0, out.Loss, 1e-12)
	for _, g := range out.Gradients.ForwardLogProbs {
		assert.InDelta(t, 0, g, 1e-6)
	}

	res, err := o.Residuals(ts)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0}, res, 1e-6)
}

func TestNegativeInfiniteLogReward(t *testing.T) {
	zero := &reward.Static[int, int]{
		Func: func(states []int) (*gflow.ProxyOutput, error) {
			return &gflow.ProxyOutput{Value: make([]float32, len(states))}, nil
		},
		NonNegative:  true,
		HigherBetter: true,
	}
	linear := reward.Config{Boosting: reward.Linear, Beta: 1, MinReward: 0}

	ts := newBatch(t, []int{0, 1, 2})
	attachRewards(t, ts, zero, linear)
	require.True(t, math32.IsInf(ts.RewardOutputs().LogReward[0], -1))

	tb := objective.NewTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{})
	out, err := tb.ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.True(t, math32.IsInf(out.Loss, 1))

	subtb := objective.NewSubTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{}, 0.9)
	out, err = subtb.ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.True(t, math32.IsInf(out.Loss, 1))
}

func TestTrajectoryBalanceGradients(t *testing.T) {
	// the last trajectory starts terminal and has no action
	ts := newBatch(t, []int{0, 2, 4, 6}, []int{0, 3, 6}, []int{5})
	attachRewards(t, ts, &reward.Static[int, int]{Func: cosProxy, HigherBetter: true}, exponential)

	fwd := &slicePolicy{logProbs: []float32{-0.1, -1.2, -0.4, -0.8, -0.3}, logFlows: []float32{0.5, -0.2, 0.1}}
	bwd := &slicePolicy{logProbs: []float32{-0.6, -0.2, -0.9, -0.1, -0.7}}
	o := objective.NewTrajectoryBalance[int, int](fwd, bwd)
	out, err := o.ComputeObjectiveOutput(ts)
	require.NoError(t, err)

	loss := func([]float32) float32 {
		y, err := o.ComputeObjectiveOutput(ts)
		require.NoError(t, err)
		return y.Loss
	}
	assert.InDeltaSlice(t, mathx.NumericalGradient(fwd.logProbs, 1e-2, loss), out.Gradients.ForwardLogProbs, 1e-3)
	assert.InDeltaSlice(t, mathx.NumericalGradient(bwd.logProbs, 1e-2, loss), out.Gradients.BackwardLogProbs, 1e-3)
	assert.InDeltaSlice(t, mathx.NumericalGradient(fwd.logFlows, 1e-2, loss), out.Gradients.SourceLogFlows, 1e-3)
	assert.NotZero(t, out.Gradients.SourceLogFlows[2])
	assert.Nil(t, out.Gradients.LogFlows)
}

func TestSubTrajectoryBalanceFixedPoint(t *testing.T) {
	ts := newBatch(t, []int{0, 1, 2}, []int{0, 2})
	attachRewards(t, ts, &reward.Static[int, int]{
		Func: func(states []int) (*gflow.ProxyOutput, error) {
			return &gflow.ProxyOutput{Value: []float32{0.3, 0.3}}, nil
		},
		HigherBetter: true,
	}, exponential)

	// F(s) is constant and every log-prob difference is zero
	p := &slicePolicy{logProbs: []float32{-0.4, -0.4, -0.4}, logFlows: []float32{0.3, 0.3, 0.3}}
	o := objective.NewSubTrajectoryBalance[int, int](p, p, 0.9)
	out, err := o.ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.InDelta(t, 0, out.Loss, 1e-12)
	assert.Equal(t, float32(3+1), out.Metrics["num_subtrajectories"])
}

func TestSubTrajectoryBalanceSingleStepMatchesTrajectoryBalance(t *testing.T) {
	// with one action per trajectory the only subtrajectory is the whole trajectory
	ts := newBatch(t, []int{0, 2}, []int{0, 1})
	attachRewards(t, ts, &reward.Static[int, int]{Func: cosProxy, HigherBetter: true}, exponential)

	tb, err := objective.NewTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{}).ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	subtb, err := objective.NewSubTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{}, 0.5).ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.InDelta(t, tb.Loss, subtb.Loss, 1e-5)
}

func TestSubTrajectoryBalanceGradients(t *testing.T) {
	ts := newBatch(t, []int{0, 2, 4, 6}, []int{0, 3, 6})
	attachRewards(t, ts, &reward.Static[int, int]{Func: cosProxy, HigherBetter: true}, exponential)

	fwd := &slicePolicy{
		logProbs: []float32{-0.1, -1.2, -0.4, -0.8, -0.3},
		logFlows: []float32{0.5, 0.1, -0.3, -0.2, 0.4},
	}
	bwd := &slicePolicy{logProbs: []float32{-0.6, -0.2, -0.9, -0.1, -0.7}}
	o := objective.NewSubTrajectoryBalance[int, int](fwd, bwd, 0.8)
	out, err := o.ComputeObjectiveOutput(ts)
	require.NoError(t, err)
	assert.Greater(t, out.Loss, float32(0))

	loss := func([]float32) float32 {
		y, err := o.ComputeObjectiveOutput(ts)
		require.NoError(t, err)
		return y.Loss
	}
	assert.InDeltaSlice(t, mathx.NumericalGradient(fwd.logProbs, 1e-2, loss), out.Gradients.ForwardLogProbs, 1e-3)
	assert.InDeltaSlice(t, mathx.NumericalGradient(bwd.logProbs, 1e-2, loss), out.Gradients.BackwardLogProbs, 1e-3)
	assert.InDeltaSlice(t, mathx.NumericalGradient(fwd.logFlows, 1e-2, loss), out.Gradients.LogFlows, 1e-3)
}

func TestObjectiveErrors(t *testing.T) {
	ts := newBatch(t, []int{0, 1})

	_, err := objective.NewTrajectoryBalance[int, int](nil, mockPolicy{}).ComputeObjectiveOutput(ts)
	assert.ErrorIs(t, err, objective.ErrNilPolicy)

	_, err = objective.NewTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{}).ComputeObjectiveOutput(ts)
	assert.ErrorIs(t, err, objective.ErrNoRewards)

	attachRewards(t, ts, &reward.Static[int, int]{Func: cosProxy, HigherBetter: true}, exponential)
	_, err = objective.NewSubTrajectoryBalance[int, int](mockPolicy{}, mockPolicy{}, 0).ComputeObjectiveOutput(ts)
	assert.ErrorIs(t, err, objective.ErrBadLambda)
}
