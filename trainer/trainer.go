// Package trainer runs the GFlowNet training loop: sample a batch, filter it, compute the
// objective, step the policy, log, and let the proxy learn from the batch.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/vector"
	"github.com/sw965/gflow/objective"
	"github.com/sw965/gflow/optimizer"
	"github.com/sw965/gflow/reward"
	"github.com/sw965/gflow/sampler"
	"github.com/sw965/gflow/trajectory"
	"log/slog"
	"maps"
)

var ErrNilComponent = errors.New("Trainerエラー: 構成要素がnilです")

// Trainable is a policy whose parameters can be updated from gradients w.r.t. its outputs.
type Trainable[S, A any] interface {
	gflow.Policy[S, A]
	AccumulateActionGrad(states []S, spaces []gflow.ActionSpace[A], actions []A, upstream []float32) error
	AccumulateLogFlowGrad(states []S, upstream []float32) error
	Step(opt optimizer.Optimizer, lr float32)
}

// Trainer trains Policy as the forward policy of Objective. The backward policy is kept fixed.
type Trainer[S, A any] struct {
	RunID        string
	Sampler      sampler.Sampler[S, A]
	Objective    objective.Objective[S, A]
	Policy       Trainable[S, A]
	Reward       *reward.Reward[S, A]
	Filter       trajectory.Filter[S, A]
	Optimizer    optimizer.Optimizer
	Artifacts    ArtifactsList[S, A]
	Logger       Logger
	Slog         *slog.Logger
	Iterations   int
	BatchSize    int
	LearningRate float32
	LogEvery     int

	losses    []float32
	lastBatch *trajectory.Trajectories[S, A]
}

func (t *Trainer[S, A]) Validate() error {
	switch {
	case t.Sampler == nil:
		return fmt.Errorf("%w: Sampler", ErrNilComponent)
	case t.Objective == nil:
		return fmt.Errorf("%w: Objective", ErrNilComponent)
	case t.Policy == nil:
		return fmt.Errorf("%w: Policy", ErrNilComponent)
	case t.Reward == nil:
		return fmt.Errorf("%w: Reward", ErrNilComponent)
	case t.Optimizer == nil:
		return fmt.Errorf("%w: Optimizer", ErrNilComponent)
	}
	return nil
}

func (t *Trainer[S, A]) slogger() *slog.Logger {
	if t.Slog == nil {
		return slog.Default()
	}
	return t.Slog
}

// Losses returns the loss of every iteration that trained on a non-empty batch.
func (t *Trainer[S, A]) Losses() []float32 {
	return t.losses
}

// TrainStep runs one iteration. updateIdx is handed to the proxy, which ignores repeats.
func (t *Trainer[S, A]) TrainStep(updateIdx int) (map[string]float32, map[string]float32, error) {
	ts, err := sampler.SampleTrajectoriesBatch(t.Sampler, t.BatchSize, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("sample: %w", err)
	}
	if t.Filter != nil {
		ts, err = t.Filter.Apply(ts)
		if err != nil {
			return nil, nil, fmt.Errorf("filter: %w", err)
		}
	}
	metrics := map[string]float32{"num_trajectories": float32(ts.Len())}
	if ts.Len() == 0 {
		return metrics, map[string]float32{}, nil
	}

	out, err := t.Objective.ComputeObjectiveOutput(ts)
	if err != nil {
		return nil, nil, fmt.Errorf("objective: %w", err)
	}
	if err := t.backward(ts, out); err != nil {
		return nil, nil, fmt.Errorf("backward: %w", err)
	}
	t.Policy.Step(t.Optimizer, t.LearningRate)
	t.losses = append(t.losses, out.Loss)
	t.lastBatch = ts
	for _, a := range t.Artifacts {
		if o, ok := a.(Observer[S, A]); ok {
			if err := o.Observe(ts); err != nil {
				return nil, nil, err
			}
		}
	}

	metrics["loss"] = out.Loss
	maps.Copy(metrics, out.Metrics)
	counts, err := ts.ActionCounts()
	if err != nil {
		return nil, nil, err
	}
	lengths := make([]float32, len(counts))
	for i, c := range counts {
		lengths[i] = float32(c)
	}
	metrics["mean_length"] = vector.Mean(vector.FromSlice(lengths))
	r := ts.RewardOutputs()
	metrics["mean_reward"] = vector.Mean(vector.FromSlice(r.Reward))
	metrics["mean_log_reward"] = vector.Mean(vector.FromSlice(r.LogReward))
	metrics["mean_proxy"] = vector.Mean(vector.FromSlice(r.Proxy))
	for name, c := range r.ProxyComponents {
		metrics["mean_proxy_"+name] = vector.Mean(vector.FromSlice(c))
	}

	proxyMetrics, err := t.Reward.UpdateUsingTrajectories(ts, updateIdx)
	if err != nil {
		return nil, nil, fmt.Errorf("proxy update: %w", err)
	}
	return metrics, proxyMetrics, nil
}

func (t *Trainer[S, A]) backward(ts *trajectory.Trajectories[S, A], out *objective.Output) error {
	states, err := ts.NonLastStatesFlat()
	if err != nil {
		return err
	}
	spaces, err := ts.ForwardActionSpacesFlat()
	if err != nil {
		return err
	}
	actions, err := ts.ActionsFlat()
	if err != nil {
		return err
	}
	if err := t.Policy.AccumulateActionGrad(states, spaces, actions, out.Gradients.ForwardLogProbs); err != nil {
		return err
	}
	if out.Gradients.LogFlows != nil {
		if err := t.Policy.AccumulateLogFlowGrad(states, out.Gradients.LogFlows); err != nil {
			return err
		}
	}
	if out.Gradients.SourceLogFlows != nil {
		sources, err := ts.SourceStatesFlat()
		if err != nil {
			return err
		}
		return t.Policy.AccumulateLogFlowGrad(sources, out.Gradients.SourceLogFlows)
	}
	return nil
}

// Run trains for Iterations steps, then writes the artifacts of the last batch and the loss
// curve. It stops early when ctx is done.
func (t *Trainer[S, A]) Run(ctx context.Context) error {
	if err := t.Validate(); err != nil {
		return err
	}
	logEvery := max(t.LogEvery, 1)
	var window []map[string]float32
	for i := range t.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		metrics, proxyMetrics, err := t.TrainStep(i)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		window = append(window, metrics)
		if t.Logger != nil {
			if err := t.Logger.LogMetrics(proxyMetrics, "proxy"); err != nil {
				return err
			}
		}
		if (i+1)%logEvery != 0 && i != t.Iterations-1 {
			continue
		}
		mean := DictMean(window)
		window = window[:0]
		t.slogger().Info("train",
			"run", t.RunID,
			"iteration", i,
			"loss", mean["loss"],
			"mean_reward", mean["mean_reward"],
			"mean_log_flow", mean["mean_log_flow"],
		)
		if t.Logger != nil {
			if err := t.Logger.LogMetrics(mean, "train"); err != nil {
				return err
			}
		}
	}
	return t.writeArtifacts()
}

func (t *Trainer[S, A]) writeArtifacts() error {
	if t.Logger == nil || t.lastBatch == nil {
		return nil
	}
	outs, err := t.Artifacts.ComputeArtifacts(t.lastBatch)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	for _, o := range outs {
		if err := t.Logger.LogToFile(o.Content, o.Name, o.Type); err != nil {
			return err
		}
	}
	png, err := PlotCurve("Training loss", "loss", t.losses)
	if err != nil {
		// a non-finite loss cannot be plotted
		t.slogger().Warn("loss curve skipped", "err", err)
		return nil
	}
	return t.Logger.LogToFile(png, "loss", ArtifactPNG)
}
