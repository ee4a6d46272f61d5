// Package sampler rolls policies out in an environment and returns scored trajectory batches.
package sampler

import (
	"errors"
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/trajectory"
	"iter"
	"log/slog"
)

var (
	ErrNilField      = errors.New("Samplerエラー: フィールドがnilです")
	ErrBadBatchSize  = errors.New("Samplerエラー: バッチサイズが不正です")
	ErrNoTransitions = errors.New("Samplerエラー: 環境が返した要素数が不正です")
)

type Rewarder[S any] interface {
	ComputeRewardOutput(states []S) (*gflow.RewardOutput, error)
}

type Sampler[S, A any] interface {
	// Batches yields batches until nTotal trajectories have been produced. batchSize -1 means
	// a single batch of nTotal.
	Batches(nTotal, batchSize int) iter.Seq2[*trajectory.Trajectories[S, A], error]
}

// Base owns the rollout loop shared by every sampler. Reward may be nil.
type Base[S, A any] struct {
	Policy gflow.Policy[S, A]
	Env    gflow.Environment[S, A]
	Reward Rewarder[S]
	Logger *slog.Logger
}

func (b *Base[S, A]) Validate() error {
	if b.Policy == nil {
		return fmt.Errorf("%w: Policy", ErrNilField)
	}
	if b.Env == nil {
		return fmt.Errorf("%w: Env", ErrNilField)
	}
	return nil
}

func (b *Base[S, A]) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// SampleTrajectoriesFromSources starts one trajectory per source state and extends the
// active ones until every frontier state is terminal. Termination is up to the environment.
func (b *Base[S, A]) SampleTrajectoriesFromSources(sources []S) (*trajectory.Trajectories[S, A], error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	ts := trajectory.New[S, A]()
	if err := ts.AddSourceStates(sources); err != nil {
		return nil, err
	}

	steps := 0
	for {
		current := ts.Frontier()
		terminal, err := b.Env.TerminalMask(current)
		if err != nil {
			return nil, fmt.Errorf("terminal mask: %w", err)
		}
		if len(terminal) != len(current) {
			return nil, fmt.Errorf("%w: terminal mask = %d, states = %d", ErrNoTransitions, len(terminal), len(current))
		}

		notTerminated := make([]bool, len(terminal))
		active := make([]S, 0, len(current))
		for i, done := range terminal {
			notTerminated[i] = !done
			if !done {
				active = append(active, current[i])
			}
		}
		if len(active) == 0 {
			break
		}

		fwdSpaces, err := b.Env.ForwardActionSpaces(active)
		if err != nil {
			return nil, fmt.Errorf("forward action spaces: %w", err)
		}
		actions, err := b.Policy.SampleActions(active, fwdSpaces)
		if err != nil {
			return nil, fmt.Errorf("sample actions: %w", err)
		}
		next, err := b.Env.ApplyForwardActions(active, actions)
		if err != nil {
			return nil, fmt.Errorf("apply forward actions: %w", err)
		}
		bwdSpaces, err := b.Env.BackwardActionSpaces(next)
		if err != nil {
			return nil, fmt.Errorf("backward action spaces: %w", err)
		}
		if err := ts.AddActionsStates(fwdSpaces, bwdSpaces, actions, next, notTerminated); err != nil {
			return nil, err
		}
		steps++
		b.logger().Debug("rollout step", "step", steps, "active", len(active), "batch", len(current))
	}

	if err := ts.Finalize(); err != nil {
		return nil, err
	}
	if b.Env.IsReversed() {
		var err error
		ts, err = ts.Reversed()
		if err != nil {
			return nil, err
		}
	}
	if b.Reward != nil {
		lasts, err := ts.LastStatesFlat()
		if err != nil {
			return nil, err
		}
		out, err := b.Reward.ComputeRewardOutput(lasts)
		if err != nil {
			return nil, fmt.Errorf("reward: %w", err)
		}
		if err := ts.SetRewardOutputs(out); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// SampleTrajectoriesBatch drains s.Batches into one concatenated batch.
func SampleTrajectoriesBatch[S, A any](s Sampler[S, A], nTotal, batchSize int) (*trajectory.Trajectories[S, A], error) {
	var all []*trajectory.Trajectories[S, A]
	for ts, err := range s.Batches(nTotal, batchSize) {
		if err != nil {
			return nil, err
		}
		all = append(all, ts)
	}
	return trajectory.Concat(all...)
}

func chunks(nTotal, batchSize int) ([][2]int, error) {
	if nTotal < 0 {
		return nil, fmt.Errorf("%w: nTotal = %d", ErrBadBatchSize, nTotal)
	}
	if batchSize == -1 {
		batchSize = nTotal
	}
	if batchSize <= 0 && nTotal > 0 {
		return nil, fmt.Errorf("%w: batchSize = %d", ErrBadBatchSize, batchSize)
	}
	var out [][2]int
	for start := 0; start < nTotal; start += batchSize {
		out = append(out, [2]int{start, min(start+batchSize, nTotal)})
	}
	return out, nil
}
