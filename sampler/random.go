package sampler

import (
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/trajectory"
	"iter"
	"log/slog"
)

// Random draws fresh source states from the environment for every batch.
type Random[S, A any] struct {
	Base[S, A]
	sources gflow.SourcedEnvironment[S, A]
}

func NewRandom[S, A any](policy gflow.Policy[S, A], env gflow.SourcedEnvironment[S, A], reward Rewarder[S], logger *slog.Logger) *Random[S, A] {
	return &Random[S, A]{
		Base:    Base[S, A]{Policy: policy, Env: env, Reward: reward, Logger: logger},
		sources: env,
	}
}

func (s *Random[S, A]) SampleTrajectories(n int) (*trajectory.Trajectories[S, A], error) {
	sources, err := s.sources.SampleSourceStates(n)
	if err != nil {
		return nil, fmt.Errorf("sample source states: %w", err)
	}
	return s.SampleTrajectoriesFromSources(sources)
}

func (s *Random[S, A]) Batches(nTotal, batchSize int) iter.Seq2[*trajectory.Trajectories[S, A], error] {
	return func(yield func(*trajectory.Trajectories[S, A], error) bool) {
		bounds, err := chunks(nTotal, batchSize)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, b := range bounds {
			ts, err := s.SampleTrajectories(b[1] - b[0])
			if !yield(ts, err) || err != nil {
				return
			}
		}
	}
}

// Sequential walks the environment's source states in order. nTotal -1 means all of them.
type Sequential[S, A any] struct {
	Base[S, A]
	sources gflow.SourcedEnvironment[S, A]
}

func NewSequential[S, A any](policy gflow.Policy[S, A], env gflow.SourcedEnvironment[S, A], reward Rewarder[S], logger *slog.Logger) *Sequential[S, A] {
	return &Sequential[S, A]{
		Base:    Base[S, A]{Policy: policy, Env: env, Reward: reward, Logger: logger},
		sources: env,
	}
}

func (s *Sequential[S, A]) Batches(nTotal, batchSize int) iter.Seq2[*trajectory.Trajectories[S, A], error] {
	return func(yield func(*trajectory.Trajectories[S, A], error) bool) {
		all, err := s.sources.SourceStates()
		if err != nil {
			yield(nil, fmt.Errorf("source states: %w", err))
			return
		}
		if nTotal == -1 || nTotal > len(all) {
			nTotal = len(all)
		}
		bounds, err := chunks(nTotal, batchSize)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, b := range bounds {
			ts, err := s.SampleTrajectoriesFromSources(all[b[0]:b[1]])
			if !yield(ts, err) || err != nil {
				return
			}
		}
	}
}
