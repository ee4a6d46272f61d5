package blockseq

import (
	"fmt"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/reward"
	"github.com/sw965/gflow/trajectory"
)

// Proxy scores a sequence by the sum of its block weights. Weights must be non-negative.
// It also counts the distinct terminal states it has been updated with.
type Proxy struct {
	reward.UpdateTracker
	Weights []float32
	visited map[string]struct{}
}

func NewProxy(weights []float32) (*Proxy, error) {
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: weights[%d] = %v", ErrBadConfig, i, w)
		}
	}
	return &Proxy{Weights: weights, visited: map[string]struct{}{}}, nil
}

func (p *Proxy) ComputeProxyOutput(states []State) (*gflow.ProxyOutput, error) {
	values := make([]float32, len(states))
	lengths := make([]float32, len(states))
	diversity := make([]float32, len(states))
	for i, s := range states {
		seen := map[int]struct{}{}
		for _, b := range s.Blocks {
			if b < 0 || b >= len(p.Weights) {
				return nil, fmt.Errorf("%w: block %d at %s", gflow.ErrIndexOutOfRange, b, s.Key())
			}
			values[i] += p.Weights[b]
			seen[b] = struct{}{}
		}
		lengths[i] = float32(len(s.Blocks))
		if len(s.Blocks) > 0 {
			diversity[i] = float32(len(seen)) / float32(len(s.Blocks))
		}
	}
	return &gflow.ProxyOutput{
		Value: values,
		Components: map[string][]float32{
			"length":    lengths,
			"diversity": diversity,
		},
	}, nil
}

func (p *Proxy) IsNonNegative() bool {
	return true
}

func (p *Proxy) HigherIsBetter() bool {
	return true
}

func (p *Proxy) UpdateUsingTrajectories(ts *trajectory.Trajectories[State, Action], updateIdx int) (map[string]float32, error) {
	if !p.Begin(updateIdx) {
		return map[string]float32{}, nil
	}
	lasts, err := ts.LastStatesFlat()
	if err != nil {
		return nil, err
	}
	for _, s := range lasts {
		p.visited[s.Key()] = struct{}{}
	}
	return map[string]float32{"visited_terminal_states": float32(len(p.visited))}, nil
}

func (p *Proxy) NumVisited() int {
	return len(p.visited)
}
