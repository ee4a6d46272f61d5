package gflow

import (
	"fmt"
	"maps"
	"slices"
)

type ProxyOutput struct {
	Value      []float32
	Components map[string][]float32
}

// Validate checks that the output scores exactly n states.
func (p *ProxyOutput) Validate(n int) error {
	if len(p.Value) != n {
		return fmt.Errorf("%w: states = %d, proxy values = %d", ErrLengthMismatch, n, len(p.Value))
	}
	for name, c := range p.Components {
		if len(c) != n {
			return fmt.Errorf("%w: proxy component %q = %d, want %d", ErrLengthMismatch, name, len(c), n)
		}
	}
	return nil
}

// RewardOutput holds one entry per trajectory, indexed by its terminal state.
type RewardOutput struct {
	LogReward       []float32
	Reward          []float32
	Proxy           []float32
	ProxyComponents map[string][]float32
}

func (r *RewardOutput) Len() int {
	return len(r.LogReward)
}

func (r *RewardOutput) Validate() error {
	n := len(r.LogReward)
	if len(r.Reward) != n || len(r.Proxy) != n {
		return fmt.Errorf("%w: RewardOutput log_reward = %d, reward = %d, proxy = %d",
			ErrLengthMismatch, n, len(r.Reward), len(r.Proxy))
	}
	for name, c := range r.ProxyComponents {
		if len(c) != n {
			return fmt.Errorf("%w: RewardOutput component %q = %d, want %d", ErrLengthMismatch, name, len(c), n)
		}
	}
	return nil
}

func (r *RewardOutput) Select(indices []int) *RewardOutput {
	pick := func(xs []float32) []float32 {
		out := make([]float32, len(indices))
		for i, idx := range indices {
			out[i] = xs[idx]
		}
		return out
	}
	var comps map[string][]float32
	if r.ProxyComponents != nil {
		comps = make(map[string][]float32, len(r.ProxyComponents))
		for name, c := range r.ProxyComponents {
			comps[name] = pick(c)
		}
	}
	return &RewardOutput{
		LogReward:       pick(r.LogReward),
		Reward:          pick(r.Reward),
		Proxy:           pick(r.Proxy),
		ProxyComponents: comps,
	}
}

// ConcatRewardOutputs keeps only the components present in every output.
func ConcatRewardOutputs(outs ...*RewardOutput) *RewardOutput {
	if len(outs) == 0 {
		return &RewardOutput{}
	}
	y := &RewardOutput{}
	var names []string
	if outs[0].ProxyComponents != nil {
		names = slices.Sorted(maps.Keys(outs[0].ProxyComponents))
	}
	for _, o := range outs {
		y.LogReward = append(y.LogReward, o.LogReward...)
		y.Reward = append(y.Reward, o.Reward...)
		y.Proxy = append(y.Proxy, o.Proxy...)
		names = slices.DeleteFunc(names, func(name string) bool {
			_, ok := o.ProxyComponents[name]
			return !ok
		})
	}
	if len(names) > 0 {
		y.ProxyComponents = make(map[string][]float32, len(names))
		for _, name := range names {
			for _, o := range outs {
				y.ProxyComponents[name] = append(y.ProxyComponents[name], o.ProxyComponents[name]...)
			}
		}
	}
	return y
}
