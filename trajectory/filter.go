package trajectory

import (
	"fmt"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type Filter[S, A any] interface {
	Apply(ts *Trajectories[S, A]) (*Trajectories[S, A], error)
}

type Identity[S, A any] struct{}

func (Identity[S, A]) Apply(ts *Trajectories[S, A]) (*Trajectories[S, A], error) {
	return ts, nil
}

// ExprEnv is what a filter expression sees for one trajectory. Reward fields are zero when
// no reward has been attached.
type ExprEnv struct {
	Index      int                `expr:"index"`
	Length     int                `expr:"length"`
	LogReward  float64            `expr:"log_reward"`
	Reward     float64            `expr:"reward"`
	Proxy      float64            `expr:"proxy"`
	Components map[string]float64 `expr:"components"`
}

// ExprFilter keeps the trajectories for which a boolean expression holds,
// e.g. `length >= 2 && reward > 0.1`.
type ExprFilter[S, A any] struct {
	source  string
	program *vm.Program
}

func NewExprFilter[S, A any](source string) (*ExprFilter[S, A], error) {
	program, err := expr.Compile(source, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", source, err)
	}
	return &ExprFilter[S, A]{source: source, program: program}, nil
}

func (f *ExprFilter[S, A]) String() string {
	return f.source
}

func (f *ExprFilter[S, A]) Apply(ts *Trajectories[S, A]) (*Trajectories[S, A], error) {
	if !ts.finalized {
		return nil, ErrNotFinalized
	}
	r := ts.rewardOutputs
	keep := make([]int, 0, ts.Len())
	for i, t := range ts.trajs {
		env := ExprEnv{
			Index:      i,
			Length:     t.Len(),
			Components: map[string]float64{},
		}
		if r != nil {
			env.LogReward = float64(r.LogReward[i])
			env.Reward = float64(r.Reward[i])
			env.Proxy = float64(r.Proxy[i])
			for name, c := range r.ProxyComponents {
				env.Components[name] = float64(c[i])
			}
		}
		out, err := expr.Run(f.program, env)
		if err != nil {
			return nil, fmt.Errorf("filter %q trajectory %d: %w", f.source, i, err)
		}
		if out.(bool) {
			keep = append(keep, i)
		}
	}
	return ts.Select(keep)
}
