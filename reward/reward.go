// Package reward turns proxy scores of terminal states into rewards and log-rewards.
package reward

import (
	"errors"
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/trajectory"
)

var (
	ErrUnknownBoosting             = errors.New("Rewardエラー: 不明なブースティングです")
	ErrLinearBoostingNegativeProxy = errors.New("Rewardエラー: linearブースティングには非負のProxyが必要です")
	ErrNilProxy                    = errors.New("Rewardエラー: Proxyがnilです")
)

type Boosting string

const (
	Linear      Boosting = "linear"
	Exponential Boosting = "exponential"
)

type Proxy[S, A any] interface {
	ComputeProxyOutput(states []S) (*gflow.ProxyOutput, error)
	IsNonNegative() bool
	HigherIsBetter() bool
	// UpdateUsingTrajectories must be a no-op for an updateIdx it has already seen.
	UpdateUsingTrajectories(ts *trajectory.Trajectories[S, A], updateIdx int) (map[string]float32, error)
}

type Config struct {
	Boosting  Boosting `yaml:"reward_boosting" validate:"oneof=linear exponential"`
	MinReward float32  `yaml:"min_reward" validate:"gte=0"`
	Beta      float32  `yaml:"beta" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Boosting:  Linear,
		MinReward: 0.0,
		Beta:      1.0,
	}
}

type Reward[S, A any] struct {
	Proxy        Proxy[S, A]
	Config       Config
	minLogReward float32
}

func New[S, A any](proxy Proxy[S, A], cfg Config) (*Reward[S, A], error) {
	if proxy == nil {
		return nil, ErrNilProxy
	}
	switch cfg.Boosting {
	case Linear:
		if !proxy.IsNonNegative() {
			return nil, ErrLinearBoostingNegativeProxy
		}
	case Exponential:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoosting, cfg.Boosting)
	}
	r := &Reward[S, A]{Proxy: proxy, Config: cfg, minLogReward: math32.Inf(-1)}
	if cfg.MinReward > 0 {
		r.minLogReward = math32.Log(cfg.MinReward)
	}
	return r, nil
}

func (r *Reward[S, A]) ComputeRewardOutput(states []S) (*gflow.RewardOutput, error) {
	out, err := r.Proxy.ComputeProxyOutput(states)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	if err := out.Validate(len(states)); err != nil {
		return nil, err
	}

	var sign float32 = 1.0
	if !r.Proxy.HigherIsBetter() {
		sign = -1.0
	}
	n := len(states)
	y := &gflow.RewardOutput{
		LogReward:       make([]float32, n),
		Reward:          make([]float32, n),
		Proxy:           out.Value,
		ProxyComponents: out.Components,
	}
	beta := r.Config.Beta
	for i, v := range out.Value {
		boosted := beta * sign * v
		switch r.Config.Boosting {
		case Linear:
			y.Reward[i] = max(boosted, r.Config.MinReward)
			y.LogReward[i] = math32.Log(y.Reward[i])
		case Exponential:
			y.LogReward[i] = max(boosted, r.minLogReward)
			y.Reward[i] = math32.Exp(y.LogReward[i])
		}
	}
	return y, nil
}

func (r *Reward[S, A]) UpdateUsingTrajectories(ts *trajectory.Trajectories[S, A], updateIdx int) (map[string]float32, error) {
	return r.Proxy.UpdateUsingTrajectories(ts, updateIdx)
}
