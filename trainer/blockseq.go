package trainer

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/envs/blockseq"
	"github.com/sw965/gflow/mathx/randx"
	"github.com/sw965/gflow/objective"
	"github.com/sw965/gflow/optimizer"
	"github.com/sw965/gflow/policy"
	"github.com/sw965/gflow/reward"
	"github.com/sw965/gflow/sampler"
	"github.com/sw965/gflow/trajectory"
	"log/slog"
)

type BlockSeqTrainer = Trainer[blockseq.State, blockseq.Action]

// NewBlockSeq wires a tabular policy, the blockseq environment and its proxy into a Trainer.
// The caller attaches a Logger.
func NewBlockSeq(cfg Config, logger *slog.Logger) (*BlockSeqTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	src := randx.NewPCG(cfg.Seed)
	randx.SeedEverything(cfg.Seed, src)

	env, err := blockseq.New(cfg.Env.NumBlocks, cfg.Env.MaxLen)
	if err != nil {
		return nil, err
	}
	proxy, err := blockseq.NewProxy(cfg.Env.Weights)
	if err != nil {
		return nil, err
	}
	cached := reward.NewCachedProxy[blockseq.State, blockseq.Action](proxy, blockseq.State.Key, cfg.ProxyCacheSize)
	r, err := reward.New[blockseq.State, blockseq.Action](cached, cfg.Reward)
	if err != nil {
		return nil, err
	}

	forward, err := policy.NewTabular[blockseq.State, blockseq.Action](
		[]gflow.Kind{blockseq.KindPick, blockseq.KindDecide}, blockseq.State.Key, src, logger)
	if err != nil {
		return nil, err
	}
	sources, err := env.SourceStates()
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		forward.SetLogFlow(s, cfg.InitLogZ)
	}
	backward := policy.NewUniform[blockseq.State, blockseq.Action](src)

	var obj objective.Objective[blockseq.State, blockseq.Action]
	switch cfg.Objective {
	case "subtb":
		obj = objective.NewSubTrajectoryBalance[blockseq.State, blockseq.Action](forward, backward, cfg.Lambda)
	default:
		obj = objective.NewTrajectoryBalance[blockseq.State, blockseq.Action](forward, backward)
	}

	var filter trajectory.Filter[blockseq.State, blockseq.Action] = trajectory.Identity[blockseq.State, blockseq.Action]{}
	if cfg.Filter != "" {
		filter, err = trajectory.NewExprFilter[blockseq.State, blockseq.Action](cfg.Filter)
		if err != nil {
			return nil, err
		}
	}

	terminals := env.TerminalStates()
	exact, err := r.ComputeRewardOutput(terminals)
	if err != nil {
		return nil, fmt.Errorf("terminal rewards: %w", err)
	}
	target := make(map[string]float64, len(terminals))
	for i, s := range terminals {
		target[s.Key()] = float64(exact.Reward[i])
	}

	return &BlockSeqTrainer{
		RunID:     uuid.NewString(),
		Sampler:   sampler.NewRandom[blockseq.State, blockseq.Action](forward, env, r, logger),
		Objective: obj,
		Policy:    forward,
		Reward:    r,
		Filter:    filter,
		Optimizer: optimizer.NewMomentum(cfg.Momentum),
		Artifacts: ArtifactsList[blockseq.State, blockseq.Action]{
			NewTopK[blockseq.State, blockseq.Action]("top_k", cfg.TopK, blockseq.State.Key),
			&TransitionGraph[blockseq.State, blockseq.Action]{Name: "transitions", KeyFunc: blockseq.State.Key},
			&Distribution[blockseq.State, blockseq.Action]{Name: "distribution", KeyFunc: blockseq.State.Key, Target: target},
		},
		Slog:         logger,
		Iterations:   cfg.Iterations,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		LogEvery:     cfg.LogEvery,
	}, nil
}
