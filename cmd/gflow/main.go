package main

import (
	"context"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/sw965/gflow/trainer"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "gflow",
		Short:        "Train GFlowNets on small combinatorial environments",
		SilenceUsage: true,
	}
	root.AddCommand(trainCommand())
	return root
}

func trainCommand() *cobra.Command {
	var (
		configPath string
		seed       uint64
		outDir     string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a tabular GFlowNet on the blockseq environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			cfg, err := trainer.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("out") {
				cfg.OutputDir = outDir
			}

			tr, err := trainer.NewBlockSeq(cfg, logger)
			if err != nil {
				return err
			}
			runDir := filepath.Join(cfg.OutputDir, cfg.Name+"-"+tr.RunID[:8])
			fl, err := trainer.NewFileLogger(runDir, logger)
			if err != nil {
				return err
			}
			loggers := trainer.MultiLogger{fl}
			if cfg.Prometheus {
				pl, err := trainer.NewPrometheusLogger(prometheus.DefaultRegisterer, "gflow")
				if err != nil {
					return err
				}
				loggers = append(loggers, pl)
			}
			tr.Logger = loggers
			defer loggers.Close()

			if err := loggers.LogHyperparameters(hyperparameters(cfg, tr.RunID)); err != nil {
				return err
			}
			if err := loggers.LogToFile(cfg, "config", trainer.ArtifactJSON); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			logger.Info("training", "run", tr.RunID, "dir", runDir, "objective", cfg.Objective, "seed", cfg.Seed)
			return tr.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file; defaults are used when empty")
	cmd.Flags().Uint64VarP(&seed, "seed", "s", 42, "random seed, overrides the config")
	cmd.Flags().StringVarP(&outDir, "out", "o", "runs", "output directory, overrides the config")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log rollout and dispatch details")
	return cmd
}

func hyperparameters(cfg trainer.Config, runID string) map[string]any {
	return map[string]any{
		"run_id":          runID,
		"name":            cfg.Name,
		"seed":            cfg.Seed,
		"iterations":      cfg.Iterations,
		"batch_size":      cfg.BatchSize,
		"learning_rate":   cfg.LearningRate,
		"momentum":        cfg.Momentum,
		"objective":       cfg.Objective,
		"lambda":          cfg.Lambda,
		"init_log_z":      cfg.InitLogZ,
		"reward_boosting": string(cfg.Reward.Boosting),
		"beta":            cfg.Reward.Beta,
		"min_reward":      cfg.Reward.MinReward,
		"num_blocks":      cfg.Env.NumBlocks,
		"max_len":         cfg.Env.MaxLen,
		"filter":          cfg.Filter,
	}
}
