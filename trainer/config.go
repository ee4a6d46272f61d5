package trainer

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/sw965/gflow/reward"
	"gopkg.in/yaml.v3"
	"os"
)

var ErrInvalidConfig = errors.New("Trainerエラー: 設定が不正です")

var validate = validator.New()

type EnvConfig struct {
	NumBlocks int       `yaml:"num_blocks" validate:"gt=0"`
	MaxLen    int       `yaml:"max_len" validate:"gt=0"`
	Weights   []float32 `yaml:"weights" validate:"dive,gte=0"`
}

type Config struct {
	Name         string  `yaml:"name"`
	Seed         uint64  `yaml:"seed"`
	Iterations   int     `yaml:"iterations" validate:"gt=0"`
	BatchSize    int     `yaml:"batch_size" validate:"gt=0"`
	LearningRate float32 `yaml:"learning_rate" validate:"gt=0"`
	Momentum     float32 `yaml:"momentum" validate:"gte=0,lt=1"`
	Objective    string  `yaml:"objective" validate:"oneof=tb subtb"`
	Lambda       float32 `yaml:"lambda" validate:"gt=0"`
	InitLogZ     float32 `yaml:"init_log_z"`

	Reward reward.Config `yaml:"reward"`
	Env    EnvConfig     `yaml:"env"`

	// Filter is an expr-lang condition over trajectory.ExprEnv. Empty keeps every trajectory.
	Filter         string `yaml:"filter"`
	ProxyCacheSize int    `yaml:"proxy_cache_size" validate:"gte=0"`
	TopK           int    `yaml:"top_k" validate:"gte=0"`
	LogEvery       int    `yaml:"log_every" validate:"gt=0"`
	OutputDir      string `yaml:"output_dir" validate:"required"`
	Prometheus     bool   `yaml:"prometheus"`
}

func DefaultConfig() Config {
	return Config{
		Name:         "blockseq",
		Seed:         42,
		Iterations:   200,
		BatchSize:    16,
		LearningRate: 0.05,
		Momentum:     0.9,
		Objective:    "tb",
		Lambda:       0.9,
		InitLogZ:     0.0,
		Reward:       reward.DefaultConfig(),
		Env: EnvConfig{
			NumBlocks: 3,
			MaxLen:    3,
			Weights:   []float32{1.0, 2.0, 4.0},
		},
		ProxyCacheSize: 1024,
		TopK:           10,
		LogEvery:       10,
		OutputDir:      "runs",
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Env.Weights) != c.Env.NumBlocks {
		return fmt.Errorf("%w: env.weights = %d, env.num_blocks = %d", ErrInvalidConfig, len(c.Env.Weights), c.Env.NumBlocks)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
