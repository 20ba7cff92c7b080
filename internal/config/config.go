// Package config loads loader configuration from a layered source: a
// TOML defaults file read the way cmd/sift/main.go reads .sift.toml,
// a YAML pipeline/tokenizer/window config in the shape of the original
// implementation's PipelineConfig/TokenizerConfig (original_source/src/
// data/mod.rs's read_yaml/parse_yaml/serde_yaml), and environment
// overrides, composed through spf13/viper.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tejas242/dataloader/internal/batcher"
	"github.com/tejas242/dataloader/internal/iterator"
	"github.com/tejas242/dataloader/internal/record"
)

// Defaults mirrors the handful of process-wide flags cmd/sift/main.go
// reads from .sift.toml before cobra flag parsing; loadctl reads the
// equivalent from .loader.toml.
type Defaults struct {
	ModelDir   string `toml:"model-dir"`
	NumThreads int    `toml:"threads"`
	BufferSize int    `toml:"buffer-size"`
}

// LoadDefaults reads a TOML defaults file, the same best-effort
// "if it exists, apply it" convention cmd/sift/main.go uses for
// .sift.toml: a missing file is not an error.
func LoadDefaults(path string) (Defaults, error) {
	var d Defaults
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, record.NewError(record.ErrConfig, "config.LoadDefaults", err)
	}
	if err := toml.Unmarshal(b, &d); err != nil {
		return d, record.NewError(record.ErrConfig, "config.LoadDefaults", err)
	}
	return d, nil
}

// PreprocessingConfig names one preprocessing step by kind — the Go
// analogue of the original's PreprocessingConfig enum, deserialized from
// YAML the same tagged-variant way (a "type" discriminator field).
type PreprocessingConfig struct {
	Type string `yaml:"type"`
}

// TokenizerConfig names the tokenizer model directory and special
// tokens, the Go analogue of the original's TokenizerConfig.
type TokenizerConfig struct {
	ModelDir        string `yaml:"model_dir"`
	PadToken        string `yaml:"pad_token"`
	NumPrefixTokens int    `yaml:"num_prefix_tokens"`
}

// LabelingConfig names the labeling strategy; "regex_classes" is the
// concrete implementation this module ships (preprocess.FromRegexClasses).
type LabelingConfig struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

// WindowConfig mirrors windowing.Config for YAML/env decoding.
type WindowConfig struct {
	BodySize    int `yaml:"body_size"`
	Stride      int `yaml:"stride"`
	ContextSize int `yaml:"context_size"`
}

// PipelineConfig is the YAML-decodable counterpart of spec §4.7's option
// table, the Go analogue of the original's PipelineConfig struct
// (preprocessing chain + optional labeling + tokenizer).
type PipelineConfig struct {
	Preprocessing []PreprocessingConfig `yaml:"preprocessing"`
	Labeling      *LabelingConfig       `yaml:"labeling,omitempty"`
	Tokenizer     TokenizerConfig       `yaml:"tokenizer"`
	Window        *WindowConfig         `yaml:"window,omitempty"`

	Strategy       string   `yaml:"strategy"`
	Weights        []float64 `yaml:"weights,omitempty"`
	NumThreads     int      `yaml:"num_threads"`
	BufferSize     int      `yaml:"buffer_size"`
	BatchLimitType string   `yaml:"batch_limit_type"`
	BatchLimit     uint     `yaml:"batch_limit"`
	PrefetchFactor uint     `yaml:"prefetch_factor"`
	Sort           bool     `yaml:"sort"`
	Shuffle        bool     `yaml:"shuffle"`
	Seed           *uint64  `yaml:"seed,omitempty"`
	Skip           int      `yaml:"skip"`
	Limit          int      `yaml:"limit"`
	Rank           int      `yaml:"rank"`
	WorldSize      int      `yaml:"world_size"`
}

// ReadYAML reads and parses path the way the original's read_yaml +
// parse_yaml pair does, layered through viper so SetEnvPrefix overrides
// (e.g. LOADER_BATCH_LIMIT) win over the file.
func ReadYAML(path string, envPrefix string) (PipelineConfig, error) {
	var cfg PipelineConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, record.NewError(record.ErrConfig, "config.ReadYAML", fmt.Errorf("read %s: %w", path, err))
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, record.NewError(record.ErrConfig, "config.ReadYAML", fmt.Errorf("parse %s: %w", path, err))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return cfg, record.NewError(record.ErrConfig, "config.ReadYAML", err)
	}
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
		v.AutomaticEnv()
		applyEnvOverrides(v, &cfg)
	}
	return cfg, nil
}

// applyEnvOverrides pulls the handful of scalar options a training run
// commonly overrides per-invocation (seed, batch limit, shuffle,
// num_threads) from
// the environment, the same "file defaults, env wins" layering viper's
// own docs recommend and the teacher's config loading otherwise lacks.
func applyEnvOverrides(v *viper.Viper, cfg *PipelineConfig) {
	if v.IsSet("seed") {
		s := v.GetUint64("seed")
		cfg.Seed = &s
	}
	if v.IsSet("batch_limit") {
		cfg.BatchLimit = uint(v.GetInt("batch_limit"))
	}
	if v.IsSet("shuffle") {
		cfg.Shuffle = v.GetBool("shuffle")
	}
	if v.IsSet("num_threads") {
		cfg.NumThreads = v.GetInt("num_threads")
	}
}

// BuildStrategy builds the iterator.Strategy named by cfg.Strategy.
func (cfg PipelineConfig) BuildStrategy() (iterator.Strategy, error) {
	switch cfg.Strategy {
	case "", "sequential":
		return iterator.Sequential{}, nil
	case "interleaved":
		return &iterator.Interleaved{}, nil
	case "weighted":
		if cfg.Seed == nil {
			return nil, record.NewError(record.ErrConfig, "config.PipelineConfig.BuildStrategy", errWeightedNeedsSeed)
		}
		return &iterator.Weighted{Weights: cfg.Weights, Seed: *cfg.Seed}, nil
	default:
		return nil, record.NewError(record.ErrConfig, "config.PipelineConfig.BuildStrategy",
			fmt.Errorf("unknown strategy %q", cfg.Strategy))
	}
}

// BuildBatchLimitType builds the batcher.LimitType named by
// cfg.BatchLimitType.
func (cfg PipelineConfig) BuildBatchLimitType() (batcher.LimitType, error) {
	switch cfg.BatchLimitType {
	case "", "batch_size":
		return batcher.BatchSize, nil
	case "token_count":
		return batcher.TokenCount, nil
	default:
		return 0, record.NewError(record.ErrConfig, "config.PipelineConfig.BuildBatchLimitType",
			fmt.Errorf("unknown batch_limit_type %q", cfg.BatchLimitType))
	}
}

var errWeightedNeedsSeed = simpleErr("weighted strategy requires a seed")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
