package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tejas242/dataloader/internal/batcher"
)

func TestLoadDefaultsMissingFileIsNotError(t *testing.T) {
	d, err := LoadDefaults(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if d.ModelDir != "" {
		t.Errorf("expected zero-value Defaults, got %+v", d)
	}
}

func TestLoadDefaultsParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".loader.toml")
	content := "model-dir = \"./models\"\nthreads = 4\nbuffer-size = 64\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if d.ModelDir != "./models" || d.NumThreads != 4 || d.BufferSize != 64 {
		t.Errorf("got %+v", d)
	}
}

func TestReadYAMLParsesPipelineConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := `
preprocessing:
  - type: clean
tokenizer:
  model_dir: ./models
  pad_token: "[PAD]"
strategy: sequential
batch_limit_type: token_count
batch_limit: 256
num_threads: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := ReadYAML(path, "")
	if err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}
	if cfg.Tokenizer.ModelDir != "./models" || cfg.BatchLimit != 256 || cfg.NumThreads != 4 {
		t.Errorf("got %+v", cfg)
	}
	lt, err := cfg.BuildBatchLimitType()
	if err != nil {
		t.Fatalf("BatchLimitType: %v", err)
	}
	if lt != batcher.TokenCount {
		t.Errorf("BatchLimitType = %v, want TokenCount", lt)
	}
	strat, err := cfg.BuildStrategy()
	if err != nil {
		t.Fatalf("Strategy: %v", err)
	}
	if strat == nil {
		t.Error("expected non-nil Strategy")
	}
}

func TestReadYAMLRejectsMissingFile(t *testing.T) {
	if _, err := ReadYAML(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStrategyRejectsUnknown(t *testing.T) {
	cfg := PipelineConfig{Strategy: "bogus"}
	if _, err := cfg.BuildStrategy(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestStrategyWeightedRequiresSeed(t *testing.T) {
	cfg := PipelineConfig{Strategy: "weighted", Weights: []float64{1, 2}}
	if _, err := cfg.BuildStrategy(); err == nil {
		t.Fatal("expected error for weighted strategy without seed")
	}
}
