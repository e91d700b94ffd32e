// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service configuration from YAML with
// environment-variable overrides. Environment wins over file, file
// wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize bounds the config file read.
const MaxYAMLFileSize = 1 << 20

// Defaults applied for zero-valued fields.
const (
	DefaultContextBudget  = 200
	DefaultMaxDepth       = 3
	DefaultTopK           = 10
	DefaultEmbedBatchSize = 100
	DefaultRunTimeoutSec  = 30
)

// Config is the full service configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	// ProjectRoot is the Python codebase under repair.
	ProjectRoot string `yaml:"project_root"`

	// ContextBudget is the line budget per assembled context payload.
	ContextBudget int `yaml:"context_budget"`

	// MaxDepth bounds the dependency walk from each target.
	MaxDepth int `yaml:"max_depth"`

	// CacheDir holds the BadgerDB index cache. Empty disables
	// persistence.
	CacheDir string `yaml:"cache_dir"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Runner    RunnerConfig    `yaml:"runner"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Disabled turns the semantic layer off entirely; resolution is
	// structural-only.
	Disabled bool `yaml:"disabled"`

	// Provider is "ollama" or "openai".
	Provider string `yaml:"provider"`

	// URL overrides the backend endpoint. Empty uses the provider
	// default.
	URL string `yaml:"url"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dimension overrides the zero-vector degradation dimension.
	Dimension int `yaml:"dimension"`

	// BatchSize is elements per embedding call.
	BatchSize int `yaml:"batch_size"`
}

// RetrievalConfig tunes semantic search.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`

	// MissingTargetThreshold gates the does-this-name-exist check.
	// Zero means the package default.
	MissingTargetThreshold float64 `yaml:"missing_target_threshold"`

	// VerifyThreshold gates extraction verification.
	VerifyThreshold float64 `yaml:"verify_threshold"`
}

// RunnerConfig controls the scoped test validation step.
type RunnerConfig struct {
	// Enabled turns apply-test-rollback validation on.
	Enabled bool `yaml:"enabled"`

	// PytestPath is the pytest executable. Empty means PATH lookup.
	PytestPath string `yaml:"pytest_path"`

	// TimeoutSeconds bounds one scoped run.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the runner timeout as a duration.
func (r RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Default returns the baseline configuration for a project root.
func Default(projectRoot string) *Config {
	cfg := &Config{ProjectRoot: projectRoot, Runner: RunnerConfig{Enabled: true}}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// Load reads a YAML config file, fills defaults, applies environment
// overrides, and validates. An empty path returns Default(".").
func Load(path string) (*Config, error) {
	if path == "" {
		return Default("."), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "."
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Runner.TimeoutSeconds <= 0 {
		cfg.Runner.TimeoutSeconds = DefaultRunTimeoutSec
	}
}

// applyEnv overlays the environment variables shared with the
// embedding backends. The backends read the same variables directly
// when constructed without explicit values; setting them here keeps
// the loaded Config honest about what will actually be used.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EMBEDDING_SERVICE_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("VECTOR_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil && dim > 0 {
			cfg.Embedding.Dimension = dim
		}
	}
	if v := os.Getenv("REMEDY_DISABLE_EMBEDDINGS"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil {
			cfg.Embedding.Disabled = disabled
		}
	}
	if v := os.Getenv("REMEDY_PROJECT_ROOT"); v != "" {
		cfg.ProjectRoot = v
	}
	if v := os.Getenv("REMEDY_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity %f outside [0, 1]", cfg.Retrieval.MinSimilarity)
	}
	return nil
}
