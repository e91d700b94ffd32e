// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remedy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `project_root: /srv/app
runner:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProjectRoot != "/srv/app" {
		t.Errorf("project_root = %s", cfg.ProjectRoot)
	}
	if cfg.ContextBudget != DefaultContextBudget {
		t.Errorf("context_budget = %d", cfg.ContextBudget)
	}
	if cfg.MaxDepth != DefaultMaxDepth {
		t.Errorf("max_depth = %d", cfg.MaxDepth)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("provider = %s", cfg.Embedding.Provider)
	}
	if cfg.Runner.TimeoutSeconds != DefaultRunTimeoutSec {
		t.Errorf("timeout = %d", cfg.Runner.TimeoutSeconds)
	}
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "env-model")
	t.Setenv("REMEDY_DISABLE_EMBEDDINGS", "true")
	t.Setenv("VECTOR_DIM", "512")

	path := writeConfig(t, `embedding:
  model: file-model
  disabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Embedding.Model != "env-model" {
		t.Errorf("model = %s", cfg.Embedding.Model)
	}
	if !cfg.Embedding.Disabled {
		t.Error("REMEDY_DISABLE_EMBEDDINGS override ignored")
	}
	if cfg.Embedding.Dimension != 512 {
		t.Errorf("dimension = %d", cfg.Embedding.Dimension)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `embedding:
  provider: carrier-pigeon
`)
	if _, err := Load(path); err == nil {
		t.Error("unknown provider accepted")
	}

	path = writeConfig(t, `retrieval:
  min_similarity: 1.5
`)
	if _, err := Load(path); err == nil {
		t.Error("out-of-range similarity accepted")
	}
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectRoot != "." || cfg.ContextBudget != DefaultContextBudget {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Runner.Enabled {
		t.Error("default runner not enabled")
	}
}
