// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remedy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/remedy/assemble"
	"github.com/AleutianAI/remedy/services/remedy/config"
	"github.com/AleutianAI/remedy/services/remedy/patch"
)

const calcSource = `TAX_RATE = 0.2


def net(value):
    return value * (1 - TAX_RATE)


def scale(value):
    return net(value) * 2


def audit(value):
    return value
`

const calcTestSource = `from app.main import scale


def test_scale():
    assert scale(2) == 4


def test_unrelated():
    assert True
`

// writeProject lays out a small project: one source module and one test
// file importing from it.
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"app/main.py":         calcSource,
		"tests/test_calc.py":  calcTestSource,
		"tests/test_other.py": "def test_other():\n    assert True\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

// structuralConfig disables embeddings and scoped validation so tests
// exercise the structural pipeline alone.
func structuralConfig(root string) *config.Config {
	cfg := config.Default(root)
	cfg.Embedding.Disabled = true
	cfg.Runner.Enabled = false
	return cfg
}

// constBackend embeds everything, queries included, to the same
// direction. Every indexed element matches every query perfectly.
type constBackend struct{}

func (constBackend) Identity() string { return "fake/const" }

func (constBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

// =============================================================================
// Context Resolution
// =============================================================================

func TestGetContextStructural(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	result, err := svc.GetContext(context.Background(), FailingUnitDescriptor{
		TestFile:     filepath.Join(root, "tests", "test_calc.py"),
		UnitName:     "test_scale",
		ErrorKind:    "AssertionError",
		ErrorMessage: "assert 4.8 == 4",
	})
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}

	if len(result.Resolutions) != 1 {
		t.Fatalf("resolutions = %+v", result.Resolutions)
	}
	if !strings.HasSuffix(result.Resolutions[0].SourceFile, filepath.Join("app", "main.py")) {
		t.Errorf("source file = %s", result.Resolutions[0].SourceFile)
	}

	// The target, its transitive helper, and the constant the helper
	// reads all belong in the payload.
	for _, want := range []string{"def scale", "def net", "TAX_RATE"} {
		if !strings.Contains(result.Rendered, want) {
			t.Errorf("payload missing %q:\n%s", want, result.Rendered)
		}
	}
	if result.Stats.Diagnostic != assemble.DiagStructuralOnly {
		t.Errorf("diagnostic = %s", result.Stats.Diagnostic)
	}
	if result.TotalLines <= 0 || result.TotalLines > svc.cfg.ContextBudget {
		t.Errorf("total lines = %d, budget %d", result.TotalLines, svc.cfg.ContextBudget)
	}
}

func TestGetContextNormalizesParametrizedUnit(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	result, err := svc.GetContext(context.Background(), FailingUnitDescriptor{
		TestFile: filepath.Join(root, "tests", "test_calc.py"),
		UnitName: "test_scale[case-2]",
	})
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if !strings.Contains(result.Rendered, "def scale") {
		t.Errorf("parametrized unit did not resolve:\n%s", result.Rendered)
	}
}

func TestGetContextEmptyIsNotAnError(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	missing := filepath.Join(root, "tests", "test_missing.py")
	if err := os.WriteFile(missing, []byte("from ghost.module import thing\n\n\ndef test_ghost():\n    assert thing()\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := svc.GetContext(context.Background(), FailingUnitDescriptor{
		TestFile: missing,
		UnitName: "test_ghost",
	})
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if result.Rendered != "" || len(result.Items) != 0 {
		t.Errorf("expected empty payload, got %+v", result)
	}
	if result.Stats.Diagnostic != assemble.DiagBothEmpty {
		t.Errorf("diagnostic = %s", result.Stats.Diagnostic)
	}
}

func TestGetContextSemanticRecovers(t *testing.T) {
	root := writeProject(t)
	cfg := config.Default(root)
	cfg.Runner.Enabled = false

	svc, err := NewService(cfg, WithBackend(constBackend{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	if err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if svc.IndexSize() == 0 {
		t.Fatal("index empty after build")
	}

	// Structurally unresolvable unit; the retriever still surfaces the
	// indexed source.
	missing := filepath.Join(root, "tests", "test_missing.py")
	if err := os.WriteFile(missing, []byte("from ghost.module import thing\n\n\ndef test_ghost():\n    assert thing()\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := svc.GetContext(ctx, FailingUnitDescriptor{
		TestFile:     missing,
		UnitName:     "test_ghost",
		ErrorMessage: "NameError: thing",
	})
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if result.Stats.Diagnostic != assemble.DiagSemanticRecovered {
		t.Errorf("diagnostic = %s, stats = %+v", result.Stats.Diagnostic, result.Stats)
	}
	if !strings.Contains(result.Rendered, "def scale") {
		t.Errorf("semantic payload missing source:\n%s", result.Rendered)
	}
}

// =============================================================================
// Semantic Surface
// =============================================================================

func TestSemanticDisabledSurface(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	if err := svc.BuildIndex(ctx, false); !errors.Is(err, ErrEmbeddingsDisabled) {
		t.Errorf("BuildIndex err = %v", err)
	}
	if _, err := svc.Search(ctx, "scale", 5); !errors.Is(err, ErrEmbeddingsDisabled) {
		t.Errorf("Search err = %v", err)
	}
	if _, err := svc.FindMissingTarget(ctx, "scale", ""); !errors.Is(err, ErrEmbeddingsDisabled) {
		t.Errorf("FindMissingTarget err = %v", err)
	}

	// Without an index, extraction stands unchallenged.
	verified := svc.VerifyTargets(ctx, []string{"scale", "ghost"}, "")
	if !verified["scale"] || !verified["ghost"] {
		t.Errorf("verified = %v", verified)
	}
}

func TestSearchFindsIndexedElements(t *testing.T) {
	root := writeProject(t)
	cfg := config.Default(root)
	cfg.Runner.Enabled = false

	svc, err := NewService(cfg, WithBackend(constBackend{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	if err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	results, err := svc.Search(ctx, "scaling helper", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestFindMissingTargetUsesConfiguredThreshold(t *testing.T) {
	root := writeProject(t)
	cfg := config.Default(root)
	cfg.Runner.Enabled = false
	cfg.Retrieval.MissingTargetThreshold = 0.5

	svc, err := NewService(cfg, WithBackend(constBackend{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	if err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	// The const backend scores every match at exactly 1.0.
	found, err := svc.FindMissingTarget(ctx, "scale", "")
	if err != nil {
		t.Fatalf("FindMissingTarget: %v", err)
	}
	if found == nil {
		t.Fatal("indexed name judged absent at threshold 0.5")
	}

	// Raising the configured threshold above the perfect score flips
	// the verdict, proving the config value reaches the retriever.
	svc.cfg.Retrieval.MissingTargetThreshold = 1.5
	found, err = svc.FindMissingTarget(ctx, "scale", "")
	if err != nil {
		t.Fatalf("FindMissingTarget: %v", err)
	}
	if found != nil {
		t.Errorf("threshold 1.5 still matched: %+v", found)
	}
}

// =============================================================================
// Patching Surface
// =============================================================================

func TestApplyThroughService(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	testFile := filepath.Join(root, "tests", "test_calc.py")
	result, err := svc.Apply(context.Background(), patch.PatchRequest{
		FilePath:    testFile,
		UnitName:    "test_scale",
		Replacement: "def test_scale():\n    assert scale(2) == 4.8",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Applied {
		t.Fatalf("result = %+v", result)
	}

	body, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "4.8") {
		t.Errorf("patch not committed:\n%s", body)
	}

	if err := svc.ValidateFile(context.Background(), testFile); err != nil {
		t.Errorf("patched file invalid: %v", err)
	}
}

func TestApplyEvictsResolvedContext(t *testing.T) {
	root := writeProject(t)
	svc, err := NewService(structuralConfig(root))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	sourceFile := filepath.Join(root, "app", "main.py")

	// Prime the source index through context resolution.
	if _, err := svc.GetContext(ctx, FailingUnitDescriptor{
		TestFile: filepath.Join(root, "tests", "test_calc.py"),
		UnitName: "test_scale",
	}); err != nil {
		t.Fatalf("GetContext: %v", err)
	}

	result, err := svc.Apply(ctx, patch.PatchRequest{
		FilePath:    sourceFile,
		UnitName:    "scale",
		Replacement: "def scale(value):\n    return net(value) * 3",
	})
	if err != nil || !result.Applied {
		t.Fatalf("result=%+v err=%v", result, err)
	}

	// A fresh resolution must see the committed definition, not the
	// cached pre-patch table.
	after, err := svc.GetContext(ctx, FailingUnitDescriptor{
		TestFile: filepath.Join(root, "tests", "test_calc.py"),
		UnitName: "test_scale",
	})
	if err != nil {
		t.Fatalf("GetContext after patch: %v", err)
	}
	if !strings.Contains(after.Rendered, "net(value) * 3") {
		t.Errorf("stale context after patch:\n%s", after.Rendered)
	}
}
