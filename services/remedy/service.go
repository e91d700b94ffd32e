// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remedy is the service facade over the context-resolution and
// patching packages. It owns the wiring: one source index shared by the
// resolver and the patch engine, an optional semantic layer behind a
// config switch, and an optional BadgerDB cache for index snapshots.
//
// The facade resolves context and applies patches; it never proposes
// fixes and never drives an iteration loop. Those live with external
// collaborators that call this service.
package remedy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/remedy/services/remedy/assemble"
	"github.com/AleutianAI/remedy/services/remedy/ast"
	"github.com/AleutianAI/remedy/services/remedy/config"
	"github.com/AleutianAI/remedy/services/remedy/index"
	"github.com/AleutianAI/remedy/services/remedy/patch"
	"github.com/AleutianAI/remedy/services/remedy/resolve"
	"github.com/AleutianAI/remedy/services/remedy/semantic"
	badgerstore "github.com/AleutianAI/remedy/services/remedy/storage/badger"
)

// FailingUnitDescriptor is the service-level alias for a failing test
// unit. External collaborators parse test-runner output into this shape
// before calling the service.
type FailingUnitDescriptor = resolve.FailingUnit

// ContextResult is one assembled context payload plus its telemetry.
type ContextResult struct {
	// Rendered is the payload handed to the fix proposer: per-file
	// fenced python blocks of whole definitions.
	Rendered string `json:"rendered"`

	// Items are the included definitions, structural first.
	Items []assemble.BundleItem `json:"items"`

	// TotalLines is the summed source-line cost of Items.
	TotalLines int `json:"total_lines"`

	// Resolutions are the structural (file, targets) pairs that fed the
	// payload. Empty means the semantic path carried the whole result.
	Resolutions []resolve.Resolution `json:"resolutions,omitempty"`

	// Stats classifies the structural/semantic merge. Telemetry only.
	Stats assemble.MergeStats `json:"stats"`
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the logger shared by the service's collaborators.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackend overrides the embedding backend the config would select.
// Used by tests to inject a deterministic backend.
func WithBackend(backend semantic.Backend) ServiceOption {
	return func(s *Service) { s.backend = backend }
}

// WithTestRunner overrides the scoped test runner the config would
// construct. Used by tests to script validation outcomes.
func WithTestRunner(runner patch.Runner) ServiceOption {
	return func(s *Service) { s.runner = runner }
}

// Service wires the resolution, assembly, semantic, and patch layers
// behind one API consumed by the gin handlers and the CLI.
//
// # Thread Safety
//
// Safe for concurrent use. The shared SourceIndex and the per-file
// locks in the patch engine serialize what must be serialized.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	index     *index.SourceIndex
	resolver  *resolve.Resolver
	walker    *resolve.Walker
	assembler *assemble.Assembler
	merger    *assemble.Merger
	engine    *patch.Engine

	// Semantic layer; all nil when cfg.Embedding.Disabled.
	backend   semantic.Backend
	indexer   *semantic.Indexer
	retriever *semantic.Retriever

	// Snapshot cache; nil when cfg.CacheDir is empty or the open failed.
	db *badgerstore.DB

	// Injected overrides, applied before wiring.
	runner patch.Runner
}

// NewService builds a Service from configuration.
//
// Description:
//
//	The embedding backend comes from cfg.Embedding.Provider unless
//	overridden; a disabled embedding config skips the semantic layer
//	entirely and resolution is structural-only. A cache-dir open
//	failure degrades to an in-memory index with a warning rather than
//	failing construction; losing the snapshot cache costs a rebuild,
//	not correctness.
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = config.Default(".")
	}

	s := &Service{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.index = index.NewSourceIndex(ast.NewPythonParser())
	s.resolver = resolve.NewResolver(cfg.ProjectRoot, s.index,
		resolve.WithResolverLogger(s.logger))
	s.walker = resolve.NewWalker(resolve.WithMaxDepth(cfg.MaxDepth))
	s.assembler = assemble.NewAssembler(assemble.WithAssemblerLogger(s.logger))
	s.merger = assemble.NewMerger(assemble.WithMergerLogger(s.logger))

	if err := s.wireSemantic(); err != nil {
		return nil, err
	}
	s.wireEngine()

	s.logger.Info("remedy service ready",
		slog.String("project_root", cfg.ProjectRoot),
		slog.Bool("embeddings", s.retriever != nil),
		slog.Bool("snapshot_cache", s.db != nil),
		slog.Bool("scoped_validation", s.runner != nil),
	)
	return s, nil
}

// wireSemantic constructs the indexer and retriever unless embeddings
// are disabled.
func (s *Service) wireSemantic() error {
	if s.cfg.Embedding.Disabled {
		return nil
	}

	if s.backend == nil {
		switch s.cfg.Embedding.Provider {
		case "openai":
			s.backend = semantic.NewOpenAIBackendAt(s.cfg.Embedding.URL, s.cfg.Embedding.Model)
		default:
			s.backend = semantic.NewOllamaBackendAt(s.cfg.Embedding.URL, s.cfg.Embedding.Model)
		}
	}

	indexerOpts := []semantic.IndexerOption{
		semantic.WithIndexerLogger(s.logger),
		semantic.WithEmbedBatchSize(s.cfg.Embedding.BatchSize),
		semantic.WithFallbackDimension(s.cfg.Embedding.Dimension),
	}

	if s.cfg.CacheDir != "" {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = filepath.Join(s.cfg.CacheDir, "semantic")
		dbCfg.Logger = s.logger
		if err := os.MkdirAll(dbCfg.Path, 0o755); err != nil {
			s.logger.Warn("cache dir unavailable, semantic index will not persist",
				slog.String("path", dbCfg.Path),
				slog.String("error", err.Error()))
		} else {
			db, err := badgerstore.OpenDB(dbCfg)
			if err != nil {
				s.logger.Warn("snapshot cache open failed, semantic index will not persist",
					slog.String("path", dbCfg.Path),
					slog.String("error", err.Error()))
			} else {
				s.db = db
				store := semantic.NewBadgerIndexStore(db, s.logger)
				indexerOpts = append(indexerOpts, semantic.WithIndexStore(store))
			}
		}
	}

	s.indexer = semantic.NewIndexer(s.cfg.ProjectRoot, s.backend, indexerOpts...)
	s.retriever = semantic.NewRetriever(s.indexer, s.backend,
		semantic.WithRetrieverLogger(s.logger))
	return nil
}

// wireEngine constructs the patch engine with the configured runner.
func (s *Service) wireEngine() {
	if s.runner == nil && s.cfg.Runner.Enabled {
		s.runner = &patch.PytestRunner{
			PytestPath: s.cfg.Runner.PytestPath,
			Timeout:    s.cfg.Runner.Timeout(),
			Logger:     s.logger,
		}
	}

	engineOpts := []patch.EngineOption{patch.WithEngineLogger(s.logger)}
	if s.runner != nil {
		engineOpts = append(engineOpts, patch.WithRunner(s.runner))
	}
	s.engine = patch.NewEngine(s.index, engineOpts...)
}

// Close releases the snapshot cache. Safe to call on a service that
// never opened one.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// =============================================================================
// Context Resolution
// =============================================================================

// GetContext resolves a failing unit to a bounded context payload.
//
// Description:
//
//	Structural resolution runs first: imports intersected with the
//	unit's body, module paths resolved to files, targets expanded by
//	the dependency walker, whole definitions assembled under the line
//	budget. The semantic retriever then contributes similarity hits
//	for the same failure, and the merger appends the non-duplicates
//	that still fit. Either side may come up empty; only both empty is
//	worth the caller's attention, and even that is a valid result, not
//	an error.
func (s *Service) GetContext(ctx context.Context, unit FailingUnitDescriptor) (*ContextResult, error) {
	unit.UnitName = ast.NormalizeUnitName(unit.UnitName)

	resolutions := s.resolver.Resolve(ctx, unit)

	bundle := assemble.NewBundle(s.cfg.ContextBudget)
	for _, res := range resolutions {
		table, err := s.index.Get(ctx, res.SourceFile)
		if err != nil {
			// Parse failures degrade to a raw truncated payload; a
			// broken source file is often exactly what needs fixing.
			if content, readErr := os.ReadFile(res.SourceFile); readErr == nil {
				s.assembler.WholeFile(bundle, res.SourceFile, string(content))
			}
			continue
		}
		deps := s.walker.Dependencies(table, res.Targets)
		s.assembler.AssembleInto(bundle, table, res.Targets, deps)
	}

	var semanticItems []assemble.BundleItem
	if s.retriever != nil && s.indexer.Len() > 0 {
		body := s.unitBody(ctx, unit)
		results := s.retriever.SearchByFailure(ctx, body, unit.ErrorMessage, unit.FailureText(), s.cfg.Retrieval.TopK)
		semanticItems = semantic.ContextItems(results)
	}

	merged, stats := s.merger.Merge(bundle, semanticItems)

	s.logger.Debug("context resolved",
		slog.String("unit", unit.UnitName),
		slog.Int("resolutions", len(resolutions)),
		slog.Int("items", len(merged.Items)),
		slog.Int("lines", merged.TotalLines()),
		slog.String("diagnostic", stats.Diagnostic),
	)

	return &ContextResult{
		Rendered:    merged.Render(),
		Items:       merged.Items,
		TotalLines:  merged.TotalLines(),
		Resolutions: resolutions,
		Stats:       stats,
	}, nil
}

// unitBody returns the failing unit's source text, or "" when the test
// file cannot be read or parsed. The semantic query degrades to error
// text and traceback alone.
func (s *Service) unitBody(ctx context.Context, unit FailingUnitDescriptor) string {
	content, err := os.ReadFile(unit.TestFile)
	if err != nil {
		return ""
	}
	table, err := s.index.Parse(ctx, content, unit.TestFile)
	if err != nil {
		return ""
	}
	if el, ok := table.Get(unit.UnitName); ok {
		return el.Source
	}
	return ""
}

// =============================================================================
// Semantic Layer
// =============================================================================

// ErrEmbeddingsDisabled reports semantic operations on a service whose
// config turned embeddings off.
var ErrEmbeddingsDisabled = errors.New("embedding layer disabled by configuration")

// BuildIndex builds (or rebuilds, when force) the semantic index.
func (s *Service) BuildIndex(ctx context.Context, force bool) error {
	if s.indexer == nil {
		return ErrEmbeddingsDisabled
	}
	return s.indexer.Build(ctx, force)
}

// IndexSize returns the number of indexed elements, 0 when the
// semantic layer is off.
func (s *Service) IndexSize() int {
	if s.indexer == nil {
		return 0
	}
	return s.indexer.Len()
}

// Search runs a free-text semantic query against the built index.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]semantic.SearchResult, error) {
	if s.retriever == nil {
		return nil, ErrEmbeddingsDisabled
	}
	opts := semantic.SearchOptions{
		TopK:          topK,
		MinSimilarity: s.cfg.Retrieval.MinSimilarity,
	}
	return s.retriever.Search(ctx, query, opts), nil
}

// SearchByEndpoint finds route handlers for an HTTP method and path.
func (s *Service) SearchByEndpoint(ctx context.Context, method, path string, topK int) ([]semantic.SearchResult, error) {
	if s.retriever == nil {
		return nil, ErrEmbeddingsDisabled
	}
	return s.retriever.SearchByEndpoint(ctx, method, path, topK), nil
}

// FindMissingTarget checks whether a named function or class exists
// anywhere in the indexed codebase. A nil result with embeddings
// enabled means the name is judged absent.
func (s *Service) FindMissingTarget(ctx context.Context, name, contextText string) (*semantic.SearchResult, error) {
	if s.retriever == nil {
		return nil, ErrEmbeddingsDisabled
	}
	return s.retriever.FindMissingTarget(ctx, name, contextText, s.cfg.Retrieval.MissingTargetThreshold), nil
}

// VerifyTargets cross-checks extracted names against the semantic
// index. With embeddings disabled every name verifies trivially; the
// structural extraction stands unchallenged.
func (s *Service) VerifyTargets(ctx context.Context, names []string, contextText string) map[string]bool {
	if s.retriever == nil {
		verified := make(map[string]bool, len(names))
		for _, name := range names {
			verified[name] = true
		}
		return verified
	}
	return s.retriever.VerifyTargets(ctx, names, contextText, s.cfg.Retrieval.VerifyThreshold)
}

// =============================================================================
// Patching
// =============================================================================

// Apply replaces one unit's definition with validated replacement text.
// See patch.Engine.Apply for the full contract.
func (s *Service) Apply(ctx context.Context, req patch.PatchRequest) (*patch.PatchResult, error) {
	return s.engine.Apply(ctx, req)
}

// ApplyWithFeedback applies a patch and returns the scoped runner's raw
// output for retry-learning by the caller.
func (s *Service) ApplyWithFeedback(ctx context.Context, filePath, unitName, replacement string) (bool, string, error) {
	return s.engine.ApplyWithFeedback(ctx, filePath, unitName, replacement)
}

// ApplyFile validates and writes an entire file.
func (s *Service) ApplyFile(ctx context.Context, filePath, content string) error {
	return s.engine.ApplyFile(ctx, filePath, content)
}

// ValidateFile checks a file for syntax errors and duplicate
// parametrize decorators without modifying it.
func (s *Service) ValidateFile(ctx context.Context, filePath string) error {
	return s.engine.Validate(ctx, filePath)
}

// CacheStats exposes the source index cache counters.
func (s *Service) CacheStats() index.IndexStats {
	return s.index.Stats()
}
