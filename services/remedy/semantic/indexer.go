// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantic builds and queries an embedding index over a Python
// codebase. The index is a flat set of code elements with one vector
// each; retrieval is brute-force cosine similarity. It backs the
// fallback path when structural resolution finds nothing, so every
// failure here degrades quietly instead of propagating.
package semantic

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// indexParseConcurrency bounds parallel file parses during a build.
// Parsing is CPU-bound; 8 keeps a build fast without starving the
// host.
const indexParseConcurrency = 8

// DefaultEmbedBatchSize is how many elements are embedded per backend
// call.
const DefaultEmbedBatchSize = 100

// indexExcludedDirs are directory names never descended into.
var indexExcludedDirs = map[string]bool{
	"venv": true, "env": true, ".venv": true, "myvenv": true,
	"node_modules": true, ".git": true, "__pycache__": true,
	".pytest_cache": true, ".mypy_cache": true,
	"build": true, "dist": true, ".eggs": true,
}

// EmbeddingRecord pairs one indexed code element with its vector. A
// zero vector means the element's batch failed to embed; it scores 0
// against every query and is invisible to retrieval.
type EmbeddingRecord struct {
	Element ast.CodeElement
	Vector  []float32
}

// IndexerOption configures an Indexer instance.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets the logger.
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithIndexStore enables snapshot persistence. Nil (the default) runs
// in-memory only.
func WithIndexStore(store IndexStore) IndexerOption {
	return func(ix *Indexer) { ix.store = store }
}

// WithEmbedBatchSize overrides the per-call embedding batch size.
func WithEmbedBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithFallbackDimension fixes the zero-vector dimension used when a
// batch fails to embed. Non-positive keeps the model-inferred value.
func WithFallbackDimension(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.fallbackDim = n
		}
	}
}

// Indexer walks a project root, extracts every eligible top-level
// declaration plus a dedicated endpoint element per route-registered
// function, and embeds them in batches.
//
// # Description
//
// Test files and common build/cache directories are skipped; the index
// covers source code only. Files that fail to parse are skipped with a
// debug log. A batch embedding failure degrades that batch to
// zero-vectors rather than aborting the build.
//
// When a store is configured, a build first checks for a persisted
// snapshot keyed by project root and backend identity; invalidation is
// wholesale via Rebuild, never per-file.
//
// # Thread Safety
//
// Safe for concurrent use. Records returns a stable snapshot slice.
type Indexer struct {
	projectRoot string
	parser      ast.Parser
	backend     Backend
	store       IndexStore
	logger      *slog.Logger
	batchSize   int
	fallbackDim int

	mu      sync.RWMutex
	records []EmbeddingRecord
}

// NewIndexer creates an Indexer over projectRoot. The backend must not
// be nil; a deployment without embeddings skips constructing the
// semantic layer entirely.
func NewIndexer(projectRoot string, backend Backend, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		projectRoot: projectRoot,
		parser:      ast.NewPythonParser(),
		backend:     backend,
		logger:      slog.Default(),
		batchSize:   DefaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Records returns the current index contents. The returned slice must
// not be mutated.
func (ix *Indexer) Records() []EmbeddingRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.records
}

// Len returns the number of indexed elements.
func (ix *Indexer) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Build populates the index, reusing a persisted snapshot when one
// exists for this project root and backend. force skips the snapshot
// check and rebuilds from source.
func (ix *Indexer) Build(ctx context.Context, force bool) error {
	ctx, span := startIndexSpan(ctx, ix.projectRoot, force)
	defer span.End()
	started := time.Now()

	key := SnapshotKey(ix.projectRoot, ix.backend.Identity())

	if !force && ix.store != nil {
		cached, err := ix.store.Load(ctx, key)
		if err != nil {
			ix.logger.Warn("semantic index: snapshot load failed, rebuilding",
				slog.String("error", err.Error()))
		} else if len(cached) > 0 {
			ix.mu.Lock()
			ix.records = cached
			ix.mu.Unlock()
			ix.logger.Info("semantic index: loaded snapshot",
				slog.Int("elements", len(cached)))
			recordIndexMetrics(ctx, time.Since(started), len(cached), true)
			return nil
		}
	}

	files, err := ix.collectFiles()
	if err != nil {
		return fmt.Errorf("semantic index: %w", err)
	}

	elements, err := ix.parseFiles(ctx, files)
	if err != nil {
		return err
	}

	records := ix.embedElements(ctx, elements)

	ix.mu.Lock()
	ix.records = records
	ix.mu.Unlock()

	ix.logger.Info("semantic index: built",
		slog.Int("files", len(files)),
		slog.Int("elements", len(records)),
		slog.String("backend", ix.backend.Identity()),
		slog.Duration("elapsed", time.Since(started)),
	)
	recordIndexMetrics(ctx, time.Since(started), len(records), false)

	// Persistence failure is non-fatal; the index is already in RAM.
	if ix.store != nil {
		if err := ix.store.Save(ctx, key, records, ix.backend.Identity()); err != nil {
			ix.logger.Warn("semantic index: snapshot save failed",
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// collectFiles gathers eligible .py files under the project root in
// sorted order, so element ordering is deterministic across builds.
func (ix *Indexer) collectFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(ix.projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if indexExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIndexFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", ix.projectRoot, err)
	}
	sort.Strings(files)
	return files, nil
}

// shouldIndexFile reports whether a file name is eligible: a .py file
// that is not a test file.
func shouldIndexFile(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	if strings.HasPrefix(name, "test") || strings.Contains(name, "test_") {
		return false
	}
	return true
}

// parseFiles parses files with bounded concurrency and flattens their
// elements in file order. Unreadable or unparseable files are skipped.
func (ix *Indexer) parseFiles(ctx context.Context, files []string) ([]ast.CodeElement, error) {
	perFile := make([][]ast.CodeElement, len(files))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, indexParseConcurrency)

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			content, err := os.ReadFile(path)
			if err != nil {
				ix.logger.Debug("semantic index: unreadable file skipped",
					slog.String("file", path), slog.String("error", err.Error()))
				return nil
			}

			rel := path
			if r, err := filepath.Rel(ix.projectRoot, path); err == nil {
				rel = r
			}
			table, err := ix.parser.Parse(gctx, content, rel)
			if err != nil {
				ix.logger.Debug("semantic index: parse failed, file skipped",
					slog.String("file", rel), slog.String("error", err.Error()))
				return nil
			}

			var out []ast.CodeElement
			for _, el := range table.Elements() {
				out = append(out, *el)
			}
			for _, ep := range table.Endpoints {
				out = append(out, *ep)
			}
			perFile[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("semantic index parse: %w", err)
	}

	var elements []ast.CodeElement
	for _, batch := range perFile {
		elements = append(elements, batch...)
	}
	return elements, nil
}

// embedElements embeds elements in batches. A failed batch degrades to
// zero-vectors so one backend hiccup never aborts a whole build.
func (ix *Indexer) embedElements(ctx context.Context, elements []ast.CodeElement) []EmbeddingRecord {
	records := make([]EmbeddingRecord, 0, len(elements))

	for start := 0; start < len(elements); start += ix.batchSize {
		end := min(start+ix.batchSize, len(elements))
		batch := elements[start:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = embeddingText(&batch[i])
		}

		vectors, err := ix.backend.Embed(ctx, texts)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("%w: got %d vectors for %d texts", ErrBackend, len(vectors), len(batch))
		}
		if err != nil {
			dim := ix.fallbackDim
			if dim <= 0 {
				dim = FallbackDimension(ix.backend.Identity())
			}
			ix.logger.Warn("semantic index: batch embed failed, degrading to zero-vectors",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.Int("dimension", dim),
				slog.String("error", err.Error()),
			)
			vectors = make([][]float32, len(batch))
			for i := range vectors {
				vectors[i] = make([]float32, dim)
			}
		}

		for i := range batch {
			records = append(records, EmbeddingRecord{Element: batch[i], Vector: vectors[i]})
		}
	}
	return records
}

// embeddingText renders one element to its normalized embedding
// document: kind and name, signature, docstring, route info when
// present, and the first 500 bytes of source.
func embeddingText(el *ast.CodeElement) string {
	var parts []string
	parts = append(parts, string(el.Kind)+": "+el.Name)
	if el.Signature != "" {
		parts = append(parts, "signature: "+el.Signature)
	}
	if el.Docstring != "" {
		parts = append(parts, "description: "+el.Docstring)
	}
	if el.RouteMethod != "" && el.RoutePath != "" {
		parts = append(parts, "HTTP "+el.RouteMethod+" "+el.RoutePath)
	}
	if el.Source != "" {
		sample := el.Source
		if len(sample) > 500 {
			sample = sample[:500]
		}
		parts = append(parts, "code: "+sample)
	}
	return strings.Join(parts, "\n")
}
