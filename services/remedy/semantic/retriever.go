// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/remedy/services/remedy/assemble"
	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// Retrieval thresholds. A best match below the threshold is treated as
// "this name does not exist in the codebase".
const (
	// DefaultMissingTargetThreshold gates FindMissingTarget.
	DefaultMissingTargetThreshold = 0.55

	// DefaultVerifyThreshold gates VerifyTargets. Stricter than the
	// missing-target check: verification confirms a name the
	// structural pass already claimed to have extracted.
	DefaultVerifyThreshold = 0.65

	// DefaultTopK is the result count when the caller passes none.
	DefaultTopK = 10

	// queryEmbedTimeout bounds the single query embedding call.
	// Retrieval is on the request path; a stuck backend must not
	// stall it.
	queryEmbedTimeout = 10 * time.Second
)

// SearchResult is one scored index hit. Rank is 1-based within the
// returned slice.
type SearchResult struct {
	Element ast.CodeElement `json:"element"`
	Score   float64         `json:"score"`
	Rank    int             `json:"rank"`
}

// SearchOptions filter and bound a search.
type SearchOptions struct {
	// TopK bounds the result count. Non-positive means DefaultTopK.
	TopK int

	// Kind restricts results to one element kind. Empty means all.
	Kind ast.ElementKind

	// MinSimilarity drops results scoring below it.
	MinSimilarity float64
}

// RetrieverOption configures a Retriever instance.
type RetrieverOption func(*Retriever)

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Retriever scores queries against the built index by cosine
// similarity.
//
// # Description
//
// Every failure path degrades to empty results with a log line: an
// empty index, a backend error, or a zero-norm query vector. Callers
// treat "no results" uniformly and fall back to whatever context they
// already have.
//
// # Thread Safety
//
// Safe for concurrent use once the Indexer has been built.
type Retriever struct {
	index   *Indexer
	backend Backend
	logger  *slog.Logger
}

// NewRetriever creates a Retriever over a built (or buildable) index.
// The backend must be the one the index was embedded with; the
// snapshot key enforces this across restarts.
func NewRetriever(index *Indexer, backend Backend, opts ...RetrieverOption) *Retriever {
	r := &Retriever{index: index, backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search embeds the query and returns the top matches.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) []SearchResult {
	records := r.index.Records()
	if len(records) == 0 {
		r.logger.Debug("semantic search: index empty")
		recordSearchMetrics(ctx, 0, true)
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	vectors, err := r.backend.Embed(embedCtx, []string{query})
	if err != nil || len(vectors) == 0 {
		r.logger.Warn("semantic search: query embedding failed, returning empty",
			slog.Any("error", err))
		recordSearchMetrics(ctx, 0, true)
		return nil
	}

	queryUnit, ok := unitVector(vectors[0])
	if !ok {
		recordSearchMetrics(ctx, 0, true)
		return nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, len(records))
	for i := range records {
		if opts.Kind != "" && records[i].Element.Kind != opts.Kind {
			continue
		}
		score := cosineAgainstUnit(queryUnit, records[i].Vector)
		if score < opts.MinSimilarity {
			continue
		}
		candidates = append(candidates, scored{idx: i, score: score})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]SearchResult, len(candidates))
	for rank, c := range candidates {
		results[rank] = SearchResult{
			Element: records[c.idx].Element,
			Score:   c.score,
			Rank:    rank + 1,
		}
	}
	recordSearchMetrics(ctx, len(results), false)
	return results
}

// SearchByFailure composes a query from the failing unit's body, the
// error text, and the traceback lines that mention files or
// definitions, then searches with it.
func (r *Retriever) SearchByFailure(ctx context.Context, unitBody, errorMessage, traceback string, topK int) []SearchResult {
	var parts []string

	parts = append(parts, "Test code:")
	body := unitBody
	if len(body) > 500 {
		body = body[:500]
	}
	parts = append(parts, body)

	parts = append(parts, "\nError: "+errorMessage)

	var frames []string
	for _, line := range strings.Split(traceback, "\n") {
		if strings.Contains(line, "File") || strings.Contains(line, "def ") || strings.Contains(line, "class ") {
			frames = append(frames, line)
			if len(frames) == 10 {
				break
			}
		}
	}
	if len(frames) > 0 {
		parts = append(parts, "\nTraceback:")
		parts = append(parts, strings.Join(frames, "\n"))
	}

	return r.Search(ctx, strings.Join(parts, "\n"), SearchOptions{TopK: topK})
}

// SearchByEndpoint finds route handlers for an HTTP method and path.
// Tries the dedicated endpoint elements first, then falls back to a
// function-kind search for codebases whose routes were registered in
// ways extraction missed.
func (r *Retriever) SearchByEndpoint(ctx context.Context, method, path string, topK int) []SearchResult {
	if topK <= 0 {
		topK = 5
	}
	query := "HTTP " + strings.ToUpper(method) + " " + path + " endpoint handler function"

	results := r.Search(ctx, query, SearchOptions{TopK: topK, Kind: ast.KindEndpoint})
	if len(results) == 0 {
		results = r.Search(ctx, query, SearchOptions{TopK: topK, Kind: ast.KindFunction})
	}
	return results
}

// FindMissingTarget checks whether a named function or class exists in
// the codebase at all. Returns the best match when it scores at or
// above threshold, nil when the name is judged absent. A non-positive
// threshold means DefaultMissingTargetThreshold.
//
// This is a confidence check for flagging undefined references; it
// does not extract code.
func (r *Retriever) FindMissingTarget(ctx context.Context, name, contextText string, threshold float64) *SearchResult {
	if threshold <= 0 {
		threshold = DefaultMissingTargetThreshold
	}

	query := "function or class named " + name
	if contextText != "" {
		query += "\n" + contextText
	}

	results := r.Search(ctx, query, SearchOptions{TopK: 1})
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	if best.Score < threshold {
		r.logger.Debug("semantic: target judged absent",
			slog.String("target", name),
			slog.String("best_match", best.Element.Name),
			slog.Float64("score", best.Score),
		)
		return nil
	}
	return &best
}

// VerifyTargets cross-checks structurally extracted names against the
// index, mapping each name to whether a confident match exists. A
// non-positive threshold means DefaultVerifyThreshold.
func (r *Retriever) VerifyTargets(ctx context.Context, names []string, contextText string, threshold float64) map[string]bool {
	if threshold <= 0 {
		threshold = DefaultVerifyThreshold
	}
	verified := make(map[string]bool, len(names))
	for _, name := range names {
		verified[name] = r.FindMissingTarget(ctx, name, contextText, threshold) != nil
	}
	return verified
}

// ContextItems converts search results to bundle items for merging
// with structural context.
func ContextItems(results []SearchResult) []assemble.BundleItem {
	items := make([]assemble.BundleItem, 0, len(results))
	for _, res := range results {
		el := res.Element
		if el.Source == "" {
			continue
		}
		items = append(items, assemble.BundleItem{
			FilePath: el.FilePath,
			Kind:     el.Kind,
			Name:     el.Name,
			Text:     el.Marker() + "\n" + el.Source,
			Lines:    el.LineCount(),
		})
	}
	return items
}

// =============================================================================
// Vector Math
// =============================================================================

// unitVector normalizes v. Reports false for a zero vector.
func unitVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, false
	}
	unit := make([]float32, len(v))
	for i, x := range v {
		unit[i] = x / float32(norm)
	}
	return unit, true
}

// cosineAgainstUnit computes cosine similarity between a unit query
// vector and a raw stored vector. Zero-vector records score 0, which
// keeps degraded batches invisible to retrieval.
func cosineAgainstUnit(queryUnit, stored []float32) float64 {
	n := len(queryUnit)
	if len(stored) < n {
		n = len(stored)
	}
	var dot, sum float64
	for i := 0; i < n; i++ {
		dot += float64(queryUnit[i]) * float64(stored[i])
		sum += float64(stored[i]) * float64(stored[i])
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 0
	}
	return dot / norm
}
