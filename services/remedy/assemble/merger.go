// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"log/slog"
)

// Merge diagnostics, telemetry only. Control flow never branches on
// these values.
const (
	DiagBothEmpty         = "both empty"
	DiagStructuralOnly    = "structural only"
	DiagSemanticRecovered = "structural empty, semantic recovered"
	DiagDivergentFiles    = "divergent file sets"
	DiagOverlapping       = "overlapping"
)

// MergeStats summarizes one merge for quality telemetry.
type MergeStats struct {
	Diagnostic        string `json:"diagnostic"`
	StructuralItems   int    `json:"structural_items"`
	SemanticItems     int    `json:"semantic_items"`
	SemanticAdded     int    `json:"semantic_added"`
	DroppedDuplicates int    `json:"dropped_duplicates"`
	DroppedOverBudget int    `json:"dropped_over_budget"`
}

// MergerOption configures a Merger instance.
type MergerOption func(*Merger)

// WithMergerLogger sets the logger used for merge telemetry.
func WithMergerLogger(logger *slog.Logger) MergerOption {
	return func(m *Merger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Merger combines structural extraction with semantic retrieval results.
// Elements are identified by (kind, name); structural always wins a
// conflict, and semantic items append only while budget remains.
type Merger struct {
	logger *slog.Logger
}

// NewMerger creates a Merger.
func NewMerger(opts ...MergerOption) *Merger {
	m := &Merger{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge produces a new bundle holding every structural item followed by
// the non-duplicate semantic items that still fit the budget.
func (m *Merger) Merge(structural *ContextBundle, semanticItems []BundleItem) (*ContextBundle, MergeStats) {
	budget := DefaultBudget
	if structural != nil {
		budget = structural.Budget
	}
	out := NewBundle(budget)

	stats := MergeStats{SemanticItems: len(semanticItems)}

	if structural != nil {
		for _, item := range structural.Items {
			out.Add(item)
		}
		stats.StructuralItems = len(structural.Items)
	}

	for _, item := range semanticItems {
		if out.Contains(item.Kind, item.Name) {
			stats.DroppedDuplicates++
			continue
		}
		if out.Add(item) {
			stats.SemanticAdded++
		} else {
			stats.DroppedOverBudget++
		}
	}

	stats.Diagnostic = classify(stats, structural, semanticItems)

	m.logger.Debug("context merge",
		slog.String("diagnostic", stats.Diagnostic),
		slog.Int("structural", stats.StructuralItems),
		slog.Int("semantic_added", stats.SemanticAdded),
		slog.Int("dropped_duplicates", stats.DroppedDuplicates),
		slog.Int("total_lines", out.TotalLines()))

	return out, stats
}

// classify labels the merge for telemetry.
func classify(stats MergeStats, structural *ContextBundle, semanticItems []BundleItem) string {
	structuralEmpty := structural == nil || structural.IsEmpty()
	switch {
	case structuralEmpty && len(semanticItems) == 0:
		return DiagBothEmpty
	case structuralEmpty:
		return DiagSemanticRecovered
	case len(semanticItems) == 0:
		return DiagStructuralOnly
	}

	structuralFiles := make(map[string]bool)
	for _, item := range structural.Items {
		structuralFiles[item.FilePath] = true
	}
	for _, item := range semanticItems {
		if structuralFiles[item.FilePath] {
			return DiagOverlapping
		}
	}
	return DiagDivergentFiles
}
