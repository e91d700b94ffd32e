// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble renders resolved code elements into a budgeted
// context payload and merges structural output with semantic retrieval
// results. The bundle invariant: total lines never exceed the budget,
// and every included item is a syntactically whole definition.
package assemble

import (
	"strings"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// DefaultBudget is the default context line budget per request. Kept
// tight so error messages and the payload together stay inside typical
// proposer token limits.
const DefaultBudget = 200

// BundleItem is one whole definition (or import statement) included in
// a context payload. Lines counts source lines only, not the marker.
type BundleItem struct {
	FilePath string          `json:"file_path"`
	Kind     ast.ElementKind `json:"kind"`
	Name     string          `json:"name"`
	Text     string          `json:"text"` // marker line + source
	Lines    int             `json:"lines"`
}

// ContextBundle is an ordered collection of whole definitions bounded
// by a line budget. Construction is all-or-nothing per item: an item
// that would exceed the remaining budget is skipped whole, never
// truncated mid-definition.
type ContextBundle struct {
	Budget int
	Items  []BundleItem

	total int
	keys  map[string]bool
}

// NewBundle creates an empty bundle with the given budget. A
// non-positive budget falls back to DefaultBudget.
func NewBundle(budget int) *ContextBundle {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &ContextBundle{
		Budget: budget,
		keys:   make(map[string]bool),
	}
}

// TotalLines returns the summed source lines of all included items.
func (b *ContextBundle) TotalLines() int {
	return b.total
}

// IsEmpty reports whether nothing fit or nothing was offered.
func (b *ContextBundle) IsEmpty() bool {
	return len(b.Items) == 0
}

// Contains reports whether an element with this (kind, name) is already
// included, regardless of file.
func (b *ContextBundle) Contains(kind ast.ElementKind, name string) bool {
	return b.keys[itemKey(kind, name)]
}

// Add includes the item if it fits the remaining budget and its
// (kind, name) is not already present. Reports whether it was included.
func (b *ContextBundle) Add(item BundleItem) bool {
	if item.Lines <= 0 || b.total+item.Lines > b.Budget {
		return false
	}
	key := itemKey(item.Kind, item.Name)
	if b.keys[key] {
		return false
	}
	b.keys[key] = true
	b.Items = append(b.Items, item)
	b.total += item.Lines
	return true
}

// Render formats the bundle grouped by file, each group fenced as a
// python block under a path header. Returns "" for an empty bundle.
func (b *ContextBundle) Render() string {
	if b.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	var currentFile string
	open := false

	closeFence := func() {
		if open {
			sb.WriteString("```\n\n")
			open = false
		}
	}

	for _, item := range b.Items {
		if item.FilePath != currentFile {
			closeFence()
			currentFile = item.FilePath
			sb.WriteString("# " + currentFile + "\n")
			sb.WriteString("```python\n")
			open = true
		}
		sb.WriteString(item.Text)
		sb.WriteString("\n\n")
	}
	closeFence()

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func itemKey(kind ast.ElementKind, name string) string {
	return string(kind) + "\x00" + name
}
