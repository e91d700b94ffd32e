// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"sort"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// DefaultMaxDepth bounds recursive dependency resolution. Three levels
// covers helper-of-helper chains without dragging in half the file.
const DefaultMaxDepth = 3

// WalkerOption configures a Walker instance.
type WalkerOption func(*Walker)

// WithMaxDepth sets the recursion bound.
func WithMaxDepth(depth int) WalkerOption {
	return func(w *Walker) {
		if depth > 0 {
			w.maxDepth = depth
		}
	}
}

// Walker computes the depth-bounded dependency closure of target
// symbols within one SymbolTable. A function extracted alone, without
// the constants and helpers it references, misleads the fix proposer.
//
// Thread Safety:
//
//	Walker is stateless per call and safe for concurrent use.
type Walker struct {
	maxDepth int
}

// NewWalker creates a Walker with the default depth bound.
func NewWalker(opts ...WalkerOption) *Walker {
	w := &Walker{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dependencies returns every element name the targets transitively
// reference within table, excluding the targets themselves. The visited
// set guarantees termination on cyclic and mutually recursive chains.
// Results are sorted for determinism.
func (w *Walker) Dependencies(table *ast.SymbolTable, targets []string) []string {
	visited := make(map[string]bool)
	for _, t := range targets {
		if el, ok := table.Get(t); ok {
			visited[el.Name] = true
		}
	}

	deps := make(map[string]bool)
	for _, t := range targets {
		el, ok := table.Get(t)
		if !ok {
			continue
		}
		w.walk(table, el, w.maxDepth, visited, deps)
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// walk follows one element's references one level down, recursing while
// depth remains.
func (w *Walker) walk(table *ast.SymbolTable, el *ast.CodeElement, depth int, visited, deps map[string]bool) {
	if depth <= 0 {
		return
	}
	for _, ref := range el.Refs {
		target, ok := table.Get(ref)
		if !ok || visited[target.Name] {
			continue
		}
		visited[target.Name] = true
		deps[target.Name] = true
		w.walk(table, target, depth-1, visited, deps)
	}
}
