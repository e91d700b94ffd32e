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
	"strings"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// AssemblerOption configures an Assembler instance.
type AssemblerOption func(*Assembler)

// WithAssemblerLogger sets the logger used for assembly telemetry.
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Assembler fills a ContextBundle from one file's SymbolTable in strict
// priority order: import statements, constants referenced by targets,
// the targets themselves, their remaining dependencies, then filler from
// whatever other whole definitions still fit.
//
// Thread Safety:
//
//	Assembler is stateless and safe for concurrent use; the bundle being
//	filled is the caller's to synchronize.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssembleInto appends one file's extraction to the bundle. Targets that
// do not exist in the table are skipped silently; with no resolvable
// targets nothing is added, so the caller can report "no structural
// context" instead of dumping a file.
func (a *Assembler) AssembleInto(bundle *ContextBundle, table *ast.SymbolTable, targets, deps []string) {
	resolved := make([]*ast.CodeElement, 0, len(targets))
	for _, t := range targets {
		if el, ok := table.Get(t); ok {
			resolved = append(resolved, el)
		}
	}
	if len(resolved) == 0 {
		return
	}

	included := make(map[string]bool)
	add := func(el *ast.CodeElement) {
		if included[el.Name] {
			return
		}
		item := BundleItem{
			FilePath: table.FilePath,
			Kind:     el.Kind,
			Name:     el.Name,
			Text:     el.Marker() + "\n" + el.Source,
			Lines:    el.LineCount(),
		}
		if bundle.Add(item) {
			included[el.Name] = true
		}
	}

	// Priority 1: import statements, one all-or-nothing item each.
	a.addImports(bundle, table)

	depElements := make([]*ast.CodeElement, 0, len(deps))
	for _, d := range deps {
		if el, ok := table.Get(d); ok {
			depElements = append(depElements, el)
		}
	}

	// Priority 2: constants and variables the targets reference.
	for _, el := range depElements {
		if el.Kind == ast.KindConstant || el.Kind == ast.KindVariable {
			add(el)
		}
	}

	// Priority 3: the targets themselves.
	for _, el := range resolved {
		add(el)
	}

	// Priority 4: remaining dependencies.
	for _, el := range depElements {
		add(el)
	}

	// Priority 5: filler from other whole definitions, source order.
	// Methods are skipped; their class spans already carry them.
	for _, el := range table.Elements() {
		if el.Kind == ast.KindMethod {
			continue
		}
		add(el)
	}

	a.logger.Debug("assembled file context",
		slog.String("file", table.FilePath),
		slog.Int("targets", len(resolved)),
		slog.Int("deps", len(depElements)),
		slog.Int("bundle_lines", bundle.TotalLines()))
}

// addImports includes the file's import statements while budget remains.
// Duplicate statements (the same inline import seen twice) collapse.
func (a *Assembler) addImports(bundle *ContextBundle, table *ast.SymbolTable) {
	seen := make(map[string]bool)
	for _, imp := range table.Imports {
		source := strings.TrimSpace(imp.Source)
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		bundle.Add(BundleItem{
			FilePath: table.FilePath,
			Kind:     ast.KindImport,
			Name:     source,
			Text:     source,
			Lines:    strings.Count(source, "\n") + 1,
		})
	}
}

// WholeFile adds a raw truncated file payload. Reserved for files whose
// parse failed outright; the whole-definition invariant applies only to
// parsed extractions, so the payload is marked as raw.
func (a *Assembler) WholeFile(bundle *ContextBundle, filePath, content string) {
	lines := strings.Split(content, "\n")
	budget := bundle.Budget - bundle.TotalLines()
	if budget <= 0 {
		return
	}
	truncated := false
	if len(lines) > budget {
		lines = lines[:budget]
		truncated = true
	}
	text := strings.Join(lines, "\n")
	if truncated {
		text += "\n# ... (file truncated, parse failed)"
	}
	bundle.Add(BundleItem{
		FilePath: filePath,
		Kind:     ast.KindVariable,
		Name:     "__raw__:" + filePath,
		Text:     text,
		Lines:    len(lines),
	})
}
