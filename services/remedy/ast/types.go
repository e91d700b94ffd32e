// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts whole Python definitions from source files using
// tree-sitter. A parsed file becomes a SymbolTable: one CodeElement per
// top-level function, class, method, and module variable, each carrying the
// exact source span needed to re-emit or replace the definition verbatim.
package ast

import (
	"fmt"
	"sort"
	"strings"
)

// ElementKind classifies a CodeElement.
type ElementKind string

const (
	KindFunction ElementKind = "function"
	KindClass    ElementKind = "class"
	KindMethod   ElementKind = "method"
	KindVariable ElementKind = "variable"
	KindConstant ElementKind = "constant"
	KindEndpoint ElementKind = "http_endpoint"

	// KindImport is used only for rendered import statements in assembled
	// context; the parser never emits import CodeElements.
	KindImport ElementKind = "import"
)

const (
	// DefaultMaxFileSize is the largest source file Parse will accept.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize triggers a slow-parse warning log.
	WarnFileSize = 1024 * 1024

	// maxRefsPerElement caps the identifier reference list collected from
	// an element body. Pathological generated files stay bounded.
	maxRefsPerElement = 256
)

// CodeElement is one extracted definition.
//
// Description:
//
//	Identity is (FilePath, Name) where Name is the qualified name: methods
//	register as "ClassName.method". StartLine..EndLine is the full source
//	span including any decorator block; DeclLine is the line carrying the
//	def/class keyword itself. Patch replacement starts at DeclLine so that
//	the original decorator block survives a body rewrite.
type CodeElement struct {
	Kind      ElementKind `json:"kind"`
	Name      string      `json:"name"`
	FilePath  string      `json:"file_path"`
	StartLine int         `json:"start_line"` // 1-based, includes decorators
	DeclLine  int         `json:"decl_line"`  // 1-based, the def/class line
	EndLine   int         `json:"end_line"`   // 1-based, inclusive
	Source    string      `json:"source"`
	Signature string      `json:"signature,omitempty"`
	Docstring string      `json:"docstring,omitempty"`

	// Decorators holds decorator names; DecoratorArgs maps a decorator name
	// to the identifier arguments of its call form, including identifiers
	// nested in list literals and keyword-argument values.
	Decorators    []string            `json:"decorators,omitempty"`
	DecoratorArgs map[string][]string `json:"decorator_args,omitempty"`

	// Refs are identifiers referenced inside the element body and decorator
	// arguments. Used for dependency walking; never exposed in rendered
	// context output.
	Refs []string `json:"-"`

	// RouteMethod/RoutePath are set on KindEndpoint elements extracted from
	// framework route decorators such as @app.get("/users/{id}").
	RouteMethod string `json:"route_method,omitempty"`
	RoutePath   string `json:"route_path,omitempty"`
}

// LineCount returns the number of source lines the element spans.
func (e *CodeElement) LineCount() int {
	if e.EndLine < e.StartLine {
		return 0
	}
	return e.EndLine - e.StartLine + 1
}

// Marker renders the element header comment used in assembled context.
// The merger parses (kind, name) back out of this exact format.
func (e *CodeElement) Marker() string {
	return fmt.Sprintf("# %s: %s (line %d)", e.Kind, e.Name, e.StartLine)
}

// ParseMarker inverts Marker. Returns ok=false for lines that are not
// element markers.
func ParseMarker(line string) (kind ElementKind, name string, ok bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "# ") {
		return "", "", false
	}
	s = strings.TrimPrefix(s, "# ")
	colon := strings.Index(s, ": ")
	if colon < 0 {
		return "", "", false
	}
	kind = ElementKind(s[:colon])
	switch kind {
	case KindFunction, KindClass, KindMethod, KindVariable, KindConstant, KindEndpoint, KindImport:
	default:
		return "", "", false
	}
	rest := s[colon+2:]
	if idx := strings.LastIndex(rest, " (line "); idx >= 0 {
		rest = rest[:idx]
	}
	name = strings.TrimSpace(rest)
	if name == "" {
		return "", "", false
	}
	return kind, name, true
}

// ImportedName is one name in a from-import, with optional alias.
type ImportedName struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// ImportDecl is one import statement, static or from-form.
type ImportDecl struct {
	Module     string         `json:"module"`
	Alias      string         `json:"alias,omitempty"`
	Names      []ImportedName `json:"names,omitempty"`
	IsRelative bool           `json:"is_relative,omitempty"`
	Source     string         `json:"source"`
	Line       int            `json:"line"`
}

// SymbolTable is the parse result for one file.
//
// Thread Safety:
//
//	A SymbolTable is immutable after Parse returns and safe for concurrent
//	reads. The index package handles caching and eviction.
type SymbolTable struct {
	FilePath string
	Hash     string // sha256 of the parsed content

	Imports   []ImportDecl
	Endpoints []*CodeElement

	elements map[string]*CodeElement
	order    []*CodeElement
}

func newSymbolTable(filePath, hash string) *SymbolTable {
	return &SymbolTable{
		FilePath: filePath,
		Hash:     hash,
		elements: make(map[string]*CodeElement),
	}
}

func (t *SymbolTable) add(e *CodeElement) {
	if e == nil || e.Name == "" {
		return
	}
	if _, exists := t.elements[e.Name]; exists {
		// First definition wins; Python redefinitions are rare enough that
		// keeping the earlier span matches what a reader expects to patch.
		return
	}
	t.elements[e.Name] = e
	t.order = append(t.order, e)
}

// Get looks up an element by name. Parametrized test IDs such as
// "test_foo[case-1]" normalize to their base name. A bare method name
// falls back to a unique ".name" suffix match across classes.
func (t *SymbolTable) Get(name string) (*CodeElement, bool) {
	name = NormalizeUnitName(name)
	if e, ok := t.elements[name]; ok {
		return e, true
	}
	if strings.Contains(name, ".") {
		return nil, false
	}
	var found *CodeElement
	for _, e := range t.order {
		if strings.HasSuffix(e.Name, "."+name) {
			if found != nil {
				return nil, false // ambiguous
			}
			found = e
		}
	}
	return found, found != nil
}

// Elements returns all elements in source order.
func (t *SymbolTable) Elements() []*CodeElement {
	return t.order
}

// Names returns all element names, sorted.
func (t *SymbolTable) Names() []string {
	names := make([]string, 0, len(t.elements))
	for name := range t.elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of extracted elements.
func (t *SymbolTable) Len() int {
	return len(t.order)
}

// NormalizeUnitName strips a pytest parametrize suffix:
// "test_foo[case-1]" becomes "test_foo".
func NormalizeUnitName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, "["); idx > 0 {
		name = name[:idx]
	}
	return name
}
