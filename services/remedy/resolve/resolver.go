// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve locates the source files and symbol names a failing
// test unit depends on. Resolution is structural: static and dynamic
// imports, in-body identifier usage, literal HTTP route calls, and
// traceback frames. Every sub-step swallows its own failures; an empty
// result is the documented signal to fall back to semantic retrieval.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/remedy/services/remedy/ast"
	"github.com/AleutianAI/remedy/services/remedy/index"
)

// FailingUnit describes one failing test unit, already parsed from
// test-runner output by an external collaborator. Read-only input.
type FailingUnit struct {
	TestFile      string `json:"test_file"`
	UnitName      string `json:"unit_name"`
	ErrorKind     string `json:"error_kind,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	TracebackText string `json:"traceback_text,omitempty"`
}

// FailureText returns the traceback when the producer supplied one
// separately, else the error message. Producers that fold the
// traceback into the error message keep working.
func (u FailingUnit) FailureText() string {
	if u.TracebackText != "" {
		return u.TracebackText
	}
	return u.ErrorMessage
}

// Endpoint is one (method, path) pair extracted from a literal
// client.<method>("/path") call in a test body.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Resolution pairs one candidate source file with the target symbol
// names the failing unit needs from it.
type Resolution struct {
	SourceFile string     `json:"source_file"`
	Targets    []string   `json:"targets"`
	Endpoints  []Endpoint `json:"endpoints,omitempty"`
}

// ResolverOption configures a Resolver instance.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for resolution telemetry.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Resolver implements structural resolution over a SourceIndex.
//
// Thread Safety:
//
//	Resolver is stateless beyond its injected collaborators and safe for
//	concurrent use.
type Resolver struct {
	projectRoot string
	index       *index.SourceIndex
	logger      *slog.Logger
}

// NewResolver creates a Resolver rooted at projectRoot.
func NewResolver(projectRoot string, idx *index.SourceIndex, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		projectRoot: projectRoot,
		index:       idx,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps a failing unit to candidate (file, targets) pairs.
//
// Description:
//
//	Steps, in order: extract the test file's imports including the
//	dynamic call-shape patterns; intersect import names with identifiers
//	referenced in the failing unit's displayed body; resolve surviving
//	module paths to files through the layout conventions; when the unit
//	hits literal HTTP endpoints and imports resolved nothing, search
//	conventional entry-point files for matching route handlers; finally
//	add traceback-frame functions located in each candidate file.
//
// Outputs:
//   - []Resolution: deterministic order, possibly empty. Never an error;
//     a miss means "use semantic retrieval."
func (r *Resolver) Resolve(ctx context.Context, unit FailingUnit) []Resolution {
	content, err := os.ReadFile(unit.TestFile)
	if err != nil {
		r.logger.Debug("resolve: test file unreadable",
			slog.String("file", unit.TestFile),
			slog.String("error", err.Error()))
		return nil
	}

	table, err := r.index.Parse(ctx, content, unit.TestFile)
	if err != nil {
		r.logger.Debug("resolve: test file unparseable",
			slog.String("file", unit.TestFile),
			slog.String("error", err.Error()))
		return nil
	}

	var body string
	if el, ok := table.Get(unit.UnitName); ok {
		body = el.Source
	}

	nameToModule := importNameMap(table.Imports)
	for _, module := range ScanDynamicImports(ctx, content) {
		nameToModule[module] = module
	}

	usedModules := make(map[string]bool)
	for name, module := range nameToModule {
		if body != "" && strings.Contains(body, name) {
			usedModules[module] = true
		}
	}

	endpoints := ExtractHTTPEndpoints(body)

	files := r.resolveFiles(usedModules)

	if len(files) == 0 && len(endpoints) > 0 {
		files = r.findEndpointFiles(ctx, endpoints)
	}

	moduleNames := importedNamesByModule(table.Imports)

	var resolutions []Resolution
	for _, file := range files {
		targets := r.targetsForFile(ctx, file, moduleNames, unit, endpoints)
		if len(targets) == 0 {
			continue
		}
		resolutions = append(resolutions, Resolution{
			SourceFile: file,
			Targets:    targets,
			Endpoints:  endpoints,
		})
	}

	r.logger.Debug("structural resolution",
		slog.String("unit", unit.UnitName),
		slog.Int("used_modules", len(usedModules)),
		slog.Int("endpoints", len(endpoints)),
		slog.Int("resolutions", len(resolutions)))

	return resolutions
}

// resolveFiles maps used module paths to existing files, skipping stdlib
// and third-party modules. Files come back deduplicated in deterministic
// order.
func (r *Resolver) resolveFiles(usedModules map[string]bool) []string {
	modules := make([]string, 0, len(usedModules))
	for m := range usedModules {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var files []string
	seen := make(map[string]bool)
	for _, module := range modules {
		if IsStdlibOrThirdParty(module) {
			continue
		}
		file := ModuleToFile(r.projectRoot, module)
		if file == "" || seen[file] {
			continue
		}
		seen[file] = true
		files = append(files, file)
	}
	return files
}

// findEndpointFiles searches conventional entry-point and route files
// for handlers matching the test's endpoints.
func (r *Resolver) findEndpointFiles(ctx context.Context, endpoints []Endpoint) []string {
	var files []string
	for _, candidate := range endpointCandidateFiles(r.projectRoot) {
		table, err := r.index.Get(ctx, candidate)
		if err != nil {
			continue
		}
		if len(matchEndpointHandlers(table, endpoints)) > 0 {
			files = append(files, candidate)
		}
	}
	return files
}

// targetsForFile combines the per-file target sources: names imported
// from modules that resolved here, traceback frames located here, route
// handlers matching the unit's endpoints, and the identifier arguments
// of those handlers' route decorators (the Depends(...) idiom).
func (r *Resolver) targetsForFile(ctx context.Context, file string, moduleNames map[string][]string, unit FailingUnit, endpoints []Endpoint) []string {
	seen := make(map[string]bool)
	var targets []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || name == "*" || seen[name] {
			return
		}
		seen[name] = true
		targets = append(targets, name)
	}

	stem := strings.TrimSuffix(filepath.Base(file), ".py")
	sortedModules := make([]string, 0, len(moduleNames))
	for m := range moduleNames {
		sortedModules = append(sortedModules, m)
	}
	sort.Strings(sortedModules)
	for _, module := range sortedModules {
		if !strings.Contains(strings.ReplaceAll(module, ".", "/"), stem) {
			continue
		}
		for _, name := range moduleNames[module] {
			add(name)
		}
	}

	for _, fn := range TracebackFunctions(unit.FailureText(), file) {
		add(fn)
	}

	if len(endpoints) > 0 {
		if table, err := r.index.Get(ctx, file); err == nil {
			for _, handler := range matchEndpointHandlers(table, endpoints) {
				add(handler.Name)
				for _, dep := range decoratorDependencies(handler, table) {
					add(dep)
				}
			}
		}
	}

	return targets
}

// matchEndpointHandlers returns route-registered elements whose (method,
// path) matches one of the test's endpoints.
func matchEndpointHandlers(table *ast.SymbolTable, endpoints []Endpoint) []*ast.CodeElement {
	var handlers []*ast.CodeElement
	for _, ep := range table.Endpoints {
		for _, want := range endpoints {
			if ep.RouteMethod == want.Method && ep.RoutePath == want.Path {
				handlers = append(handlers, ep)
				break
			}
		}
	}
	return handlers
}

// decoratorDependencies extracts decorator-argument identifiers of a
// handler that name other elements in the same table. Covers
// dependencies=[Depends(verify_api_key)] directly and via an
// intermediate variable, which the walker then expands.
func decoratorDependencies(handler *ast.CodeElement, table *ast.SymbolTable) []string {
	var deps []string
	for _, args := range handler.DecoratorArgs {
		for _, arg := range args {
			if _, ok := table.Get(arg); ok {
				deps = append(deps, arg)
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// importNameMap builds the local-name to module-path map used for
// in-body usage intersection. Aliased imports register both the alias
// and the partial dotted paths; from-imports register each imported name
// against its full path plus the module itself.
func importNameMap(imports []ast.ImportDecl) map[string]string {
	names := make(map[string]string)
	for _, imp := range imports {
		module := strings.TrimLeft(imp.Module, ".")
		if module == "" {
			continue
		}
		if len(imp.Names) == 0 {
			local := imp.Alias
			if local == "" {
				local = module
			}
			names[local] = module
			if imp.Alias != "" && strings.Contains(module, ".") {
				parts := strings.Split(module, ".")
				for i := range parts {
					partial := strings.Join(parts[:i+1], ".")
					names[partial] = partial
				}
			}
			continue
		}
		for _, n := range imp.Names {
			local := n.Alias
			if local == "" {
				local = n.Name
			}
			names[local] = fmt.Sprintf("%s.%s", module, n.Name)
		}
		names[module] = module
	}
	return names
}

// importedNamesByModule maps each from-imported module to the names it
// contributes, for per-file target selection.
func importedNamesByModule(imports []ast.ImportDecl) map[string][]string {
	byModule := make(map[string][]string)
	for _, imp := range imports {
		module := strings.TrimLeft(imp.Module, ".")
		if module == "" {
			continue
		}
		for _, n := range imp.Names {
			byModule[module] = append(byModule[module], n.Name)
		}
		if len(imp.Names) == 0 {
			local := imp.Alias
			if local == "" {
				local = module
			}
			byModule[module] = append(byModule[module], local)
		}
	}
	return byModule
}

// httpCallPatterns matches literal client.<method>("/path") calls per
// HTTP verb. Case-insensitive to cover Client.GET style wrappers.
var httpCallPatterns = func() map[string]*regexp.Regexp {
	verbs := []string{"get", "post", "put", "delete", "patch", "head", "options"}
	patterns := make(map[string]*regexp.Regexp, len(verbs))
	for _, verb := range verbs {
		patterns[verb] = regexp.MustCompile(`(?i)client\.` + verb + `\s*\(\s*["']([^"']+)["']`)
	}
	return patterns
}()

// ExtractHTTPEndpoints extracts (method, path) pairs from literal
// client calls in a test body. Computed paths are not visible.
func ExtractHTTPEndpoints(body string) []Endpoint {
	if body == "" {
		return nil
	}
	seen := make(map[Endpoint]bool)
	var endpoints []Endpoint
	for _, verb := range []string{"get", "post", "put", "delete", "patch", "head", "options"} {
		for _, match := range httpCallPatterns[verb].FindAllStringSubmatch(body, -1) {
			ep := Endpoint{Method: strings.ToUpper(verb), Path: match[1]}
			if !seen[ep] {
				seen[ep] = true
				endpoints = append(endpoints, ep)
			}
		}
	}
	return endpoints
}
