// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parser is the parsing capability consumed by the index, resolver,
// semantic indexer, and patch engine.
type Parser interface {
	Parse(ctx context.Context, content []byte, filePath string) (*SymbolTable, error)
}

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithMaxFileSize sets the maximum file size the parser will accept.
func WithMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PythonParser implements Parser for Python source code.
//
// Description:
//
//	PythonParser uses tree-sitter to extract whole top-level definitions.
//	Methods register under their qualified "ClassName.method" name. Route
//	decorators such as @app.get("/users/{id}") additionally produce a
//	dedicated endpoint element carrying the HTTP method and path literal.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser internally.
type PythonParser struct {
	maxFileSize int64
}

// NewPythonParser creates a PythonParser with sensible defaults.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts a SymbolTable from Python source.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing;
//     tree-sitter itself cannot be interrupted mid-parse.
//   - content: Raw source bytes. Must be valid UTF-8.
//   - filePath: Path used for identity and error reporting.
//
// Outputs:
//   - *SymbolTable: Immutable parse result. Nil on error.
//   - error: *ParseError wrapping ErrFileTooLarge, ErrInvalidContent, or
//     ErrSyntax, or a context error. Syntactically broken source is a hard
//     failure here; callers that want partial context fall back to raw
//     file payloads instead.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*SymbolTable, error) {
	ctx, span := startParseSpan(ctx, filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, &ParseError{FilePath: filePath, Err: fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)}
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, &ParseError{FilePath: filePath, Err: fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)}
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil || root.HasError() {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, &ParseError{FilePath: filePath, Err: ErrSyntax}
	}

	table := newSymbolTable(filePath, hex.EncodeToString(hash[:]))
	lines := strings.Split(string(content), "\n")

	p.extractImports(root, content, table, 0)
	p.extractTopLevel(root, content, lines, table)

	for _, el := range table.order {
		el.FilePath = filePath
	}
	for _, ep := range table.Endpoints {
		ep.FilePath = filePath
	}

	setParseSpanResult(span, table.Len(), len(table.Endpoints))
	recordParseMetrics(ctx, time.Since(start), true)

	return table, nil
}

// CheckSyntax reports whether content parses as valid Python.
// Returns ErrSyntax (unwrapped) when tree-sitter flags errors.
func CheckSyntax(ctx context.Context, content []byte) error {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return ErrSyntax
	}
	return nil
}

// === Top-level extraction ===

func (p *PythonParser) extractTopLevel(root *sitter.Node, content []byte, lines []string, table *SymbolTable) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition":
			if el := p.processFunction(child, child, content, lines, "", nil, nil); el != nil {
				table.add(el)
			}
		case "class_definition":
			p.processClass(child, child, content, lines, nil, nil, table)
		case "decorated_definition":
			p.processDecorated(child, content, lines, table)
		case "expression_statement":
			if child.ChildCount() > 0 {
				expr := child.Child(0)
				if expr.Type() == "assignment" || expr.Type() == "augmented_assignment" {
					if el := p.processVariable(child, expr, content, lines); el != nil {
						table.add(el)
					}
				}
			}
		}
	}
}

// processDecorated dispatches a decorated_definition to the function or
// class path, carrying the decorator block span along.
func (p *PythonParser) processDecorated(node *sitter.Node, content []byte, lines []string, table *SymbolTable) {
	decorators, decoratorArgs := p.extractDecoratorsWithArgs(node, content)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition":
			el := p.processFunction(node, child, content, lines, "", decorators, decoratorArgs)
			if el == nil {
				return
			}
			table.add(el)
			if ep := p.routeEndpoint(node, content, el); ep != nil {
				table.Endpoints = append(table.Endpoints, ep)
			}
			return
		case "class_definition":
			p.processClass(node, child, content, lines, decorators, decoratorArgs, table)
			return
		}
	}
}

// processFunction extracts one function or method definition.
// outer is the decorated_definition when decorators are present, else the
// function_definition itself; def is always the function_definition node.
func (p *PythonParser) processFunction(outer, def *sitter.Node, content []byte, lines []string, className string, decorators []string, decoratorArgs map[string][]string) *CodeElement {
	var name, params, returnType string
	var isAsync bool
	var bodyNode *sitter.Node

	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "async":
			isAsync = true
		case "identifier":
			name = string(content[child.StartByte():child.EndByte()])
		case "parameters":
			params = string(content[child.StartByte():child.EndByte()])
		case "type":
			returnType = string(content[child.StartByte():child.EndByte()])
		case "block":
			bodyNode = child
		}
	}

	if name == "" {
		return nil
	}

	qualified := name
	kind := KindFunction
	if className != "" {
		qualified = className + "." + name
		kind = KindMethod
	}

	var signature string
	if isAsync {
		signature = fmt.Sprintf("async def %s%s", name, params)
	} else {
		signature = fmt.Sprintf("def %s%s", name, params)
	}
	if returnType != "" {
		signature += " -> " + returnType
	}

	el := &CodeElement{
		Kind:          kind,
		Name:          qualified,
		StartLine:     int(outer.StartPoint().Row + 1),
		DeclLine:      int(def.StartPoint().Row + 1),
		EndLine:       int(outer.EndPoint().Row + 1),
		Signature:     signature,
		Decorators:    decorators,
		DecoratorArgs: decoratorArgs,
	}
	el.Source = sliceLines(lines, el.StartLine, el.EndLine)

	if bodyNode != nil {
		el.Docstring = p.extractDocstring(bodyNode, content)
		el.Refs = collectRefs(bodyNode, content, nil)
	}
	for _, args := range decoratorArgs {
		el.Refs = mergeRefs(el.Refs, args)
	}

	return el
}

// processClass extracts a class element plus one element per method.
func (p *PythonParser) processClass(outer, cls *sitter.Node, content []byte, lines []string, decorators []string, decoratorArgs map[string][]string, table *SymbolTable) {
	var name string
	var bases []string
	var bodyNode *sitter.Node

	for i := 0; i < int(cls.ChildCount()); i++ {
		child := cls.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "identifier":
			name = string(content[child.StartByte():child.EndByte()])
		case "argument_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				arg := child.Child(j)
				if arg == nil {
					continue
				}
				if arg.Type() == "identifier" || arg.Type() == "attribute" {
					bases = append(bases, string(content[arg.StartByte():arg.EndByte()]))
				}
			}
		case "block":
			bodyNode = child
		}
	}

	if name == "" {
		return
	}

	signature := "class " + name
	if len(bases) > 0 {
		signature += "(" + strings.Join(bases, ", ") + ")"
	}

	el := &CodeElement{
		Kind:          KindClass,
		Name:          name,
		StartLine:     int(outer.StartPoint().Row + 1),
		DeclLine:      int(cls.StartPoint().Row + 1),
		EndLine:       int(outer.EndPoint().Row + 1),
		Signature:     signature,
		Decorators:    decorators,
		DecoratorArgs: decoratorArgs,
	}
	el.Source = sliceLines(lines, el.StartLine, el.EndLine)
	el.Refs = mergeRefs(nil, bases)

	if bodyNode != nil {
		el.Docstring = p.extractDocstring(bodyNode, content)
		el.Refs = mergeRefs(el.Refs, collectRefs(bodyNode, content, nil))
	}
	table.add(el)

	if bodyNode == nil {
		return
	}

	for i := 0; i < int(bodyNode.ChildCount()); i++ {
		child := bodyNode.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition":
			if m := p.processFunction(child, child, content, lines, name, nil, nil); m != nil {
				table.add(m)
			}
		case "decorated_definition":
			mDecs, mArgs := p.extractDecoratorsWithArgs(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				def := child.Child(j)
				if def == nil || def.Type() != "function_definition" {
					continue
				}
				m := p.processFunction(child, def, content, lines, name, mDecs, mArgs)
				if m == nil {
					break
				}
				table.add(m)
				if ep := p.routeEndpoint(child, content, m); ep != nil {
					table.Endpoints = append(table.Endpoints, ep)
				}
				break
			}
		}
	}
}

// processVariable extracts a module-level assignment. All-caps names
// classify as constants.
func (p *PythonParser) processVariable(stmt, assign *sitter.Node, content []byte, lines []string) *CodeElement {
	var name string
	for i := 0; i < int(assign.ChildCount()); i++ {
		child := assign.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "identifier" {
			name = string(content[child.StartByte():child.EndByte()])
			break
		}
	}
	if name == "" {
		return nil
	}

	kind := KindVariable
	if isAllCaps(name) {
		kind = KindConstant
	}

	el := &CodeElement{
		Kind:      kind,
		Name:      name,
		StartLine: int(stmt.StartPoint().Row + 1),
		DeclLine:  int(stmt.StartPoint().Row + 1),
		EndLine:   int(stmt.EndPoint().Row + 1),
	}
	el.Source = sliceLines(lines, el.StartLine, el.EndLine)
	if idx := strings.IndexByte(el.Source, '\n'); idx >= 0 {
		el.Signature = strings.TrimSpace(el.Source[:idx])
	} else {
		el.Signature = strings.TrimSpace(el.Source)
	}

	refs := collectRefs(assign, content, map[string]bool{name: true})
	el.Refs = refs

	return el
}

// === Route decorators ===

// httpDecoratorMethods maps framework decorator attribute names to HTTP
// methods. Covers FastAPI/Flask style @app.get, @router.post and the
// generic @app.route form.
var httpDecoratorMethods = map[string]string{
	"get":     "GET",
	"post":    "POST",
	"put":     "PUT",
	"delete":  "DELETE",
	"patch":   "PATCH",
	"head":    "HEAD",
	"options": "OPTIONS",
	"route":   "GET",
}

// routeEndpoint builds an endpoint element when the decorated definition
// carries a route decorator with a literal path argument. Computed route
// strings are not resolved.
func (p *PythonParser) routeEndpoint(decorated *sitter.Node, content []byte, fn *CodeElement) *CodeElement {
	for i := 0; i < int(decorated.ChildCount()); i++ {
		dec := decorated.Child(i)
		if dec == nil || dec.Type() != "decorator" {
			continue
		}
		method, path, ok := routeFromDecorator(dec, content)
		if !ok {
			continue
		}
		ep := *fn
		ep.Kind = KindEndpoint
		ep.RouteMethod = method
		ep.RoutePath = path
		return &ep
	}
	return nil
}

// routeFromDecorator matches the @obj.method("path") call shape.
func routeFromDecorator(dec *sitter.Node, content []byte) (method, path string, ok bool) {
	for i := 0; i < int(dec.ChildCount()); i++ {
		call := dec.Child(i)
		if call == nil || call.Type() != "call" {
			continue
		}
		var attrName string
		var argsNode *sitter.Node
		for j := 0; j < int(call.ChildCount()); j++ {
			child := call.Child(j)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "attribute":
				attrName = lastAttributeName(child, content)
			case "argument_list":
				argsNode = child
			}
		}
		m, found := httpDecoratorMethods[attrName]
		if !found || argsNode == nil {
			continue
		}
		p := firstStringArg(argsNode, content)
		if p == "" {
			continue
		}
		return m, p, true
	}
	return "", "", false
}

// lastAttributeName returns the final identifier of an attribute chain,
// e.g. "get" for app.v1.get.
func lastAttributeName(attr *sitter.Node, content []byte) string {
	var name string
	for i := 0; i < int(attr.ChildCount()); i++ {
		child := attr.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "identifier" {
			name = string(content[child.StartByte():child.EndByte()])
		}
	}
	return name
}

// firstStringArg extracts the first string literal from an argument list.
func firstStringArg(argsNode *sitter.Node, content []byte) string {
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		child := argsNode.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "string" {
			return stripQuotes(string(content[child.StartByte():child.EndByte()]))
		}
	}
	return ""
}

// === Imports ===

const maxImportWalkDepth = 30

// extractImports walks the entire tree so inline imports inside function
// bodies are visible to resolution, same as module-level ones.
func (p *PythonParser) extractImports(node *sitter.Node, content []byte, table *SymbolTable, depth int) {
	if node == nil || depth > maxImportWalkDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			p.processImportStatement(child, content, table)
		case "import_from_statement":
			p.processImportFromStatement(child, content, table)
		default:
			p.extractImports(child, content, table, depth+1)
		}
	}
}

// processImportStatement handles 'import foo' and 'import foo as bar'.
func (p *PythonParser) processImportStatement(node *sitter.Node, content []byte, table *SymbolTable) {
	source := string(content[node.StartByte():node.EndByte()])
	line := int(node.StartPoint().Row + 1)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			table.Imports = append(table.Imports, ImportDecl{
				Module: string(content[child.StartByte():child.EndByte()]),
				Source: source,
				Line:   line,
			})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				if gc == nil {
					continue
				}
				switch gc.Type() {
				case "dotted_name":
					path = string(content[gc.StartByte():gc.EndByte()])
				case "identifier":
					alias = string(content[gc.StartByte():gc.EndByte()])
				}
			}
			if path != "" {
				table.Imports = append(table.Imports, ImportDecl{
					Module: path,
					Alias:  alias,
					Source: source,
					Line:   line,
				})
			}
		}
	}
}

// processImportFromStatement handles 'from x import y' forms including
// relative imports and aliases.
func (p *PythonParser) processImportFromStatement(node *sitter.Node, content []byte, table *SymbolTable) {
	var modulePath string
	var names []ImportedName
	var isRelative, sawImport bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			isRelative = true
			var prefix, name string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				if gc == nil {
					continue
				}
				switch gc.Type() {
				case "import_prefix":
					prefix = string(content[gc.StartByte():gc.EndByte()])
				case "dotted_name":
					name = string(content[gc.StartByte():gc.EndByte()])
				}
			}
			modulePath = prefix + name
		case "dotted_name":
			text := string(content[child.StartByte():child.EndByte()])
			if !sawImport {
				modulePath = text
			} else {
				names = append(names, ImportedName{Name: text})
			}
		case "aliased_import":
			var importName, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				if gc == nil {
					continue
				}
				switch gc.Type() {
				case "identifier":
					if importName == "" {
						importName = string(content[gc.StartByte():gc.EndByte()])
					} else {
						alias = string(content[gc.StartByte():gc.EndByte()])
					}
				case "dotted_name":
					if importName == "" {
						importName = string(content[gc.StartByte():gc.EndByte()])
					}
				}
			}
			if importName != "" {
				names = append(names, ImportedName{Name: importName, Alias: alias})
			}
		case "identifier":
			if sawImport {
				names = append(names, ImportedName{Name: string(content[child.StartByte():child.EndByte()])})
			}
		}
	}

	if modulePath == "" && !isRelative {
		return
	}
	if modulePath == "" {
		modulePath = "."
	}
	table.Imports = append(table.Imports, ImportDecl{
		Module:     modulePath,
		Names:      names,
		IsRelative: isRelative,
		Source:     string(content[node.StartByte():node.EndByte()]),
		Line:       int(node.StartPoint().Row + 1),
	})
}

// === Decorators ===

// extractDecoratorsWithArgs extracts decorator names and the identifier
// arguments of decorator calls, including identifiers nested in list
// literals and keyword-argument values. The walker uses the argument
// identifiers to follow dependency-injection markers such as
// Depends(get_db) and dependencies=[Depends(require_auth)].
func (p *PythonParser) extractDecoratorsWithArgs(node *sitter.Node, content []byte) ([]string, map[string][]string) {
	decorators := make([]string, 0)
	var decoratorArgs map[string][]string

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			gc := child.Child(j)
			if gc == nil {
				continue
			}
			switch gc.Type() {
			case "identifier", "attribute":
				decorators = append(decorators, string(content[gc.StartByte():gc.EndByte()]))
			case "call":
				var name string
				var args []string
				for k := 0; k < int(gc.ChildCount()); k++ {
					ggc := gc.Child(k)
					if ggc == nil {
						continue
					}
					switch ggc.Type() {
					case "identifier", "attribute":
						if name == "" {
							name = string(content[ggc.StartByte():ggc.EndByte()])
						}
					case "argument_list":
						args = decoratorArgIdentifiers(ggc, content)
					}
				}
				if name != "" {
					decorators = append(decorators, name)
					if len(args) > 0 {
						if decoratorArgs == nil {
							decoratorArgs = make(map[string][]string)
						}
						decoratorArgs[name] = args
					}
				}
			}
		}
	}

	return decorators, decoratorArgs
}

// decoratorArgIdentifiers collects identifier arguments from a decorator
// call, recursing into keyword-argument values, list literals, and nested
// calls one level deep (the Depends(get_db) shape).
func decoratorArgIdentifiers(argsNode *sitter.Node, content []byte) []string {
	if argsNode == nil {
		return nil
	}
	identifiers := make([]string, 0, argsNode.ChildCount())
	seen := make(map[string]bool)

	add := func(name string) {
		if name == "" || name == "True" || name == "False" || name == "None" || seen[name] {
			return
		}
		seen[name] = true
		identifiers = append(identifiers, name)
	}

	var walk func(node *sitter.Node, depth int)
	walk = func(node *sitter.Node, depth int) {
		if node == nil || depth > 6 {
			return
		}
		if node.Type() == "identifier" {
			add(string(content[node.StartByte():node.EndByte()]))
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i), depth+1)
		}
	}
	walk(argsNode, 0)

	return identifiers
}

// === Shared helpers ===

// collectRefs gathers identifier references from a subtree, skipping the
// names in exclude. Bounded by maxRefsPerElement.
func collectRefs(node *sitter.Node, content []byte, exclude map[string]bool) []string {
	if node == nil {
		return nil
	}
	seen := make(map[string]bool)
	refs := make([]string, 0, 16)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || len(refs) >= maxRefsPerElement {
			return
		}
		if n.Type() == "identifier" {
			name := string(content[n.StartByte():n.EndByte()])
			if name != "" && name != "True" && name != "False" && name != "None" &&
				!seen[name] && !exclude[name] {
				seen[name] = true
				refs = append(refs, name)
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)

	return refs
}

func mergeRefs(refs []string, extra []string) []string {
	if len(extra) == 0 {
		return refs
	}
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	for _, r := range extra {
		if r != "" && !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	return refs
}

// extractDocstring extracts the docstring from a block node.
func (p *PythonParser) extractDocstring(block *sitter.Node, content []byte) string {
	if block.ChildCount() > 0 {
		first := block.Child(0)
		if first != nil && first.Type() == "expression_statement" && first.ChildCount() > 0 {
			strNode := first.Child(0)
			if strNode != nil && strNode.Type() == "string" {
				return stripQuotes(string(content[strNode.StartByte():strNode.EndByte()]))
			}
		}
	}
	return ""
}

// stripQuotes removes surrounding quote characters from a string literal,
// triple-quoted or single.
func stripQuotes(raw string) string {
	for len(raw) > 0 {
		switch raw[0] {
		case 'f', 'r', 'b', 'u', 'F', 'R', 'B', 'U':
			raw = raw[1:]
			continue
		}
		break
	}
	return strings.Trim(raw, `"'`)
}

// sliceLines joins lines start..end (1-based, inclusive).
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// isAllCaps reports whether the name is all uppercase with underscores
// and digits allowed.
func isAllCaps(name string) bool {
	for _, r := range name {
		if r != '_' && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(name) > 0
}
