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
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// CallPattern recognizes one call shape that implies a module dependency
// without a literal import statement. Func matches bare-identifier calls
// (safe_import("app.main")); Attr matches the attribute of method calls
// (monkeypatch.setattr("app.main.MODEL", ...)). ModuleFromArg maps the
// first string argument to a module path; an empty return means no match.
type CallPattern struct {
	Func          string
	Attr          string
	ModuleFromArg func(arg string) string
}

// DynamicImportPatterns is the fixed table of call-shape recognizers.
// These are pattern matches on literal string arguments, not dynamic
// dispatch; computed module strings are invisible to them.
var DynamicImportPatterns = []CallPattern{
	// unittest.mock.patch("app.main.MODEL") / @patch("app.main.MODEL"):
	// the target is an attribute path, the module is everything before
	// the final segment.
	{Attr: "patch", ModuleFromArg: parentModule},
	{Func: "patch", ModuleFromArg: parentModule},

	// monkeypatch.setattr("app.main.MODEL", fake)
	{Attr: "setattr", ModuleFromArg: parentModule},

	// pytest.importorskip("app.main") names the module itself.
	{Attr: "importorskip", ModuleFromArg: wholeModule},
	{Func: "importorskip", ModuleFromArg: wholeModule},

	// Conditional-import helpers seen in optional-dependency test suites.
	{Func: "safe_import", ModuleFromArg: wholeModule},
	{Func: "try_import", ModuleFromArg: wholeModule},
}

func parentModule(arg string) string {
	idx := strings.LastIndex(arg, ".")
	if idx <= 0 {
		return ""
	}
	return arg[:idx]
}

func wholeModule(arg string) string {
	if arg == "" || strings.Contains(arg, "/") {
		return ""
	}
	return arg
}

// ScanDynamicImports walks every call expression in the source, including
// calls inside decorators, and returns the module paths implied by the
// pattern table. Results are deduplicated in first-seen order. Source
// that fails to parse yields nil; the resolver treats that as a miss,
// never an error.
func ScanDynamicImports(ctx context.Context, content []byte) []string {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil
	}

	seen := make(map[string]bool)
	var modules []string

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if node.Type() == "call" {
			if module := matchCall(node, content); module != "" && !seen[module] {
				seen[module] = true
				modules = append(modules, module)
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)

	return modules
}

// matchCall applies the pattern table to one call node.
func matchCall(call *sitter.Node, content []byte) string {
	var funcName, attrName string
	var argsNode *sitter.Node

	for i := 0; i < int(call.ChildCount()); i++ {
		child := call.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "identifier":
			funcName = string(content[child.StartByte():child.EndByte()])
		case "attribute":
			for j := int(child.ChildCount()) - 1; j >= 0; j-- {
				gc := child.Child(j)
				if gc != nil && gc.Type() == "identifier" {
					attrName = string(content[gc.StartByte():gc.EndByte()])
					break
				}
			}
		case "argument_list":
			argsNode = child
		}
	}

	if argsNode == nil {
		return ""
	}
	arg := firstStringArgument(argsNode, content)
	if arg == "" {
		return ""
	}

	for _, p := range DynamicImportPatterns {
		if p.Func != "" && p.Func == funcName {
			if m := p.ModuleFromArg(arg); m != "" {
				return m
			}
		}
		if p.Attr != "" && p.Attr == attrName {
			if m := p.ModuleFromArg(arg); m != "" {
				return m
			}
		}
	}
	return ""
}

func firstStringArgument(argsNode *sitter.Node, content []byte) string {
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		child := argsNode.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "string" {
			return strings.Trim(string(content[child.StartByte():child.EndByte()]), `"'`)
		}
	}
	return ""
}
