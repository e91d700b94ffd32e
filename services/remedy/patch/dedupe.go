// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// lineRange is a half-inclusive span of 0-based source rows covering
// one decorator, '@' line through its closing line.
type lineRange struct {
	start int
	end   int
}

// duplicateParametrizeRanges finds every duplicate
// @pytest.mark.parametrize("<key>", ...) decorator, per function: the
// first decorator with a given key stays, later ones with the same key
// are reported for removal. Unparseable source yields nil.
func duplicateParametrizeRanges(ctx context.Context, content []byte) []lineRange {
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

	var dups []lineRange
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if node.Type() == "decorated_definition" {
			seen := make(map[string]bool)
			for i := 0; i < int(node.ChildCount()); i++ {
				child := node.Child(i)
				if child == nil || child.Type() != "decorator" {
					continue
				}
				key := parametrizeKey(child, content)
				if key == "" {
					continue
				}
				if seen[key] {
					dups = append(dups, lineRange{
						start: int(child.StartPoint().Row),
						end:   int(child.EndPoint().Row),
					})
					continue
				}
				seen[key] = true
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)

	return dups
}

// parametrizeKey extracts the parameter-name argument from a decorator
// node when it is a <x>.mark.parametrize("<key>", ...) call. Returns
// "" for any other decorator.
func parametrizeKey(decorator *sitter.Node, content []byte) string {
	for i := 0; i < int(decorator.ChildCount()); i++ {
		child := decorator.Child(i)
		if child == nil || child.Type() != "call" {
			continue
		}

		fn := child.ChildByFieldName("function")
		if fn == nil || fn.Type() != "attribute" {
			return ""
		}
		fnText := string(content[fn.StartByte():fn.EndByte()])
		if !strings.HasSuffix(fnText, ".mark.parametrize") {
			return ""
		}

		args := child.ChildByFieldName("arguments")
		if args == nil {
			return ""
		}
		for j := 0; j < int(args.ChildCount()); j++ {
			arg := args.Child(j)
			if arg == nil {
				continue
			}
			if arg.Type() == "string" {
				return strings.Trim(string(content[arg.StartByte():arg.EndByte()]), `"'`)
			}
			// A non-string first argument means a computed key;
			// treat as no match rather than guessing.
			if arg.IsNamed() {
				return ""
			}
		}
		return ""
	}
	return ""
}

// hasDuplicateParametrize reports whether any function carries the
// same parametrize key twice.
func hasDuplicateParametrize(ctx context.Context, content string) bool {
	return len(duplicateParametrizeRanges(ctx, []byte(content))) > 0
}

// dedupeParametrize removes duplicate parametrize decorator lines,
// keeping each key's first occurrence. Reports whether anything was
// removed. Removal is line-based so the surviving source keeps its
// original formatting.
func dedupeParametrize(ctx context.Context, content string) (string, bool) {
	ranges := duplicateParametrizeRanges(ctx, []byte(content))
	if len(ranges) == 0 {
		return content, false
	}

	drop := make(map[int]bool)
	for _, r := range ranges {
		for row := r.start; row <= r.end; row++ {
			drop[row] = true
		}
	}

	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if drop[i] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), true
}
