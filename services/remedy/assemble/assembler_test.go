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
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

const assemblerFixture = `import os
from helpers import shared

LIMIT = 10


def helper(x):
    return x + LIMIT


def target(items):
    return [helper(i) for i in items]


def unrelated_one():
    return "filler one"


def unrelated_two():
    return "filler two"
`

func fixtureTable(t *testing.T) *ast.SymbolTable {
	t.Helper()
	table, err := ast.NewPythonParser().Parse(context.Background(), []byte(assemblerFixture), "app/logic.py")
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return table
}

func TestAssemblePriorityOrder(t *testing.T) {
	bundle := NewBundle(DefaultBudget)
	NewAssembler().AssembleInto(bundle, fixtureTable(t), []string{"target"}, []string{"LIMIT", "helper"})

	var order []string
	for _, item := range bundle.Items {
		order = append(order, item.Name)
	}

	// Imports, then the referenced constant, then the target, then its
	// dependency, then filler.
	wantPrefix := []string{"import os", "from helpers import shared", "LIMIT", "target", "helper"}
	if len(order) < len(wantPrefix) {
		t.Fatalf("items = %v", order)
	}
	for i, want := range wantPrefix {
		if order[i] != want {
			t.Errorf("item[%d] = %q, want %q (all: %v)", i, order[i], want, order)
		}
	}

	var filler int
	for _, name := range order[len(wantPrefix):] {
		if strings.HasPrefix(name, "unrelated_") {
			filler++
		}
	}
	if filler != 2 {
		t.Errorf("expected both filler definitions, got %v", order)
	}
}

func TestAssembleBudgetIsAllOrNothing(t *testing.T) {
	// Budget of 6 lines: imports (2) + LIMIT (1) + target (2) fit;
	// helper (2 lines) would exceed and must be skipped whole.
	bundle := NewBundle(6)
	NewAssembler().AssembleInto(bundle, fixtureTable(t), []string{"target"}, []string{"LIMIT", "helper"})

	if bundle.TotalLines() > bundle.Budget {
		t.Fatalf("total %d exceeds budget %d", bundle.TotalLines(), bundle.Budget)
	}
	for _, item := range bundle.Items {
		if item.Kind == ast.KindImport {
			continue
		}
		el := item.Text[strings.Index(item.Text, "\n")+1:]
		if strings.Count(el, "\n")+1 != item.Lines {
			t.Errorf("item %s truncated: claims %d lines", item.Name, item.Lines)
		}
	}
	if bundle.Contains(ast.KindFunction, "helper") {
		t.Error("helper should have been skipped whole, not squeezed in")
	}
}

func TestAssembleNoTargetsAddsNothing(t *testing.T) {
	bundle := NewBundle(DefaultBudget)
	NewAssembler().AssembleInto(bundle, fixtureTable(t), []string{"ghost"}, nil)

	if !bundle.IsEmpty() {
		t.Errorf("unresolvable targets should yield an empty bundle, got %d items", len(bundle.Items))
	}
}

func TestBundleRenderGroupsByFile(t *testing.T) {
	bundle := NewBundle(DefaultBudget)
	NewAssembler().AssembleInto(bundle, fixtureTable(t), []string{"target"}, nil)

	rendered := bundle.Render()
	if !strings.HasPrefix(rendered, "# app/logic.py\n```python\n") {
		t.Errorf("render header wrong:\n%s", rendered)
	}
	if !strings.Contains(rendered, "# function: target (line ") {
		t.Errorf("marker missing:\n%s", rendered)
	}
	if strings.Count(rendered, "```python") != 1 {
		t.Errorf("expected one fenced group:\n%s", rendered)
	}
}

func TestWholeFileTruncatesToBudget(t *testing.T) {
	bundle := NewBundle(3)
	NewAssembler().WholeFile(bundle, "broken.py", "a = 1\nb = 2\nc = 3\nd = 4\ne = 5")

	if bundle.TotalLines() > bundle.Budget {
		t.Fatalf("total %d exceeds budget %d", bundle.TotalLines(), bundle.Budget)
	}
	if len(bundle.Items) != 1 {
		t.Fatalf("items = %d", len(bundle.Items))
	}
	if !strings.Contains(bundle.Items[0].Text, "truncated") {
		t.Error("truncation note missing")
	}
}
