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
	"testing"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

func parseSource(t *testing.T, source string) *ast.SymbolTable {
	t.Helper()
	table, err := ast.NewPythonParser().Parse(context.Background(), []byte(source), "walker_fixture.py")
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return table
}

func TestDependenciesFollowsConstantsAndHelpers(t *testing.T) {
	table := parseSource(t, `THRESHOLD = 0.5


def clamp(x):
    return min(x, THRESHOLD)


def score(items):
    return [clamp(i) for i in items]
`)

	deps := NewWalker().Dependencies(table, []string{"score"})

	want := []string{"THRESHOLD", "clamp"}
	if len(deps) != len(want) {
		t.Fatalf("deps = %v, want %v", deps, want)
	}
	for i := range want {
		if deps[i] != want[i] {
			t.Errorf("deps[%d] = %s, want %s", i, deps[i], want[i])
		}
	}
}

func TestDependenciesTerminatesOnMutualRecursion(t *testing.T) {
	table := parseSource(t, `def is_even(n):
    return n == 0 or is_odd(n - 1)


def is_odd(n):
    return n != 0 and is_even(n - 1)
`)

	deps := NewWalker().Dependencies(table, []string{"is_even"})

	if len(deps) != 1 || deps[0] != "is_odd" {
		t.Errorf("deps = %v, want [is_odd]", deps)
	}
}

func TestDependenciesRespectsMaxDepth(t *testing.T) {
	table := parseSource(t, `def d():
    return 4


def c():
    return d()


def b():
    return c()


def a():
    return b()
`)

	deps := NewWalker(WithMaxDepth(2)).Dependencies(table, []string{"a"})

	for _, dep := range deps {
		if dep == "d" {
			t.Errorf("depth 2 walk should not reach d: %v", deps)
		}
	}
	if len(deps) != 2 {
		t.Errorf("deps = %v, want [b c]", deps)
	}
}

func TestDependenciesDecoratorMarkers(t *testing.T) {
	table := parseSource(t, `def verify_api_key(key):
    return key == "secret"


AUTH_DEPS = [Depends(verify_api_key)]


@app.get("/predict", dependencies=AUTH_DEPS)
def predict(payload):
    return payload
`)

	deps := NewWalker().Dependencies(table, []string{"predict"})

	found := make(map[string]bool, len(deps))
	for _, d := range deps {
		found[d] = true
	}
	if !found["AUTH_DEPS"] {
		t.Errorf("variable dependency marker missing: %v", deps)
	}
	if !found["verify_api_key"] {
		t.Errorf("Depends target not expanded through variable: %v", deps)
	}
}

func TestDependenciesUnknownTarget(t *testing.T) {
	table := parseSource(t, "def lone():\n    return 1\n")

	if deps := NewWalker().Dependencies(table, []string{"ghost"}); len(deps) != 0 {
		t.Errorf("unknown target should have no deps, got %v", deps)
	}
}
