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
	"errors"
	"strings"
	"testing"
)

const sampleSource = `"""Sample module."""
import os
from app.db import get_session as session

MAX_RETRIES = 3
default_timeout = 30


def top_level(x):
    """Adds retries."""
    return x + MAX_RETRIES


@pytest.mark.parametrize("case", CASES)
def decorated(case):
    return helper(case)


class UserService:
    """Service for users."""

    def fetch(self, user_id):
        return self.db.get(user_id)

    @retry(times=MAX_RETRIES)
    def store(self, user):
        return self.db.put(user)


@app.get("/users/{user_id}")
async def read_user(user_id: int):
    return load_user(user_id)
`

func parseSample(t *testing.T) *SymbolTable {
	t.Helper()
	table, err := NewPythonParser().Parse(context.Background(), []byte(sampleSource), "app/service.py")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return table
}

func TestParseExtractsTopLevelDefinitions(t *testing.T) {
	table := parseSample(t)

	for _, name := range []string{"MAX_RETRIES", "default_timeout", "top_level", "decorated", "UserService", "read_user"} {
		if _, ok := table.Get(name); !ok {
			t.Errorf("expected element %q, names: %v", name, table.Names())
		}
	}

	maxRetries, _ := table.Get("MAX_RETRIES")
	if maxRetries.Kind != KindConstant {
		t.Errorf("MAX_RETRIES kind = %s, want %s", maxRetries.Kind, KindConstant)
	}
	timeout, _ := table.Get("default_timeout")
	if timeout.Kind != KindVariable {
		t.Errorf("default_timeout kind = %s, want %s", timeout.Kind, KindVariable)
	}
}

func TestParseQualifiesMethods(t *testing.T) {
	table := parseSample(t)

	fetch, ok := table.Get("UserService.fetch")
	if !ok {
		t.Fatalf("UserService.fetch not found, names: %v", table.Names())
	}
	if fetch.Kind != KindMethod {
		t.Errorf("kind = %s, want %s", fetch.Kind, KindMethod)
	}
	if !strings.HasPrefix(fetch.Signature, "def fetch(") {
		t.Errorf("signature = %q", fetch.Signature)
	}

	// Bare method name resolves through the unique-suffix fallback.
	if _, ok := table.Get("store"); !ok {
		t.Error("bare method name 'store' did not resolve")
	}
}

func TestParseDecoratedSpanIncludesDecorators(t *testing.T) {
	table := parseSample(t)

	dec, ok := table.Get("decorated")
	if !ok {
		t.Fatal("decorated not found")
	}
	if dec.DeclLine <= dec.StartLine {
		t.Errorf("DeclLine %d should follow decorator StartLine %d", dec.DeclLine, dec.StartLine)
	}
	if !strings.HasPrefix(dec.Source, "@pytest.mark.parametrize") {
		t.Errorf("source should start at decorator, got %q", dec.Source[:40])
	}
	if !strings.HasSuffix(strings.TrimSpace(dec.Source), "return helper(case)") {
		t.Errorf("source should end with body, got %q", dec.Source)
	}
}

func TestParseExtractsRouteEndpoints(t *testing.T) {
	table := parseSample(t)

	if len(table.Endpoints) != 1 {
		t.Fatalf("endpoints = %d, want 1", len(table.Endpoints))
	}
	ep := table.Endpoints[0]
	if ep.Kind != KindEndpoint {
		t.Errorf("kind = %s", ep.Kind)
	}
	if ep.RouteMethod != "GET" || ep.RoutePath != "/users/{user_id}" {
		t.Errorf("route = %s %s", ep.RouteMethod, ep.RoutePath)
	}
	if ep.Name != "read_user" {
		t.Errorf("name = %s", ep.Name)
	}
}

func TestParseExtractsImports(t *testing.T) {
	table := parseSample(t)

	var sawOS, sawAliased bool
	for _, imp := range table.Imports {
		if imp.Module == "os" {
			sawOS = true
		}
		if imp.Module == "app.db" {
			sawAliased = true
			if len(imp.Names) != 1 || imp.Names[0].Name != "get_session" || imp.Names[0].Alias != "session" {
				t.Errorf("aliased from-import parsed as %+v", imp.Names)
			}
		}
	}
	if !sawOS || !sawAliased {
		t.Errorf("imports missing: os=%v app.db=%v", sawOS, sawAliased)
	}
}

func TestParseCollectsBodyRefs(t *testing.T) {
	table := parseSample(t)

	top, _ := table.Get("top_level")
	var found bool
	for _, ref := range top.Refs {
		if ref == "MAX_RETRIES" {
			found = true
		}
	}
	if !found {
		t.Errorf("top_level refs missing MAX_RETRIES: %v", top.Refs)
	}
}

func TestParseDocstrings(t *testing.T) {
	table := parseSample(t)

	top, _ := table.Get("top_level")
	if top.Docstring != "Adds retries." {
		t.Errorf("docstring = %q", top.Docstring)
	}
	svc, _ := table.Get("UserService")
	if svc.Docstring != "Service for users." {
		t.Errorf("class docstring = %q", svc.Docstring)
	}
}

func TestParseRejectsBrokenSyntax(t *testing.T) {
	_, err := NewPythonParser().Parse(context.Background(), []byte("def broken(:\n    pass\n"), "bad.py")
	if err == nil {
		t.Fatal("expected error for broken syntax")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("expected ErrSyntax, got %v", err)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	a := parseSample(t)
	b := parseSample(t)

	if a.Hash != b.Hash {
		t.Errorf("hash mismatch: %s vs %s", a.Hash, b.Hash)
	}
	if a.Len() != b.Len() {
		t.Fatalf("element count mismatch: %d vs %d", a.Len(), b.Len())
	}
	for i, el := range a.Elements() {
		other := b.Elements()[i]
		if el.Name != other.Name || el.StartLine != other.StartLine || el.EndLine != other.EndLine {
			t.Errorf("element %d differs: %+v vs %+v", i, el, other)
		}
	}
}

func TestCheckSyntax(t *testing.T) {
	if err := CheckSyntax(context.Background(), []byte("def ok():\n    return 1\n")); err != nil {
		t.Errorf("valid source rejected: %v", err)
	}
	if err := CheckSyntax(context.Background(), []byte("def broken(:\n")); !errors.Is(err, ErrSyntax) {
		t.Errorf("broken source accepted: %v", err)
	}
}

func TestNormalizeUnitName(t *testing.T) {
	cases := map[string]string{
		"test_foo[case-1]":      "test_foo",
		"test_foo":              "test_foo",
		"TestUser.test_get[3]":  "TestUser.test_get",
		"  test_ws  ":           "test_ws",
		"test_idx[a[b]]":        "test_idx",
	}
	for in, want := range cases {
		if got := NormalizeUnitName(in); got != want {
			t.Errorf("NormalizeUnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	el := &CodeElement{Kind: KindMethod, Name: "UserService.fetch", StartLine: 21}
	kind, name, ok := ParseMarker(el.Marker())
	if !ok || kind != KindMethod || name != "UserService.fetch" {
		t.Errorf("round trip failed: %s %s %v", kind, name, ok)
	}

	if _, _, ok := ParseMarker("# just a comment"); ok {
		t.Error("plain comment parsed as marker")
	}
	if _, _, ok := ParseMarker("x = 1"); ok {
		t.Error("code line parsed as marker")
	}
}
