// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"testing"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// axisRecord builds a record with a vector on the fake backend's axes.
func axisRecord(name string, kind ast.ElementKind, file string, vec []float32) EmbeddingRecord {
	return EmbeddingRecord{
		Element: ast.CodeElement{
			Kind:      kind,
			Name:      name,
			FilePath:  file,
			StartLine: 1,
			EndLine:   2,
			Source:    "def " + name + "():\n    pass",
		},
		Vector: vec,
	}
}

func axisRetriever(records ...EmbeddingRecord) *Retriever {
	ix := NewIndexer("/nonexistent", fakeBackend{})
	ix.records = records
	return NewRetriever(ix, fakeBackend{})
}

func defaultRecords() []EmbeddingRecord {
	endpoint := axisRecord("health_check", ast.KindEndpoint, "app/main.py", []float32{0, 1, 0, 0})
	endpoint.Element.RouteMethod = "GET"
	endpoint.Element.RoutePath = "/health"
	return []EmbeddingRecord{
		axisRecord("predict", ast.KindFunction, "app/main.py", []float32{1, 0, 0, 0}),
		endpoint,
		axisRecord("get_user", ast.KindFunction, "app/users.py", []float32{0, 0, 1, 0}),
		axisRecord("degraded", ast.KindFunction, "app/old.py", []float32{0, 0, 0, 0}),
	}
}

func TestSearchRanksAndFilters(t *testing.T) {
	r := axisRetriever(defaultRecords()...)
	ctx := context.Background()

	results := r.Search(ctx, "predict", SearchOptions{MinSimilarity: 0.5})
	if len(results) != 1 || results[0].Element.Name != "predict" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Rank != 1 || results[0].Score < 0.99 {
		t.Errorf("rank=%d score=%f", results[0].Rank, results[0].Score)
	}

	// Kind filter excludes the function hits.
	results = r.Search(ctx, "health", SearchOptions{Kind: ast.KindEndpoint})
	if len(results) != 1 || results[0].Element.Name != "health_check" {
		t.Errorf("endpoint filter results = %+v", results)
	}

	// A strict threshold drops a partial match. Query mixes two axes,
	// so cosine against the single-axis predict vector is ~0.707.
	results = r.Search(ctx, "predict health", SearchOptions{MinSimilarity: 0.8})
	if len(results) != 0 {
		t.Errorf("threshold 0.8 should drop partial matches, got %+v", results)
	}
}

func TestSearchEmptyIndexReturnsNothing(t *testing.T) {
	r := axisRetriever()
	if results := r.Search(context.Background(), "predict", SearchOptions{}); results != nil {
		t.Errorf("empty index returned %+v", results)
	}
}

func TestSearchByEndpointFallsBackToFunctions(t *testing.T) {
	ctx := context.Background()

	withEndpoint := axisRetriever(defaultRecords()...)
	results := withEndpoint.SearchByEndpoint(ctx, "get", "/health", 5)
	if len(results) == 0 || results[0].Element.Kind != ast.KindEndpoint {
		t.Fatalf("endpoint search results = %+v", results)
	}

	// Without endpoint elements, fall back to function-kind search.
	functionsOnly := axisRetriever(
		axisRecord("check_health", ast.KindFunction, "app/main.py", []float32{0, 1, 0, 0}),
	)
	results = functionsOnly.SearchByEndpoint(ctx, "get", "/health", 5)
	if len(results) != 1 || results[0].Element.Name != "check_health" {
		t.Errorf("fallback results = %+v", results)
	}
}

func TestFindMissingTarget(t *testing.T) {
	r := axisRetriever(defaultRecords()...)
	ctx := context.Background()

	if res := r.FindMissingTarget(ctx, "predict", "", 0); res == nil || res.Element.Name != "predict" {
		t.Errorf("existing target judged missing: %+v", res)
	}

	// No record carries the gamma axis, so the best score is 0.
	if res := r.FindMissingTarget(ctx, "gamma", "", 0); res != nil {
		t.Errorf("absent target judged present: %+v", res)
	}
}

func TestVerifyTargets(t *testing.T) {
	r := axisRetriever(defaultRecords()...)

	verified := r.VerifyTargets(context.Background(), []string{"predict", "gamma"}, "", 0)
	if !verified["predict"] {
		t.Error("predict should verify")
	}
	if verified["gamma"] {
		t.Error("gamma should not verify")
	}
}

func TestContextItemsCarryMarkers(t *testing.T) {
	results := []SearchResult{
		{Element: defaultRecords()[0].Element, Score: 0.9, Rank: 1},
		{Element: ast.CodeElement{Kind: ast.KindFunction, Name: "empty"}, Score: 0.8, Rank: 2},
	}

	items := ContextItems(results)
	if len(items) != 1 {
		t.Fatalf("sourceless element should be dropped, items = %+v", items)
	}
	if items[0].Name != "predict" || items[0].Lines != 2 {
		t.Errorf("item = %+v", items[0])
	}
	if want := "# function: predict (line 1)"; items[0].Text[:len(want)] != want {
		t.Errorf("marker missing: %q", items[0].Text)
	}
}
