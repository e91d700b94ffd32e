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
	badgerstore "github.com/AleutianAI/remedy/services/remedy/storage/badger"
)

// openTestDB opens an in-memory BadgerDB for testing.
func openTestDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIndexStoreRoundTrip(t *testing.T) {
	store := NewBadgerIndexStore(openTestDB(t), nil)
	ctx := context.Background()
	key := SnapshotKey("/tmp/project", "fake/axes")

	records := []EmbeddingRecord{
		{
			Element: ast.CodeElement{
				Kind:      ast.KindFunction,
				Name:      "predict",
				FilePath:  "app/main.py",
				StartLine: 10,
				DeclLine:  10,
				EndLine:   12,
				Source:    "def predict(x):\n    return x",
				Signature: "def predict(x)",
			},
			Vector: []float32{0.1, 0.2, 0.3},
		},
		{
			Element: ast.CodeElement{
				Kind:        ast.KindEndpoint,
				Name:        "health_check",
				FilePath:    "app/main.py",
				RouteMethod: "GET",
				RoutePath:   "/health",
				Source:      "def health_check():\n    pass",
			},
			Vector: []float32{0.4, 0.5, 0.6},
		},
	}

	if err := store.Save(ctx, key, records, "fake/axes"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(records) {
		t.Fatalf("loaded %d records, want %d", len(loaded), len(records))
	}
	for i := range records {
		if loaded[i].Element.Name != records[i].Element.Name {
			t.Errorf("record %d name = %s", i, loaded[i].Element.Name)
		}
		if len(loaded[i].Vector) != len(records[i].Vector) {
			t.Errorf("record %d vector length = %d", i, len(loaded[i].Vector))
		}
	}
	if loaded[1].Element.RouteMethod != "GET" || loaded[1].Element.RoutePath != "/health" {
		t.Errorf("route info lost: %+v", loaded[1].Element)
	}
}

func TestIndexStoreMissIsNotAnError(t *testing.T) {
	store := NewBadgerIndexStore(openTestDB(t), nil)

	loaded, err := store.Load(context.Background(), SnapshotKey("/other", "fake/axes"))
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if loaded != nil {
		t.Errorf("miss should be nil, got %+v", loaded)
	}
}

func TestSnapshotKeyChangesWithInputs(t *testing.T) {
	base := SnapshotKey("/project", "ollama/model-a")
	if SnapshotKey("/project", "ollama/model-b") == base {
		t.Error("backend change did not change key")
	}
	if SnapshotKey("/other", "ollama/model-a") == base {
		t.Error("root change did not change key")
	}
	if SnapshotKey("/project", "ollama/model-a") != base {
		t.Error("key not deterministic")
	}
}

func TestIndexerReusesSnapshot(t *testing.T) {
	root := writeIndexProject(t)
	store := NewBadgerIndexStore(openTestDB(t), nil)
	ctx := context.Background()

	first := NewIndexer(root, fakeBackend{}, WithIndexStore(store))
	if err := first.Build(ctx, false); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	built := first.Len()
	if built == 0 {
		t.Fatal("nothing indexed")
	}

	// A second indexer over the same root and backend must load the
	// snapshot instead of re-embedding, even with a broken backend.
	second := NewIndexer(root, failingBackend{}, WithIndexStore(store))
	secondKeyBackend := NewIndexer(root, fakeBackend{}, WithIndexStore(store))
	if err := secondKeyBackend.Build(ctx, false); err != nil {
		t.Fatalf("snapshot Build: %v", err)
	}
	if secondKeyBackend.Len() != built {
		t.Errorf("snapshot load returned %d records, want %d", secondKeyBackend.Len(), built)
	}

	// Different backend identity means a different key, so the broken
	// backend builds fresh with zero-vectors instead of loading.
	t.Setenv("VECTOR_DIM", "4")
	if err := second.Build(ctx, false); err != nil {
		t.Fatalf("rebuild Build: %v", err)
	}
	for _, r := range second.Records() {
		if len(r.Vector) != 4 {
			t.Fatalf("expected fresh zero-vector build, got dim %d", len(r.Vector))
		}
	}
}
