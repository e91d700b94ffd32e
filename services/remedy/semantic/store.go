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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/remedy/services/remedy/ast"
	badgerstore "github.com/AleutianAI/remedy/services/remedy/storage/badger"
)

// indexKeyPrefix versions the snapshot key space. Bump on any change
// to the gob payload shape so stale snapshots read as misses.
const indexKeyPrefix = "semantic/idx/v1/"

// errSnapshotMiss distinguishes "no snapshot for this key" from a
// storage failure. Internal; callers see (nil, nil) on miss.
var errSnapshotMiss = errors.New("snapshot miss")

// indexSnapshot is the gob-encoded persisted form of a built index.
// Invalidation is wholesale: the key hash covers project root and
// backend identity, so either change produces a fresh build.
type indexSnapshot struct {
	Elements []ast.CodeElement
	Vectors  [][]float32
	Backend  string
}

// IndexStore persists built index snapshots between runs.
//
// Load returns (nil, nil) on miss. A nil IndexStore on the Indexer
// disables persistence entirely.
type IndexStore interface {
	Load(ctx context.Context, key string) ([]EmbeddingRecord, error)
	Save(ctx context.Context, key string, records []EmbeddingRecord, backend string) error
}

// BadgerIndexStore persists snapshots in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerIndexStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewBadgerIndexStore creates a store over an open database. The store
// does not own the database; the caller closes it.
func NewBadgerIndexStore(db *badgerstore.DB, logger *slog.Logger) *BadgerIndexStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerIndexStore{db: db, logger: logger}
}

// Load reads the snapshot for key. Miss is (nil, nil), never an error.
func (s *BadgerIndexStore) Load(ctx context.Context, key string) ([]EmbeddingRecord, error) {
	dbKey := indexKey(key)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(dbKey)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errSnapshotMiss
		}
		if err != nil {
			return fmt.Errorf("get snapshot key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errSnapshotMiss) {
		s.logger.Debug("index store: miss", slog.String("key", shortKey(key)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index store load: %w", err)
	}

	var snap indexSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("index store decode: %w", err)
	}
	if len(snap.Elements) != len(snap.Vectors) {
		return nil, fmt.Errorf("index store decode: %d elements vs %d vectors", len(snap.Elements), len(snap.Vectors))
	}

	records := make([]EmbeddingRecord, len(snap.Elements))
	for i := range snap.Elements {
		records[i] = EmbeddingRecord{Element: snap.Elements[i], Vector: snap.Vectors[i]}
	}

	s.logger.Debug("index store: hit",
		slog.String("key", shortKey(key)),
		slog.Int("elements", len(records)),
		slog.String("backend", snap.Backend),
	)
	return records, nil
}

// Save persists records under key, replacing any previous snapshot.
// An empty record set is a no-op.
func (s *BadgerIndexStore) Save(ctx context.Context, key string, records []EmbeddingRecord, backend string) error {
	if len(records) == 0 {
		return nil
	}

	snap := indexSnapshot{
		Elements: make([]ast.CodeElement, len(records)),
		Vectors:  make([][]float32, len(records)),
		Backend:  backend,
	}
	for i, r := range records {
		snap.Elements[i] = r.Element
		snap.Vectors[i] = r.Vector
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("index store encode: %w", err)
	}

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(indexKey(key), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("index store save: %w", err)
	}

	s.logger.Debug("index store: saved",
		slog.String("key", shortKey(key)),
		slog.Int("elements", len(records)),
		slog.Int("bytes", buf.Len()),
	)
	return nil
}

// =============================================================================
// Keys
// =============================================================================

// SnapshotKey derives the persistence key for one project/backend
// pair: hex SHA256 over the absolute project root and the backend
// identity. Either changing forces a rebuild.
func SnapshotKey(projectRoot, backendIdentity string) string {
	h := sha256.New()
	fmt.Fprintf(h, "root=%s\n", projectRoot)
	fmt.Fprintf(h, "backend=%s\n", backendIdentity)
	return hex.EncodeToString(h.Sum(nil))
}

func indexKey(key string) []byte {
	return []byte(indexKeyPrefix + key)
}

// shortKey returns the first 8 characters of a key for log display.
func shortKey(k string) string {
	if len(k) > 8 {
		return k[:8]
	}
	return k
}
