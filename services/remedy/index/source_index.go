// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index caches parsed SymbolTables per file path. The cache is
// populated lazily and never invalidated on file change; callers that
// rewrite a file evict its entry explicitly.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/AleutianAI/remedy/services/remedy/ast"
)

// SourceIndexOption configures a SourceIndex instance.
type SourceIndexOption func(*SourceIndex)

// WithLogger sets the logger used for cache events.
func WithLogger(logger *slog.Logger) SourceIndexOption {
	return func(s *SourceIndex) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SourceIndex is a lazy per-file SymbolTable cache.
//
// Thread Safety:
//
//	SourceIndex is safe for concurrent use. A mutex guards the table map;
//	cached SymbolTables are immutable.
type SourceIndex struct {
	parser ast.Parser
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string]*ast.SymbolTable

	hits   int64
	misses int64
}

// IndexStats reports cache effectiveness.
type IndexStats struct {
	CachedFiles int   `json:"cached_files"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// NewSourceIndex creates a SourceIndex backed by the given parser.
func NewSourceIndex(parser ast.Parser, opts ...SourceIndexOption) *SourceIndex {
	s := &SourceIndex{
		parser: parser,
		logger: slog.Default(),
		tables: make(map[string]*ast.SymbolTable),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the SymbolTable for filePath, reading and parsing the file
// on first access. Subsequent calls return the cached table until Evict.
func (s *SourceIndex) Get(ctx context.Context, filePath string) (*ast.SymbolTable, error) {
	s.mu.RLock()
	table, ok := s.tables[filePath]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return table, nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}

	table, err = s.parser.Parse(ctx, content, filePath)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A concurrent Get may have raced us here; keep the first entry so
	// callers holding it keep a consistent view.
	if existing, ok := s.tables[filePath]; ok {
		table = existing
	} else {
		s.tables[filePath] = table
		s.misses++
	}
	s.mu.Unlock()

	s.logger.Debug("source index parse",
		slog.String("file", filePath),
		slog.Int("elements", table.Len()))

	return table, nil
}

// Parse parses content directly and caches the result under filePath.
// Used when the caller already holds the bytes, e.g. mid-patch.
func (s *SourceIndex) Parse(ctx context.Context, content []byte, filePath string) (*ast.SymbolTable, error) {
	table, err := s.parser.Parse(ctx, content, filePath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.tables[filePath] = table
	s.mu.Unlock()
	return table, nil
}

// Evict drops the cached table for filePath. Called after a successful
// patch rewrite so the next Get re-parses the new content.
func (s *SourceIndex) Evict(filePath string) {
	s.mu.Lock()
	delete(s.tables, filePath)
	s.mu.Unlock()
}

// Reset drops every cached table.
func (s *SourceIndex) Reset() {
	s.mu.Lock()
	s.tables = make(map[string]*ast.SymbolTable)
	s.hits = 0
	s.misses = 0
	s.mu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (s *SourceIndex) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IndexStats{
		CachedFiles: len(s.tables),
		Hits:        s.hits,
		Misses:      s.misses,
	}
}
