// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps dgraph-io/badger/v4 behind a small DB type with
// context-aware transaction helpers. The wrapper owns lifecycle (open,
// periodic value-log GC, close); callers own key layout and encoding.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory runs entirely in memory. Used by tests.
	InMemory bool

	// GCInterval is how often the value-log garbage collector runs.
	// Zero disables background GC.
	GCInterval time.Duration

	// Logger receives open/close and GC events. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns an on-disk configuration with hourly GC.
// Callers set Path before opening.
func DefaultConfig() Config {
	return Config{GCInterval: time.Hour}
}

// InMemoryConfig returns a configuration for an ephemeral in-memory
// database with no background GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an open BadgerDB handle.
//
// # Thread Safety
//
// Safe for concurrent use. Close is idempotent.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	stopGC    chan struct{}
	gcDone    chan struct{}
}

// OpenDB opens (or creates) the database described by cfg.
//
// # Description
//
// Badger's own logger is silenced; lifecycle events go to cfg.Logger
// instead. When cfg.GCInterval is positive a background goroutine runs
// value-log GC on that interval until Close.
//
// # Outputs
//
//   - *DB: Open handle. Caller must Close.
//   - error: Non-nil when the directory cannot be opened.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path is empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %q: %w", cfg.Path, err)
	}

	db := &DB{
		db:     inner,
		logger: logger,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go db.runGC(cfg.GCInterval)
	} else {
		close(db.gcDone)
	}

	logger.Debug("badger opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return db, nil
}

// WithTxn runs fn inside a read-write transaction and commits on nil
// return. The context is checked before the transaction starts; Badger
// transactions themselves are not cancellable mid-flight.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// DropPrefix deletes every key under the given prefix. Used when a
// cached snapshot is invalidated wholesale.
func (d *DB) DropPrefix(prefix []byte) error {
	return d.db.DropPrefix(prefix)
}

// Close stops background GC and closes the underlying database.
// Safe to call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopGC)
		<-d.gcDone
		d.closeErr = d.db.Close()
		d.logger.Debug("badger closed")
	})
	return d.closeErr
}

// runGC runs value-log garbage collection on a fixed interval until
// Close. Repeats within a tick while GC reports progress.
func (d *DB) runGC(interval time.Duration) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			for {
				if err := d.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}
