// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// keyPrefix namespaces cell values inside the database.
const keyPrefix = "cell/"

// Config holds configuration for a BadgerDB-backed cell store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent stores. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use.
//
// Description:
//
//	Returns a Config with:
//	- SyncWrites enabled for durability
//	- 5-minute GC interval
//	- 50% discard ratio threshold
//
// Outputs:
//
//	Config - Ready-to-use production configuration
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing.
//
// Description:
//
//	Returns a Config with InMemory mode enabled, SyncWrites disabled,
//	and GC disabled.
//
// Outputs:
//
//	Config - Ready-to-use test configuration
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0, // disabled
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a CellStore backed by an embedded BadgerDB.
//
// # Description
//
// Stores one compacted JSON value per cell key under the "cell/" prefix.
// From the guard's point of view this is a plain read-then-write store:
// the guard never relies on badger transactions for the compare-and-swap,
// matching the non-transactional spreadsheet backend it stands in for.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db       *badger.DB
	gcRunner *gcRunner
	path     string
	inMemory bool
}

// Open creates and opens a BadgerDB-backed cell store.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist and
//	starts the GC runner when GCInterval is configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or database cannot be opened.
//
// Thread Safety: The returned store is safe for concurrent use.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil) // Disable BadgerDB's internal logging
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{
		db:       db,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcRunner = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gcRunner.Start()
	}

	return s, nil
}

// OpenInMemory is a convenience function for opening an in-memory store.
//
// Description:
//
//	Opens an in-memory store for testing. Data is lost when closed.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened (unlikely in-memory).
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

// Read returns the stored value for key, or the zero Value if absent.
//
// # Inputs
//
//   - ctx: Context for cancellation (checked before the read).
//   - key: The cell to read. Assumed already validated.
//
// # Outputs
//
//   - cell.Value: Stored value; zero Value when the key was never written.
//   - error: Non-nil on storage failure or cancelled context.
func (s *BadgerStore) Read(ctx context.Context, key cell.Key) (cell.Value, error) {
	if err := ctx.Err(); err != nil {
		return cell.Value{}, fmt.Errorf("context cancelled: %w", err)
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cell.Value{}, nil
	}
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return cell.Value{}, fmt.Errorf("%w: %v", ErrStoreClosed, err)
		}
		return cell.Value{}, fmt.Errorf("read %s: %w", key, err)
	}

	val, err := cell.NewValue(raw)
	if err != nil {
		return cell.Value{}, fmt.Errorf("decode stored value for %s: %w", key, err)
	}
	return val, nil
}

// Write stores value under key, replacing any prior value.
//
// # Inputs
//
//   - ctx: Context for cancellation (checked before the write).
//   - key: The cell to write. Assumed already validated.
//   - value: The value to store. The zero Value deletes the cell, so an
//     "empty" write and an absent cell read back identically.
//
// # Outputs
//
//   - error: Non-nil on storage failure; the value is durable on nil return
//     when SyncWrites is enabled.
func (s *BadgerStore) Write(ctx context.Context, key cell.Key, value cell.Value) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if value.IsZero() {
			err := txn.Delete(storeKey(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return txn.Set(storeKey(key), value.Raw())
	})
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return fmt.Errorf("%w: %v", ErrStoreClosed, err)
		}
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Close stops the GC runner and closes the database.
// Safe to call multiple times.
func (s *BadgerStore) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
		s.gcRunner = nil
	}
	return s.db.Close()
}

// Path returns the store path, or empty string for in-memory stores.
func (s *BadgerStore) Path() string {
	return s.path
}

// InMemory returns true if this is an in-memory store.
func (s *BadgerStore) InMemory() bool {
	return s.inMemory
}

// storeKey builds the namespaced database key for a cell.
func storeKey(key cell.Key) []byte {
	return []byte(keyPrefix + key.String())
}

// =============================================================================
// GC Runner
// =============================================================================

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Start begins periodic garbage collection in a background goroutine.
func (r *gcRunner) Start() {
	go r.run()
}

// Stop signals the GC goroutine to stop and waits for it to finish.
func (r *gcRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// RunValueLogGC returns nil if GC was triggered, ErrNoRewrite if not needed
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}

// Compile-time interface compliance.
var _ CellStore = (*BadgerStore)(nil)
