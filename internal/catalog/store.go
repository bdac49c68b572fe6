// Package catalog implements the Catalog Store: the single piece of
// durable, shared mutable state in the pipeline. A single writer batches
// mutations into periodic commits; readers see a consistent snapshot as
// of the last committed batch, backed by SQLite's WAL mode.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/latchkey-labs/pileup/internal/common"
)

// Store implements service.Catalog against a SQLite database, with
// batched writes flushed on the calling goroutine and a cross-process
// advisory lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string

	mu      sync.Mutex
	pending []writeOp
	batchN  int
}

// writeOp is one queued mutation, applied inside the next flushed batch.
type writeOp func(*sql.Tx) error

// Options configures a new Store.
type Options struct {
	// BatchSize is the number of pending writes accumulated before an
	// automatic flush. A value <= 0 selects the default of 500.
	BatchSize int
}

// Open creates or opens the catalog database at path, acquiring an
// advisory lock alongside it so a second process pointed at the same
// catalog fails fast instead of racing the single writer.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: catalog path is empty", common.ErrConfig)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating catalog directory %s: %v", common.ErrCatalog, dir, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring catalog lock: %v", common.ErrCatalog, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: catalog %s is locked by another pileup process", common.ErrCatalog, path)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: opening catalog database: %v", common.ErrCatalog, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: pinging catalog database: %v", common.ErrCatalog, err)
	}

	batchN := opts.BatchSize
	if batchN <= 0 {
		batchN = 500
	}

	return &Store{db: db, lock: lock, path: path, batchN: batchN}, nil
}

// Close flushes any pending writes and releases the catalog's resources.
func (s *Store) Close() error {
	flushErr := s.Flush(context.Background())
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if flushErr != nil {
		return flushErr
	}
	if dbErr != nil {
		return fmt.Errorf("%w: closing catalog database: %v", common.ErrCatalog, dbErr)
	}
	if lockErr != nil {
		return fmt.Errorf("%w: releasing catalog lock: %v", common.ErrCatalog, lockErr)
	}
	return nil
}

// enqueue adds a write to the pending batch, flushing immediately if the
// batch threshold is reached.
func (s *Store) enqueue(ctx context.Context, op writeOp) error {
	s.mu.Lock()
	s.pending = append(s.pending, op)
	full := len(s.pending) >= s.batchN
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush commits every pending write in a single transaction. Safe to call
// concurrently with enqueue; a no-op when nothing is pending.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning catalog batch: %v", common.ErrCatalog, err)
	}
	for _, op := range batch {
		if err := op(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: applying catalog batch write: %v", common.ErrCatalog, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing catalog batch of %d writes: %v", common.ErrCatalog, len(batch), err)
	}
	return nil
}

// withFreshRead flushes pending writes before a read so the caller always
// sees its own prior writes, matching the "readers see a consistent
// snapshot as of the last committed batch" invariant.
func (s *Store) withFreshRead(ctx context.Context) error {
	return s.Flush(ctx)
}
