// Package kv binds the ledger to its embedded transactional key-value
// engine. The engine gives any number of concurrent read-only snapshots and
// a single exclusive, serialized write transaction.
package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// DbName names a database (bucket) inside the environment
type DbName string

const (
	// ChainSequence holds the source chain sequence items, keyed by index
	ChainSequence DbName = "chain_sequence"
	// Meta holds environment bookkeeping
	Meta DbName = "meta"
)

// AllDbs lists every database created when the environment opens
var AllDbs = []DbName{ChainSequence, Meta}

// Config holds engine configuration
type Config struct {
	Path            string
	OpenTimeout     time.Duration
	InitialMmapSize int
	NoSync          bool
}

// Env is an open engine instance, shared process-wide and passed explicitly
// to whatever needs readers or writers
type Env struct {
	db     *bolt.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the environment at cfg.Path
func Open(cfg *Config, logger *zap.Logger) (*Env, error) {
	if cfg.Path == "" {
		return nil, errors.InvalidArgument("kv path is required", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, errors.StoreFailed("failed to create kv directory", err)
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:         cfg.OpenTimeout,
		InitialMmapSize: cfg.InitialMmapSize,
		NoSync:          cfg.NoSync,
	})
	if err != nil {
		return nil, errors.StoreFailed(fmt.Sprintf("failed to open kv environment %s", cfg.Path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range AllDbs {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.StoreFailed("failed to initialise kv databases", err)
	}

	logger.Info("Opened kv environment",
		zap.String("path", cfg.Path),
		zap.Bool("no_sync", cfg.NoSync))

	return &Env{db: db, path: cfg.Path, logger: logger}, nil
}

// Path returns the environment's file path
func (e *Env) Path() string {
	return e.path
}

// Reader begins a read-only snapshot. The caller must Close it.
func (e *Env) Reader() (*Reader, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, errors.StoreFailed("failed to begin read transaction", err)
	}
	return &Reader{txn{tx: tx}}, nil
}

// Writer begins the exclusive write transaction, blocking while another
// writer is open. The caller must Commit or Abort it.
func (e *Env) Writer() (*Writer, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, errors.StoreFailed("failed to begin write transaction", err)
	}
	return &Writer{txn: txn{tx: tx}}, nil
}

// WithReader runs fn against a fresh snapshot and closes it afterwards
func (e *Env) WithReader(fn func(r *Reader) error) error {
	r, err := e.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// WithWriter runs fn inside the write transaction. The transaction commits
// iff fn returns nil; otherwise nothing fn wrote becomes durable.
func (e *Env) WithWriter(fn func(w *Writer) error) error {
	w, err := e.Writer()
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// Close closes the environment. Open transactions must be finished first.
func (e *Env) Close() error {
	if err := e.db.Close(); err != nil {
		return errors.StoreFailed("failed to close kv environment", err)
	}
	e.logger.Info("Closed kv environment", zap.String("path", e.path))
	return nil
}
