package kv

import (
	"fmt"

	"github.com/devrev/pairdb/ledger-node/internal/errors"
	bolt "go.etcd.io/bbolt"
)

// Cursor walks a database in key order. Returned keys and values are only
// valid for the life of the transaction. A nil key means the cursor is
// exhausted.
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
}

// Readable is the capability to read committed state. A Reader sees a
// fixed snapshot; a Writer additionally sees its own uncommitted writes.
type Readable interface {
	Get(db DbName, key []byte) ([]byte, error)
	Cursor(db DbName) (Cursor, error)
}

// Writable is the capability to stage durable writes
type Writable interface {
	Readable
	Put(db DbName, key, value []byte) error
	Delete(db DbName, key []byte) error
}

type txn struct {
	tx *bolt.Tx
}

func (t txn) bucket(db DbName) (*bolt.Bucket, error) {
	if t.tx.DB() == nil {
		return nil, errors.StoreFailed(fmt.Sprintf("read of %s through a finished transaction", db), bolt.ErrTxClosed)
	}
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil, errors.StoreFailed(fmt.Sprintf("database %s does not exist", db), nil)
	}
	return b, nil
}

// Get returns the value stored at key, or nil if absent
func (t txn) Get(db DbName, key []byte) ([]byte, error) {
	b, err := t.bucket(db)
	if err != nil {
		return nil, err
	}
	return b.Get(key), nil
}

// Cursor opens a cursor over db
func (t txn) Cursor(db DbName) (Cursor, error) {
	b, err := t.bucket(db)
	if err != nil {
		return nil, err
	}
	return b.Cursor(), nil
}

// Reader is a read-only snapshot of the environment
type Reader struct {
	txn
}

// Close releases the snapshot
func (r *Reader) Close() error {
	if err := r.tx.Rollback(); err != nil && err != bolt.ErrTxClosed {
		return errors.StoreFailed("failed to close read transaction", err)
	}
	return nil
}

// Writer is the single exclusive write transaction
type Writer struct {
	txn
	done bool
}

// Put writes value at key as part of this transaction
func (w *Writer) Put(db DbName, key, value []byte) error {
	b, err := w.bucket(db)
	if err != nil {
		return err
	}
	if err := b.Put(key, value); err != nil {
		return errors.StoreFailed(fmt.Sprintf("failed to put into %s", db), err)
	}
	return nil
}

// Delete removes key as part of this transaction
func (w *Writer) Delete(db DbName, key []byte) error {
	b, err := w.bucket(db)
	if err != nil {
		return err
	}
	if err := b.Delete(key); err != nil {
		return errors.StoreFailed(fmt.Sprintf("failed to delete from %s", db), err)
	}
	return nil
}

// Commit makes every write of this transaction durable
func (w *Writer) Commit() error {
	if w.done {
		return errors.StoreFailed("write transaction already finished", bolt.ErrTxClosed)
	}
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return errors.StoreFailed("failed to commit write transaction", err)
	}
	return nil
}

// Abort discards every write of this transaction. It is safe to call after
// Commit, where it does nothing.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tx.Rollback()
}
