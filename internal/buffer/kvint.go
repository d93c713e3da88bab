// Package buffer stages writes over the kv engine in memory and applies
// them durably only when finalized inside the caller's write transaction.
package buffer

import (
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/storage/memtable"
)

// StoreBuffer is implemented by every view that stages writes before
// committing them.
//
// Finalize is called at most once, only while the caller holds the single
// write transaction. Either every staged write becomes part of w, or none
// does and an error says why. Nothing before Finalize touches durable
// state. The caller commits w after a nil return and abandons it otherwise.
type StoreBuffer interface {
	Finalize(w *kv.Writer) error
}

// KvIntBuffer layers an ordered in-memory scratch over an IntStore. Reads
// see staged values first.
type KvIntBuffer[V any] struct {
	store   *kv.IntStore[V]
	scratch *memtable.SkipList[uint32, V]
}

// NewKvIntBuffer creates an empty buffer over db as seen by r
func NewKvIntBuffer[V any](db kv.DbName, r kv.Readable, c kv.ValueCodec[V]) *KvIntBuffer[V] {
	return &KvIntBuffer[V]{
		store:   kv.NewIntStore(db, r, c),
		scratch: memtable.NewSkipList[uint32, V](),
	}
}

// Store returns the persisted view the buffer reads through to
func (b *KvIntBuffer[V]) Store() *kv.IntStore[V] {
	return b.store
}

// Consumed reports whether the buffer has been rebound or finalized
func (b *KvIntBuffer[V]) Consumed() bool {
	return b.scratch == nil
}

// Rebind moves the scratch into a new buffer bound to r. The receiver is
// consumed and must not be used again.
func (b *KvIntBuffer[V]) Rebind(r kv.Readable) (*KvIntBuffer[V], error) {
	if b.Consumed() {
		return nil, errors.SessionConsumed("rebind")
	}
	moved := &KvIntBuffer[V]{store: b.store.WithReader(r), scratch: b.scratch}
	b.scratch = nil
	return moved, nil
}

// Put stages v at k. It panics on a consumed buffer.
func (b *KvIntBuffer[V]) Put(k uint32, v V) {
	if b.Consumed() {
		panic("buffer: put on a consumed buffer")
	}
	b.scratch.Insert(k, v)
}

// Staged returns the number of staged entries
func (b *KvIntBuffer[V]) Staged() int {
	if b.Consumed() {
		return 0
	}
	return b.scratch.Len()
}

// Get returns the staged value at k, falling back to persisted state
func (b *KvIntBuffer[V]) Get(k uint32) (V, bool, error) {
	if !b.Consumed() {
		if v, ok := b.scratch.Search(k); ok {
			return v, true, nil
		}
	}
	return b.store.Get(k)
}

// IterScratch visits staged entries in ascending key order
func (b *KvIntBuffer[V]) IterScratch(fn kv.IterFunc[V]) error {
	if b.Consumed() {
		return nil
	}
	it := b.scratch.Iterator()
	for it.Next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// Iter visits the merged view in ascending key order. A staged entry
// shadows a persisted entry at the same key.
func (b *KvIntBuffer[V]) Iter(fn kv.IterFunc[V]) error {
	if b.Consumed() || b.scratch.Len() == 0 {
		return b.store.Iter(fn)
	}

	it := b.scratch.Iterator()
	pending := it.Next()
	stopped := false

	err := b.store.Iter(func(k uint32, v V) (bool, error) {
		for pending && it.Key() <= k {
			shadowed := it.Key() == k
			more, err := fn(it.Key(), it.Value())
			if err != nil || !more {
				stopped = true
				return false, err
			}
			pending = it.Next()
			if shadowed {
				return true, nil
			}
		}
		more, err := fn(k, v)
		if !more {
			stopped = true
		}
		return more, err
	})
	if err != nil || stopped {
		return err
	}
	for ; pending; pending = it.Next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// IterReverse visits the merged view in descending key order
func (b *KvIntBuffer[V]) IterReverse(fn kv.IterFunc[V]) error {
	if b.Consumed() || b.scratch.Len() == 0 {
		return b.store.IterReverse(fn)
	}

	keys := b.scratch.Keys()
	i := len(keys) - 1
	emit := func(k uint32) (bool, error) {
		v, _ := b.scratch.Search(k)
		return fn(k, v)
	}
	stopped := false

	err := b.store.IterReverse(func(k uint32, v V) (bool, error) {
		for i >= 0 && keys[i] >= k {
			shadowed := keys[i] == k
			more, err := emit(keys[i])
			i--
			if err != nil || !more {
				stopped = true
				return false, err
			}
			if shadowed {
				return true, nil
			}
		}
		more, err := fn(k, v)
		if !more {
			stopped = true
		}
		return more, err
	})
	if err != nil || stopped {
		return err
	}
	for ; i >= 0; i-- {
		more, err := emit(keys[i])
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// Finalize writes every staged entry into w in key order and consumes the
// buffer
func (b *KvIntBuffer[V]) Finalize(w *kv.Writer) error {
	if b.Consumed() {
		return errors.SessionConsumed("finalize")
	}
	scratch := b.scratch
	b.scratch = nil

	store := b.store.WithReader(w)
	it := scratch.Iterator()
	for it.Next() {
		if err := store.Put(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return nil
}
