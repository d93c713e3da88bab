package kv

import (
	"github.com/devrev/pairdb/ledger-node/internal/codec"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
)

// ValueCodec serializes store values. Decode receives the key so fields
// derived from it can be restored instead of being stored twice.
type ValueCodec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(key uint32, data []byte) (V, error)
}

// IterFunc is called for each entry during iteration. Returning false stops
// iteration without error.
type IterFunc[V any] func(key uint32, v V) (bool, error)

// IntStore is an ordered mapping from a dense uint32 key to a value, bound
// to exactly one reader or writer
type IntStore[V any] struct {
	db    DbName
	r     Readable
	codec ValueCodec[V]
}

// NewIntStore binds db to r
func NewIntStore[V any](db DbName, r Readable, c ValueCodec[V]) *IntStore[V] {
	return &IntStore[V]{db: db, r: r, codec: c}
}

// WithReader returns the same store bound to a different reader
func (s *IntStore[V]) WithReader(r Readable) *IntStore[V] {
	return &IntStore[V]{db: s.db, r: r, codec: s.codec}
}

// Reader returns the transaction the store is bound to
func (s *IntStore[V]) Reader() Readable {
	return s.r
}

// Get returns the value at k
func (s *IntStore[V]) Get(k uint32) (V, bool, error) {
	var zero V
	raw, err := s.r.Get(s.db, codec.EncodeKey(k))
	if err != nil {
		return zero, false, err
	}
	if raw == nil {
		return zero, false, nil
	}
	v, err := s.decode(k, raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Last returns the entry with the greatest key by seeking straight to the
// tail of the database
func (s *IntStore[V]) Last() (uint32, V, bool, error) {
	var zero V
	c, err := s.r.Cursor(s.db)
	if err != nil {
		return 0, zero, false, err
	}
	k, raw := c.Last()
	if k == nil {
		return 0, zero, false, nil
	}
	key, v, err := s.entry(k, raw)
	if err != nil {
		return 0, zero, false, err
	}
	return key, v, true, nil
}

// Put writes v at k. The store must be bound to a Writable.
func (s *IntStore[V]) Put(k uint32, v V) error {
	w, ok := s.r.(Writable)
	if !ok {
		return errors.ReadOnly(string(s.db))
	}
	data, err := s.codec.Encode(v)
	if err != nil {
		return errors.InternalError("failed to encode value", err).WithDetail("key", k)
	}
	return w.Put(s.db, codec.EncodeKey(k), data)
}

// Iter visits entries in ascending key order
func (s *IntStore[V]) Iter(fn IterFunc[V]) error {
	return s.scan(func(c Cursor) ([]byte, []byte) { return c.First() }, Cursor.Next, fn)
}

// IterFrom visits entries with key >= start in ascending order
func (s *IntStore[V]) IterFrom(start uint32, fn IterFunc[V]) error {
	seek := codec.EncodeKey(start)
	return s.scan(func(c Cursor) ([]byte, []byte) { return c.Seek(seek) }, Cursor.Next, fn)
}

// IterReverse visits entries in descending key order
func (s *IntStore[V]) IterReverse(fn IterFunc[V]) error {
	return s.scan(func(c Cursor) ([]byte, []byte) { return c.Last() }, Cursor.Prev, fn)
}

func (s *IntStore[V]) scan(
	start func(Cursor) ([]byte, []byte),
	step func(Cursor) ([]byte, []byte),
	fn IterFunc[V],
) error {
	c, err := s.r.Cursor(s.db)
	if err != nil {
		return err
	}
	for k, raw := start(c); k != nil; k, raw = step(c) {
		key, v, err := s.entry(k, raw)
		if err != nil {
			return err
		}
		more, err := fn(key, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (s *IntStore[V]) entry(k, raw []byte) (uint32, V, error) {
	var zero V
	key, err := codec.DecodeKey(k)
	if err != nil {
		return 0, zero, errors.CorruptedData("malformed key in "+string(s.db), err)
	}
	v, err := s.decode(key, raw)
	return key, v, err
}

func (s *IntStore[V]) decode(k uint32, raw []byte) (V, error) {
	v, err := s.codec.Decode(k, raw)
	if err != nil {
		var zero V
		return zero, errors.CorruptedData("failed to decode value in "+string(s.db), err).WithDetail("key", k)
	}
	return v, nil
}
