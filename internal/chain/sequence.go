// Package chain sequences the source chain: it assigns dense positions to
// new headers, tracks the chain head and, at commit, checks under
// optimistic concurrency that no other writer advanced the head since the
// session was opened.
package chain

import (
	"math"

	"github.com/devrev/pairdb/ledger-node/internal/buffer"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
)

// Sequence is a single-use session over the chain sequence database. It is
// owned by one caller for one unit of work: staging is in memory only, and
// Finalize either writes every staged item or none.
//
// A Sequence is not safe for concurrent use.
type Sequence struct {
	buf       *buffer.KvIntBuffer[Item]
	nextIndex uint32
	batch     uint32
	// current includes staged appends
	current head
	// persisted is the head as read when the session was built. Never
	// changed afterwards.
	persisted head
}

var _ buffer.StoreBuffer = (*Sequence)(nil)

// Open builds a session from a snapshot. It reads only the tail item.
func Open(r kv.Readable) (*Sequence, error) {
	return fromBuffer(buffer.NewKvIntBuffer[Item](kv.ChainSequence, r, itemCodec{}))
}

func fromBuffer(buf *buffer.KvIntBuffer[Item]) (*Sequence, error) {
	s := &Sequence{buf: buf}
	index, last, ok, err := buf.Store().Last()
	if err != nil {
		return nil, err
	}
	if ok {
		s.nextIndex = index + 1
		s.batch = last.Batch + 1
		s.persisted = someHead(last.HeaderAddress)
	}
	s.current = s.persisted
	return s, nil
}

// Rebind returns a session over r that owns this session's staged items.
// Its head, next index and batch are derived from r's view of durable
// state. The receiver is consumed, even when an error is returned.
func (s *Sequence) Rebind(r kv.Readable) (*Sequence, error) {
	buf, err := s.buf.Rebind(r)
	if err != nil {
		return nil, err
	}
	return fromBuffer(buf)
}

// Head returns the latest header known to the session, staged or not
func (s *Sequence) Head() (HeaderAddress, bool) {
	return s.current.get()
}

// PersistedHead returns the head the session was opened against
func (s *Sequence) PersistedHead() (HeaderAddress, bool) {
	return s.persisted.get()
}

// NextIndex returns the index the next append will receive
func (s *Sequence) NextIndex() uint32 {
	return s.nextIndex
}

// Batch returns the batch number stamped on this session's appends
func (s *Sequence) Batch() uint32 {
	return s.batch
}

// Len returns the number of staged items
func (s *Sequence) Len() int {
	return s.buf.Staged()
}

// Consumed reports whether the session has been rebound or finalized
func (s *Sequence) Consumed() bool {
	return s.buf.Consumed()
}

// MaxLength is the most items a chain can hold. The last uint32 index is
// never assigned so NextIndex cannot wrap.
const MaxLength = math.MaxUint32

// Remaining returns how many more items can be appended
func (s *Sequence) Remaining() uint32 {
	return MaxLength - s.nextIndex
}

// Append stages header as the next item of the chain. It panics if the
// session has been consumed or the chain is full; check Remaining first.
func (s *Sequence) Append(header HeaderAddress) {
	if s.nextIndex == MaxLength {
		panic("chain: append to a full chain")
	}
	s.buf.Put(s.nextIndex, Item{
		HeaderAddress: header,
		Index:         s.nextIndex,
		Batch:         s.batch,
	})
	s.nextIndex++
	s.current = someHead(header)
}

// Staged returns the staged items in index order
func (s *Sequence) Staged() []Item {
	items := make([]Item, 0, s.buf.Staged())
	_ = s.buf.IterScratch(func(_ uint32, it Item) (bool, error) {
		items = append(items, it)
		return true, nil
	})
	return items
}

// Get returns the item at index, staged or persisted
func (s *Sequence) Get(index uint32) (Item, bool, error) {
	return s.buf.Get(index)
}

// Iter visits persisted then staged items in index order
func (s *Sequence) Iter(fn kv.IterFunc[Item]) error {
	return s.buf.Iter(fn)
}

// Finalize re-derives the persisted head through w and, if it still equals
// the head this session was opened against, writes the staged items into w.
// Otherwise it returns a head-moved error and writes nothing. Either way the
// session is consumed. The caller commits w only after a nil return.
func (s *Sequence) Finalize(w *kv.Writer) error {
	baseline := s.persisted
	fresh, err := s.Rebind(w)
	if err != nil {
		return err
	}
	if fresh.persisted != baseline {
		return errors.HeadMoved(baseline.String(), fresh.persisted.String()).
			WithDetail("staged_items", fresh.Len())
	}
	return fresh.buf.Finalize(w)
}
