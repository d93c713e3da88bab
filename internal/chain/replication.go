package chain

import (
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
)

func store(r kv.Readable) *kv.IntStore[Item] {
	return kv.NewIntStore[Item](kv.ChainSequence, r, itemCodec{})
}

// ReadHead returns the persisted head as seen by r
func ReadHead(r kv.Readable) (HeaderAddress, bool, error) {
	_, last, ok, err := store(r).Last()
	if err != nil || !ok {
		return "", false, err
	}
	return last.HeaderAddress, true, nil
}

// ReadItem returns the persisted item at index
func ReadItem(r kv.Readable, index uint32) (Item, error) {
	it, ok, err := store(r).Get(index)
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{}, errors.ItemNotFound(index)
	}
	return it, nil
}

// Items returns up to limit persisted items starting at from. A limit <= 0
// means no limit.
func Items(r kv.Readable, from uint32, limit int) ([]Item, error) {
	return collect(r, from, limit, func(Item) bool { return true })
}

// PendingReplication returns up to limit items at or after from whose
// replication has not completed
func PendingReplication(r kv.Readable, from uint32, limit int) ([]Item, error) {
	return collect(r, from, limit, func(it Item) bool { return !it.ReplicationComplete })
}

// CountPending returns how many items at or after from have not completed
// replication
func CountPending(r kv.Readable, from uint32) (int, error) {
	n := 0
	err := store(r).IterFrom(from, func(_ uint32, it Item) (bool, error) {
		if !it.ReplicationComplete {
			n++
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func collect(r kv.Readable, from uint32, limit int, keep func(Item) bool) ([]Item, error) {
	var items []Item
	err := store(r).IterFrom(from, func(_ uint32, it Item) (bool, error) {
		if keep(it) {
			items = append(items, it)
		}
		return limit <= 0 || len(items) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkReplicated records that the item at index has been published. It is
// the only mutation allowed on a committed item and is idempotent.
func MarkReplicated(w *kv.Writer, index uint32) error {
	s := store(w)
	it, ok, err := s.Get(index)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ItemNotFound(index)
	}
	if it.ReplicationComplete {
		return nil
	}
	it.ReplicationComplete = true
	return s.Put(index, it)
}
