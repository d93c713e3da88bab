package memtable

import (
	"cmp"
	"math/rand"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// node is a skip list node
type node[K cmp.Ordered, V any] struct {
	key     K
	value   V
	forward []*node[K, V]
}

// SkipList is an ordered in-memory map. It is not safe for concurrent use;
// callers that share one must synchronise.
type SkipList[K cmp.Ordered, V any] struct {
	head  *node[K, V]
	level int
	size  int
}

// NewSkipList creates a new skip list
func NewSkipList[K cmp.Ordered, V any]() *SkipList[K, V] {
	return &SkipList[K, V]{
		head: &node[K, V]{forward: make([]*node[K, V], MaxLevel)},
	}
}

func randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// predecessors fills update with the rightmost node before key at every level
func (sl *SkipList[K, V]) predecessors(key K, update []*node[K, V]) *node[K, V] {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current
}

// Insert adds or replaces the value at key
func (sl *SkipList[K, V]) Insert(key K, value V) {
	update := make([]*node[K, V], MaxLevel)
	current := sl.predecessors(key, update).forward[0]
	if current != nil && current.key == key {
		current.value = value
		return
	}

	newLevel := randomLevel()
	if newLevel > sl.level {
		for i := sl.level + 1; i <= newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	n := &node[K, V]{key: key, value: value, forward: make([]*node[K, V], newLevel+1)}
	for i := 0; i <= newLevel; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	sl.size++
}

// Search finds a value by key
func (sl *SkipList[K, V]) Search(key K) (V, bool) {
	current := sl.predecessors(key, nil).forward[0]
	if current != nil && current.key == key {
		return current.value, true
	}
	var zero V
	return zero, false
}

// Delete removes a key from the skip list
func (sl *SkipList[K, V]) Delete(key K) bool {
	update := make([]*node[K, V], MaxLevel)
	current := sl.predecessors(key, update).forward[0]
	if current == nil || current.key != key {
		return false
	}

	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != current {
			break
		}
		update[i].forward[i] = current.forward[i]
	}
	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}
	sl.size--
	return true
}

// Len returns the number of elements in the skip list
func (sl *SkipList[K, V]) Len() int {
	return sl.size
}

// Last returns the entry with the greatest key
func (sl *SkipList[K, V]) Last() (K, V, bool) {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil {
			current = current.forward[i]
		}
	}
	if current == sl.head {
		var k K
		var v V
		return k, v, false
	}
	return current.key, current.value, true
}

// Keys returns every key in ascending order
func (sl *SkipList[K, V]) Keys() []K {
	keys := make([]K, 0, sl.size)
	for n := sl.head.forward[0]; n != nil; n = n.forward[0] {
		keys = append(keys, n.key)
	}
	return keys
}

// Iterator returns an iterator positioned before the first entry
func (sl *SkipList[K, V]) Iterator() *Iterator[K, V] {
	return &Iterator[K, V]{current: sl.head}
}

// Seek returns an iterator positioned before the first entry with key >= key
func (sl *SkipList[K, V]) Seek(key K) *Iterator[K, V] {
	return &Iterator[K, V]{current: sl.predecessors(key, nil)}
}

// Iterator iterates over skip list entries in ascending key order
type Iterator[K cmp.Ordered, V any] struct {
	current *node[K, V]
}

// Next moves to the next element
func (it *Iterator[K, V]) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *Iterator[K, V]) Key() K {
	if it.current == nil {
		var zero K
		return zero
	}
	return it.current.key
}

// Value returns the current value
func (it *Iterator[K, V]) Value() V {
	if it.current == nil {
		var zero V
		return zero
	}
	return it.current.value
}
