package memtable_test

import (
	"testing"

	"github.com/devrev/pairdb/ledger-node/internal/storage/memtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipList_Insert(t *testing.T) {
	tests := []struct {
		name   string
		key    uint32
		value  string
		verify func(*testing.T, *memtable.SkipList[uint32, string])
	}{
		{
			name:  "insert single element",
			key:   1,
			value: "value1",
			verify: func(t *testing.T, sl *memtable.SkipList[uint32, string]) {
				val, found := sl.Search(1)
				assert.True(t, found)
				assert.Equal(t, "value1", val)
			},
		},
		{
			name:  "insert multiple elements",
			key:   2,
			value: "value2",
			verify: func(t *testing.T, sl *memtable.SkipList[uint32, string]) {
				sl.Insert(3, "value3")
				sl.Insert(1, "value1")

				assert.Equal(t, 3, sl.Len())
				val, found := sl.Search(1)
				assert.True(t, found)
				assert.Equal(t, "value1", val)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := memtable.NewSkipList[uint32, string]()
			sl.Insert(tt.key, tt.value)
			tt.verify(t, sl)
		})
	}
}

func TestSkipList_Update(t *testing.T) {
	sl := memtable.NewSkipList[uint32, string]()

	sl.Insert(1, "value1")
	sl.Insert(1, "value2")
	val, found := sl.Search(1)
	require.True(t, found)
	assert.Equal(t, "value2", val)

	// replacing does not grow the list
	assert.Equal(t, 1, sl.Len())
}

func TestSkipList_Delete(t *testing.T) {
	sl := memtable.NewSkipList[uint32, string]()
	sl.Insert(1, "value1")
	sl.Insert(2, "value2")
	sl.Insert(3, "value3")

	tests := []struct {
		name    string
		key     uint32
		wantOk  bool
		wantLen int
	}{
		{name: "delete existing key", key: 2, wantOk: true, wantLen: 2},
		{name: "delete non-existing key", key: 4, wantOk: false, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := sl.Delete(tt.key)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantLen, sl.Len())

			if ok {
				_, found := sl.Search(tt.key)
				assert.False(t, found)
			}
		})
	}
	assert.Equal(t, []uint32{1, 3}, sl.Keys())
}

func TestSkipList_Ordering(t *testing.T) {
	sl := memtable.NewSkipList[uint32, string]()
	for _, k := range []uint32{50, 3, 99, 0, 17} {
		sl.Insert(k, "v")
	}

	var keys []uint32
	for it := sl.Iterator(); it.Next(); {
		keys = append(keys, it.Key())
	}
	assert.Equal(t, []uint32{0, 3, 17, 50, 99}, keys)
	assert.Equal(t, keys, sl.Keys())

	k, _, ok := sl.Last()
	require.True(t, ok)
	assert.Equal(t, uint32(99), k)

	it := sl.Seek(18)
	require.True(t, it.Next())
	assert.Equal(t, uint32(50), it.Key())

	it = sl.Seek(17)
	require.True(t, it.Next())
	assert.Equal(t, uint32(17), it.Key())
}

func TestSkipList_Empty(t *testing.T) {
	sl := memtable.NewSkipList[uint32, string]()

	_, found := sl.Search(1)
	assert.False(t, found)
	assert.False(t, sl.Delete(1))
	assert.False(t, sl.Iterator().Next())
	_, _, ok := sl.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, sl.Len())
	assert.Empty(t, sl.Keys())
}

func BenchmarkSkipList_Insert(b *testing.B) {
	sl := memtable.NewSkipList[uint32, string]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Insert(uint32(i), "value")
	}
}
