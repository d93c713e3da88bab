package chain_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func addr(i int) chain.HeaderAddress {
	return chain.HeaderAddress(fmt.Sprintf("h%d", i))
}

// open builds a session from a fresh snapshot and releases the snapshot
// immediately; the session only needs it to derive its baseline.
func open(env *kv.Env) (*chain.Sequence, error) {
	var seq *chain.Sequence
	err := env.WithReader(func(r *kv.Reader) error {
		var err error
		seq, err = chain.Open(r)
		return err
	})
	return seq, err
}

func openSequence(t *testing.T, env *kv.Env) *chain.Sequence {
	t.Helper()
	seq, err := open(env)
	require.NoError(t, err)
	return seq
}

func finalize(env *kv.Env, seq *chain.Sequence) error {
	return env.WithWriter(func(w *kv.Writer) error {
		return seq.Finalize(w)
	})
}

func persisted(t *testing.T, env *kv.Env) []chain.Item {
	t.Helper()
	var items []chain.Item
	require.NoError(t, env.WithReader(func(r *kv.Reader) error {
		var err error
		items, err = chain.Items(r, 0, 0)
		return err
	}))
	return items
}

func indices(items []chain.Item) []uint32 {
	out := make([]uint32, 0, len(items))
	for _, it := range items {
		out = append(out, it.Index)
	}
	return out
}

func batches(items []chain.Item) []uint32 {
	out := make([]uint32, 0, len(items))
	for _, it := range items {
		out = append(out, it.Batch)
	}
	return out
}

func TestSequence_EmptyChain(t *testing.T) {
	env := kvtest.NewEnv(t)
	seq := openSequence(t, env)

	_, ok := seq.Head()
	assert.False(t, ok)
	_, ok = seq.PersistedHead()
	assert.False(t, ok)
	assert.Equal(t, uint32(0), seq.NextIndex())
	assert.Equal(t, uint32(0), seq.Batch())
	assert.Equal(t, 0, seq.Len())
}

func TestSequence_ScratchAwareness(t *testing.T) {
	env := kvtest.NewEnv(t)
	seq := openSequence(t, env)

	for i := 0; i < 3; i++ {
		seq.Append(addr(i))
		h, ok := seq.Head()
		require.True(t, ok)
		assert.Equal(t, addr(i), h)
	}

	_, ok := seq.PersistedHead()
	assert.False(t, ok, "staging must not move the baseline")
	assert.Equal(t, uint32(3), seq.NextIndex())
	assert.Empty(t, persisted(t, env), "staging must not touch the store")

	staged := seq.Staged()
	require.Len(t, staged, 3)
	for i, it := range staged {
		assert.Equal(t, uint32(i), it.Index)
		assert.Equal(t, uint32(0), it.Batch)
		assert.Equal(t, addr(i), it.HeaderAddress)
		assert.False(t, it.ReplicationComplete)
	}

	it, ok, err := seq.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr(1), it.HeaderAddress)
}

func TestSequence_Functionality(t *testing.T) {
	env := kvtest.NewEnv(t)

	seq := openSequence(t, env)
	seq.Append(addr(0))
	seq.Append(addr(1))
	seq.Append(addr(2))
	require.NoError(t, finalize(env, seq))

	seq = openSequence(t, env)
	h, ok := seq.Head()
	require.True(t, ok)
	assert.Equal(t, addr(2), h)
	items := persisted(t, env)
	assert.Equal(t, []uint32{0, 1, 2}, indices(items))
	assert.Equal(t, []uint32{0, 0, 0}, batches(items))

	seq.Append(addr(3))
	seq.Append(addr(4))
	seq.Append(addr(5))
	require.NoError(t, finalize(env, seq))

	seq = openSequence(t, env)
	h, ok = seq.Head()
	require.True(t, ok)
	assert.Equal(t, addr(5), h)
	assert.Equal(t, uint32(6), seq.NextIndex())
	assert.Equal(t, uint32(2), seq.Batch())
	items = persisted(t, env)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, indices(items))
	assert.Equal(t, []uint32{0, 0, 0, 1, 1, 1}, batches(items))
}

func TestSequence_BatchIncrementsOncePerCommit(t *testing.T) {
	env := kvtest.NewEnv(t)

	sizes := []int{1, 4, 2, 7}
	next := 0
	for _, n := range sizes {
		seq := openSequence(t, env)
		for i := 0; i < n; i++ {
			seq.Append(addr(next))
			next++
		}
		require.NoError(t, finalize(env, seq))
	}

	items := persisted(t, env)
	require.Len(t, items, next)
	want := make([]uint32, 0, next)
	for b, n := range sizes {
		for i := 0; i < n; i++ {
			want = append(want, uint32(b))
		}
	}
	assert.Equal(t, want, batches(items))
}

func TestSequence_EmptyCommitAdvancesNothing(t *testing.T) {
	env := kvtest.NewEnv(t)

	require.NoError(t, finalize(env, openSequence(t, env)))

	seq := openSequence(t, env)
	assert.Equal(t, uint32(0), seq.Batch(), "a commit with no items leaves no batch behind")
	assert.Empty(t, persisted(t, env))
}

func TestSequence_HeadMoved(t *testing.T) {
	env := kvtest.NewEnv(t)

	aStaged := make(chan struct{})
	bCommitted := make(chan struct{})
	var resultA, resultB error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		seq, err := open(env)
		if err != nil {
			resultA = err
			close(aStaged)
			return
		}
		seq.Append(addr(0))
		seq.Append(addr(1))
		seq.Append(addr(2))

		// let the other session commit first
		close(aStaged)
		<-bCommitted

		resultA = finalize(env, seq)
	}()

	go func() {
		defer wg.Done()
		<-aStaged
		defer close(bCommitted)

		seq, err := open(env)
		if err != nil {
			resultB = err
			return
		}
		seq.Append(addr(3))
		seq.Append(addr(4))
		seq.Append(addr(5))
		resultB = finalize(env, seq)
	}()

	wg.Wait()

	require.NoError(t, resultB)
	require.Error(t, resultA)
	assert.True(t, errors.IsHeadMoved(resultA))
	assert.Equal(t, errors.ErrCodeHeadMoved, errors.GetCode(resultA))

	items := persisted(t, env)
	assert.Equal(t, []uint32{0, 1, 2}, indices(items))
	assert.Equal(t, []uint32{0, 0, 0}, batches(items))
	assert.Equal(t, addr(5), items[2].HeaderAddress)

	seq := openSequence(t, env)
	h, ok := seq.Head()
	require.True(t, ok)
	assert.Equal(t, addr(5), h)
}

func TestSequence_ConflictLeavesStoreUntouched(t *testing.T) {
	env := kvtest.NewEnv(t)

	seq := openSequence(t, env)
	seq.Append(addr(0))
	require.NoError(t, finalize(env, seq))

	stale := openSequence(t, env)
	winner := openSequence(t, env)
	winner.Append(addr(1))
	require.NoError(t, finalize(env, winner))
	before := persisted(t, env)

	stale.Append(addr(99))
	stale.Append(addr(100))

	// finalize inside a writer that is committed anyway must still be a no-op
	w, err := env.Writer()
	require.NoError(t, err)
	err = stale.Finalize(w)
	require.NoError(t, w.Commit())

	assert.True(t, errors.IsHeadMoved(err))
	assert.Equal(t, before, persisted(t, env))
}

func TestSequence_ConcurrentCommitters(t *testing.T) {
	env := kvtest.NewEnv(t)

	const writers = 8
	const perCommit = 3

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for {
				seq, err := open(env)
				if err != nil {
					return err
				}
				for i := 0; i < perCommit; i++ {
					seq.Append(chain.HeaderAddress(fmt.Sprintf("w%d-%d", w, i)))
				}
				err = finalize(env, seq)
				if errors.IsHeadMoved(err) {
					continue
				}
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	items := persisted(t, env)
	require.Len(t, items, writers*perCommit)
	for i, it := range items {
		assert.Equal(t, uint32(i), it.Index)
		assert.Equal(t, uint32(i/perCommit), it.Batch, "each batch must be one writer's whole commit")
	}
	seen := make(map[string]bool)
	for b := 0; b < writers; b++ {
		writer, _, _ := strings.Cut(string(items[b*perCommit].HeaderAddress), "-")
		assert.False(t, seen[writer], "a writer committed twice")
		seen[writer] = true
		for i := 0; i < perCommit; i++ {
			got, _, _ := strings.Cut(string(items[b*perCommit+i].HeaderAddress), "-")
			assert.Equal(t, writer, got)
		}
	}
}

func TestSequence_Rebind(t *testing.T) {
	env := kvtest.NewEnv(t)

	seq := openSequence(t, env)
	seq.Append(addr(0))
	require.NoError(t, finalize(env, seq))

	stale := openSequence(t, env)
	stale.Append(addr(7))

	winner := openSequence(t, env)
	winner.Append(addr(1))
	require.NoError(t, finalize(env, winner))

	var fresh *chain.Sequence
	require.NoError(t, env.WithReader(func(r *kv.Reader) error {
		var err error
		fresh, err = stale.Rebind(r)
		return err
	}))

	assert.True(t, stale.Consumed())
	assert.Equal(t, 0, stale.Len())
	assert.False(t, fresh.Consumed())

	h, ok := fresh.PersistedHead()
	require.True(t, ok)
	assert.Equal(t, addr(1), h, "rebind re-derives the head from the new reader")
	assert.Equal(t, uint32(2), fresh.NextIndex())
	assert.Equal(t, uint32(2), fresh.Batch())

	staged := fresh.Staged()
	require.Len(t, staged, 1, "staged items move with the session")
	assert.Equal(t, addr(7), staged[0].HeaderAddress)
	assert.Equal(t, uint32(1), staged[0].Index)

	assert.Panics(t, func() { stale.Append(addr(8)) })

	_, err := stale.Rebind(nil)
	assert.Equal(t, errors.ErrCodeSessionConsumed, errors.GetCode(err))
}

func TestSequence_FinalizeConsumesSession(t *testing.T) {
	env := kvtest.NewEnv(t)

	seq := openSequence(t, env)
	seq.Append(addr(0))
	require.NoError(t, finalize(env, seq))
	assert.True(t, seq.Consumed())

	err := finalize(env, seq)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionConsumed, errors.GetCode(err))
	assert.Len(t, persisted(t, env), 1)
}

func TestSequence_IterMergesStagedItems(t *testing.T) {
	env := kvtest.NewEnv(t)

	seq := openSequence(t, env)
	seq.Append(addr(0))
	seq.Append(addr(1))
	require.NoError(t, finalize(env, seq))

	r, err := env.Reader()
	require.NoError(t, err)
	defer r.Close()

	seq, err = chain.Open(r)
	require.NoError(t, err)
	seq.Append(addr(2))

	var got []chain.HeaderAddress
	require.NoError(t, seq.Iter(func(_ uint32, it chain.Item) (bool, error) {
		got = append(got, it.HeaderAddress)
		return true, nil
	}))
	assert.Equal(t, []chain.HeaderAddress{addr(0), addr(1), addr(2)}, got)

	it, ok, err := seq.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr(0), it.HeaderAddress)
}

func TestSequence_ReadsAfterSnapshotClosed(t *testing.T) {
	env := kvtest.NewEnv(t)
	seed(t, env, 2)

	// open releases its snapshot, so persisted reads must fail cleanly
	seq := openSequence(t, env)
	seq.Append(addr(2))

	_, _, err := seq.Get(0)
	assert.Equal(t, errors.ErrCodeStoreFailed, errors.GetCode(err))

	it, ok, err := seq.Get(2)
	require.NoError(t, err, "staged items never touch the store")
	require.True(t, ok)
	assert.Equal(t, addr(2), it.HeaderAddress)

	require.NoError(t, finalize(env, seq))
	assert.Equal(t, []uint32{0, 1, 2}, indices(persisted(t, env)))
}
