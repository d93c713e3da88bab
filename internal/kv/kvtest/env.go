// Package kvtest provides throwaway kv environments for tests.
package kvtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewEnv opens an environment in a temporary directory and closes it when
// the test ends. The mmap is sized up front so writers never need to remap
// while a test holds a snapshot open.
func NewEnv(t testing.TB) *kv.Env {
	t.Helper()

	env, err := kv.Open(&kv.Config{
		Path:            filepath.Join(t.TempDir(), "ledger.db"),
		OpenTimeout:     time.Second,
		InitialMmapSize: 16 << 20,
		NoSync:          true,
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = env.Close()
	})
	return env
}
