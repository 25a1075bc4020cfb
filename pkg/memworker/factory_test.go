package memworker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/pkg/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkspacePath = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.Sync.Watch = false
	cfg.Sync.OnStart = false
	cfg.Embedding.Provider = config.ProviderLocal
	cfg.Embedding.Dimensions = 32
	return cfg
}

func TestNewIndexFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("in-process", func(t *testing.T) {
		cfg := testConfig(t)
		idx, err := NewIndexFactory(cfg, nil, zerolog.Nop())(ctx, "alice")
		require.NoError(t, err)
		defer idx.Close()
		assert.IsType(t, &memory.Manager{}, idx)
	})

	t.Run("isolated", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Isolation.Enabled = true
		launcher := inProcess(ManagerBackends(cfg, zerolog.Nop()))

		idx, err := NewIndexFactory(cfg, launcher, zerolog.Nop())(ctx, "alice")
		require.NoError(t, err)
		defer idx.Close()
		assert.IsType(t, &Proxy{}, idx)
	})

	t.Run("isolated but disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Isolation.Enabled = true
		cfg.Enabled = false

		_, err := NewIndexFactory(cfg, inProcess(ManagerBackends(cfg, zerolog.Nop())), zerolog.Nop())(ctx, "alice")
		var ue *memory.UnavailableError
		assert.ErrorAs(t, err, &ue)
		assert.ErrorIs(t, err, config.ErrDisabled)
	})
}

func TestProxy_WithManager(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Isolation.Enabled = true
	note := filepath.Join(cfg.WorkspacePath, "MEMORY.md")
	require.NoError(t, os.WriteFile(note, []byte("# Deploys\nShip on tuesdays.\nNever on fridays."), 0644))

	reg := memory.NewRegistry(memory.RegistryOptions{
		Factory: NewIndexFactory(cfg, inProcess(ManagerBackends(cfg, zerolog.Nop())), zerolog.Nop()),
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(func() { _ = reg.CloseAll() })

	idx, err := reg.Get(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, idx.Sync(ctx, memory.SyncOptions{Reason: "test"}))
	assert.False(t, idx.IsDirty())

	st, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Identity)
	assert.Equal(t, 1, st.Files)
	assert.Positive(t, st.Chunks)

	res, err := idx.ReadFile(ctx, "MEMORY.md", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ship on tuesdays.", res.Text)

	results, err := idx.Search(ctx, "fridays", memory.SearchOptions{MinScore: new(float64)})
	require.NoError(t, err)
	if st.Mode != memory.ModeNone {
		require.NotEmpty(t, results)
		assert.Equal(t, "MEMORY.md", results[0].Path)
		assert.Equal(t, "alice", results[0].Identity)
	}
}
