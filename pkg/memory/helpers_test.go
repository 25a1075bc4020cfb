package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/pkg/embedding"
)

func testConfig(t *testing.T, workspace string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkspacePath = workspace
	cfg.DataDir = t.TempDir()
	cfg.Sync.Watch = false
	cfg.Sync.OnStart = false
	cfg.Embedding.Provider = config.ProviderLocal
	cfg.Embedding.Dimensions = 64
	return cfg
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	opts.Logger = zerolog.Nop()
	m, err := NewManager(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeNote(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func requireKeyword(t *testing.T, m *Manager) {
	t.Helper()
	if c := m.store.Capabilities().Keyword; !c.Available {
		t.Skipf("keyword index unavailable (build with -tags sqlite_fts5): %s", c.Reason)
	}
}

func requireVector(t *testing.T, m *Manager) {
	t.Helper()
	if c := m.store.Capabilities().Vector; !c.Available {
		t.Skipf("vector index unavailable: %s", c.Reason)
	}
}

func mustSync(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Sync(context.Background(), SyncOptions{Reason: "test"}))
}

func floatPtr(v float64) *float64 { return &v }

// testProvider wraps HashProvider with failure injection and an optional
// gate that holds EmbedBatch until released.
type testProvider struct {
	*embedding.HashProvider
	fail    atomic.Bool
	batches atomic.Int64

	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newTestProvider() *testProvider {
	return &testProvider{HashProvider: embedding.NewHashProvider(32)}
}

func (p *testProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.gate != nil {
		p.once.Do(func() { close(p.entered) })
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail.Load() {
		return nil, errors.New("provider unavailable")
	}
	p.batches.Add(1)
	return p.HashProvider.EmbedBatch(ctx, texts)
}

// fakeIndex is a scripted Index.
type fakeIndex struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	dirty   bool
	syncs   []SyncOptions
	closed  int
	synced  chan SyncOptions
}

func newFakeIndex(results ...SearchResult) *fakeIndex {
	return &fakeIndex{results: results, synced: make(chan SyncOptions, 8)}
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ SearchOptions) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]SearchResult(nil), f.results...), nil
}

func (f *fakeIndex) ReadFile(_ context.Context, path string, _, _ int) (ReadResult, error) {
	return ReadResult{Path: path, Text: "fake"}, nil
}

func (f *fakeIndex) Sync(_ context.Context, opts SyncOptions) error {
	f.mu.Lock()
	f.syncs = append(f.syncs, opts)
	f.dirty = false
	f.mu.Unlock()
	f.synced <- opts
	return nil
}

func (f *fakeIndex) IsDirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func (f *fakeIndex) Status(context.Context) (Status, error) { return Status{}, nil }

func (f *fakeIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeIndex) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
