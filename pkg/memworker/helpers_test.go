package memworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/pkg/memory"
)

// fakeBackend is a scripted Backend. Search blocks on gate when set.
type fakeBackend struct {
	mu        sync.Mutex
	results   []memory.SearchResult
	searchErr error
	dirty     bool
	onDirty   func(bool)
	syncs     []memory.SyncOptions
	queries   []string
	closes    int

	gate      chan struct{}
	entered   chan struct{}
	closeGate chan struct{}
	enterOnce sync.Once
}

func newFakeBackend(results ...memory.SearchResult) *fakeBackend {
	return &fakeBackend{results: results, dirty: true}
}

func (b *fakeBackend) Search(ctx context.Context, query string, _ memory.SearchOptions) ([]memory.SearchResult, error) {
	if b.gate != nil {
		b.enterOnce.Do(func() { close(b.entered) })
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, query)
	if b.searchErr != nil {
		return nil, b.searchErr
	}
	return append([]memory.SearchResult(nil), b.results...), nil
}

func (b *fakeBackend) ReadFile(context.Context, string, int, int) (memory.ReadResult, error) {
	return memory.ReadResult{}, errors.New("not served by the worker")
}

func (b *fakeBackend) Sync(_ context.Context, opts memory.SyncOptions) error {
	b.mu.Lock()
	b.syncs = append(b.syncs, opts)
	b.mu.Unlock()
	b.setDirty(false)
	return nil
}

func (b *fakeBackend) setDirty(v bool) {
	b.mu.Lock()
	changed := b.dirty != v
	b.dirty = v
	fn := b.onDirty
	b.mu.Unlock()
	if changed && fn != nil {
		fn(v)
	}
}

func (b *fakeBackend) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

func (b *fakeBackend) Status(context.Context) (memory.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return memory.Status{Identity: "fake", Files: 3, Chunks: 7, Dirty: b.dirty, Mode: memory.ModeKeyword}, nil
}

func (b *fakeBackend) OnDirtyChange(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDirty = fn
}

func (b *fakeBackend) Close() error {
	if b.closeGate != nil {
		<-b.closeGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// recordingLauncher keeps the last launched process so tests can kill it.
type recordingLauncher struct {
	inner Launcher
	mu    sync.Mutex
	proc  Process
}

func (l *recordingLauncher) Launch(ctx context.Context, identity string) (Process, error) {
	p, err := l.inner.Launch(ctx, identity)
	l.mu.Lock()
	l.proc = p
	l.mu.Unlock()
	return p, err
}

func (l *recordingLauncher) process() Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.proc
}

func staticFactory(b Backend) BackendFactory {
	return func(context.Context, string) (Backend, error) { return b, nil }
}

func newTestProxy(t *testing.T, launcher Launcher, root string) *Proxy {
	t.Helper()
	p, err := NewProxy(context.Background(), launcher, ProxyOptions{
		Identity:     "alice",
		Root:         root,
		CloseTimeout: 200 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func inProcess(f BackendFactory) *recordingLauncher {
	return &recordingLauncher{inner: &InProcessLauncher{Factory: f, Logger: zerolog.Nop()}}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}
