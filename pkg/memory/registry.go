package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/config"
)

// ErrRegistryClosed is returned by Get after CloseAll.
var ErrRegistryClosed = errors.New("memory registry is closed")

// IndexFactory builds the index for one identity.
type IndexFactory func(ctx context.Context, identity string) (Index, error)

// ManagerFactory returns a factory that builds in-process managers from cfg.
func ManagerFactory(cfg config.Config, logger zerolog.Logger) IndexFactory {
	return func(ctx context.Context, identity string) (Index, error) {
		m, err := NewManager(ctx, Options{Config: cfg, Identity: identity, Logger: logger})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Factory IndexFactory
	// Capture runs when a session ends, before the follow-up sync. It is the
	// hook for whatever writes new memory notes from the conversation.
	Capture func(ctx context.Context, identity string) error
	Logger  zerolog.Logger
}

// Registry maps identities to their open index. It is owned by the host
// integration layer; there is no process-wide instance.
type Registry struct {
	factory IndexFactory
	capture func(ctx context.Context, identity string) error
	logger  zerolog.Logger

	mu      sync.Mutex
	indexes map[string]Index
	opening map[string]*pendingOpen
	closed  bool
	bg      sync.WaitGroup
}

// pendingOpen is an index being built. Concurrent Gets for the same
// identity wait on done instead of calling the factory again.
type pendingOpen struct {
	done chan struct{}
	idx  Index
	err  error
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		factory: opts.Factory,
		capture: opts.Capture,
		logger:  opts.Logger.With().Str("component", "registry").Logger(),
		indexes: make(map[string]Index),
		opening: make(map[string]*pendingOpen),
	}
}

// Get returns the index for identity, creating it on first use. The
// factory runs without the registry lock, so a slow open only delays callers
// asking for the same identity.
func (r *Registry) Get(ctx context.Context, identity string) (Index, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if idx, ok := r.indexes[identity]; ok {
		r.mu.Unlock()
		return idx, nil
	}
	if p, ok := r.opening[identity]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.idx, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingOpen{done: make(chan struct{})}
	r.opening[identity] = p
	r.bg.Add(1)
	r.mu.Unlock()
	defer r.bg.Done()

	idx, err := r.factory(ctx, identity)
	if err != nil {
		err = fmt.Errorf("open index for %s: %w", identity, err)
	}

	r.mu.Lock()
	delete(r.opening, identity)
	closed := r.closed
	if err == nil && !closed {
		r.indexes[identity] = idx
	}
	r.mu.Unlock()

	if err == nil && closed {
		_ = idx.Close()
		idx, err = nil, ErrRegistryClosed
	}
	p.idx, p.err = idx, err
	close(p.done)

	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("identity", identity).Msg("Opened memory index")
	return idx, nil
}

// Lookup returns the index for identity if it is already open.
func (r *Registry) Lookup(identity string) (Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[identity]
	return idx, ok
}

// Identities lists the open identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.indexes))
	for id := range r.indexes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove closes and forgets identity's index; the next Get rebuilds it.
// Used after an isolated worker has exited.
func (r *Registry) Remove(identity string) error {
	r.mu.Lock()
	idx, ok := r.indexes[identity]
	delete(r.indexes, identity)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return idx.Close()
}

// CloseAll lets pending opens and background syncs finish, then closes
// every index and rejects further Gets.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.bg.Wait()

	r.mu.Lock()
	indexes := r.indexes
	r.indexes = make(map[string]Index)
	r.mu.Unlock()

	var errs []error
	for id, idx := range indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SessionStarted opens the identity's index and warms it with a background
// sync.
func (r *Registry) SessionStarted(ctx context.Context, identity string) error {
	idx, err := r.Get(ctx, identity)
	if err != nil {
		return err
	}
	r.goSync(ctx, identity, idx, "session-start")
	return nil
}

// Turn syncs the identity's index in the background if it is dirty.
func (r *Registry) Turn(ctx context.Context, identity string) {
	idx, ok := r.Lookup(identity)
	if !ok || !idx.IsDirty() {
		return
	}
	r.goSync(ctx, identity, idx, "turn")
}

// SessionEnding runs the capture hook and then syncs so newly written notes
// are indexed.
func (r *Registry) SessionEnding(ctx context.Context, identity string) error {
	if r.capture != nil {
		if err := r.capture(ctx, identity); err != nil {
			r.logger.Warn().Err(err).Str("identity", identity).Msg("Session capture failed")
		}
	}
	idx, ok := r.Lookup(identity)
	if !ok {
		return nil
	}
	r.goSync(ctx, identity, idx, "session-end")
	return nil
}

func (r *Registry) goSync(ctx context.Context, identity string, idx Index, reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.bg.Add(1)
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.bg.Done()
		if err := idx.Sync(ctx, SyncOptions{Reason: reason}); err != nil && !errors.Is(err, ErrManagerClosed) {
			r.logger.Warn().Err(err).Str("identity", identity).Str("reason", reason).Msg("Background sync failed")
		}
	}()
}
