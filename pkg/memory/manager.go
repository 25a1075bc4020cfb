package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/internal/observability"
	"github.com/harun/mneme/internal/tracing"
	"github.com/harun/mneme/pkg/chunker"
	"github.com/harun/mneme/pkg/embedding"
	"github.com/harun/mneme/pkg/memstore"
)

const (
	metaIndexModel       = "index_model"
	metaIndexProviderKey = "index_provider_key"
)

// Options configures a Manager.
type Options struct {
	Config config.Config
	// Identity selects the index partition; empty uses Config.Identity.
	Identity string
	// Provider overrides the provider built from Config.Embedding.
	Provider embedding.Provider
	Logger   zerolog.Logger
}

// Manager owns one identity's index: it syncs the workspace notes into the
// store, watches for changes and answers searches.
type Manager struct {
	cfg      config.Config
	identity string
	root     string
	logger   zerolog.Logger

	store    *memstore.Store
	provider embedding.Provider // nil = keyword-only
	resolver *embedding.Resolver
	indexer  *Indexer

	watcher *FileWatcher
	cron    *cron.Cron

	dirty        atomic.Bool
	syncing      atomic.Bool
	forceReindex atomic.Bool
	closed       atomic.Bool

	mu           sync.RWMutex
	lastSync     *time.Time
	lastErr      error
	cacheHits    int
	cacheMisses  int
	dirtyHandles []func(bool)

	// opMu is held shared by operations touching the store and exclusively
	// by Close.
	opMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	bgMu   sync.Mutex
	bg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewManager opens the identity's index and starts the configured watcher,
// periodic sync and startup sync. The index starts dirty.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	observability.EnsureRegistered()

	cfg := opts.Config
	if !cfg.Enabled {
		return nil, &UnavailableError{Reason: "disabled by configuration", Err: config.ErrDisabled}
	}
	if cfg.WorkspacePath == "" {
		return nil, errors.New("workspace path is required")
	}

	identity := opts.Identity
	if identity == "" {
		identity = cfg.Identity
	}
	logger := opts.Logger.With().Str("component", "memory").Str("identity", identity).Logger()

	provider := opts.Provider
	if provider == nil {
		p, err := embedding.NewProvider(cfg.Embedding, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Embedding provider unavailable, running keyword-only")
		}
		provider = p
	}

	store, err := memstore.Open(cfg.StorePath(identity), memstore.Options{
		Identity: identity,
		Vector:   cfg.Store.Vector.Enabled && provider != nil,
		Logger:   logger,
	})
	if err != nil {
		if provider != nil {
			_ = provider.Close()
		}
		return nil, fmt.Errorf("failed to open memory index: %w", err)
	}

	var resolver *embedding.Resolver
	if provider != nil {
		var cache embedding.Cache
		if cfg.Cache.Enabled {
			cache = store
		}
		resolver = embedding.NewResolver(embedding.ResolverOptions{
			Provider:    provider,
			Cache:       cache,
			BatchSize:   cfg.Embedding.BatchSize,
			Concurrency: cfg.Embedding.Concurrency,
			MaxEntries:  cfg.Cache.MaxEntries,
			Logger:      logger,
		})
	}

	root, err := filepath.Abs(cfg.WorkspacePath)
	if err != nil {
		root = cfg.WorkspacePath
	}

	m := &Manager{
		cfg:      cfg,
		identity: identity,
		root:     root,
		logger:   logger,
		store:    store,
		provider: provider,
		resolver: resolver,
		indexer: NewIndexer(store, resolver, chunker.Options{
			Tokens:  cfg.Chunking.Tokens,
			Overlap: cfg.Chunking.Overlap,
		}, logger),
	}
	m.ctx, m.cancel = context.WithCancel(tracing.WithIdentity(context.Background(), identity))
	m.dirty.Store(true)
	observability.SetDirty(identity, true)

	caps := store.Capabilities()
	observability.SetCapability(identity, "keyword", caps.Keyword.Available)
	observability.SetCapability(identity, "vector", caps.Vector.Available)

	m.checkIndexModel(ctx)

	if cfg.Sync.Watch {
		if err := m.startWatcher(); err != nil {
			logger.Warn().Err(err).Msg("File watcher unavailable, relying on explicit syncs")
		}
	}

	if interval := cfg.SyncInterval(); interval > 0 {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			_ = m.Sync(m.ctx, SyncOptions{Reason: "interval"})
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to schedule periodic sync")
		} else {
			m.cron.Start()
		}
	}

	if cfg.Sync.OnStart {
		m.goSync("boot")
	}

	logger.Info().
		Str("db", store.Path()).
		Str("mode", string(m.Mode())).
		Msg("Memory manager initialized")
	return m, nil
}

// checkIndexModel forces the next sync to reindex everything when the
// provider or model changed since the index was last written.
func (m *Manager) checkIndexModel(ctx context.Context) {
	model, err := m.store.Meta(ctx, metaIndexModel)
	if err != nil || model == "" {
		return
	}
	key, _ := m.store.Meta(ctx, metaIndexProviderKey)
	if model != m.indexer.Model() || key != embedding.ProviderKey(m.provider) {
		m.logger.Info().
			Str("from", model).
			Str("to", m.indexer.Model()).
			Msg("Embedding model changed, next sync reindexes all files")
		m.forceReindex.Store(true)
	}
}

func (m *Manager) recordIndexModel(ctx context.Context) {
	if err := m.store.SetMeta(ctx, metaIndexModel, m.indexer.Model()); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record index model")
		return
	}
	_ = m.store.SetMeta(ctx, metaIndexProviderKey, embedding.ProviderKey(m.provider))
}

func (m *Manager) startWatcher() error {
	memoryDir, err := EnsureMemoryDirectory(m.root)
	if err != nil {
		return err
	}
	fw, err := NewFileWatcher(m.logger, m.cfg.WatchDebounce(), m.MarkDirty, m.onFilesSettled)
	if err != nil {
		return err
	}
	if err := fw.Watch(m.root); err != nil {
		_ = fw.Stop()
		return err
	}
	if err := fw.WatchTree(memoryDir); err != nil {
		_ = fw.Stop()
		return err
	}
	for _, p := range m.cfg.ExtraPaths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(m.root, p)
		}
		if isMarkdown(abs) {
			_ = fw.Watch(filepath.Dir(abs))
			continue
		}
		_ = fw.WatchTree(abs)
	}
	m.watcher = fw
	return nil
}

// onFilesSettled runs after the debounce window. Dirty was already set by
// the events themselves.
func (m *Manager) onFilesSettled() {
	m.MarkDirty()
	m.goSync("watch")
}

// goSync runs a sync in the background unless the manager is closing.
func (m *Manager) goSync(reason string) {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed.Load() {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		_ = m.Sync(m.ctx, SyncOptions{Reason: reason})
	}()
}

// Identity returns the partition this manager serves.
func (m *Manager) Identity() string { return m.identity }

// Mode returns the search mode the current capabilities allow.
func (m *Manager) Mode() SearchMode {
	return SelectMode(m.provider != nil, m.store.Capabilities(), m.cfg.Query.Hybrid.Enabled)
}

// IsDirty reports whether the index may be behind the filesystem.
func (m *Manager) IsDirty() bool { return m.dirty.Load() }

// MarkDirty flags the index as needing a sync.
func (m *Manager) MarkDirty() { m.setDirty(true) }

// OnDirtyChange registers fn to be called whenever the dirty flag flips.
func (m *Manager) OnDirtyChange(fn func(dirty bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirtyHandles = append(m.dirtyHandles, fn)
}

func (m *Manager) setDirty(v bool) {
	if m.dirty.Swap(v) == v {
		return
	}
	observability.SetDirty(m.identity, v)
	m.mu.RLock()
	handles := append([]func(bool){}, m.dirtyHandles...)
	m.mu.RUnlock()
	for _, fn := range handles {
		fn(v)
	}
}

// Sync brings the index up to date with the workspace. It is single-flight:
// while a sync runs, further calls return nil immediately. A failed pass
// leaves the index dirty so the next trigger retries.
func (m *Manager) Sync(ctx context.Context, opts SyncOptions) error {
	m.opMu.RLock()
	defer m.opMu.RUnlock()
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return m.sync(ctx, opts)
}

type syncSummary struct {
	indexed         int
	unchanged       int
	removed         int
	failed          int
	embeddingFailed bool
}

func (m *Manager) sync(ctx context.Context, opts SyncOptions) (err error) {
	if opts.Reason == "" {
		opts.Reason = "manual"
	}
	if !m.syncing.CompareAndSwap(false, true) {
		m.logger.Debug().Str("reason", opts.Reason).Msg("Sync already in progress, skipping")
		return nil
	}
	defer m.syncing.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	ctx = tracing.NewRequestContext(ctx)
	ctx = tracing.WithSyncReason(tracing.WithIdentity(ctx, m.identity), opts.Reason)
	ctx, span := tracing.StartSpan(ctx, "memory.sync",
		attribute.String("memory.sync_reason", opts.Reason),
		attribute.Bool("memory.force", opts.Force),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	start := time.Now()
	m.setDirty(false)
	force := opts.Force || m.forceReindex.Load()

	summary, err := m.runSync(ctx, force, logger)
	duration := time.Since(start)
	observability.RecordSync(opts.Reason, duration, err == nil)

	now := time.Now()
	m.mu.Lock()
	m.lastSync = &now
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		m.setDirty(true)
		logger.Warn().Err(err).Dur("duration", duration).Msg("Sync failed, index left dirty")
		return fmt.Errorf("sync: %w", err)
	}
	if summary.embeddingFailed {
		m.setDirty(true)
	} else if force {
		m.forceReindex.Store(false)
	}
	m.recordIndexModel(ctx)

	logger.Info().
		Int("files_indexed", summary.indexed).
		Int("files_unchanged", summary.unchanged).
		Int("files_removed", summary.removed).
		Dur("duration", duration).
		Msg("Sync completed")
	return nil
}

func (m *Manager) runSync(ctx context.Context, force bool, logger zerolog.Logger) (syncSummary, error) {
	var s syncSummary

	var entries []FileEntry
	if m.cfg.HasSource(config.SourceMemory) {
		var err error
		entries, err = ListMemoryFiles(m.root, config.SourceMemory, m.cfg.ExtraPaths)
		if err != nil {
			return s, err
		}
	}

	var (
		errs   []error
		active = make(map[string]bool, len(entries))
		hits   int
		misses int
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		active[entry.Path] = true

		res, err := m.indexer.IndexFile(ctx, entry, force)
		if err != nil {
			s.failed++
			errs = append(errs, err)
			logger.Warn().Err(err).Str("file", entry.Path).Msg("Failed to index file")
			continue
		}
		hits += res.CacheHits
		misses += res.CacheMisses
		if res.EmbeddingErr != nil {
			s.embeddingFailed = true
		}
		if res.Skipped {
			s.unchanged++
		} else {
			s.indexed++
		}
	}

	tracked, err := m.store.TrackedPaths(ctx, config.SourceMemory)
	if err != nil {
		errs = append(errs, fmt.Errorf("list tracked files: %w", err))
	}
	for _, path := range tracked {
		if active[path] {
			continue
		}
		if err := m.store.DeletePath(ctx, path, config.SourceMemory); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		s.removed++
		logger.Debug().Str("file", path).Msg("Removed stale file from index")
	}

	if m.resolver != nil {
		if _, err := m.resolver.Prune(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to prune embedding cache")
		}
	}

	m.mu.Lock()
	m.cacheHits += hits
	m.cacheMisses += misses
	m.mu.Unlock()

	observability.RecordFiles("indexed", s.indexed)
	observability.RecordFiles("unchanged", s.unchanged)
	observability.RecordFiles("removed", s.removed)
	observability.RecordFiles("failed", s.failed)
	if counts, err := m.store.Counts(ctx); err == nil {
		observability.SetChunks(m.identity, counts.Chunks)
	}

	return s, errors.Join(errs...)
}

// Search ranks indexed chunks against query. Backend failures degrade the
// mode and are logged; they are not returned. An empty query returns an
// empty list.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) (results []SearchResult, err error) {
	m.opMu.RLock()
	defer m.opMu.RUnlock()
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}

	ctx = tracing.WithIdentity(tracing.NewRequestContext(ctx), m.identity)
	ctx, span := tracing.StartSpan(ctx, "memory.search", attribute.Int("memory.query_len", len(query)))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if m.cfg.Sync.OnSearch && m.IsDirty() {
		if err := m.sync(ctx, SyncOptions{Reason: "search"}); err != nil {
			logger.Warn().Err(err).Msg("Sync before search failed, searching current index")
		}
	}

	maxResults := m.cfg.Query.MaxResults
	if opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}
	minScore := m.cfg.Query.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	start := time.Now()
	candidates, mode := m.rank(ctx, query, m.Mode(), maxResults, opts.Sources, logger)
	results = Finalize(candidates, minScore, maxResults, m.cfg.Query.SnippetChars, m.identity)
	observability.RecordSearch(string(mode), time.Since(start))
	span.SetAttributes(attribute.String("memory.mode", string(mode)), attribute.Int("memory.results", len(results)))

	logger.Debug().
		Str("mode", string(mode)).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("Search completed")
	return results, nil
}

// rank collects and scores candidates for mode, degrading to keyword-only
// when the query cannot be embedded. It returns the mode actually used.
func (m *Manager) rank(ctx context.Context, query string, mode SearchMode, limit int, sources []string, logger zerolog.Logger) ([]Candidate, SearchMode) {
	if mode == ModeNone {
		return nil, mode
	}

	q := memstore.Query{Model: m.indexer.Model(), Sources: sources, Limit: limit}
	if mode == ModeHybrid {
		q.Limit = max(limit, int(math.Ceil(float64(limit)*m.cfg.Query.Hybrid.CandidateMultiplier)))
	}

	var queryVec []float32
	if mode == ModeHybrid || mode == ModeVector {
		vec, err := m.provider.EmbedQuery(ctx, query)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Query embedding failed, falling back to keyword search")
		case !embedding.IsZero(vec):
			queryVec = vec
		}
		if queryVec == nil {
			if !m.store.Capabilities().Keyword.Available {
				return nil, ModeNone
			}
			mode = ModeKeyword
			q.Limit = limit
		}
	}

	var (
		g       errgroup.Group
		vector  []Candidate
		keyword []Candidate
	)
	if mode == ModeHybrid || mode == ModeVector {
		g.Go(func() error {
			hits, err := m.store.VectorQuery(ctx, queryVec, q)
			if err != nil {
				logger.Warn().Err(err).Msg("Vector search failed")
				return nil
			}
			vector = VectorCandidates(hits)
			return nil
		})
	}
	if mode == ModeHybrid || mode == ModeKeyword {
		if match, ok := BuildMatchQuery(query); ok {
			g.Go(func() error {
				hits, err := m.store.KeywordQuery(ctx, match, q)
				if err != nil {
					logger.Warn().Err(err).Msg("Keyword search failed")
					return nil
				}
				keyword = KeywordCandidates(hits)
				return nil
			})
		}
	}
	_ = g.Wait()

	switch mode {
	case ModeHybrid:
		return MergeHybrid(vector, keyword, Weights{
			Vector: m.cfg.Query.Hybrid.VectorWeight,
			Text:   m.cfg.Query.Hybrid.TextWeight,
		}), mode
	case ModeVector:
		SortCandidates(vector)
		return vector, mode
	default:
		SortCandidates(keyword)
		return keyword, mode
	}
}

// ReadFile returns lines of a memory file without touching the index.
func (m *Manager) ReadFile(_ context.Context, path string, from, lines int) (ReadResult, error) {
	if m.closed.Load() {
		return ReadResult{}, ErrManagerClosed
	}
	return ReadMemoryFile(m.root, path, from, lines)
}

// ReadMemoryFile reads a slice of a memory file under root.
func ReadMemoryFile(root, path string, from, lines int) (ReadResult, error) {
	abs, err := ResolveReadPath(root, path)
	if err != nil {
		return ReadResult{}, err
	}
	text, err := ReadLines(abs, from, lines)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ReadResult{Path: path, Text: text}, nil
}

// Status reports index counts, capabilities and sync state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.opMu.RLock()
	defer m.opMu.RUnlock()
	if m.closed.Load() {
		return Status{}, ErrManagerClosed
	}

	counts, err := m.store.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count index rows: %w", err)
	}

	st := Status{
		Identity:      m.identity,
		WorkspacePath: m.root,
		DBPath:        m.store.Path(),
		Files:         counts.Files,
		Chunks:        counts.Chunks,
		Dirty:         m.IsDirty(),
		Syncing:       m.syncing.Load(),
		Model:         m.indexer.Model(),
		Mode:          m.Mode(),
		VectorDims:    m.store.VectorDims(),
		Capabilities:  m.store.Capabilities(),
		CacheEntries:  counts.CacheEntries,
	}
	if m.provider != nil {
		st.Provider = m.provider.ID()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	st.LastSyncTime = m.lastSync
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		rate := float64(m.cacheHits) / float64(total)
		st.CacheHitRate = &rate
	}
	return st, nil
}

// Close stops background work, disposes the provider and closes the store.
// Repeat calls return the first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Info().Msg("Closing memory manager")

		m.bgMu.Lock()
		m.closed.Store(true)
		m.bgMu.Unlock()
		m.cancel()

		if m.cron != nil {
			<-m.cron.Stop().Done()
		}
		if m.watcher != nil {
			_ = m.watcher.Stop()
		}
		m.bg.Wait()

		m.opMu.Lock()
		defer m.opMu.Unlock()

		var errs []error
		if m.provider != nil {
			if err := m.provider.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close embedding provider: %w", err))
			}
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

var _ Index = (*Manager)(nil)
