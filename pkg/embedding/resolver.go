package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/observability"
)

// CacheKey scopes cached vectors to the provider settings that produced them.
type CacheKey struct {
	Provider    string
	Model       string
	ProviderKey string
}

// KeyFor returns the cache scope for p.
func KeyFor(p Provider) CacheKey {
	return CacheKey{Provider: p.ID(), Model: p.Model(), ProviderKey: ProviderKey(p)}
}

// Cache persists vectors by content hash.
type Cache interface {
	LoadEmbeddings(ctx context.Context, key CacheKey, hashes []string) (map[string][]float32, error)
	StoreEmbeddings(ctx context.Context, key CacheKey, vectors map[string][]float32) error
	PruneEmbeddings(ctx context.Context, maxEntries int) (int, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Provider    Provider
	Cache       Cache // nil disables persistent caching
	BatchSize   int
	Concurrency int
	MaxEntries  int // prune target after write-back, 0 = unbounded
	Logger      zerolog.Logger
}

// ResolveStats summarizes one Resolve call.
type ResolveStats struct {
	Hits      int
	Misses    int
	Truncated int
}

// Resolver maps chunk texts to vectors, consulting the cache first and
// batching only the misses.
type Resolver struct {
	provider    Provider
	cache       Cache
	key         CacheKey
	batchSize   int
	concurrency int
	maxEntries  int
	logger      zerolog.Logger
}

// NewResolver creates a resolver for opts.Provider.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Resolver{
		provider:    opts.Provider,
		cache:       opts.Cache,
		key:         KeyFor(opts.Provider),
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		maxEntries:  opts.MaxEntries,
		logger:      opts.Logger.With().Str("component", "embedding").Logger(),
	}
}

// Key returns the cache scope used by this resolver.
func (r *Resolver) Key() CacheKey { return r.key }

// Resolve returns one vector per text, in order. hashes[i] is the content hash
// of texts[i]; identical hashes are computed once.
func (r *Resolver) Resolve(ctx context.Context, texts, hashes []string) ([][]float32, ResolveStats, error) {
	var stats ResolveStats
	if len(texts) != len(hashes) {
		return nil, stats, fmt.Errorf("resolve: %d texts but %d hashes", len(texts), len(hashes))
	}
	if len(texts) == 0 {
		return nil, stats, nil
	}

	known := map[string][]float32{}
	if r.cache != nil {
		loaded, err := r.cache.LoadEmbeddings(ctx, r.key, uniq(hashes))
		if err != nil {
			r.logger.Warn().Err(err).Msg("Embedding cache lookup failed, computing all vectors")
		} else {
			known = loaded
		}
	}

	var missTexts, missHashes []string
	pending := map[string]bool{}
	for i, h := range hashes {
		if _, ok := known[h]; ok {
			stats.Hits++
			continue
		}
		stats.Misses++
		if pending[h] {
			continue
		}
		pending[h] = true
		missTexts = append(missTexts, texts[i])
		missHashes = append(missHashes, h)
	}
	observability.RecordCacheLookups(stats.Hits, stats.Misses)

	if len(missTexts) > 0 {
		guarded, truncated := Guard(missTexts, r.provider.MaxInputChars())
		stats.Truncated = truncated
		if truncated > 0 {
			r.logger.Debug().Int("count", truncated).Msg("Truncated oversized chunks before embedding")
		}

		vecs, err := RunBatches(ctx, guarded, r.batchSize, r.concurrency, r.provider.EmbedBatch)
		if err != nil {
			return nil, stats, fmt.Errorf("embed %d chunks: %w", len(guarded), err)
		}

		fresh := make(map[string][]float32, len(vecs))
		for i, v := range vecs {
			known[missHashes[i]] = v
			fresh[missHashes[i]] = v
		}
		if r.cache != nil {
			if err := r.cache.StoreEmbeddings(ctx, r.key, fresh); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to write embedding cache")
			} else if _, err := r.Prune(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to prune embedding cache")
			}
		}
	}

	out := make([][]float32, len(hashes))
	for i, h := range hashes {
		out[i] = known[h]
	}
	return out, stats, nil
}

// Prune trims the cache to the configured maximum.
func (r *Resolver) Prune(ctx context.Context) (int, error) {
	if r.cache == nil || r.maxEntries <= 0 {
		return 0, nil
	}
	return r.cache.PruneEmbeddings(ctx, r.maxEntries)
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
