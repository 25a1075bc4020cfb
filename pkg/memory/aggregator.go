package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harun/mneme/internal/observability"
)

// Aggregator fans a query out over several identities' indexes and merges
// the results by score.
type Aggregator struct {
	registry   *Registry
	maxResults int
	logger     zerolog.Logger
}

// NewAggregator creates an aggregator over registry. maxResults applies when
// a call does not set SearchOptions.MaxResults.
func NewAggregator(registry *Registry, maxResults int, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		registry:   registry,
		maxResults: maxResults,
		logger:     logger.With().Str("component", "aggregator").Logger(),
	}
}

// Search queries every identity concurrently. Identities that fail are
// logged and skipped; the merged list is truncated to the result limit.
func (a *Aggregator) Search(ctx context.Context, identities []string, query string, opts SearchOptions) ([]SearchResult, error) {
	if len(identities) == 0 {
		return nil, errors.New("at least one identity is required")
	}

	var (
		mu  sync.Mutex
		all []SearchResult
		g   errgroup.Group
	)
	for _, identity := range uniqueStrings(identities) {
		g.Go(func() error {
			idx, err := a.registry.Get(ctx, identity)
			if err == nil {
				var results []SearchResult
				results, err = idx.Search(ctx, query, opts)
				if err == nil {
					for i := range results {
						results[i].Identity = identity
					}
					mu.Lock()
					all = append(all, results...)
					mu.Unlock()
					return nil
				}
			}
			observability.RecordAggregateFailure(identity)
			a.logger.Warn().Err(err).Str("identity", identity).Msg("Identity search failed, skipping")
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(all, func(i, j int) bool {
		x, y := all[i], all[j]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.Identity != y.Identity {
			return x.Identity < y.Identity
		}
		if x.Path != y.Path {
			return x.Path < y.Path
		}
		return x.StartLine < y.StartLine
	})

	limit := a.maxResults
	if opts.MaxResults > 0 {
		limit = opts.MaxResults
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []SearchResult{}
	}
	return all, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
