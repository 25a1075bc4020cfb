package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(p Provider, cache Cache) *Resolver {
	return NewResolver(ResolverOptions{
		Provider:    p,
		Cache:       cache,
		BatchSize:   2,
		Concurrency: 2,
		MaxEntries:  100,
		Logger:      zerolog.Nop(),
	})
}

func TestResolver_CachesByHash(t *testing.T) {
	ctx := context.Background()
	p := newCountingProvider()
	cache := newMemCache()
	r := newTestResolver(p, cache)

	texts := []string{"one", "two", "three"}
	hashes := []string{"h1", "h2", "h3"}

	first, stats, err := r.Resolve(ctx, texts, hashes)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, ResolveStats{Misses: 3}, stats)
	assert.Equal(t, int64(3), p.texts.Load())
	assert.Equal(t, int64(2), p.batches.Load(), "3 misses in batches of 2")
	assert.Equal(t, 3, cache.size(r.Key()))
	assert.Equal(t, 1, cache.prunes)

	second, stats, err := r.Resolve(ctx, texts, hashes)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, ResolveStats{Hits: 3}, stats)
	assert.Equal(t, int64(3), p.texts.Load(), "no provider call on full cache hit")
}

func TestResolver_DeduplicatesMisses(t *testing.T) {
	p := newCountingProvider()
	r := newTestResolver(p, nil)

	vecs, stats, err := r.Resolve(context.Background(), []string{"same", "same", "other"}, []string{"a", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Misses)
	assert.Equal(t, int64(2), p.texts.Load())
	assert.Equal(t, vecs[0], vecs[1])
}

func TestResolver_TruncatesOversizedInput(t *testing.T) {
	p := newCountingProvider()
	p.maxChars = 5
	r := newTestResolver(p, nil)

	_, stats, err := r.Resolve(context.Background(), []string{"abcdefghij", "abc"}, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Truncated)
	assert.ElementsMatch(t, []string{"abcde", "abc"}, p.seen)
}

func TestResolver_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("provider error is returned", func(t *testing.T) {
		p := newCountingProvider()
		p.fail = true
		_, _, err := newTestResolver(p, newMemCache()).Resolve(ctx, []string{"a"}, []string{"h"})
		assert.Error(t, err)
	})

	t.Run("cache load error falls back to provider", func(t *testing.T) {
		p := newCountingProvider()
		cache := newMemCache()
		cache.loadErr = errors.New("disk gone")

		vecs, stats, err := newTestResolver(p, cache).Resolve(ctx, []string{"a"}, []string{"h"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, 1, stats.Misses)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		_, _, err := newTestResolver(newCountingProvider(), nil).Resolve(ctx, []string{"a"}, nil)
		assert.Error(t, err)
	})
}

func TestResolver_KeySeparatesProviders(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()

	small := newTestResolver(NewHashProvider(8), cache)
	large := newTestResolver(NewHashProvider(16), cache)

	_, _, err := small.Resolve(ctx, []string{"a"}, []string{"h"})
	require.NoError(t, err)

	vecs, stats, err := large.Resolve(ctx, []string{"a"}, []string{"h"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Misses, "vectors from another model are not reused")
	assert.Len(t, vecs[0], 16)
}
