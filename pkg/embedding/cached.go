package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize bounds the in-memory query embedding cache.
const DefaultQueryCacheSize = 256

// CachedQueryProvider memoizes EmbedQuery in an LRU. Agents tend to repeat
// the same searches within a session; batch calls pass straight through
// because chunk vectors are cached persistently by the Resolver.
type CachedQueryProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedQueryProvider wraps inner with a query cache of size entries.
func NewCachedQueryProvider(inner Provider, size int) *CachedQueryProvider {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedQueryProvider{inner: inner, cache: cache}
}

func (c *CachedQueryProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.Model()))
	return hex.EncodeToString(sum[:])
}

func (c *CachedQueryProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *CachedQueryProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *CachedQueryProvider) ID() string         { return c.inner.ID() }
func (c *CachedQueryProvider) Model() string      { return c.inner.Model() }
func (c *CachedQueryProvider) MaxInputChars() int { return c.inner.MaxInputChars() }

// Fingerprint passes the inner provider's settings through so wrapping does
// not change the cache key.
func (c *CachedQueryProvider) Fingerprint() string {
	if f, ok := c.inner.(fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// Inner returns the wrapped provider.
func (c *CachedQueryProvider) Inner() Provider { return c.inner }

// Len reports the number of cached queries.
func (c *CachedQueryProvider) Len() int { return c.cache.Len() }

func (c *CachedQueryProvider) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
