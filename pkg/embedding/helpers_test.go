package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// countingProvider wraps HashProvider and records how many texts it embedded.
type countingProvider struct {
	*HashProvider
	maxChars int
	batches  atomic.Int64
	texts    atomic.Int64
	fail     bool

	mu   sync.Mutex
	seen []string
}

func newCountingProvider() *countingProvider {
	return &countingProvider{HashProvider: NewHashProvider(16)}
}

func (p *countingProvider) MaxInputChars() int { return p.maxChars }

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.fail {
		return nil, errors.New("provider unavailable")
	}
	p.batches.Add(1)
	p.texts.Add(int64(len(texts)))
	p.mu.Lock()
	p.seen = append(p.seen, texts...)
	p.mu.Unlock()
	return p.HashProvider.EmbedBatch(ctx, texts)
}

// memCache is an in-memory Cache.
type memCache struct {
	mu      sync.Mutex
	entries map[CacheKey]map[string][]float32
	prunes  int
	loadErr error
}

func newMemCache() *memCache {
	return &memCache{entries: map[CacheKey]map[string][]float32{}}
}

func (c *memCache) LoadEmbeddings(_ context.Context, key CacheKey, hashes []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := c.entries[key][h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (c *memCache) StoreEmbeddings(_ context.Context, key CacheKey, vectors map[string][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] == nil {
		c.entries[key] = map[string][]float32{}
	}
	for h, v := range vectors {
		c.entries[key][h] = v
	}
	return nil
}

func (c *memCache) PruneEmbeddings(_ context.Context, _ int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prunes++
	return 0, nil
}

func (c *memCache) size(key CacheKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[key])
}
