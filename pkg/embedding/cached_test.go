package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryCounter struct {
	*HashProvider
	queries int
}

func (q *queryCounter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q.queries++
	return q.HashProvider.EmbedQuery(ctx, text)
}

func TestCachedQueryProvider(t *testing.T) {
	ctx := context.Background()
	inner := &queryCounter{HashProvider: NewHashProvider(8)}
	c := NewCachedQueryProvider(inner, 2)

	v1, err := c.EmbedQuery(ctx, "deploy")
	require.NoError(t, err)
	v2, err := c.EmbedQuery(ctx, "deploy")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.queries)

	_, _ = c.EmbedQuery(ctx, "rollback")
	_, _ = c.EmbedQuery(ctx, "release")
	assert.Equal(t, 2, c.Len(), "bounded by size")

	// "deploy" was evicted.
	_, _ = c.EmbedQuery(ctx, "deploy")
	assert.Equal(t, 4, inner.queries)

	assert.Equal(t, inner.ID(), c.ID())
	assert.Equal(t, inner.Model(), c.Model())
	assert.Same(t, inner, c.Inner())

	require.NoError(t, c.Close())
	assert.Zero(t, c.Len())
}

func TestProviderKey(t *testing.T) {
	local := NewHashProvider(8)
	assert.Equal(t, ProviderKey(local), ProviderKey(NewHashProvider(8)))
	assert.NotEqual(t, ProviderKey(local), ProviderKey(NewHashProvider(16)))
	assert.Equal(t, ProviderKey(local), ProviderKey(NewCachedQueryProvider(local, 4)), "wrapping keeps the key")
	assert.Empty(t, ProviderKey(nil))

	a, err := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: "https://a.example/v1/"})
	require.NoError(t, err)
	b, err := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: "https://b.example/v1/"})
	require.NoError(t, err)
	assert.NotEqual(t, ProviderKey(a), ProviderKey(b), "endpoint is part of the key")
	assert.Equal(t, ProviderKey(a), ProviderKey(NewCachedQueryProvider(a, 4)))
}
