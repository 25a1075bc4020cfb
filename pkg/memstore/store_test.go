package memstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/pkg/embedding"
)

func openTestStore(t *testing.T, vector bool) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory", "alice.sqlite"), Options{
		Identity: "alice",
		Vector:   vector,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireKeyword(t *testing.T, s *Store) {
	t.Helper()
	if c := s.Capabilities().Keyword; !c.Available {
		t.Skipf("keyword index unavailable: %s", c.Reason)
	}
}

func requireVector(t *testing.T, s *Store) {
	t.Helper()
	if c := s.Capabilities().Vector; !c.Available {
		t.Skipf("vector index unavailable: %s", c.Reason)
	}
}

func rowsFor(path string, texts []string, vecs [][]float32) []ChunkRow {
	rows := make([]ChunkRow, len(texts))
	for i, text := range texts {
		hash := "h-" + text
		rows[i] = ChunkRow{
			ID:        ChunkID("memory", path, i+1, i+1, hash, "test-model"),
			Path:      path,
			Source:    "memory",
			StartLine: i + 1,
			EndLine:   i + 1,
			Hash:      hash,
			Model:     "test-model",
			Text:      text,
		}
		if vecs != nil {
			rows[i].Embedding = vecs[i]
		}
	}
	return rows
}

func writeFile(t *testing.T, s *Store, path string, rows []ChunkRow) {
	t.Helper()
	ctx := context.Background()
	if len(rows) > 0 && len(rows[0].Embedding) > 0 {
		s.EnsureVectorTable(ctx, len(rows[0].Embedding))
	}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.DeleteVectorRows(path, "memory"))
	require.NoError(t, tx.DeleteKeywordRows(path, "memory"))
	require.NoError(t, tx.DeleteChunks(path, "memory"))
	require.NoError(t, tx.InsertChunks(rows))
	require.NoError(t, tx.InsertKeywordRows(rows))
	_, err = tx.InsertVectorRows(rows)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertFile(FileRecord{Path: path, Source: "memory", Hash: "file-" + path, MTime: 1, Size: 10}))
	require.NoError(t, tx.Commit())
}

func TestOpen(t *testing.T) {
	t.Run("requires path and identity", func(t *testing.T) {
		_, err := Open("", Options{Identity: "a"})
		assert.Error(t, err)
		_, err = Open(filepath.Join(t.TempDir(), "x.sqlite"), Options{})
		assert.Error(t, err)
	})

	t.Run("second open of the same file is locked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "idx.sqlite")
		s, err := Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
		require.NoError(t, err)

		_, err = Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
		assert.ErrorIs(t, err, ErrLocked)

		require.NoError(t, s.Close())
		require.NoError(t, s.Close(), "close is idempotent")

		again, err := Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
		require.NoError(t, err)
		require.NoError(t, again.Close())
	})

	t.Run("vector disabled by configuration", func(t *testing.T) {
		s := openTestStore(t, false)
		c := s.Capabilities().Vector
		assert.False(t, c.Available)
		assert.Contains(t, c.Reason, "disabled")
		assert.False(t, s.EnsureVectorTable(context.Background(), 4))
	})

	t.Run("schema version recorded", func(t *testing.T) {
		s := openTestStore(t, false)
		v, err := s.Meta(context.Background(), metaSchemaVersion)
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, v)
	})
}

func TestSchemaRebuildOnMajorChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx.sqlite")

	s, err := Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
	require.NoError(t, err)
	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"one"}, nil))
	require.NoError(t, s.SetMeta(ctx, metaSchemaVersion, "0.9.0"))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Files)
	assert.Zero(t, counts.Chunks)

	v, _ := s.Meta(ctx, metaSchemaVersion)
	assert.Equal(t, SchemaVersion, v)

	require.NoError(t, s.SetMeta(ctx, metaSchemaVersion, "2.0.0"))
	require.NoError(t, s.Close())
	_, err = Open(path, Options{Identity: "a", Logger: zerolog.Nop()})
	assert.Error(t, err, "newer major schema is refused")
}

func TestChunkID(t *testing.T) {
	a := ChunkID("memory", "MEMORY.md", 1, 10, "abc", "m")
	assert.Equal(t, a, ChunkID("memory", "MEMORY.md", 1, 10, "abc", "m"))
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, ChunkID("memory", "MEMORY.md", 1, 10, "abd", "m"))
	assert.NotEqual(t, a, ChunkID("memory", "other.md", 1, 10, "abc", "m"))
	assert.NotEqual(t, a, ChunkID("memory", "MEMORY.md", 1, 11, "abc", "m"))
	assert.NotEqual(t, a, ChunkID("memory", "MEMORY.md", 1, 10, "abc", "m2"))
	assert.NotEqual(t, ChunkID("a", "bc", 1, 1, "", ""), ChunkID("ab", "c", 1, 1, "", ""))
}

func TestFileRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, false)

	_, ok, err := s.FileHash(ctx, "MEMORY.md", "memory")
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"alpha", "beta"}, nil))
	writeFile(t, s, "memory/b.md", rowsFor("memory/b.md", []string{"gamma"}, nil))

	hash, ok, err := s.FileHash(ctx, "MEMORY.md", "memory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "file-MEMORY.md", hash)

	paths, err := s.TrackedPaths(ctx, "memory")
	require.NoError(t, err)
	assert.Equal(t, []string{"MEMORY.md", "memory/b.md"}, paths)

	chunks, err := s.ChunksForPath(ctx, "MEMORY.md", "memory")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "alpha", chunks[0].Text)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Files)
	assert.Equal(t, 3, counts.Chunks)
}

func TestReplaceFileRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, true)

	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}}
	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"alpha", "beta"}, vecs))
	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"alpha2"}, [][]float32{{0, 0, 1}}))

	chunks, err := s.ChunksForPath(ctx, "MEMORY.md", "memory")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha2", chunks[0].Text)

	orphans, err := s.OrphanRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	if s.Capabilities().Vector.Available {
		assert.Equal(t, []float32{0, 0, 1}, chunks[0].Embedding)
		rows, err := s.RowsForPath(ctx, "MEMORY.md", "memory")
		require.NoError(t, err)
		assert.Equal(t, 1, rows.VectorRows)
	}
}

func TestDeletePath(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, true)

	writeFile(t, s, "memory/gone.md", rowsFor("memory/gone.md", []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}}))
	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"keep"}, [][]float32{{1, 1}}))

	require.NoError(t, s.DeletePath(ctx, "memory/gone.md", "memory"))

	rows, err := s.RowsForPath(ctx, "memory/gone.md", "memory")
	require.NoError(t, err)
	assert.Equal(t, Counts{}, rows)

	orphans, err := s.OrphanRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	kept, err := s.RowsForPath(ctx, "MEMORY.md", "memory")
	require.NoError(t, err)
	assert.Equal(t, 1, kept.Files)
	assert.Equal(t, 1, kept.Chunks)
}

func TestKeywordQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, false)
	requireKeyword(t, s)

	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{
		"the deploy uses blue green",
		"lunch was pizza",
		"deploy again on friday",
	}, nil))

	hits, err := s.KeywordQuery(ctx, `"deploy"`, Query{Model: "test-model", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, h.Text, "deploy")
		assert.LessOrEqual(t, h.Raw, 0.0, "bm25 rank is non-positive")
	}

	hits, err = s.KeywordQuery(ctx, `"deploy" AND "friday"`, Query{Model: "test-model", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 3, hits[0].StartLine)

	hits, err = s.KeywordQuery(ctx, `"deploy"`, Query{Model: "other-model", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits, "rows from another model are ignored")

	hits, err = s.KeywordQuery(ctx, `"deploy"`, Query{Model: "test-model", Sources: []string{"sessions"}, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, true)
	requireVector(t, s)

	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"east", "north", "northeast"}, [][]float32{
		{1, 0}, {0, 1}, {0.7071, 0.7071},
	}))
	assert.Equal(t, 2, s.VectorDims())

	hits, err := s.VectorQuery(ctx, []float32{0, 1}, Query{Model: "test-model", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "north", hits[0].Text)
	assert.InDelta(t, 0.0, hits[0].Raw, 1e-4)
	assert.Equal(t, "northeast", hits[1].Text)

	hits, err = s.VectorQuery(ctx, []float32{0, 1, 0}, Query{Model: "test-model", Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, hits, "dimension mismatch yields nothing")
}

func TestEnsureVectorTableRebuildsOnDimensionChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, true)
	requireVector(t, s)

	require.True(t, s.EnsureVectorTable(ctx, 2))
	writeFile(t, s, "MEMORY.md", rowsFor("MEMORY.md", []string{"a"}, [][]float32{{1, 0}}))

	require.True(t, s.EnsureVectorTable(ctx, 3))
	assert.Equal(t, 3, s.VectorDims())

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.VectorRows, "old-dimension rows are dropped")

	v, err := s.Meta(ctx, metaVectorDims)
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, false)
	key := embedding.CacheKey{Provider: "local", Model: "hash-v1-4", ProviderKey: "k1"}

	require.NoError(t, s.StoreEmbeddings(ctx, key, map[string][]float32{
		"h1": {1, 2, 3, 4},
		"h2": {5, 6, 7, 8},
	}))

	got, err := s.LoadEmbeddings(ctx, key, []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{"h1": {1, 2, 3, 4}, "h2": {5, 6, 7, 8}}, got)

	other := key
	other.ProviderKey = "k2"
	got, err = s.LoadEmbeddings(ctx, other, []string{"h1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.StoreEmbeddings(ctx, key, map[string][]float32{"h3": {9, 9, 9, 9}}))
	removed, err := s.PruneEmbeddings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err = s.LoadEmbeddings(ctx, key, []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "h3", "newest entry survives")
}
