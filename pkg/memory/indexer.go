package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mneme/internal/tracing"
	"github.com/harun/mneme/pkg/chunker"
	"github.com/harun/mneme/pkg/embedding"
	"github.com/harun/mneme/pkg/memstore"
)

// KeywordOnlyModel tags chunks indexed without an embedding provider.
const KeywordOnlyModel = "fts-only"

// IndexResult summarizes one IndexFile call.
type IndexResult struct {
	Path        string
	Skipped     bool // unchanged and not forced; nothing was written
	Chunks      int
	Vectors     int
	CacheHits   int
	CacheMisses int
	// EmbeddingErr is set when vectors could not be computed and the file
	// was indexed keyword-only for this pass.
	EmbeddingErr error
}

// Indexer writes one file's chunks into the store.
type Indexer struct {
	store    *memstore.Store
	resolver *embedding.Resolver // nil = keyword-only
	model    string
	chunking chunker.Options
	logger   zerolog.Logger

	embedWarn sync.Once
}

// NewIndexer creates an indexer. A nil resolver indexes keyword-only.
func NewIndexer(store *memstore.Store, resolver *embedding.Resolver, chunking chunker.Options, logger zerolog.Logger) *Indexer {
	model := KeywordOnlyModel
	if resolver != nil {
		model = resolver.Key().Model
	}
	return &Indexer{
		store:    store,
		resolver: resolver,
		model:    model,
		chunking: chunking,
		logger:   logger.With().Str("component", "indexer").Logger(),
	}
}

// Model returns the model tag written on every chunk.
func (ix *Indexer) Model() string { return ix.model }

// IndexFile reindexes entry if its content hash changed (or force is set).
// Chunks and embeddings are computed before the write transaction opens, so
// the transaction itself only runs the ordered delete and insert steps.
func (ix *Indexer) IndexFile(ctx context.Context, entry FileEntry, force bool) (res IndexResult, err error) {
	res.Path = entry.Path

	ctx, span := tracing.StartSpan(ctx, "memory.index_file",
		attribute.String("memory.path", entry.Path),
		attribute.Bool("memory.force", force),
	)
	defer func() { tracing.EndSpan(span, err) }()

	content, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", entry.Path, err)
	}
	hash := chunker.HashText(string(content))

	if !force {
		stored, ok, err := ix.store.FileHash(ctx, entry.Path, entry.Source)
		if err != nil {
			return res, fmt.Errorf("lookup %s: %w", entry.Path, err)
		}
		if ok && stored == hash {
			res.Skipped = true
			return res, nil
		}
	}

	chunks := chunker.NonEmpty(chunker.ChunkMarkdown(string(content), ix.chunking))
	vectors := ix.embed(ctx, chunks, &res)

	rows := make([]memstore.ChunkRow, len(chunks))
	dims := 0
	for i, c := range chunks {
		rows[i] = memstore.ChunkRow{
			ID:        memstore.ChunkID(entry.Source, entry.Path, c.StartLine, c.EndLine, c.Hash, ix.model),
			Path:      entry.Path,
			Source:    entry.Source,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Hash:      c.Hash,
			Model:     ix.model,
			Text:      c.Text,
		}
		if vectors != nil && len(vectors[i]) > 0 && !embedding.IsZero(vectors[i]) {
			rows[i].Embedding = vectors[i]
			if dims == 0 {
				dims = len(vectors[i])
			}
		}
	}

	if dims > 0 {
		ix.store.EnsureVectorTable(ctx, dims)
	}

	// A file whose vectors failed is recorded with an empty hash so the next
	// pass retries it while stale cleanup still tracks it.
	fileHash := hash
	if res.EmbeddingErr != nil {
		fileHash = ""
	}

	tx, err := ix.store.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := tx.DeleteVectorRows(entry.Path, entry.Source); err != nil {
		return res, err
	}
	if err := tx.DeleteKeywordRows(entry.Path, entry.Source); err != nil {
		return res, err
	}
	if err := tx.DeleteChunks(entry.Path, entry.Source); err != nil {
		return res, err
	}
	if err := tx.InsertChunks(rows); err != nil {
		return res, err
	}
	if err := tx.InsertKeywordRows(rows); err != nil {
		return res, err
	}
	if res.Vectors, err = tx.InsertVectorRows(rows); err != nil {
		return res, err
	}
	if err := tx.UpsertFile(memstore.FileRecord{
		Path:   entry.Path,
		Source: entry.Source,
		Hash:   fileHash,
		MTime:  entry.MTime,
		Size:   entry.Size,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit %s: %w", entry.Path, err)
	}

	res.Chunks = len(rows)
	ix.logger.Debug().
		Str("path", entry.Path).
		Int("chunks", res.Chunks).
		Int("vectors", res.Vectors).
		Msg("Indexed file")
	return res, nil
}

func (ix *Indexer) embed(ctx context.Context, chunks []chunker.Chunk, res *IndexResult) [][]float32 {
	if ix.resolver == nil || len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		hashes[i] = c.Hash
	}

	vectors, stats, err := ix.resolver.Resolve(ctx, texts, hashes)
	res.CacheHits, res.CacheMisses = stats.Hits, stats.Misses
	if err != nil {
		res.EmbeddingErr = err
		ix.embedWarn.Do(func() {
			ix.logger.Warn().Err(err).Msg("Embedding failed, indexing keyword-only until the provider recovers")
		})
		return nil
	}
	return vectors
}
