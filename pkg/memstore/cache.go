package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mneme/pkg/embedding"
)

var _ embedding.Cache = (*Store)(nil)

// LoadEmbeddings returns cached vectors for the given content hashes.
func (s *Store) LoadEmbeddings(ctx context.Context, key embedding.CacheKey, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	// Stay well under SQLITE_MAX_VARIABLE_NUMBER.
	const chunk = 400
	for start := 0; start < len(hashes); start += chunk {
		end := min(start+chunk, len(hashes))
		part := hashes[start:end]

		args := []any{key.Provider, key.Model, key.ProviderKey}
		for _, h := range part {
			args = append(args, h)
		}
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT hash, embedding FROM embedding_cache
			WHERE provider = ? AND model = ? AND provider_key = ? AND hash IN (%s)`,
			strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")), args...)
		if err != nil {
			return nil, fmt.Errorf("load embedding cache: %w", err)
		}
		for rows.Next() {
			var (
				hash string
				blob []byte
			)
			if err := rows.Scan(&hash, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			vec, err := decodeVector(blob)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[hash] = vec
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StoreEmbeddings writes vectors to the cache, refreshing updated_at.
func (s *Store) StoreEmbeddings(ctx context.Context, key embedding.CacheKey, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_cache (provider, model, provider_key, hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model, provider_key, hash) DO UPDATE SET
			embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for hash, vec := range vectors {
		blob, err := encodeVector(vec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, key.Provider, key.Model, key.ProviderKey, hash, blob, len(vec), now); err != nil {
			return fmt.Errorf("store embedding cache: %w", err)
		}
	}
	return tx.Commit()
}

// PruneEmbeddings deletes the oldest entries beyond maxEntries and returns
// how many were removed.
func (s *Store) PruneEmbeddings(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE rowid IN (
			SELECT rowid FROM embedding_cache
			ORDER BY updated_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
