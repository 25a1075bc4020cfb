package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Query bounds a keyword or vector lookup.
type Query struct {
	Model   string
	Sources []string // empty = all sources
	Limit   int
}

// Counts summarizes the rows held for this identity.
type Counts struct {
	Files        int `json:"files"`
	Chunks       int `json:"chunks"`
	KeywordRows  int `json:"keyword_rows"`
	VectorRows   int `json:"vector_rows"`
	CacheEntries int `json:"cache_entries"`
}

func sourceFilter(col string, sources []string) (string, []any) {
	if len(sources) == 0 {
		return "", nil
	}
	args := make([]any, len(sources))
	for i, s := range sources {
		args[i] = s
	}
	return fmt.Sprintf(" AND %s IN (%s)", col, strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")), args
}

// FileHash returns the stored hash for a file and whether a record exists.
func (s *Store) FileHash(ctx context.Context, path, source string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT hash FROM files WHERE path = ? AND source = ? AND identity = ?",
		path, source, s.identity).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// TrackedPaths lists the files currently recorded for a source.
func (s *Store) TrackedPaths(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM files WHERE source = ? AND identity = ? ORDER BY path",
		source, s.identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// KeywordQuery runs an FTS5 MATCH expression. Hit.Raw is the bm25 rank
// (more negative is better); results are ordered best first.
func (s *Store) KeywordQuery(ctx context.Context, match string, q Query) ([]Hit, error) {
	if !s.Capabilities().Keyword.Available {
		return nil, nil
	}
	filter, args := sourceFilter("source", q.Sources)
	query := `
		SELECT id, path, source, start_line, end_line, text, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ? AND model = ? AND identity = ?` + filter + `
		ORDER BY score ASC
		LIMIT ?`

	all := append([]any{match, q.Model, s.identity}, args...)
	all = append(all, q.Limit)
	return s.scanHits(ctx, query, all...)
}

// VectorQuery ranks chunks by cosine distance to vec. Hit.Raw is the distance
// (0 is identical); results are ordered nearest first.
func (s *Store) VectorQuery(ctx context.Context, vec []float32, q Query) ([]Hit, error) {
	dims := s.VectorDims()
	if !s.Capabilities().Vector.Available || dims == 0 || len(vec) != dims {
		return nil, nil
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return nil, err
	}
	filter, args := sourceFilter("c.source", q.Sources)
	query := `
		SELECT c.id, c.path, c.source, c.start_line, c.end_line, c.text,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM chunks_vec v
		JOIN chunks c ON c.id = v.id
		WHERE c.model = ? AND c.identity = ?` + filter + `
		ORDER BY distance ASC
		LIMIT ?`

	all := append([]any{blob, q.Model, s.identity}, args...)
	all = append(all, q.Limit)
	return s.scanHits(ctx, query, all...)
}

func (s *Store) scanHits(ctx context.Context, query string, args ...any) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Path, &h.Source, &h.StartLine, &h.EndLine, &h.Text, &h.Raw); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ChunksForPath returns a file's chunks ordered by start line.
func (s *Store) ChunksForPath(ctx context.Context, path, source string) ([]ChunkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, source, start_line, end_line, hash, model, text, embedding
		FROM chunks
		WHERE path = ? AND source = ? AND identity = ?
		ORDER BY start_line, id`, path, source, s.identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var (
			r    ChunkRow
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.Path, &r.Source, &r.StartLine, &r.EndLine, &r.Hash, &r.Model, &r.Text, &blob); err != nil {
			return nil, err
		}
		if r.Embedding, err = decodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RowsForPath counts a file's rows in each relation.
func (s *Store) RowsForPath(ctx context.Context, path, source string) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE path = ? AND source = ? AND identity = ?",
		path, source, s.identity).Scan(&c.Files); err != nil {
		return c, err
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE path = ? AND source = ? AND identity = ?",
		path, source, s.identity).Scan(&c.Chunks); err != nil {
		return c, err
	}
	if s.Capabilities().Keyword.Available {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chunks_fts WHERE path = ? AND source = ? AND identity = ?",
			path, source, s.identity).Scan(&c.KeywordRows); err != nil {
			return c, err
		}
	}
	if s.VectorDims() > 0 {
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM chunks_vec
			WHERE id IN (SELECT id FROM chunks WHERE path = ? AND source = ? AND identity = ?)`,
			path, source, s.identity).Scan(&c.VectorRows); err != nil {
			return c, err
		}
	}
	return c, nil
}

// OrphanRows counts keyword and vector rows whose chunk no longer exists.
func (s *Store) OrphanRows(ctx context.Context) (int, error) {
	total := 0
	if s.Capabilities().Keyword.Available {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chunks_fts WHERE id NOT IN (SELECT id FROM chunks)").Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	if s.VectorDims() > 0 {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chunks_vec WHERE id NOT IN (SELECT id FROM chunks)").Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Counts returns row totals for this identity.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE identity = ?", s.identity).Scan(&c.Files); err != nil {
		return c, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE identity = ?", s.identity).Scan(&c.Chunks); err != nil {
		return c, err
	}
	if s.Capabilities().Keyword.Available {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_fts WHERE identity = ?", s.identity).Scan(&c.KeywordRows); err != nil {
			return c, err
		}
	}
	if s.VectorDims() > 0 {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_vec").Scan(&c.VectorRows); err != nil {
			return c, err
		}
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&c.CacheEntries); err != nil {
		return c, err
	}
	return c, nil
}
