package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the on-disk layout version. A major bump rebuilds the
// index from scratch; the source files are the system of record.
const SchemaVersion = "1.0.0"

const (
	metaSchemaVersion = "schema_version"
	metaVectorDims    = "vector_dims"
)

const baseSchema = `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT NOT NULL,
		source TEXT NOT NULL,
		identity TEXT NOT NULL,
		hash TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		PRIMARY KEY (path, source, identity)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		source TEXT NOT NULL,
		identity TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		hash TEXT NOT NULL,
		model TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path, source, identity);
	CREATE INDEX IF NOT EXISTS idx_chunks_model ON chunks(model);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		provider_key TEXT NOT NULL,
		hash TEXT NOT NULL,
		embedding BLOB NOT NULL,
		dims INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (provider, model, provider_key, hash)
	);
	CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated ON embedding_cache(updated_at);
`

const ftsSchema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		id UNINDEXED,
		path UNINDEXED,
		source UNINDEXED,
		identity UNINDEXED,
		model UNINDEXED,
		start_line UNINDEXED,
		end_line UNINDEXED
	);
`

func vectorTableDDL(dim int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE chunks_vec USING vec0(
		id TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, dim)
}

var allTables = []string{"chunks_vec", "chunks_fts", "chunks", "files", "embedding_cache", "meta"}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return err
	}

	current := semver.MustParse(SchemaVersion)
	stored, err := s.Meta(ctx, metaSchemaVersion)
	if err != nil {
		return err
	}
	if stored == "" {
		return s.SetMeta(ctx, metaSchemaVersion, SchemaVersion)
	}

	v, err := semver.NewVersion(stored)
	if err != nil {
		s.logger.Warn().Str("stored", stored).Msg("Unreadable schema version, rebuilding index")
		return s.rebuild(ctx)
	}

	compatible, _ := semver.NewConstraint(fmt.Sprintf("^%d.0.0", current.Major()))
	switch {
	case v.GreaterThan(current) && !compatible.Check(v):
		return fmt.Errorf("index schema %s is newer than supported %s", v, current)
	case !compatible.Check(v):
		s.logger.Info().Str("from", v.String()).Str("to", SchemaVersion).Msg("Index schema changed, rebuilding index")
		return s.rebuild(ctx)
	case v.LessThan(current):
		return s.SetMeta(ctx, metaSchemaVersion, SchemaVersion)
	}
	return nil
}

func (s *Store) rebuild(ctx context.Context) error {
	for _, t := range allTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return err
	}
	return s.SetMeta(ctx, metaSchemaVersion, SchemaVersion)
}

func (s *Store) tableExists(ctx context.Context, name string) bool {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return err == nil && n > 0
}

// Meta returns a metadata value, "" when unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}
