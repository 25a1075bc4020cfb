package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is a write transaction for replacing one file's rows. Callers apply the
// steps in order: DeleteVectorRows, DeleteKeywordRows, DeleteChunks,
// InsertChunks, InsertKeywordRows, InsertVectorRows, UpsertFile, Commit.
type Tx struct {
	store *Store
	tx    *sql.Tx
	ctx   context.Context
	vec   bool
	fts   bool
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	caps := s.Capabilities()
	return &Tx{
		store: s,
		tx:    tx,
		ctx:   ctx,
		vec:   caps.Vector.Available && s.VectorDims() > 0,
		fts:   caps.Keyword.Available,
	}, nil
}

// DeleteVectorRows removes the vector rows of a file's current chunks.
func (t *Tx) DeleteVectorRows(path, source string) error {
	if !t.vec {
		return nil
	}
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT id FROM chunks WHERE path = ? AND source = ? AND identity = ?",
		path, source, t.store.identity)
	if err != nil {
		return fmt.Errorf("list vector rows: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("list vector rows: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list vector rows: %w", err)
	}

	for _, id := range ids {
		if _, err := t.tx.ExecContext(t.ctx, "DELETE FROM chunks_vec WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete vector row %s: %w", id, err)
		}
	}
	return nil
}

// DeleteKeywordRows removes a file's keyword index rows.
func (t *Tx) DeleteKeywordRows(path, source string) error {
	if !t.fts {
		return nil
	}
	_, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM chunks_fts WHERE path = ? AND source = ? AND identity = ?",
		path, source, t.store.identity)
	if err != nil {
		return fmt.Errorf("delete keyword rows: %w", err)
	}
	return nil
}

// DeleteChunks removes a file's chunk rows.
func (t *Tx) DeleteChunks(path, source string) error {
	_, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM chunks WHERE path = ? AND source = ? AND identity = ?",
		path, source, t.store.identity)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// InsertChunks writes chunk rows. An existing row with the same id is
// replaced, which keeps reinserting identical content a no-op in effect.
func (t *Tx) InsertChunks(rows []ChunkRow) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT OR REPLACE INTO chunks
			(id, path, source, identity, start_line, end_line, hash, model, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range rows {
		blob, err := encodeVector(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(t.ctx, r.ID, r.Path, r.Source, t.store.identity,
			r.StartLine, r.EndLine, r.Hash, r.Model, r.Text, blob, now); err != nil {
			return fmt.Errorf("insert chunk %s: %w", r.ID, err)
		}
	}
	return nil
}

// InsertKeywordRows mirrors chunk text into the keyword index.
func (t *Tx) InsertKeywordRows(rows []ChunkRow) error {
	if !t.fts {
		return nil
	}
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT INTO chunks_fts (text, id, path, source, identity, model, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare keyword insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(t.ctx, r.Text, r.ID, r.Path, r.Source, t.store.identity,
			r.Model, r.StartLine, r.EndLine); err != nil {
			return fmt.Errorf("insert keyword row %s: %w", r.ID, err)
		}
	}
	return nil
}

// InsertVectorRows mirrors embeddings into the vector index. Empty
// embeddings, and embeddings whose size does not match the vector table, are
// skipped. It returns the number of rows written.
func (t *Tx) InsertVectorRows(rows []ChunkRow) (int, error) {
	// The table may have been created after Begin.
	dims := t.store.VectorDims()
	if !t.store.Capabilities().Vector.Available || dims == 0 {
		return 0, nil
	}
	t.vec = true

	stmt, err := t.tx.PrepareContext(t.ctx, "INSERT INTO chunks_vec (id, embedding) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare vector insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, r := range rows {
		if len(r.Embedding) == 0 || len(r.Embedding) != dims {
			continue
		}
		blob, err := encodeVector(r.Embedding)
		if err != nil {
			return n, fmt.Errorf("encode embedding for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(t.ctx, r.ID, blob); err != nil {
			return n, fmt.Errorf("insert vector row %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}

// UpsertFile records a file's indexed hash.
func (t *Tx) UpsertFile(f FileRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO files (path, source, identity, hash, mtime, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, source, identity) DO UPDATE SET
			hash = excluded.hash, mtime = excluded.mtime, size = excluded.size`,
		f.Path, f.Source, t.store.identity, f.Hash, f.MTime, f.Size)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

// DeleteFile removes a file record.
func (t *Tx) DeleteFile(path, source string) error {
	_, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM files WHERE path = ? AND source = ? AND identity = ?",
		path, source, t.store.identity)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction; it is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// DeletePath removes every row belonging to a file that is no longer present.
func (s *Store) DeletePath(ctx context.Context, path, source string) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.DeleteVectorRows(path, source); err != nil {
		return err
	}
	if err := tx.DeleteKeywordRows(path, source); err != nil {
		return err
	}
	if err := tx.DeleteChunks(path, source); err != nil {
		return err
	}
	if err := tx.DeleteFile(path, source); err != nil {
		return err
	}
	return tx.Commit()
}
