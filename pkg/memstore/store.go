// Package memstore is the sqlite storage layer of the memory index: file and
// chunk relations, an FTS5 keyword index, a sqlite-vec vector index and the
// persistent embedding cache.
//
// FTS5 is compiled into mattn/go-sqlite3 only with the sqlite_fts5 build tag
// (go build -tags sqlite_fts5). Without it the keyword capability reports
// unavailable and search runs vector-only.
package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Register sqlite-vec on every new connection.
	sqlite_vec.Auto()
}

// ErrLocked is returned when another manager already owns the index file.
var ErrLocked = errors.New("memory index is locked by another process")

// Capability is the outcome of probing an optional index.
type Capability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func unavailable(format string, args ...any) Capability {
	return Capability{Reason: fmt.Sprintf(format, args...)}
}

// Capabilities reports which optional indexes this handle can use.
type Capabilities struct {
	Keyword Capability `json:"keyword"`
	Vector  Capability `json:"vector"`
}

// Options configures Open.
type Options struct {
	Identity string
	// Vector enables the sqlite-vec probe; false reports vector unavailable.
	Vector bool
	Logger zerolog.Logger
}

// Store is an exclusively owned handle on one index database.
type Store struct {
	db       *sql.DB
	path     string
	identity string
	lock     *flock.Flock
	logger   zerolog.Logger

	mu         sync.RWMutex
	caps       Capabilities
	vectorDims int

	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if needed) the index database at path and takes an
// exclusive advisory lock on path+".lock" for the lifetime of the handle.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if opts.Identity == "" {
		return nil, errors.New("identity is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:       db,
		path:     path,
		identity: opts.Identity,
		lock:     lock,
		logger:   opts.Logger.With().Str("component", "memstore").Str("identity", opts.Identity).Logger(),
	}

	ctx := context.Background()
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.probe(ctx, opts.Vector)

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Identity returns the partition this handle serves.
func (s *Store) Identity() string { return s.identity }

// Capabilities returns the current capability state.
func (s *Store) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// VectorDims returns the dimension of the vector table, 0 if not created.
func (s *Store) VectorDims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorDims
}

// probe checks the optional extensions once. Failures are logged and
// recorded, never returned.
func (s *Store) probe(ctx context.Context, vector bool) {
	caps := Capabilities{Keyword: Capability{Available: true}}

	if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
		caps.Keyword = unavailable("fts5 unavailable: %v", err)
		s.logger.Warn().Err(err).Msg("Keyword index unavailable, keyword search disabled")
	}

	switch {
	case !vector:
		caps.Vector = unavailable("vector index disabled by configuration")
	default:
		var version string
		if err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
			caps.Vector = unavailable("sqlite-vec unavailable: %v", err)
			s.logger.Warn().Err(err).Msg("Vector index unavailable, vector search disabled")
		} else {
			caps.Vector = Capability{Available: true}
			s.logger.Debug().Str("sqlite_vec", version).Msg("Vector extension loaded")
		}
	}

	dims := 0
	if caps.Vector.Available && s.tableExists(ctx, "chunks_vec") {
		if v, err := s.Meta(ctx, metaVectorDims); err == nil {
			dims, _ = strconv.Atoi(v)
		}
	}

	s.mu.Lock()
	s.caps = caps
	s.vectorDims = dims
	s.mu.Unlock()
}

// disableVector marks the vector capability unavailable for the rest of the
// handle's lifetime.
func (s *Store) disableVector(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps.Vector = Capability{Reason: reason}
	s.vectorDims = 0
}

// EnsureVectorTable makes sure the vector table exists with dimension dim,
// dropping and recreating it when the dimension changed. It returns false
// when vector indexing is unavailable.
func (s *Store) EnsureVectorTable(ctx context.Context, dim int) bool {
	if dim <= 0 {
		return false
	}
	s.mu.RLock()
	available := s.caps.Vector.Available
	current := s.vectorDims
	s.mu.RUnlock()
	if !available {
		return false
	}
	if current == dim {
		return true
	}

	if current != 0 {
		s.logger.Info().Int("from", current).Int("to", dim).Msg("Embedding dimension changed, rebuilding vector index")
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS chunks_vec"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to drop vector table")
		s.disableVector(fmt.Sprintf("drop vector table: %v", err))
		return false
	}
	if _, err := s.db.ExecContext(ctx, vectorTableDDL(dim)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to create vector table, vector search disabled")
		s.disableVector(fmt.Sprintf("create vector table: %v", err))
		return false
	}
	if err := s.SetMeta(ctx, metaVectorDims, strconv.Itoa(dim)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record vector dimension")
	}

	s.mu.Lock()
	s.vectorDims = dim
	s.mu.Unlock()
	return true
}

// Close closes the database and releases the lock. Repeat calls return the
// first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release index lock: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
