package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/mneme/pkg/memstore"
)

// ErrManagerClosed is returned by operations on a closed Manager.
var ErrManagerClosed = errors.New("memory manager is closed")

// UnavailableError reports that memory search cannot serve requests at all,
// typically because it is disabled or misconfigured.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("memory unavailable: %s: %v", e.Reason, e.Err)
	}
	return "memory unavailable: " + e.Reason
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Index is the contract shared by an in-process Manager and an isolated
// worker proxy.
type Index interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
	ReadFile(ctx context.Context, path string, from, lines int) (ReadResult, error)
	Sync(ctx context.Context, opts SyncOptions) error
	IsDirty() bool
	Status(ctx context.Context) (Status, error)
	Close() error
}

// SyncOptions controls one sync pass.
type SyncOptions struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// Status describes a manager's index.
type Status struct {
	Identity      string                `json:"identity"`
	WorkspacePath string                `json:"workspace_path"`
	DBPath        string                `json:"db_path"`
	Files         int                   `json:"files"`
	Chunks        int                   `json:"chunks"`
	Dirty         bool                  `json:"dirty"`
	Syncing       bool                  `json:"syncing"`
	Provider      string                `json:"provider,omitempty"`
	Model         string                `json:"model"`
	Mode          SearchMode            `json:"mode"`
	VectorDims    int                   `json:"vector_dims,omitempty"`
	Capabilities  memstore.Capabilities `json:"capabilities"`
	CacheEntries  int                   `json:"cache_entries"`
	CacheHitRate  *float64              `json:"cache_hit_rate,omitempty"`
	LastSyncTime  *time.Time            `json:"last_sync_time,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
}
