// Package memory indexes workspace markdown notes and serves hybrid search
// over them.
//
// Invariants:
// - All chunk rows of a file belong to one indexing generation; a file is
//   replaced as a set, never patched.
// - Sync is single-flight per Manager: a call made while one is running is
//   skipped, not queued.
// - Optional indexes (keyword, vector) degrade to unavailable and are reported
//   in Status; they never fail Search or Sync callers.
//
// Usage:
//
//	mgr, _ := memory.NewManager(ctx, memory.Options{Config: cfg, Logger: log})
//	defer mgr.Close()
//	_ = mgr.Sync(ctx, memory.SyncOptions{Reason: "manual"})
//	results, _ := mgr.Search(ctx, "deploy checklist", memory.SearchOptions{})
//	_ = results
package memory
