package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrDisabled is returned when memory indexing is switched off in configuration.
var ErrDisabled = errors.New("memory search is disabled")

// Corpus source tags.
const (
	SourceMemory   = "memory"
	SourceSessions = "sessions"
)

// Embedding provider names.
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderNone   = "none"
)

// Config is the fully resolved memory configuration. Every field has a value;
// partial input is folded in through Merge.
type Config struct {
	Enabled       bool            `json:"enabled" mapstructure:"enabled"`
	Identity      string          `json:"identity" mapstructure:"identity"`
	WorkspacePath string          `json:"workspace_path" mapstructure:"workspace_path"`
	DataDir       string          `json:"data_dir" mapstructure:"data_dir"`
	Sources       []string        `json:"sources" mapstructure:"sources"`
	ExtraPaths    []string        `json:"extra_paths" mapstructure:"extra_paths"`
	Isolation     IsolationConfig `json:"isolation" mapstructure:"isolation"`
	Chunking      ChunkingConfig  `json:"chunking" mapstructure:"chunking"`
	Query         QueryConfig     `json:"query" mapstructure:"query"`
	Sync          SyncConfig      `json:"sync" mapstructure:"sync"`
	Cache         CacheConfig     `json:"cache" mapstructure:"cache"`
	Embedding     EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Store         StoreConfig     `json:"store" mapstructure:"store"`
	Logging       LoggingConfig   `json:"logging" mapstructure:"logging"`
	Hooks         []HookConfig    `json:"hooks" mapstructure:"hooks"`
}

// Hook events
const (
	HookSessionStart = "session_start"
	HookSessionEnd   = "session_end"
)

// HookConfig is a shell script run on a session lifecycle event. A
// session_end hook is where notes from the conversation get written.
type HookConfig struct {
	ID             string `json:"id" mapstructure:"id"`
	Event          string `json:"event" mapstructure:"event"`
	Script         string `json:"script" mapstructure:"script"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
}

// IsolationConfig controls whether each identity's index runs in a worker process.
type IsolationConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	WorkerBinary   string `json:"worker_binary" mapstructure:"worker_binary"` // empty = current executable
	CloseTimeoutMs int    `json:"close_timeout_ms" mapstructure:"close_timeout_ms"`
}

// ChunkingConfig sizes chunks in approximate tokens.
type ChunkingConfig struct {
	Tokens  int `json:"tokens" mapstructure:"tokens"`
	Overlap int `json:"overlap" mapstructure:"overlap"`
}

// QueryConfig holds search defaults.
type QueryConfig struct {
	MaxResults   int          `json:"max_results" mapstructure:"max_results"`
	MinScore     float64      `json:"min_score" mapstructure:"min_score"`
	SnippetChars int          `json:"snippet_chars" mapstructure:"snippet_chars"`
	Hybrid       HybridConfig `json:"hybrid" mapstructure:"hybrid"`
}

// HybridConfig weights keyword and vector scores.
type HybridConfig struct {
	Enabled             bool        `json:"enabled" mapstructure:"enabled"`
	VectorWeight        float64     `json:"vector_weight" mapstructure:"vector_weight"`
	TextWeight          float64     `json:"text_weight" mapstructure:"text_weight"`
	CandidateMultiplier float64     `json:"candidate_multiplier" mapstructure:"candidate_multiplier"`
	MMR                 MMRConfig   `json:"mmr" mapstructure:"mmr"`
	TemporalDecay       DecayConfig `json:"temporal_decay" mapstructure:"temporal_decay"`
}

// MMRConfig is accepted for compatibility; ranking ignores it.
type MMRConfig struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled"`
	Lambda  float64 `json:"lambda" mapstructure:"lambda"`
}

// DecayConfig is accepted for compatibility; ranking ignores it.
type DecayConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	HalfLifeDays float64 `json:"half_life_days" mapstructure:"half_life_days"`
}

// SyncConfig controls when the index is refreshed.
type SyncConfig struct {
	OnStart         bool `json:"on_start" mapstructure:"on_start"`
	OnSearch        bool `json:"on_search" mapstructure:"on_search"`
	Watch           bool `json:"watch" mapstructure:"watch"`
	WatchDebounceMs int  `json:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
	IntervalMinutes int  `json:"interval_minutes" mapstructure:"interval_minutes"` // 0 disables periodic sync
}

// CacheConfig controls the persistent embedding cache.
type CacheConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	MaxEntries int  `json:"max_entries" mapstructure:"max_entries"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider       string `json:"provider" mapstructure:"provider"` // auto, openai, local, none
	Model          string `json:"model" mapstructure:"model"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Dimensions     int    `json:"dimensions" mapstructure:"dimensions"`
	BatchSize      int    `json:"batch_size" mapstructure:"batch_size"`
	Concurrency    int    `json:"concurrency" mapstructure:"concurrency"`
	QueryCacheSize int    `json:"query_cache_size" mapstructure:"query_cache_size"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// StoreConfig locates the index database.
type StoreConfig struct {
	Path   string       `json:"path" mapstructure:"path"` // may contain {identity}
	Vector VectorConfig `json:"vector" mapstructure:"vector"`
}

// VectorConfig toggles the sqlite-vec index.
type VectorConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultIdentity partitions the index when the host supplies none.
const DefaultIdentity = "default"

// DefaultConfig returns a config with default values
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Identity: DefaultIdentity,
		Sources:  []string{SourceMemory},
		Isolation: IsolationConfig{
			Enabled:        false,
			CloseTimeoutMs: 3000,
		},
		Chunking: ChunkingConfig{
			Tokens:  400,
			Overlap: 80,
		},
		Query: QueryConfig{
			MaxResults:   6,
			MinScore:     0.35,
			SnippetChars: 700,
			Hybrid: HybridConfig{
				Enabled:             true,
				VectorWeight:        0.7,
				TextWeight:          0.3,
				CandidateMultiplier: 4,
				MMR:                 MMRConfig{Lambda: 0.7},
				TemporalDecay:       DecayConfig{HalfLifeDays: 30},
			},
		},
		Sync: SyncConfig{
			OnStart:         true,
			OnSearch:        true,
			Watch:           true,
			WatchDebounceMs: 1500,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 50000,
		},
		Embedding: EmbeddingConfig{
			Provider:       ProviderAuto,
			BatchSize:      32,
			Concurrency:    4,
			QueryCacheSize: 256,
			TimeoutSeconds: 60,
		},
		Store: StoreConfig{
			Vector: VectorConfig{Enabled: true},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// StorePath returns the database file for an identity partition.
func (c Config) StorePath(identity string) string {
	if identity == "" {
		identity = c.Identity
	}
	if c.Store.Path != "" {
		return strings.ReplaceAll(c.Store.Path, "{identity}", identity)
	}
	return filepath.Join(c.DataDir, "memory", identity+".sqlite")
}

// WatchDebounce returns the watcher quiescence window.
func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.Sync.WatchDebounceMs) * time.Millisecond
}

// SyncInterval returns the periodic resync interval, zero when disabled.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// CloseTimeout bounds worker shutdown.
func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.Isolation.CloseTimeoutMs) * time.Millisecond
}

// HasSource reports whether a corpus source is enabled.
func (c Config) HasSource(source string) bool {
	for _, s := range c.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// String returns a JSON representation of the config with secrets masked.
func (c Config) String() string {
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = "***"
	}
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid memory config: %w", errors.Join(errs...))
}
