package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, DefaultIdentity, cfg.Identity)
	assert.Equal(t, []string{SourceMemory}, cfg.Sources)
	assert.Equal(t, 400, cfg.Chunking.Tokens)
	assert.Equal(t, 80, cfg.Chunking.Overlap)
	assert.Equal(t, 6, cfg.Query.MaxResults)
	assert.InDelta(t, 0.35, cfg.Query.MinScore, 1e-9)
	assert.InDelta(t, 0.7, cfg.Query.Hybrid.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Query.Hybrid.TextWeight, 1e-9)
	assert.InDelta(t, 4.0, cfg.Query.Hybrid.CandidateMultiplier, 1e-9)
	assert.True(t, cfg.Sync.Watch)
	assert.Equal(t, 1500, cfg.Sync.WatchDebounceMs)
	assert.Equal(t, 50000, cfg.Cache.MaxEntries)
	assert.Equal(t, ProviderAuto, cfg.Embedding.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	tokens := 64
	weight := 1.0
	watch := false
	sources := []string{SourceMemory, SourceSessions}

	merged := Merge(base, Overrides{
		Chunking: &ChunkingOverride{Tokens: &tokens},
		Query:    &QueryOverride{Hybrid: &HybridOverride{VectorWeight: &weight}},
		Sync:     &SyncOverride{Watch: &watch},
		Sources:  &sources,
	})

	assert.Equal(t, 64, merged.Chunking.Tokens)
	assert.Equal(t, base.Chunking.Overlap, merged.Chunking.Overlap, "unset leaves keep defaults")
	assert.InDelta(t, 1.0, merged.Query.Hybrid.VectorWeight, 1e-9)
	assert.InDelta(t, base.Query.Hybrid.TextWeight, merged.Query.Hybrid.TextWeight, 1e-9)
	assert.False(t, merged.Sync.Watch)
	assert.True(t, merged.Sync.OnSearch)
	assert.Equal(t, sources, merged.Sources)

	// Merge must not alias or mutate its inputs.
	sources[0] = "changed"
	assert.Equal(t, SourceMemory, merged.Sources[0])
	assert.Equal(t, 400, base.Chunking.Tokens)
	assert.True(t, base.Sync.Watch)
}

func TestMerge_EmptyOverridesIsIdentity(t *testing.T) {
	base := DefaultConfig()
	assert.Equal(t, base, Merge(base, Overrides{}))
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "memory", "alice.sqlite"), cfg.StorePath("alice"))
	assert.Equal(t, filepath.Join("/data", "memory", "default.sqlite"), cfg.StorePath(""))

	cfg.Store.Path = "/idx/{identity}/index.db"
	assert.Equal(t, "/idx/bob/index.db", cfg.StorePath("bob"))
}

func TestConfigString_MasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-secretsecretsecretsecret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-secretsecretsecretsecret", cfg.Embedding.APIKey)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad identity", func(c *Config) { c.Identity = "../etc" }, "invalid identity"},
		{"no sources", func(c *Config) { c.Sources = nil }, "at least one source"},
		{"unknown source", func(c *Config) { c.Sources = []string{"web"} }, "invalid source"},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.Tokens }, "chunking.overlap"},
		{"weight out of range", func(c *Config) { c.Query.Hybrid.TextWeight = 1.5 }, "text_weight"},
		{"multiplier below one", func(c *Config) { c.Query.Hybrid.CandidateMultiplier = 0.5 }, "candidate_multiplier"},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "gemini" }, "invalid embedding provider"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"unknown hook event", func(c *Config) {
			c.Hooks = []HookConfig{{Event: "turn", Script: "true"}}
		}, "unknown event"},
		{"empty hook script", func(c *Config) {
			c.Hooks = []HookConfig{{Event: HookSessionEnd, Script: " "}}
		}, "script is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
