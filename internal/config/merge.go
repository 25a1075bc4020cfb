package config

// Overrides mirrors Config with optional leaves. It is what a config file or a
// host may partially specify; Merge folds it over a resolved base.
type Overrides struct {
	Enabled       *bool              `json:"enabled,omitempty" mapstructure:"enabled"`
	Identity      *string            `json:"identity,omitempty" mapstructure:"identity"`
	WorkspacePath *string            `json:"workspace_path,omitempty" mapstructure:"workspace_path"`
	DataDir       *string            `json:"data_dir,omitempty" mapstructure:"data_dir"`
	Sources       *[]string          `json:"sources,omitempty" mapstructure:"sources"`
	ExtraPaths    *[]string          `json:"extra_paths,omitempty" mapstructure:"extra_paths"`
	Isolation     *IsolationOverride `json:"isolation,omitempty" mapstructure:"isolation"`
	Chunking      *ChunkingOverride  `json:"chunking,omitempty" mapstructure:"chunking"`
	Query         *QueryOverride     `json:"query,omitempty" mapstructure:"query"`
	Sync          *SyncOverride      `json:"sync,omitempty" mapstructure:"sync"`
	Cache         *CacheOverride     `json:"cache,omitempty" mapstructure:"cache"`
	Embedding     *EmbeddingOverride `json:"embedding,omitempty" mapstructure:"embedding"`
	Store         *StoreOverride     `json:"store,omitempty" mapstructure:"store"`
	Logging       *LoggingOverride   `json:"logging,omitempty" mapstructure:"logging"`
	Hooks         *[]HookConfig      `json:"hooks,omitempty" mapstructure:"hooks"`
}

type IsolationOverride struct {
	Enabled        *bool   `json:"enabled,omitempty" mapstructure:"enabled"`
	WorkerBinary   *string `json:"worker_binary,omitempty" mapstructure:"worker_binary"`
	CloseTimeoutMs *int    `json:"close_timeout_ms,omitempty" mapstructure:"close_timeout_ms"`
}

type ChunkingOverride struct {
	Tokens  *int `json:"tokens,omitempty" mapstructure:"tokens"`
	Overlap *int `json:"overlap,omitempty" mapstructure:"overlap"`
}

type QueryOverride struct {
	MaxResults   *int            `json:"max_results,omitempty" mapstructure:"max_results"`
	MinScore     *float64        `json:"min_score,omitempty" mapstructure:"min_score"`
	SnippetChars *int            `json:"snippet_chars,omitempty" mapstructure:"snippet_chars"`
	Hybrid       *HybridOverride `json:"hybrid,omitempty" mapstructure:"hybrid"`
}

type HybridOverride struct {
	Enabled             *bool          `json:"enabled,omitempty" mapstructure:"enabled"`
	VectorWeight        *float64       `json:"vector_weight,omitempty" mapstructure:"vector_weight"`
	TextWeight          *float64       `json:"text_weight,omitempty" mapstructure:"text_weight"`
	CandidateMultiplier *float64       `json:"candidate_multiplier,omitempty" mapstructure:"candidate_multiplier"`
	MMR                 *MMROverride   `json:"mmr,omitempty" mapstructure:"mmr"`
	TemporalDecay       *DecayOverride `json:"temporal_decay,omitempty" mapstructure:"temporal_decay"`
}

type MMROverride struct {
	Enabled *bool    `json:"enabled,omitempty" mapstructure:"enabled"`
	Lambda  *float64 `json:"lambda,omitempty" mapstructure:"lambda"`
}

type DecayOverride struct {
	Enabled      *bool    `json:"enabled,omitempty" mapstructure:"enabled"`
	HalfLifeDays *float64 `json:"half_life_days,omitempty" mapstructure:"half_life_days"`
}

type SyncOverride struct {
	OnStart         *bool `json:"on_start,omitempty" mapstructure:"on_start"`
	OnSearch        *bool `json:"on_search,omitempty" mapstructure:"on_search"`
	Watch           *bool `json:"watch,omitempty" mapstructure:"watch"`
	WatchDebounceMs *int  `json:"watch_debounce_ms,omitempty" mapstructure:"watch_debounce_ms"`
	IntervalMinutes *int  `json:"interval_minutes,omitempty" mapstructure:"interval_minutes"`
}

type CacheOverride struct {
	Enabled    *bool `json:"enabled,omitempty" mapstructure:"enabled"`
	MaxEntries *int  `json:"max_entries,omitempty" mapstructure:"max_entries"`
}

type EmbeddingOverride struct {
	Provider       *string `json:"provider,omitempty" mapstructure:"provider"`
	Model          *string `json:"model,omitempty" mapstructure:"model"`
	APIKey         *string `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        *string `json:"base_url,omitempty" mapstructure:"base_url"`
	Dimensions     *int    `json:"dimensions,omitempty" mapstructure:"dimensions"`
	BatchSize      *int    `json:"batch_size,omitempty" mapstructure:"batch_size"`
	Concurrency    *int    `json:"concurrency,omitempty" mapstructure:"concurrency"`
	QueryCacheSize *int    `json:"query_cache_size,omitempty" mapstructure:"query_cache_size"`
	TimeoutSeconds *int    `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

type StoreOverride struct {
	Path   *string         `json:"path,omitempty" mapstructure:"path"`
	Vector *VectorOverride `json:"vector,omitempty" mapstructure:"vector"`
}

type VectorOverride struct {
	Enabled *bool `json:"enabled,omitempty" mapstructure:"enabled"`
}

type LoggingOverride struct {
	Level     *string `json:"level,omitempty" mapstructure:"level"`
	File      *string `json:"file,omitempty" mapstructure:"file"`
	MaxSize   *int    `json:"max_size,omitempty" mapstructure:"max_size"`
	MaxAge    *int    `json:"max_age,omitempty" mapstructure:"max_age"`
	Compress  *bool   `json:"compress,omitempty" mapstructure:"compress"`
	Redaction *bool   `json:"redaction,omitempty" mapstructure:"redaction"`
}

func pick[T any](base T, v *T) T {
	if v == nil {
		return base
	}
	return *v
}

func pickSlice(base []string, v *[]string) []string {
	src := base
	if v != nil {
		src = *v
	}
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Merge deep-merges o over base and returns the result. Neither argument is
// modified; slices are copied.
func Merge(base Config, o Overrides) Config {
	out := base
	out.Enabled = pick(base.Enabled, o.Enabled)
	out.Identity = pick(base.Identity, o.Identity)
	out.WorkspacePath = pick(base.WorkspacePath, o.WorkspacePath)
	out.DataDir = pick(base.DataDir, o.DataDir)
	out.Sources = pickSlice(base.Sources, o.Sources)
	out.ExtraPaths = pickSlice(base.ExtraPaths, o.ExtraPaths)
	if o.Hooks != nil {
		out.Hooks = append([]HookConfig(nil), (*o.Hooks)...)
	} else if base.Hooks != nil {
		out.Hooks = append([]HookConfig(nil), base.Hooks...)
	}

	if i := o.Isolation; i != nil {
		out.Isolation.Enabled = pick(base.Isolation.Enabled, i.Enabled)
		out.Isolation.WorkerBinary = pick(base.Isolation.WorkerBinary, i.WorkerBinary)
		out.Isolation.CloseTimeoutMs = pick(base.Isolation.CloseTimeoutMs, i.CloseTimeoutMs)
	}

	if c := o.Chunking; c != nil {
		out.Chunking.Tokens = pick(base.Chunking.Tokens, c.Tokens)
		out.Chunking.Overlap = pick(base.Chunking.Overlap, c.Overlap)
	}

	if q := o.Query; q != nil {
		out.Query.MaxResults = pick(base.Query.MaxResults, q.MaxResults)
		out.Query.MinScore = pick(base.Query.MinScore, q.MinScore)
		out.Query.SnippetChars = pick(base.Query.SnippetChars, q.SnippetChars)
		if h := q.Hybrid; h != nil {
			bh := base.Query.Hybrid
			out.Query.Hybrid.Enabled = pick(bh.Enabled, h.Enabled)
			out.Query.Hybrid.VectorWeight = pick(bh.VectorWeight, h.VectorWeight)
			out.Query.Hybrid.TextWeight = pick(bh.TextWeight, h.TextWeight)
			out.Query.Hybrid.CandidateMultiplier = pick(bh.CandidateMultiplier, h.CandidateMultiplier)
			if m := h.MMR; m != nil {
				out.Query.Hybrid.MMR.Enabled = pick(bh.MMR.Enabled, m.Enabled)
				out.Query.Hybrid.MMR.Lambda = pick(bh.MMR.Lambda, m.Lambda)
			}
			if d := h.TemporalDecay; d != nil {
				out.Query.Hybrid.TemporalDecay.Enabled = pick(bh.TemporalDecay.Enabled, d.Enabled)
				out.Query.Hybrid.TemporalDecay.HalfLifeDays = pick(bh.TemporalDecay.HalfLifeDays, d.HalfLifeDays)
			}
		}
	}

	if s := o.Sync; s != nil {
		out.Sync.OnStart = pick(base.Sync.OnStart, s.OnStart)
		out.Sync.OnSearch = pick(base.Sync.OnSearch, s.OnSearch)
		out.Sync.Watch = pick(base.Sync.Watch, s.Watch)
		out.Sync.WatchDebounceMs = pick(base.Sync.WatchDebounceMs, s.WatchDebounceMs)
		out.Sync.IntervalMinutes = pick(base.Sync.IntervalMinutes, s.IntervalMinutes)
	}

	if c := o.Cache; c != nil {
		out.Cache.Enabled = pick(base.Cache.Enabled, c.Enabled)
		out.Cache.MaxEntries = pick(base.Cache.MaxEntries, c.MaxEntries)
	}

	if e := o.Embedding; e != nil {
		be := base.Embedding
		out.Embedding.Provider = pick(be.Provider, e.Provider)
		out.Embedding.Model = pick(be.Model, e.Model)
		out.Embedding.APIKey = pick(be.APIKey, e.APIKey)
		out.Embedding.BaseURL = pick(be.BaseURL, e.BaseURL)
		out.Embedding.Dimensions = pick(be.Dimensions, e.Dimensions)
		out.Embedding.BatchSize = pick(be.BatchSize, e.BatchSize)
		out.Embedding.Concurrency = pick(be.Concurrency, e.Concurrency)
		out.Embedding.QueryCacheSize = pick(be.QueryCacheSize, e.QueryCacheSize)
		out.Embedding.TimeoutSeconds = pick(be.TimeoutSeconds, e.TimeoutSeconds)
	}

	if s := o.Store; s != nil {
		out.Store.Path = pick(base.Store.Path, s.Path)
		if v := s.Vector; v != nil {
			out.Store.Vector.Enabled = pick(base.Store.Vector.Enabled, v.Enabled)
		}
	}

	if l := o.Logging; l != nil {
		out.Logging.Level = pick(base.Logging.Level, l.Level)
		out.Logging.File = pick(base.Logging.File, l.File)
		out.Logging.MaxSize = pick(base.Logging.MaxSize, l.MaxSize)
		out.Logging.MaxAge = pick(base.Logging.MaxAge, l.MaxAge)
		out.Logging.Compress = pick(base.Logging.Compress, l.Compress)
		out.Logging.Redaction = pick(base.Logging.Redaction, l.Redaction)
	}

	return out
}
