package config

import (
	"fmt"
	"regexp"
	"strings"
)

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateIdentity checks that an identity is usable as a file name.
func (v *Validator) ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("invalid identity %q (letters, digits, '.', '_' and '-' only)", identity)
	}
	if strings.Contains(identity, "..") {
		return fmt.Errorf("invalid identity %q", identity)
	}
	return nil
}

// ValidateProvider validates an embedding provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{ProviderAuto, ProviderOpenAI, ProviderLocal, ProviderNone}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid embedding provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateSources validates corpus source tags
func (v *Validator) ValidateSources(sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for _, s := range sources {
		if s != SourceMemory && s != SourceSessions {
			return fmt.Errorf("invalid source: %s (must be one of: %s, %s)", s, SourceMemory, SourceSessions)
		}
	}
	return nil
}

// ValidateWeight validates a value in [0, 1]
func (v *Validator) ValidateWeight(name string, w float64) error {
	if w < 0 || w > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, w)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg Config) []error {
	var errors []error

	if err := v.ValidateIdentity(cfg.Identity); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSources(cfg.Sources); err != nil {
		errors = append(errors, err)
	}

	if cfg.Chunking.Tokens <= 0 {
		errors = append(errors, fmt.Errorf("chunking.tokens must be positive, got %d", cfg.Chunking.Tokens))
	}
	if cfg.Chunking.Overlap < 0 || (cfg.Chunking.Tokens > 0 && cfg.Chunking.Overlap >= cfg.Chunking.Tokens) {
		errors = append(errors, fmt.Errorf("chunking.overlap must be in [0, tokens), got %d", cfg.Chunking.Overlap))
	}

	if cfg.Query.MaxResults <= 0 {
		errors = append(errors, fmt.Errorf("query.max_results must be positive, got %d", cfg.Query.MaxResults))
	}
	if err := v.ValidateWeight("query.min_score", cfg.Query.MinScore); err != nil {
		errors = append(errors, err)
	}
	if cfg.Query.SnippetChars <= 0 {
		errors = append(errors, fmt.Errorf("query.snippet_chars must be positive, got %d", cfg.Query.SnippetChars))
	}
	h := cfg.Query.Hybrid
	if err := v.ValidateWeight("query.hybrid.vector_weight", h.VectorWeight); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateWeight("query.hybrid.text_weight", h.TextWeight); err != nil {
		errors = append(errors, err)
	}
	if h.CandidateMultiplier < 1 {
		errors = append(errors, fmt.Errorf("query.hybrid.candidate_multiplier must be >= 1, got %g", h.CandidateMultiplier))
	}

	if cfg.Sync.WatchDebounceMs < 0 {
		errors = append(errors, fmt.Errorf("sync.watch_debounce_ms must be >= 0"))
	}
	if cfg.Sync.IntervalMinutes < 0 {
		errors = append(errors, fmt.Errorf("sync.interval_minutes must be >= 0"))
	}
	if cfg.Cache.MaxEntries < 0 {
		errors = append(errors, fmt.Errorf("cache.max_entries must be >= 0"))
	}

	if err := v.ValidateProvider(cfg.Embedding.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Embedding.BatchSize <= 0 {
		errors = append(errors, fmt.Errorf("embedding.batch_size must be positive"))
	}
	if cfg.Embedding.Concurrency <= 0 {
		errors = append(errors, fmt.Errorf("embedding.concurrency must be positive"))
	}
	if cfg.Isolation.CloseTimeoutMs <= 0 {
		errors = append(errors, fmt.Errorf("isolation.close_timeout_ms must be positive"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	for i, h := range cfg.Hooks {
		if h.Event != HookSessionStart && h.Event != HookSessionEnd {
			errors = append(errors, fmt.Errorf("hooks[%d]: unknown event %q", i, h.Event))
		}
		if strings.TrimSpace(h.Script) == "" {
			errors = append(errors, fmt.Errorf("hooks[%d]: script is required", i))
		}
		if h.TimeoutSeconds < 0 {
			errors = append(errors, fmt.Errorf("hooks[%d]: timeout_seconds must be >= 0", i))
		}
	}

	return errors
}
