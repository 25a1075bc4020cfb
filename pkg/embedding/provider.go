// Package embedding turns chunk text into vectors: provider implementations,
// a concurrency-limited batch runner, an input-size guard and a resolver that
// consults a persistent cache before calling the provider.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/config"
)

// Provider computes embeddings. EmbedBatch preserves input order.
type Provider interface {
	ID() string
	Model() string
	// MaxInputChars is the largest input accepted, 0 when unbounded.
	MaxInputChars() int
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// fingerprinter is implemented by providers whose output depends on settings
// beyond id and model (endpoint, requested dimensions).
type fingerprinter interface {
	Fingerprint() string
}

// ProviderKey identifies the settings that produced a vector. Cached vectors
// are only reused under the same key.
func ProviderKey(p Provider) string {
	if p == nil {
		return ""
	}
	raw := p.ID() + "\x00" + p.Model()
	if f, ok := p.(fingerprinter); ok {
		raw += "\x00" + f.Fingerprint()
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// NewProvider builds the provider selected by cfg. It returns nil, nil when
// embeddings are disabled ("none"); callers then run keyword-only.
func NewProvider(cfg config.EmbeddingConfig, logger zerolog.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderLocal:
		p = NewHashProvider(cfg.Dimensions)
	case config.ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIOptions{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	case config.ProviderAuto, "":
		if cfg.APIKey != "" {
			p, err = NewOpenAIProvider(OpenAIOptions{
				APIKey:     cfg.APIKey,
				Model:      cfg.Model,
				BaseURL:    cfg.BaseURL,
				Dimensions: cfg.Dimensions,
				Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			})
		} else {
			logger.Info().Msg("No embedding API key configured, using local hash embeddings")
			p = NewHashProvider(cfg.Dimensions)
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.QueryCacheSize > 0 {
		p = NewCachedQueryProvider(p, cfg.QueryCacheSize)
	}

	logger.Debug().
		Str("provider", p.ID()).
		Str("model", p.Model()).
		Msg("Embedding provider ready")
	return p, nil
}
