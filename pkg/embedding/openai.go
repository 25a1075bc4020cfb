package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/mneme/internal/observability"
)

const (
	ProviderIDOpenAI   = "openai"
	DefaultOpenAIModel = "text-embedding-3-small"

	// 8191 tokens at roughly four characters per token, rounded down.
	openAIMaxInputChars = 32000
)

var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIOptions configures an OpenAI-compatible embeddings endpoint.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string // empty = api.openai.com
	Dimensions int    // 0 = model default
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIProvider calls the embeddings API through the official SDK.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	baseURL    string
	dimensions int

	mu     sync.RWMutex
	closed bool
}

// NewOpenAIProvider creates a new OpenAI embedding provider
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &OpenAIProvider{
		client:     openai.NewClient(reqOpts...),
		model:      opts.Model,
		baseURL:    opts.BaseURL,
		dimensions: opts.Dimensions,
	}, nil
}

func (p *OpenAIProvider) ID() string         { return ProviderIDOpenAI }
func (p *OpenAIProvider) Model() string      { return p.model }
func (p *OpenAIProvider) MaxInputChars() int { return openAIMaxInputChars }

// Fingerprint distinguishes endpoints and requested dimensions sharing a model name.
func (p *OpenAIProvider) Fingerprint() string {
	return fmt.Sprintf("%s|%d", p.baseURL, p.dimensions)
}

// Dimensions returns the configured or model default vector size.
func (p *OpenAIProvider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	if d, ok := openAIModelDimensions[p.model]; ok {
		return d
	}
	return 1536
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedding provider is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	start := time.Now()
	resp, err := p.client.Embeddings.New(ctx, params)
	observability.RecordEmbeddingBatch(ProviderIDOpenAI, time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}

	// Place by index; the API does not promise response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai returned no embedding for input %d", i)
		}
	}
	return out, nil
}

func (p *OpenAIProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
