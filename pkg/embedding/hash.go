package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

const (
	ProviderIDLocal      = "local"
	DefaultHashDimension = 256

	hashTokenWeight = 0.7
	hashGramWeight  = 0.3
	hashGramSize    = 3
)

// HashProvider is an offline provider: a feature-hashed bag of words plus
// character trigrams, L2 normalized. Vectors are deterministic, so texts that
// share vocabulary land near each other without any model download.
type HashProvider struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// NewHashProvider creates a hash provider; dims <= 0 selects the default.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimension
	}
	return &HashProvider{dims: dims}
}

func (h *HashProvider) ID() string         { return ProviderIDLocal }
func (h *HashProvider) Model() string      { return fmt.Sprintf("hash-v1-%d", h.dims) }
func (h *HashProvider) MaxInputChars() int { return 0 }
func (h *HashProvider) Dimensions() int    { return h.dims }

func (h *HashProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashProvider) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *HashProvider) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return fmt.Errorf("embedding provider is closed")
	}
	return nil
}

func (h *HashProvider) vector(text string) []float32 {
	vec := make([]float32, h.dims)
	words := Tokenize(text)
	for _, w := range words {
		vec[hashIndex(w, h.dims)] += hashTokenWeight
	}
	for _, w := range words {
		runes := []rune(w)
		for i := 0; i+hashGramSize <= len(runes); i++ {
			vec[hashIndex(string(runes[i:i+hashGramSize]), h.dims)] += hashGramWeight
		}
	}
	return Normalize(vec)
}

// Tokenize lowercases text and splits it into runs of letters, digits and
// underscores.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

func hashIndex(s string, size int) int {
	f := fnv.New64a()
	_, _ = f.Write([]byte(s))
	return int(f.Sum64() % uint64(size))
}

// Normalize scales v to unit length in place. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// IsZero reports whether v has no magnitude (or no elements).
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
