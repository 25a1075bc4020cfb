package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbeddingsServer(t *testing.T, status int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}

		inputs, _ := body["input"].([]any)
		data := make([]map[string]any, 0, len(inputs))
		// Reverse order to exercise index placement.
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), 0.5},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body["model"],
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOpenAIProvider_EmbedBatch(t *testing.T) {
	srv, requests := newEmbeddingsServer(t, http.StatusOK)

	p, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Dimensions: 2})
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i), 0.5}, v)
	}

	require.Len(t, *requests, 1)
	assert.Equal(t, DefaultOpenAIModel, (*requests)[0]["model"])
	assert.EqualValues(t, 2, (*requests)[0]["dimensions"])

	q, err := p.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5}, q)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	t.Run("api key required", func(t *testing.T) {
		_, err := NewOpenAIProvider(OpenAIOptions{})
		assert.Error(t, err)
	})

	t.Run("http error surfaces", func(t *testing.T) {
		srv, _ := newEmbeddingsServer(t, http.StatusBadRequest)
		p, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
		require.NoError(t, err)

		_, err = p.EmbedBatch(context.Background(), []string{"a"})
		assert.Error(t, err)
	})

	t.Run("closed", func(t *testing.T) {
		p, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key"})
		require.NoError(t, err)
		require.NoError(t, p.Close())
		_, err = p.EmbedBatch(context.Background(), []string{"a"})
		assert.Error(t, err)
	})
}

func TestOpenAIProvider_Dimensions(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIOptions{APIKey: "k", Model: "text-embedding-3-large"})
	assert.Equal(t, 3072, p.Dimensions())
	assert.Equal(t, openAIMaxInputChars, p.MaxInputChars())

	p, _ = NewOpenAIProvider(OpenAIOptions{APIKey: "k", Model: "text-embedding-3-large", Dimensions: 256})
	assert.Equal(t, 256, p.Dimensions())
}
