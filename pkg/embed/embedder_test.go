package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
)

func ollamaConfig(endpoint string) *config.EmbeddingConfig {
	cfg := config.DefaultEmbeddingConfig()
	cfg.Endpoint = endpoint
	return cfg
}

func TestEmbedOllamaContract(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	e, err := New(ollamaConfig(srv.URL))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "failed logon for alice")
	require.NoError(t, err)

	assert.Equal(t, "/api/embeddings", gotPath)
	assert.Equal(t, "nomic-embed-text", gotBody["model"])
	assert.Equal(t, "failed logon for alice", gotBody["prompt"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedOpenAIContract(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 2}},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	cfg := config.DefaultEmbeddingConfig()
	cfg.Provider = "openai"
	cfg.Endpoint = srv.URL
	cfg.Model = "text-embedding-3-small"
	cfg.APIKeyEnv = "TEST_OPENAI_KEY"

	e, err := New(cfg)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "service installed")
	require.NoError(t, err)

	assert.Equal(t, "/embeddings", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text-embedding-3-small", gotBody["model"])
	assert.Equal(t, "service installed", gotBody["input"])
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestEmbedOpenAIRequiresKey(t *testing.T) {
	cfg := config.DefaultEmbeddingConfig()
	cfg.Provider = "openai"
	cfg.APIKeyEnv = "MISSING_KEY_VAR"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestEmbedHTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := New(ollamaConfig(srv.URL))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestEmbedMalformedResponseReturnsEmptyVector(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<!doctype html>"},
		{name: "missing field", body: `{"model":"nomic-embed-text"}`},
		{name: "null embedding", body: `{"embedding":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e, err := New(ollamaConfig(srv.URL))
			require.NoError(t, err)

			vec, err := e.Embed(context.Background(), "text")
			require.NoError(t, err, "malformed payloads must not error")
			assert.Empty(t, vec)
		})
	}
}

func TestEmbedCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	e, err := New(ollamaConfig(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = e.Embed(ctx, "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestAutoDetectFallsBackToRemote(t *testing.T) {
	// Nothing is listening locally, so auto mode must pick the remote
	// provider, which then demands an API key.
	cfg := config.DefaultEmbeddingConfig()
	cfg.Provider = "auto"
	cfg.Endpoint = "http://127.0.0.1:1" // reliably refused
	cfg.APIKeyEnv = "MISSING_KEY_VAR"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestAutoDetectPrefersLocalServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.DefaultEmbeddingConfig()
	cfg.Provider = "auto"
	cfg.Endpoint = srv.URL

	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", e.Provider())
}
