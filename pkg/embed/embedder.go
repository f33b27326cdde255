// Package embed maps event text to fixed-dimension vectors via a remote
// model endpoint. A content-addressed cache in front of the transport keeps
// repeated events from re-embedding.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/version"
)

// openAIDefaultEndpoint is used when auto-detection falls back to the
// remote provider and no explicit endpoint fits it.
const openAIDefaultEndpoint = "https://api.openai.com/v1"

// Client produces embeddings for text.
type Client interface {
	// Embed returns the vector for text. A transport or HTTP-status failure
	// returns an error; a malformed or field-less response returns an empty
	// vector with no error. Cancellation returns the context error.
	Embed(ctx context.Context, text string) ([]float32, error)

	Provider() string
	Model() string
	Dimension() int
}

// HTTPEmbedder is the transport-level embedding client for the local model
// server (ollama-style) and the remote embeddings API (openai-style).
type HTTPEmbedder struct {
	provider  string
	endpoint  string
	model     string
	apiKey    string
	dimension int

	httpClient *http.Client
	logger     *slog.Logger
}

// New builds the embedding client from configuration. Provider "auto"
// probes the local server and falls back to the remote API when the probe
// fails.
func New(cfg *config.EmbeddingConfig) (*HTTPEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedding config is required")
	}

	logger := slog.With("component", "embedder")

	provider := cfg.Provider
	endpoint := cfg.Endpoint
	if provider == "auto" {
		if probeLocalServer(endpoint) {
			provider = "ollama"
		} else {
			provider = "openai"
			endpoint = openAIDefaultEndpoint
		}
		logger.Info("Auto-detected embedding provider", "provider", provider, "endpoint", endpoint)
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if provider == "openai" && apiKey == "" {
		return nil, fmt.Errorf("embedding provider openai requires an API key (env %s)", cfg.APIKeyEnv)
	}

	return &HTTPEmbedder{
		provider:   provider,
		endpoint:   endpoint,
		model:      cfg.Model,
		apiKey:     apiKey,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// probeLocalServer checks whether an ollama-style server answers at
// endpoint.
func probeLocalServer(endpoint string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(endpoint + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *HTTPEmbedder) Provider() string { return e.provider }
func (e *HTTPEmbedder) Model() string    { return e.model }
func (e *HTTPEmbedder) Dimension() int   { return e.dimension }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Client.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var (
		url     string
		payload any
	)
	switch e.provider {
	case "openai":
		url = e.endpoint + "/embeddings"
		payload = openAIEmbedRequest{Model: e.model, Input: text}
	default:
		url = e.endpoint + "/api/embeddings"
		payload = ollamaEmbedRequest{Model: e.model, Prompt: text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embedding request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding endpoint returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	vec := e.parseResponse(raw)
	if len(vec) == 0 {
		e.logger.Warn("Embedding response had no usable vector",
			"provider", e.provider, "model", e.model, "bytes", len(raw))
	}
	return vec, nil
}

// parseResponse extracts the vector. Parse failures and missing fields
// produce an empty vector, never an error; the caller treats an empty
// vector as "embedding unavailable".
func (e *HTTPEmbedder) parseResponse(raw []byte) []float32 {
	switch e.provider {
	case "openai":
		var out openAIEmbedResponse
		if err := json.Unmarshal(raw, &out); err != nil || len(out.Data) == 0 {
			return []float32{}
		}
		if out.Data[0].Embedding == nil {
			return []float32{}
		}
		return out.Data[0].Embedding
	default:
		var out ollamaEmbedResponse
		if err := json.Unmarshal(raw, &out); err != nil || out.Embedding == nil {
			return []float32{}
		}
		return out.Embedding
	}
}
