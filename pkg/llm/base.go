package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
	"github.com/MLidstrom/Castellan-sub013/pkg/version"
)

// Supported model server providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// HTTPClient is the undecorated model client. It knows two wire formats:
// the local model server generate API and the remote chat completions API.
// Timeouts and retries belong to the decorators above it; this client only
// honours the caller's context.
type HTTPClient struct {
	provider string
	endpoint string
	model    string
	apiKey   string

	temperature float64
	numPredict  int
	topP        float64
	topK        int

	httpClient *http.Client
	logger     *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTP builds the base client from configuration.
func NewHTTP(cfg *config.LLMConfig) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("llm endpoint is required")
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	return &HTTPClient{
		provider:    provider,
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKey:      apiKey,
		temperature: cfg.Temperature,
		numPredict:  cfg.NumPredict,
		topP:        cfg.TopP,
		topK:        cfg.TopK,
		httpClient:  &http.Client{},
		logger:      slog.With("component", "llm", "provider", provider, "model", cfg.Model),
	}, nil
}

// WithModel returns a copy of the client bound to a different model name.
// The ensemble decorator uses it to fan one configuration out over several
// models.
func (c *HTTPClient) WithModel(model string) *HTTPClient {
	clone := *c
	clone.model = model
	clone.logger = slog.With("component", "llm", "provider", c.provider, "model", model)
	return &clone
}

// ProviderName implements providerNamer.
func (c *HTTPClient) ProviderName() string { return c.provider }

// Model returns the bound model name.
func (c *HTTPClient) Model() string { return c.model }

// Analyze implements Client.
func (c *HTTPClient) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	return c.Generate(ctx, analysisSystemPrompt, analysisUserPrompt(event, neighbors))
}

// Generate implements Client. A non-2xx status or transport failure is an
// error; a 2xx body that does not match the provider envelope yields an
// empty string so the resilience layer treats it as a retryable miss.
func (c *HTTPClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch c.provider {
	case ProviderOpenAI:
		return c.chatCompletion(ctx, systemPrompt, userPrompt)
	default:
		return c.generate(ctx, systemPrompt, userPrompt)
	}
}

// generateRequest is the local model server wire format.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *HTTPClient) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := userPrompt
	if systemPrompt != "" {
		prompt = systemPrompt + "\n\n" + userPrompt
	}

	body := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.temperature,
			NumPredict:  c.numPredict,
			TopP:        c.topP,
			TopK:        c.topK,
		},
	}

	raw, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("Unparseable model server envelope", "error", err)
		return "", nil
	}
	return out.Response, nil
}

// chatRequest is the remote chat completions wire format.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) chatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.numPredict,
		TopP:        c.topP,
	}

	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Choices) == 0 {
		c.logger.Warn("Unparseable chat completion envelope")
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read model response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model server returned HTTP %d: %s", resp.StatusCode, firstLine(raw))
	}
	return raw, nil
}

// firstLine keeps error messages single-line and bounded.
func firstLine(raw []byte) string {
	s := string(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
