package config

import "time"

// EmbeddingConfig controls the embedding model endpoint and the
// content-addressed cache in front of it.
type EmbeddingConfig struct {
	// Provider is "ollama", "openai", or "auto" (probe the local server and
	// fall back to the remote API).
	Provider string `yaml:"provider"`

	// Endpoint is the base URL of the embedding server.
	Endpoint string `yaml:"endpoint"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the bearer token for
	// remote providers.
	APIKeyEnv string `yaml:"api_key_env"`

	// Dimension is the vector width the model produces. Must match the
	// vector store dimension.
	Dimension int `yaml:"dimension"`

	// Timeout bounds one embedding call.
	Timeout time.Duration `yaml:"timeout"`

	// Cache configures the LRU in front of the endpoint.
	Cache EmbeddingCacheConfig `yaml:"cache"`
}

// EmbeddingCacheConfig bounds the embedding memoization cache.
type EmbeddingCacheConfig struct {
	// MaxEntries is the LRU capacity.
	MaxEntries int `yaml:"max_entries"`

	// TTL expires entries regardless of recency.
	TTL time.Duration `yaml:"ttl"`

	// PersistPath, when set, writes vectors through to a bolt file and
	// warms the cache from it on startup.
	PersistPath string `yaml:"persist_path"`
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider:  "ollama",
		Endpoint:  "http://localhost:11434",
		Model:     "nomic-embed-text",
		APIKeyEnv: "OPENAI_API_KEY",
		Dimension: 768,
		Timeout:   15 * time.Second,
		Cache: EmbeddingCacheConfig{
			MaxEntries: 50000,
			TTL:        24 * time.Hour,
		},
	}
}
