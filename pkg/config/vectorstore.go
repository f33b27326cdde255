package config

import "time"

// VectorStoreConfig addresses the vector backend collection.
type VectorStoreConfig struct {
	// Endpoint is the base URL of the vector backend REST API.
	Endpoint string `yaml:"endpoint"`

	// Collection is the collection name. Changing Dimension requires a
	// fresh collection.
	Collection string `yaml:"collection"`

	// Distance is one of Cosine, Euclidean, Dot.
	Distance string `yaml:"distance"`

	// Dimension is the vector width of the collection.
	Dimension int `yaml:"dimension"`

	// APIKeyEnv names the environment variable holding the backend API key.
	// Empty disables authentication.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds one backend call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultVectorStoreConfig returns the built-in vector store defaults.
func DefaultVectorStoreConfig() *VectorStoreConfig {
	return &VectorStoreConfig{
		Endpoint:   "http://localhost:6333",
		Collection: "castellan_events",
		Distance:   "Cosine",
		Dimension:  768,
		Timeout:    10 * time.Second,
	}
}

// RetrieverConfig controls hybrid re-ranking over the vector store.
type RetrieverConfig struct {
	// Enabled turns hybrid re-ranking on. Disabled means plain vector search.
	Enabled bool `yaml:"enabled"`

	// TopK is the number of neighbours handed to the LLM.
	TopK int `yaml:"top_k"`

	// OverFetchMultiplier scales the candidate fetch before re-ranking.
	// Must be >= 1.0.
	OverFetchMultiplier float64 `yaml:"over_fetch_multiplier"`

	// VectorWeight and MetadataWeight combine similarity with metadata.
	// They must sum to 1.0; invalid combinations force pass-through mode.
	VectorWeight   float64 `yaml:"vector_weight"`
	MetadataWeight float64 `yaml:"metadata_weight"`

	// RecencyWeight and RiskLevelWeight split the metadata score. Their sum
	// must not exceed 1.0.
	RecencyWeight   float64 `yaml:"recency_weight"`
	RiskLevelWeight float64 `yaml:"risk_level_weight"`

	// RecencyDecayHours is the e-folding age of the recency term.
	RecencyDecayHours float64 `yaml:"recency_decay_hours"`
}

// DefaultRetrieverConfig returns the built-in retriever defaults.
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		Enabled:             true,
		TopK:                5,
		OverFetchMultiplier: 3.0,
		VectorWeight:        0.7,
		MetadataWeight:      0.3,
		RecencyWeight:       0.6,
		RiskLevelWeight:     0.4,
		RecencyDecayHours:   24,
	}
}
