package config

import "time"

// LLMConfig controls the analysis model endpoint and the decorator chain
// wrapped around it.
type LLMConfig struct {
	// Provider is "ollama" (local model server) or "openai" (remote chat API).
	Provider string `yaml:"provider"`

	// Endpoint is the base URL of the model server.
	Endpoint string `yaml:"endpoint"`

	// Model is the default model name.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the bearer token for
	// the remote chat API.
	APIKeyEnv string `yaml:"api_key_env"`

	// Sampling options forwarded to the model server.
	Temperature float64 `yaml:"temperature"`
	NumPredict  int     `yaml:"num_predict"`
	TopP        float64 `yaml:"top_p"`
	TopK        int     `yaml:"top_k"`

	// Timeout is the per-attempt wall clock for one model call.
	Timeout time.Duration `yaml:"timeout"`

	Resilience ResilienceConfig `yaml:"resilience"`
	StrictJSON StrictJSONConfig `yaml:"strict_json"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
}

// ResilienceConfig tunes retry, circuit breaking, and timeouts.
type ResilienceConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// BreakerFailureRatio opens the breaker once the failure ratio over the
	// sampling window reaches it, provided MinThroughput calls were seen.
	BreakerFailureRatio float64 `yaml:"breaker_failure_ratio"`

	// BreakerWindow is the sampling window for the failure ratio.
	BreakerWindow time.Duration `yaml:"breaker_window"`

	// BreakerMinThroughput is the minimum calls in a window before the
	// ratio is considered.
	BreakerMinThroughput uint32 `yaml:"breaker_min_throughput"`

	// BreakerBreakDuration is how long the breaker stays open before a
	// half-open probe.
	BreakerBreakDuration time.Duration `yaml:"breaker_break_duration"`
}

// StrictJSONConfig tunes response extraction and repair.
type StrictJSONConfig struct {
	// Enabled turns the decorator on; off means raw pass-through.
	Enabled bool `yaml:"enabled"`

	// MinConfidence rejects responses below this confidence during
	// validation. Zero disables the floor.
	MinConfidence int `yaml:"min_confidence"`

	// RetryOnFailure re-invokes the model with a stricter prompt when
	// extraction fails.
	RetryOnFailure bool `yaml:"retry_on_failure"`

	// MaxRetryAttempts bounds stricter-prompt retries.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
}

// TelemetryConfig tunes span recording.
type TelemetryConfig struct {
	// RecordText includes prompt and response text on spans, truncated to
	// MaxTextLength. Off by default.
	RecordText    bool `yaml:"record_text"`
	MaxTextLength int  `yaml:"max_text_length"`
}

// EnsembleConfig runs the chain against several models and aggregates.
type EnsembleConfig struct {
	// Enabled requires at least two Models.
	Enabled bool `yaml:"enabled"`

	// Models are the model names voted over.
	Models []string `yaml:"models"`

	// Parallel fans calls out under a shared deadline; false runs them
	// sequentially.
	Parallel bool `yaml:"parallel"`

	// Timeout is the shared deadline over the whole ensemble run.
	Timeout time.Duration `yaml:"timeout"`

	// VotingMode is "majority", "unanimous", or "weighted".
	VotingMode string `yaml:"voting_mode"`

	// Weights pair with Models in weighted mode; normalized to sum 1.0.
	Weights []float64 `yaml:"weights"`

	// ConfidenceReducer is "mean", "median", "min", "max", or "weighted_mean".
	ConfidenceReducer string `yaml:"confidence_reducer"`

	// MinSuccessfulModels gates aggregation; fewer successes fall back to
	// the highest-confidence partial result.
	MinSuccessfulModels int `yaml:"min_successful_models"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:    "ollama",
		Endpoint:    "http://localhost:11434",
		Model:       "llama3",
		APIKeyEnv:   "OPENAI_API_KEY",
		Temperature: 0.1,
		NumPredict:  512,
		TopP:        0.9,
		TopK:        40,
		Timeout:     30 * time.Second,
		Resilience: ResilienceConfig{
			MaxRetries:           3,
			RetryBaseDelay:       200 * time.Millisecond,
			BreakerFailureRatio:  0.5,
			BreakerWindow:        30 * time.Second,
			BreakerMinThroughput: 5,
			BreakerBreakDuration: 30 * time.Second,
		},
		StrictJSON: StrictJSONConfig{
			Enabled:          true,
			RetryOnFailure:   true,
			MaxRetryAttempts: 1,
		},
		Telemetry: TelemetryConfig{
			MaxTextLength: 1024,
		},
		Ensemble: EnsembleConfig{
			Parallel:            true,
			Timeout:             2 * time.Minute,
			VotingMode:          "majority",
			ConfidenceReducer:   "mean",
			MinSuccessfulModels: 2,
		},
	}
}
