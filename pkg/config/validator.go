package config

import (
	"fmt"
	"time"
)

// Validator checks a loaded Config comprehensively with clear error
// messages. Validation is fail-fast: the first problem stops the service
// before it starts.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section in dependency order.
func (v *Validator) ValidateAll() error {
	if v.cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidValue)
	}

	if err := v.validateCollector(); err != nil {
		return fmt.Errorf("collector validation failed: %w", err)
	}
	if err := v.validateEmbedding(); err != nil {
		return fmt.Errorf("embedding validation failed: %w", err)
	}
	if err := v.validateVectorStore(); err != nil {
		return fmt.Errorf("vector store validation failed: %w", err)
	}
	if err := v.validateRetriever(); err != nil {
		return fmt.Errorf("retriever validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	if err := v.validateCorrelation(); err != nil {
		return fmt.Errorf("correlation validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateNotifications(); err != nil {
		return fmt.Errorf("notifications validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateCollector() error {
	c := v.cfg.Collector
	if c == nil {
		return NewValidationError("collector", "", fmt.Errorf("section is required"))
	}
	if len(c.Channels) == 0 {
		return NewValidationError("collector", "channels", fmt.Errorf("at least one channel required"))
	}
	if c.PollInterval < 0 {
		return NewValidationError("collector", "poll_interval", fmt.Errorf("must be >= 0"))
	}
	if c.QueueSize <= 0 {
		return NewValidationError("collector", "queue_size", fmt.Errorf("must be positive"))
	}
	if c.QueueSize > MaxQueueSize {
		return NewValidationError("collector", "queue_size", fmt.Errorf("must not exceed %d", MaxQueueSize))
	}
	switch c.MinLevel {
	case "Information", "Warning", "Error", "Critical":
	default:
		return NewValidationError("collector", "min_level", fmt.Errorf("invalid level: %s", c.MinLevel))
	}
	switch c.Bookmarks.Backend {
	case "bolt":
		if c.Bookmarks.Path == "" {
			return NewValidationError("collector", "bookmarks.path", fmt.Errorf("required for bolt backend"))
		}
	case "redis":
		if c.Bookmarks.RedisAddr == "" {
			return NewValidationError("collector", "bookmarks.redis_addr", fmt.Errorf("required for redis backend"))
		}
	default:
		return NewValidationError("collector", "bookmarks.backend", fmt.Errorf("invalid backend: %s", c.Bookmarks.Backend))
	}
	return nil
}

func (v *Validator) validateEmbedding() error {
	e := v.cfg.Embedding
	if e == nil {
		return NewValidationError("embedding", "", fmt.Errorf("section is required"))
	}
	switch e.Provider {
	case "ollama", "openai", "auto":
	default:
		return NewValidationError("embedding", "provider", fmt.Errorf("invalid provider: %s", e.Provider))
	}
	if e.Endpoint == "" {
		return NewValidationError("embedding", "endpoint", fmt.Errorf("required"))
	}
	if e.Model == "" {
		return NewValidationError("embedding", "model", fmt.Errorf("required"))
	}
	if e.Dimension <= 0 {
		return NewValidationError("embedding", "dimension", fmt.Errorf("must be positive"))
	}
	if e.Timeout <= 0 {
		return NewValidationError("embedding", "timeout", fmt.Errorf("must be positive"))
	}
	if e.Cache.MaxEntries <= 0 {
		return NewValidationError("embedding", "cache.max_entries", fmt.Errorf("must be positive"))
	}
	if e.Cache.TTL <= 0 {
		return NewValidationError("embedding", "cache.ttl", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateVectorStore() error {
	s := v.cfg.VectorStore
	if s == nil {
		return NewValidationError("vector_store", "", fmt.Errorf("section is required"))
	}
	if s.Endpoint == "" {
		return NewValidationError("vector_store", "endpoint", fmt.Errorf("required"))
	}
	if s.Collection == "" {
		return NewValidationError("vector_store", "collection", fmt.Errorf("required"))
	}
	switch s.Distance {
	case "Cosine", "Euclidean", "Dot":
	default:
		return NewValidationError("vector_store", "distance", fmt.Errorf("invalid distance: %s", s.Distance))
	}
	if s.Dimension <= 0 {
		return NewValidationError("vector_store", "dimension", fmt.Errorf("must be positive"))
	}
	if v.cfg.Embedding != nil && s.Dimension != v.cfg.Embedding.Dimension {
		return NewValidationError("vector_store", "dimension",
			fmt.Errorf("dimension %d does not match embedding dimension %d", s.Dimension, v.cfg.Embedding.Dimension))
	}
	return nil
}

func (v *Validator) validateRetriever() error {
	r := v.cfg.Retriever
	if r == nil {
		return NewValidationError("retriever", "", fmt.Errorf("section is required"))
	}
	if r.TopK <= 0 {
		return NewValidationError("retriever", "top_k", fmt.Errorf("must be positive"))
	}
	if r.OverFetchMultiplier < 1.0 {
		return NewValidationError("retriever", "over_fetch_multiplier", fmt.Errorf("must be >= 1.0"))
	}
	if r.RecencyDecayHours <= 0 {
		return NewValidationError("retriever", "recency_decay_hours", fmt.Errorf("must be positive"))
	}
	// Weight combinations are deliberately not rejected here: an invalid
	// vector/metadata split drops the retriever into pass-through mode with
	// a logged warning instead of refusing to start.
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l == nil {
		return NewValidationError("llm", "", fmt.Errorf("section is required"))
	}
	switch l.Provider {
	case "ollama", "openai":
	default:
		return NewValidationError("llm", "provider", fmt.Errorf("invalid provider: %s", l.Provider))
	}
	if l.Endpoint == "" {
		return NewValidationError("llm", "endpoint", fmt.Errorf("required"))
	}
	if l.Model == "" {
		return NewValidationError("llm", "model", fmt.Errorf("required"))
	}
	if l.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("must be positive"))
	}

	res := l.Resilience
	if res.MaxRetries < 0 {
		return NewValidationError("llm", "resilience.max_retries", fmt.Errorf("must be >= 0"))
	}
	if res.RetryBaseDelay <= 0 {
		return NewValidationError("llm", "resilience.retry_base_delay", fmt.Errorf("must be positive"))
	}
	if res.BreakerFailureRatio <= 0 || res.BreakerFailureRatio > 1 {
		return NewValidationError("llm", "resilience.breaker_failure_ratio", fmt.Errorf("must be in (0, 1]"))
	}
	if res.BreakerWindow <= 0 {
		return NewValidationError("llm", "resilience.breaker_window", fmt.Errorf("must be positive"))
	}
	if res.BreakerBreakDuration <= 0 {
		return NewValidationError("llm", "resilience.breaker_break_duration", fmt.Errorf("must be positive"))
	}

	sj := l.StrictJSON
	if sj.MinConfidence < 0 || sj.MinConfidence > 100 {
		return NewValidationError("llm", "strict_json.min_confidence", fmt.Errorf("must be in [0, 100]"))
	}
	if sj.MaxRetryAttempts < 0 {
		return NewValidationError("llm", "strict_json.max_retry_attempts", fmt.Errorf("must be >= 0"))
	}

	if l.Ensemble.Enabled {
		if err := v.validateEnsemble(&l.Ensemble); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateEnsemble(e *EnsembleConfig) error {
	if len(e.Models) < 2 {
		return NewValidationError("llm", "ensemble.models", fmt.Errorf("at least two models required"))
	}
	switch e.VotingMode {
	case "majority", "unanimous", "weighted":
	default:
		return NewValidationError("llm", "ensemble.voting_mode", fmt.Errorf("invalid mode: %s", e.VotingMode))
	}
	switch e.ConfidenceReducer {
	case "mean", "median", "min", "max", "weighted_mean":
	default:
		return NewValidationError("llm", "ensemble.confidence_reducer", fmt.Errorf("invalid reducer: %s", e.ConfidenceReducer))
	}
	needsWeights := e.VotingMode == "weighted" || e.ConfidenceReducer == "weighted_mean"
	if needsWeights && len(e.Weights) != len(e.Models) {
		return NewValidationError("llm", "ensemble.weights",
			fmt.Errorf("%d weights for %d models", len(e.Weights), len(e.Models)))
	}
	for i, w := range e.Weights {
		if w < 0 {
			return NewValidationError("llm", "ensemble.weights", fmt.Errorf("weight %d is negative", i))
		}
	}
	if e.MinSuccessfulModels < 1 {
		return NewValidationError("llm", "ensemble.min_successful_models", fmt.Errorf("must be >= 1"))
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p == nil {
		return NewValidationError("pipeline", "", fmt.Errorf("section is required"))
	}
	if p.Workers <= 0 {
		return NewValidationError("pipeline", "workers", fmt.Errorf("must be positive"))
	}
	if p.QueueSize <= 0 || p.QueueSize > MaxQueueSize {
		return NewValidationError("pipeline", "queue_size", fmt.Errorf("must be in (0, %d]", MaxQueueSize))
	}
	if p.EventDeadline <= 0 {
		return NewValidationError("pipeline", "event_deadline", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateCorrelation() error {
	c := v.cfg.Correlation
	if c == nil {
		return NewValidationError("correlation", "", fmt.Errorf("section is required"))
	}
	if !c.Enabled {
		return nil
	}
	if c.Window <= 0 {
		return NewValidationError("correlation", "window", fmt.Errorf("must be positive"))
	}
	if c.BurstThreshold <= 0 {
		return NewValidationError("correlation", "burst_threshold", fmt.Errorf("must be positive"))
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return NewValidationError("correlation", "min_score", fmt.Errorf("must be in [0, 1]"))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return NewValidationError("retention", "", fmt.Errorf("section is required"))
	}
	if r.Window <= 0 {
		return NewValidationError("retention", "window", fmt.Errorf("must be positive"))
	}
	if r.SweepInterval < time.Minute {
		return NewValidationError("retention", "sweep_interval", fmt.Errorf("must be at least 1m"))
	}
	if r.PurgeBatchSize <= 0 {
		return NewValidationError("retention", "purge_batch_size", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateNotifications() error {
	n := v.cfg.Notifications
	if n == nil {
		return NewValidationError("notifications", "", fmt.Errorf("section is required"))
	}
	if !n.Enabled {
		return nil
	}
	if n.Teams.Enabled && n.Teams.WebhookURL == "" {
		return NewValidationError("notifications", "teams.webhook_url", fmt.Errorf("required when teams channel is enabled"))
	}
	if n.Slack.Enabled && n.Slack.WebhookURL == "" {
		return NewValidationError("notifications", "slack.webhook_url", fmt.Errorf("required when slack channel is enabled"))
	}
	return nil
}
