package llm

import (
	"context"
	"fmt"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Chain is the fully decorated analysis client:
//
//	HTTP base -> Resilience -> StrictJSON -> Telemetry -> Ensemble
//
// and keeps handles to every decorator so statistics stay observable after
// wiring. The ensemble layer is always present; disabled it is a pure
// pass-through to the default model's chain.
type Chain struct {
	client   Client
	ensemble *Ensemble

	resiliences []*Resilience
	stricts     []*StrictJSON

	provider string
	model    string
}

var _ Client = (*Chain)(nil)

// NewChain wires the decorator stack from configuration.
func NewChain(cfg *config.LLMConfig) (*Chain, error) {
	base, err := NewHTTP(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm base client: %w", err)
	}

	c := &Chain{
		provider: base.ProviderName(),
		model:    cfg.Model,
	}

	decorate := func(b *HTTPClient) Client {
		r := NewResilience(b, cfg.Resilience, cfg.Timeout)
		s := NewStrictJSON(r, cfg.StrictJSON)
		c.resiliences = append(c.resiliences, r)
		c.stricts = append(c.stricts, s)
		return NewTelemetry(s, cfg.Telemetry)
	}

	defaultClient := decorate(base)

	ensemble, err := NewEnsemble(defaultClient, func(model string) Client {
		return decorate(base.WithModel(model))
	}, cfg.Ensemble)
	if err != nil {
		return nil, fmt.Errorf("llm ensemble: %w", err)
	}

	c.ensemble = ensemble
	c.client = ensemble
	return c, nil
}

// ProviderName implements providerNamer.
func (c *Chain) ProviderName() string { return c.provider }

// Model returns the default model name.
func (c *Chain) Model() string { return c.model }

// Analyze implements Client.
func (c *Chain) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	return c.client.Analyze(ctx, event, neighbors)
}

// Generate implements Client.
func (c *Chain) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.client.Generate(ctx, systemPrompt, userPrompt)
}

// ChainStats aggregates decorator counters across the default chain and all
// ensemble member chains.
type ChainStats struct {
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Resilience ResilienceStats `json:"resilience"`
	StrictJSON StrictJSONStats `json:"strictJson"`
	Ensemble   EnsembleStats   `json:"ensemble"`
}

// Snapshot returns current aggregate counters.
func (c *Chain) Snapshot() ChainStats {
	stats := ChainStats{
		Provider: c.provider,
		Model:    c.model,
		Ensemble: c.ensemble.Snapshot(),
	}

	for _, r := range c.resiliences {
		s := r.Snapshot()
		stats.Resilience.TotalCalls += s.TotalCalls
		stats.Resilience.SuccessfulCalls += s.SuccessfulCalls
		stats.Resilience.FailedCalls += s.FailedCalls
		stats.Resilience.RetriedCalls += s.RetriedCalls
		stats.Resilience.CircuitBreakerOpens += s.CircuitBreakerOpens
		stats.Resilience.Timeouts += s.Timeouts
	}
	if stats.Resilience.TotalCalls > 0 {
		stats.Resilience.SuccessRate = float64(stats.Resilience.SuccessfulCalls) / float64(stats.Resilience.TotalCalls)
	}

	for _, s := range c.stricts {
		snap := s.Snapshot()
		stats.StrictJSON.Processed += snap.Processed
		stats.StrictJSON.Extracted += snap.Extracted
		stats.StrictJSON.Retries += snap.Retries
		stats.StrictJSON.FallbackUsed += snap.FallbackUsed
	}
	return stats
}
