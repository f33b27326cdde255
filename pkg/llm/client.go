// Package llm provides the model client used for security event analysis.
// A plain HTTP client talks to the model server; decorators layer retry and
// circuit breaking, strict JSON extraction, telemetry, and optional
// multi-model ensembling on top. Each decorator wraps exactly one inner
// client, so the chain composes in any order the caller needs.
package llm

import (
	"context"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Client analyzes security events and generates free-form completions.
type Client interface {
	// Analyze classifies one event given up to K similar recent events and
	// returns the model's raw textual answer, expected to be JSON.
	Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error)

	// Generate runs one system/user prompt pair and returns the raw answer.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// providerNamer is implemented by clients that know which backend they talk
// to. Decorators forward the question to their inner client.
type providerNamer interface {
	ProviderName() string
}

// ProviderName reports the backend behind a client chain, or "unknown" for
// clients that do not expose one.
func ProviderName(c Client) string {
	if p, ok := c.(providerNamer); ok {
		return p.ProviderName()
	}
	return "unknown"
}
