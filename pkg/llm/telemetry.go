package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Span names emitted by the telemetry decorator.
const (
	spanAnalyze  = "security_analysis"
	spanGenerate = "chat_generation"
)

// Telemetry records one span per model call. It never suppresses errors;
// whatever the inner client returns is recorded on the span and rethrown.
type Telemetry struct {
	inner  Client
	cfg    config.TelemetryConfig
	tracer trace.Tracer
}

var _ Client = (*Telemetry)(nil)

// NewTelemetry wraps inner per cfg.
func NewTelemetry(inner Client, cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		inner:  inner,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/MLidstrom/Castellan-sub013/pkg/llm"),
	}
}

// ProviderName implements providerNamer.
func (t *Telemetry) ProviderName() string { return ProviderName(t.inner) }

// Analyze implements Client.
func (t *Telemetry) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	ctx, span := t.tracer.Start(ctx, spanAnalyze,
		trace.WithAttributes(
			attribute.String("llm.provider", ProviderName(t.inner)),
			attribute.Int("event.id", event.EventID),
			attribute.String("event.channel", event.Channel),
			attribute.String("event.host", event.Host),
			attribute.Int("neighbors.count", len(neighbors)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.inner.Analyze(ctx, event, neighbors)
	t.finish(span, start, result, err)

	if t.cfg.RecordText && err == nil {
		span.SetAttributes(attribute.String("llm.response", t.truncate(result)))
	}
	return result, err
}

// Generate implements Client.
func (t *Telemetry) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, span := t.tracer.Start(ctx, spanGenerate,
		trace.WithAttributes(
			attribute.String("llm.provider", ProviderName(t.inner)),
		),
	)
	defer span.End()

	if t.cfg.RecordText {
		span.SetAttributes(
			attribute.String("llm.system_prompt", t.truncate(systemPrompt)),
			attribute.String("llm.user_prompt", t.truncate(userPrompt)),
		)
	}

	start := time.Now()
	result, err := t.inner.Generate(ctx, systemPrompt, userPrompt)
	t.finish(span, start, result, err)

	if t.cfg.RecordText && err == nil {
		span.SetAttributes(attribute.String("llm.response", t.truncate(result)))
	}
	return result, err
}

func (t *Telemetry) finish(span trace.Span, start time.Time, result string, err error) {
	span.SetAttributes(
		attribute.Int("llm.response_length", len(result)),
		attribute.Int64("llm.duration_ms", time.Since(start).Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (t *Telemetry) truncate(s string) string {
	max := t.cfg.MaxTextLength
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
