package models

import "time"

// SecurityEvent is the record the pipeline emits downstream: the original
// log event, the classification, and provenance describing how the
// classification was produced.
type SecurityEvent struct {
	OriginalEvent LogEvent                 `json:"original_event"`
	Response      LlmSecurityEventResponse `json:"response"`

	// Provenance. IsDeterministic marks rule-table hits, IsCorrelationBased
	// marks events derived from historical neighbours, IsEnhanced marks both.
	IsDeterministic    bool `json:"is_deterministic"`
	IsCorrelationBased bool `json:"is_correlation_based"`
	IsEnhanced         bool `json:"is_enhanced"`

	// Scores are only meaningful when IsCorrelationBased is true; otherwise
	// all three are zero.
	CorrelationScore float64 `json:"correlation_score"`
	BurstScore       float64 `json:"burst_score"`
	AnomalyScore     float64 `json:"anomaly_score"`

	// EnrichmentData is an opaque JSON blob attached by external enrichers.
	EnrichmentData string `json:"enrichment_data,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// NewSecurityEvent assembles an emitted event from an LLM or rule
// classification. Correlation scores stay zero on this path.
func NewSecurityEvent(original LogEvent, resp LlmSecurityEventResponse, deterministic bool) SecurityEvent {
	resp.ApplyDefaults()
	return SecurityEvent{
		OriginalEvent:   original,
		Response:        resp,
		IsDeterministic: deterministic,
		AnalyzedAt:      time.Now().UTC(),
	}
}

// NewCorrelationEvent assembles an emitted event produced by the correlation
// detector. Scores are clamped to [0, 1].
func NewCorrelationEvent(original LogEvent, resp LlmSecurityEventResponse, correlationScore, burstScore, anomalyScore float64) SecurityEvent {
	resp.ApplyDefaults()
	return SecurityEvent{
		OriginalEvent:      original,
		Response:           resp,
		IsCorrelationBased: true,
		CorrelationScore:   clamp01(correlationScore),
		BurstScore:         clamp01(burstScore),
		AnomalyScore:       clamp01(anomalyScore),
		AnalyzedAt:         time.Now().UTC(),
	}
}

// MarkEnhanced flags an event as both rule-derived and correlation-derived.
func (e *SecurityEvent) MarkEnhanced() {
	if e.IsDeterministic && e.IsCorrelationBased {
		e.IsEnhanced = true
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
