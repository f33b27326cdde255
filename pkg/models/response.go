package models

import (
	"errors"
	"fmt"
)

const (
	// MinSummaryLength and MaxSummaryLength bound the LLM summary field.
	MinSummaryLength = 10
	MaxSummaryLength = 500

	// FallbackConfidence is the confidence assigned to repaired responses.
	FallbackConfidence = 25

	// FallbackSummary is used when no summary text can be recovered.
	FallbackSummary = "Automated analysis unavailable; event recorded for manual review"
)

var (
	// ErrInvalidRisk indicates the risk field is missing or outside the enum.
	ErrInvalidRisk = errors.New("invalid risk level")

	// ErrEmptySummary indicates the summary field is missing or empty.
	ErrEmptySummary = errors.New("empty summary")

	// ErrConfidenceRange indicates confidence is outside [0, 100].
	ErrConfidenceRange = errors.New("confidence out of range")
)

// LlmSecurityEventResponse is the schema every LLM classification must
// satisfy after strict-JSON extraction.
type LlmSecurityEventResponse struct {
	Risk               RiskLevel         `json:"risk"`
	Confidence         int               `json:"confidence"`
	Summary            string            `json:"summary"`
	Mitre              []string          `json:"mitre"`
	RecommendedActions []string          `json:"recommended_actions"`
	EventType          SecurityEventType `json:"event_type,omitempty"`
}

// Validate checks the response against the schema. minConfidence rejects
// low-certainty answers before they reach consumers; pass 0 to disable.
func (r *LlmSecurityEventResponse) Validate(minConfidence int) error {
	if !r.Risk.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRisk, r.Risk)
	}
	if r.Summary == "" {
		return ErrEmptySummary
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("%w: %d", ErrConfidenceRange, r.Confidence)
	}
	if r.Confidence < minConfidence {
		return fmt.Errorf("confidence %d below minimum %d", r.Confidence, minConfidence)
	}
	return nil
}

// ApplyDefaults fills optional fields so a validated response is always
// fully populated.
func (r *LlmSecurityEventResponse) ApplyDefaults() {
	if r.Mitre == nil {
		r.Mitre = []string{}
	}
	if r.RecommendedActions == nil {
		r.RecommendedActions = []string{}
	}
	if r.EventType == "" || !r.EventType.IsValid() {
		r.EventType = EventTypeUnknown
	}
}

// FallbackResponse is the synthesized answer used when extraction and
// repair both fail. summary may be text recovered from the broken payload;
// when empty the canned message is used.
func FallbackResponse(summary string) LlmSecurityEventResponse {
	if summary == "" {
		summary = FallbackSummary
	}
	return LlmSecurityEventResponse{
		Risk:               RiskLevelLow,
		Confidence:         FallbackConfidence,
		Summary:            summary,
		Mitre:              []string{},
		RecommendedActions: []string{},
		EventType:          EventTypeUnknown,
	}
}
