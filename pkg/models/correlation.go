package models

import "time"

// EventCorrelation describes a multi-event detection: which events relate,
// how, and how confident the detector is.
type EventCorrelation struct {
	ID         string          `json:"id"`
	Type       CorrelationType `json:"type"`
	Confidence float64         `json:"confidence"`
	Window     time.Duration   `json:"window"`
	EventIDs   []string        `json:"event_ids"`
	Summary    string          `json:"summary"`
	DetectedAt time.Time       `json:"detected_at"`
}

// AttackChain is an ordered sequence of security events that together form
// a suspected attack progression on one host.
type AttackChain struct {
	ID         string    `json:"id"`
	Host       string    `json:"host"`
	Stages     []string  `json:"stages"`
	EventIDs   []string  `json:"event_ids"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}
