package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() LogEvent {
	return NewLogEvent(
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		"H1", "Security", 4624, "Information", "alice",
		"An account was successfully logged on", "", "",
	)
}

func TestComputeUniqueID_StableAcrossRuns(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()

	require.NotEmpty(t, a.UniqueID)
	assert.Equal(t, a.UniqueID, b.UniqueID)
	assert.Equal(t, a.UniqueID, a.ComputeUniqueID())
}

func TestComputeUniqueID_SensitiveToFields(t *testing.T) {
	base := sampleEvent()

	tests := []struct {
		name   string
		mutate func(*LogEvent)
	}{
		{"time", func(e *LogEvent) { e.Time = e.Time.Add(time.Second) }},
		{"host", func(e *LogEvent) { e.Host = "H2" }},
		{"channel", func(e *LogEvent) { e.Channel = "System" }},
		{"event id", func(e *LogEvent) { e.EventID = 4625 }},
		{"level", func(e *LogEvent) { e.Level = "Warning" }},
		{"user", func(e *LogEvent) { e.User = "bob" }},
		{"message", func(e *LogEvent) { e.Message = "different" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			tt.mutate(&e)
			assert.NotEqual(t, base.UniqueID, e.ComputeUniqueID())
		})
	}
}

func TestComputeUniqueID_CallerAssignedWins(t *testing.T) {
	e := NewLogEvent(time.Now(), "H1", "Security", 1, "Information", "", "m", "", "custom-id")
	assert.Equal(t, "custom-id", e.UniqueID)
}

func TestFingerprint_NormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("ollama", "nomic-embed-text", "Failed  Login\tfrom host")
	b := Fingerprint("ollama", "nomic-embed-text", "failed login from HOST")
	assert.Equal(t, a, b)
}

func TestFingerprint_DistinguishesProviderAndModel(t *testing.T) {
	base := Fingerprint("ollama", "nomic-embed-text", "same text")

	assert.NotEqual(t, base, Fingerprint("openai", "nomic-embed-text", "same text"))
	assert.NotEqual(t, base, Fingerprint("ollama", "all-minilm", "same text"))
	assert.NotEqual(t, base, Fingerprint("ollama", "nomic-embed-text", "other text"))
}

func TestSummaryText_Format(t *testing.T) {
	e := sampleEvent()
	assert.Equal(t, "2024-06-01T12:00:00Z [Security/4624] An account was successfully logged on", e.SummaryText())
}
