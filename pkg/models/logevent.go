// Package models defines the domain types that flow through the analysis
// pipeline: raw log events, LLM classification responses, and the emitted
// security events.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// LogEvent is one immutable Windows Event Log record as produced by the
// collector. It survives a single pipeline pass unless copied into the
// vector store.
type LogEvent struct {
	Time     time.Time `json:"time"`
	Host     string    `json:"host"`
	Channel  string    `json:"channel"`
	EventID  int       `json:"event_id"`
	Level    string    `json:"level"`
	User     string    `json:"user,omitempty"`
	Message  string    `json:"message"`
	RawJSON  string    `json:"raw_json,omitempty"`
	UniqueID string    `json:"unique_id"`
}

// NewLogEvent builds a LogEvent and assigns the deterministic UniqueID
// when the caller did not provide one.
func NewLogEvent(t time.Time, host, channel string, eventID int, level, user, message, rawJSON, uniqueID string) LogEvent {
	e := LogEvent{
		Time:     t,
		Host:     host,
		Channel:  channel,
		EventID:  eventID,
		Level:    level,
		User:     user,
		Message:  message,
		RawJSON:  rawJSON,
		UniqueID: uniqueID,
	}
	if e.UniqueID == "" {
		e.UniqueID = e.ComputeUniqueID()
	}
	return e
}

// ComputeUniqueID derives the stable identifier for this record.
// The same underlying channel record hashes to the same ID across restarts.
func (e LogEvent) ComputeUniqueID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s",
		e.Time.UTC().Format(time.RFC3339Nano),
		e.Host,
		e.Channel,
		e.EventID,
		e.Level,
		e.User,
		e.Message,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// SummaryText is the canonical text embedded and sent to the LLM for this
// event: timestamp, channel/eventId, and message on one line.
func (e LogEvent) SummaryText() string {
	return fmt.Sprintf("%s [%s/%d] %s", e.Time.UTC().Format(time.RFC3339), e.Channel, e.EventID, e.Message)
}

// Fingerprint is the content-addressed key for embeddings and cache entries:
// sha256 over provider, model, and the normalized text. Semantically equal
// prompts on the same provider+model collide by construction.
func Fingerprint(provider, model, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", provider, model, NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText lowercases and collapses runs of whitespace so that
// insignificant formatting differences do not change a fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
