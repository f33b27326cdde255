package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// errNoJSONObject indicates no parseable object was found in the answer.
var errNoJSONObject = errors.New("no JSON object in model answer")

// summaryFragmentRe recovers the summary string from otherwise broken JSON.
var summaryFragmentRe = regexp.MustCompile(`"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// StrictJSON turns whatever the model answered into a valid classification
// document. Models wrap JSON in markdown fences, prepend chatter, or drop
// required fields; this decorator extracts, validates, optionally retries
// with a stricter prompt, and synthesizes a low-confidence fallback when
// nothing can be recovered. Analyze always returns normalized JSON; Generate
// is free-form and passes through untouched.
type StrictJSON struct {
	inner  Client
	cfg    config.StrictJSONConfig
	logger *slog.Logger

	processed    atomic.Uint64
	extracted    atomic.Uint64
	retries      atomic.Uint64
	fallbackUsed atomic.Uint64
}

var _ Client = (*StrictJSON)(nil)

// NewStrictJSON wraps inner per cfg.
func NewStrictJSON(inner Client, cfg config.StrictJSONConfig) *StrictJSON {
	return &StrictJSON{
		inner:  inner,
		cfg:    cfg,
		logger: slog.With("component", "llm_strictjson"),
	}
}

// ProviderName implements providerNamer.
func (s *StrictJSON) ProviderName() string { return ProviderName(s.inner) }

// Generate implements Client.
func (s *StrictJSON) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.inner.Generate(ctx, systemPrompt, userPrompt)
}

// Analyze implements Client. An empty inner answer marks an unreachable
// model and passes through untouched; the pipeline degrades to its rule
// table in that case, which beats a manufactured low-confidence answer.
func (s *StrictJSON) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	raw, err := s.inner.Analyze(ctx, event, neighbors)
	if !s.cfg.Enabled || err != nil || raw == "" {
		return raw, err
	}

	s.processed.Add(1)

	resp, parseErr := s.extract(raw)
	if parseErr == nil {
		return marshalResponse(resp)
	}

	if s.cfg.RetryOnFailure {
		for attempt := 0; attempt < s.cfg.MaxRetryAttempts; attempt++ {
			s.retries.Add(1)

			retryRaw, retryErr := s.inner.Generate(ctx, strictSystemPrompt, analysisUserPrompt(event, neighbors))
			if retryErr != nil {
				return "", retryErr
			}
			if retryRaw == "" {
				continue
			}
			if retryResp, err := s.extract(retryRaw); err == nil {
				return marshalResponse(retryResp)
			}
		}
	}

	s.fallbackUsed.Add(1)
	s.logger.Warn("Model answer unusable, synthesizing fallback",
		"error", parseErr, "channel", event.Channel, "event_id", event.EventID)
	return marshalResponse(models.FallbackResponse(recoverSummary(raw)))
}

// extract parses raw into a valid response: direct parse first, then the
// first balanced object from a markdown fence or free text.
func (s *StrictJSON) extract(raw string) (models.LlmSecurityEventResponse, error) {
	var resp models.LlmSecurityEventResponse
	if err := json.Unmarshal([]byte(raw), &resp); err == nil {
		return s.normalize(resp)
	}

	candidates := make([]string, 0, 2)
	if inner, ok := fencedContent(raw); ok {
		candidates = append(candidates, inner)
	}
	candidates = append(candidates, raw)

	for _, candidate := range candidates {
		obj, ok := extractBalanced(candidate)
		if !ok {
			continue
		}
		var r models.LlmSecurityEventResponse
		if err := json.Unmarshal([]byte(obj), &r); err != nil {
			continue
		}
		s.extracted.Add(1)
		return s.normalize(r)
	}
	return models.LlmSecurityEventResponse{}, errNoJSONObject
}

// normalize fills defaults, bounds the summary, and validates.
func (s *StrictJSON) normalize(resp models.LlmSecurityEventResponse) (models.LlmSecurityEventResponse, error) {
	resp.ApplyDefaults()
	resp.Summary = strings.TrimSpace(resp.Summary)
	if runes := []rune(resp.Summary); len(runes) > models.MaxSummaryLength {
		resp.Summary = string(runes[:models.MaxSummaryLength])
	}

	if err := resp.Validate(s.cfg.MinConfidence); err != nil {
		return resp, err
	}
	if utf8.RuneCountInString(resp.Summary) < models.MinSummaryLength {
		return resp, fmt.Errorf("summary shorter than %d characters", models.MinSummaryLength)
	}
	return resp, nil
}

func marshalResponse(r models.LlmSecurityEventResponse) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(data), nil
}

// fencedContent returns the body of the first markdown code fence.
func fencedContent(s string) (string, bool) {
	const fence = "```"
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]

	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}

	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// extractBalanced returns the first balanced {...} in s, skipping braces
// inside JSON string literals.
func extractBalanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// recoverSummary pulls the summary value out of broken JSON. Fragments too
// short to stand as a summary are discarded.
func recoverSummary(raw string) string {
	m := summaryFragmentRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}

	summary := m[1]
	var unescaped string
	if err := json.Unmarshal([]byte(`"`+summary+`"`), &unescaped); err == nil {
		summary = unescaped
	}

	summary = strings.TrimSpace(summary)
	if runes := []rune(summary); len(runes) > models.MaxSummaryLength {
		summary = string(runes[:models.MaxSummaryLength])
	}
	if utf8.RuneCountInString(summary) < models.MinSummaryLength {
		return ""
	}
	return summary
}

// StrictJSONStats is a point-in-time snapshot of extraction outcomes.
type StrictJSONStats struct {
	Processed    uint64 `json:"processed"`
	Extracted    uint64 `json:"extracted"`
	Retries      uint64 `json:"retries"`
	FallbackUsed uint64 `json:"fallbackUsed"`
}

// Snapshot returns current counters.
func (s *StrictJSON) Snapshot() StrictJSONStats {
	return StrictJSONStats{
		Processed:    s.processed.Load(),
		Extracted:    s.extracted.Load(),
		Retries:      s.retries.Load(),
		FallbackUsed: s.fallbackUsed.Load(),
	}
}
