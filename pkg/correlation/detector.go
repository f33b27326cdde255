// Package correlation detects multi-event patterns the per-event analysis
// path cannot see: bursts of one event id, the same account touching several
// hosts, and escalation sequences. State lives in TTL maps sized by the
// configured sliding window, so memory stays bounded without an explicit
// janitor.
package correlation

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

const (
	// relatedTypesFull is the distinct event-type count on one host that
	// scores a full correlation.
	relatedTypesFull = 4

	// lateralHostScore is the per-host contribution to the lateral
	// movement score; two hosts reach the default emit threshold.
	lateralHostScore = 0.35

	// sequenceScore is the fixed score of a privilege escalation that
	// follows recent authentication activity for the same account.
	sequenceScore = 0.75

	// chainMinFailures is the failed-logon count that turns a following
	// privilege escalation into an attack chain.
	chainMinFailures = 3

	// historyTTL bounds the occurrence counts behind anomaly scoring; it
	// matches the vector store retention window.
	historyTTL = 24 * time.Hour
)

// Detection is one finding produced while observing an event: the
// synthesized correlation event plus either the correlation record or, for
// escalation sequences, the attack chain.
type Detection struct {
	Event       models.SecurityEvent
	Correlation *models.EventCorrelation
	Chain       *models.AttackChain
}

// ConfigSource returns the correlation section of the current configuration
// snapshot. Called once per observed event so reloads apply without restart.
type ConfigSource func() *config.CorrelationConfig

// occurrence is one window member: when it happened and which record it was.
type occurrence struct {
	at  time.Time
	uid string
}

// Detector is the sliding-window correlation engine. Observe is safe for
// concurrent use by the pipeline workers.
type Detector struct {
	source ConfigSource
	logger *slog.Logger

	mu      sync.Mutex
	recent  *cache.Cache // window state, TTL = configured window
	history *cache.Cache // occurrence counts for anomaly scoring

	observed    atomic.Uint64
	detections  atomic.Uint64
	bursts      atomic.Uint64
	lateral     atomic.Uint64
	escalations atomic.Uint64
	chains      atomic.Uint64
	anomalies   atomic.Uint64
}

// NewDetector builds a detector reading its knobs through source.
func NewDetector(source ConfigSource) *Detector {
	return &Detector{
		source:  source,
		logger:  slog.With("component", "correlation"),
		recent:  cache.New(10*time.Minute, 5*time.Minute),
		history: cache.New(historyTTL, time.Hour),
	}
}

// Observe folds one emitted event into the window state and returns any
// detections it completes. Correlation-derived events are ignored so the
// detector never feeds on its own output.
func (d *Detector) Observe(event models.SecurityEvent) []Detection {
	cfg := d.source()
	if !cfg.Enabled || event.IsCorrelationBased {
		return nil
	}

	ev := event.OriginalEvent
	now := time.Now().UTC()
	cutoff := now.Add(-cfg.Window)

	d.observed.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()

	sameRecord := d.appendOccurrence(burstKey(ev), now, ev.UniqueID, cfg.Window, cutoff)
	burstScore := clamp01(float64(len(sameRecord)) / float64(max(cfg.BurstThreshold, 1)))

	distinctTypes := touchLastSeen(d.recent, typesKey(ev.Host), event.Response.EventType, now, cfg.Window, cutoff)
	correlationScore := clamp01(float64(distinctTypes) / relatedTypesFull)

	anomalyScore := d.anomalyScore(ev)

	var out []Detection

	if len(sameRecord) >= cfg.BurstThreshold && d.fire("burst|"+burstKey(ev), cfg.Window) {
		out = append(out, d.burstDetection(ev, sameRecord, burstScore, correlationScore, anomalyScore, cfg.Window, now))
	}

	switch event.Response.EventType {
	case models.EventTypeAuthenticationSuccess, models.EventTypeAuthenticationFailure:
		out = append(out, d.observeAuth(event, now, cfg, burstScore, anomalyScore)...)
	case models.EventTypePrivilegeEscalation:
		out = append(out, d.observeEscalation(event, now, cfg, burstScore, anomalyScore)...)
	}

	if det, ok := d.anomalyDetection(event, anomalyScore, burstScore, correlationScore, cfg, now); ok {
		out = append(out, det)
	}

	d.detections.Add(uint64(len(out)))
	return out
}

// observeAuth tracks per-account host fan-out and failed-logon runs, and
// emits a lateral movement detection when one account authenticates on
// enough distinct hosts inside the window.
func (d *Detector) observeAuth(event models.SecurityEvent, now time.Time, cfg *config.CorrelationConfig, burstScore, anomalyScore float64) []Detection {
	ev := event.OriginalEvent
	cutoff := now.Add(-cfg.Window)

	if event.Response.EventType == models.EventTypeAuthenticationFailure {
		d.appendOccurrence(failureKey(ev.Host), now, ev.UniqueID, cfg.Window, cutoff)
	}
	if ev.User == "" {
		return nil
	}
	if event.Response.EventType == models.EventTypeAuthenticationSuccess {
		d.recent.Set(successKey(ev.Host, ev.User), now, cfg.Window)
	}

	hosts := touchLastSeen(d.recent, userKey(ev.User), ev.Host, now, cfg.Window, cutoff)
	score := clamp01(lateralHostScore * float64(hosts))
	if hosts < 2 || score < cfg.MinScore || !d.fire("lateral|"+ev.User, cfg.Window) {
		return nil
	}

	d.lateral.Add(1)
	corr := &models.EventCorrelation{
		ID:         uuid.NewString(),
		Type:       models.CorrelationTypeLateralMovement,
		Confidence: score,
		Window:     cfg.Window,
		EventIDs:   []string{ev.UniqueID},
		Summary:    fmt.Sprintf("Account %s authenticated on %d hosts within %s", ev.User, hosts, cfg.Window),
		DetectedAt: now,
	}
	resp := models.LlmSecurityEventResponse{
		Risk:               models.RiskLevelHigh,
		Confidence:         percent(score),
		Summary:            corr.Summary,
		Mitre:              []string{"T1021"},
		RecommendedActions: []string{"Verify the account owner is performing this activity", "Review the session origin on each host"},
		EventType:          models.EventTypeCorrelatedActivity,
	}
	d.logger.Info("Lateral movement detected", "user", ev.User, "hosts", hosts, "score", score)
	return []Detection{{
		Event:       models.NewCorrelationEvent(ev, resp, score, burstScore, anomalyScore),
		Correlation: corr,
	}}
}

// observeEscalation handles PrivilegeEscalation events: after a run of
// failed logons on the host it becomes an attack chain, after a recent
// successful logon by the same account it becomes an escalation sequence.
func (d *Detector) observeEscalation(event models.SecurityEvent, now time.Time, cfg *config.CorrelationConfig, burstScore, anomalyScore float64) []Detection {
	ev := event.OriginalEvent
	cutoff := now.Add(-cfg.Window)

	failures := pruneOccurrences(d.lookupOccurrences(failureKey(ev.Host)), cutoff)
	if len(failures) >= chainMinFailures && d.fire("chain|"+ev.Host, cfg.Window) {
		score := clamp01(0.5 + 0.1*float64(len(failures)))
		chain := &models.AttackChain{
			ID:         uuid.NewString(),
			Host:       ev.Host,
			Stages:     []string{string(models.EventTypeAuthenticationFailure), string(models.EventTypePrivilegeEscalation)},
			EventIDs:   append(occurrenceIDs(failures), ev.UniqueID),
			Confidence: score,
			DetectedAt: now,
		}
		resp := models.LlmSecurityEventResponse{
			Risk:               models.RiskLevelCritical,
			Confidence:         percent(score),
			Summary:            fmt.Sprintf("Privilege escalation on %s after %d failed logons within %s", ev.Host, len(failures), cfg.Window),
			Mitre:              []string{"T1110", "T1548"},
			RecommendedActions: []string{"Isolate the host pending investigation", "Reset credentials for the targeted accounts"},
			EventType:          models.EventTypeCorrelatedActivity,
		}
		d.chains.Add(1)
		d.logger.Warn("Attack chain detected", "host", ev.Host, "failures", len(failures), "score", score)
		return []Detection{{
			Event: models.NewCorrelationEvent(ev, resp, score, burstScore, anomalyScore),
			Chain: chain,
		}}
	}

	if ev.User == "" || sequenceScore < cfg.MinScore {
		return nil
	}
	if _, ok := d.recent.Get(successKey(ev.Host, ev.User)); !ok {
		return nil
	}
	if !d.fire("privesc|"+ev.Host+"|"+ev.User, cfg.Window) {
		return nil
	}

	d.escalations.Add(1)
	corr := &models.EventCorrelation{
		ID:         uuid.NewString(),
		Type:       models.CorrelationTypePrivilegeEscalation,
		Confidence: sequenceScore,
		Window:     cfg.Window,
		EventIDs:   []string{ev.UniqueID},
		Summary:    fmt.Sprintf("Privilege escalation on %s shortly after logon by %s", ev.Host, ev.User),
		DetectedAt: now,
	}
	resp := models.LlmSecurityEventResponse{
		Risk:               models.RiskLevelHigh,
		Confidence:         percent(sequenceScore),
		Summary:            corr.Summary,
		Mitre:              []string{"T1548"},
		RecommendedActions: []string{"Confirm the account is authorized for privileged operations on this host"},
		EventType:          models.EventTypeCorrelatedActivity,
	}
	d.logger.Info("Escalation sequence detected", "host", ev.Host, "user", ev.User)
	return []Detection{{
		Event:       models.NewCorrelationEvent(ev, resp, sequenceScore, burstScore, anomalyScore),
		Correlation: corr,
	}}
}

// burstDetection synthesizes the burst event once the same record count
// crosses the threshold.
func (d *Detector) burstDetection(ev models.LogEvent, members []occurrence, burstScore, correlationScore, anomalyScore float64, window time.Duration, now time.Time) Detection {
	corr := &models.EventCorrelation{
		ID:         uuid.NewString(),
		Type:       models.CorrelationTypeTemporalBurst,
		Confidence: burstScore,
		Window:     window,
		EventIDs:   occurrenceIDs(members),
		Summary:    fmt.Sprintf("%d occurrences of event %d on %s within %s", len(members), ev.EventID, ev.Host, window),
		DetectedAt: now,
	}
	resp := models.LlmSecurityEventResponse{
		Risk:               models.RiskLevelMedium,
		Confidence:         percent(burstScore),
		Summary:            corr.Summary,
		Mitre:              []string{},
		RecommendedActions: []string{"Identify the source driving the repeated events"},
		EventType:          models.EventTypeBurstActivity,
	}
	d.bursts.Add(1)
	d.logger.Info("Burst detected", "host", ev.Host, "event_id", ev.EventID, "count", len(members))
	return Detection{
		Event:       models.NewCorrelationEvent(ev, resp, correlationScore, burstScore, anomalyScore),
		Correlation: corr,
	}
}

// anomalyDetection flags rarely seen high-risk records. Frequency is counted
// over the history TTL, so the first sighting scores 1.0 and repeats decay.
func (d *Detector) anomalyDetection(event models.SecurityEvent, anomalyScore, burstScore, correlationScore float64, cfg *config.CorrelationConfig, now time.Time) (Detection, bool) {
	if anomalyScore < cfg.MinScore {
		return Detection{}, false
	}
	if event.Response.Risk != models.RiskLevelHigh && event.Response.Risk != models.RiskLevelCritical {
		return Detection{}, false
	}
	ev := event.OriginalEvent
	if !d.fire("anomaly|"+burstKey(ev), cfg.Window) {
		return Detection{}, false
	}

	corr := &models.EventCorrelation{
		ID:         uuid.NewString(),
		Type:       models.CorrelationTypeMLDetected,
		Confidence: anomalyScore,
		Window:     cfg.Window,
		EventIDs:   []string{ev.UniqueID},
		Summary:    fmt.Sprintf("Rare high-risk event %d on %s", ev.EventID, ev.Host),
		DetectedAt: now,
	}
	resp := models.LlmSecurityEventResponse{
		Risk:               event.Response.Risk,
		Confidence:         percent(anomalyScore),
		Summary:            corr.Summary,
		Mitre:              []string{},
		RecommendedActions: []string{"Review the event against the host's baseline activity"},
		EventType:          models.EventTypeAnomalousActivity,
	}
	d.anomalies.Add(1)
	return Detection{
		Event:       models.NewCorrelationEvent(ev, resp, correlationScore, burstScore, anomalyScore),
		Correlation: corr,
	}, true
}

// appendOccurrence records one window member under key and returns the
// pruned member list including the new entry.
func (d *Detector) appendOccurrence(key string, at time.Time, uid string, window time.Duration, cutoff time.Time) []occurrence {
	list := pruneOccurrences(d.lookupOccurrences(key), cutoff)
	list = append(list, occurrence{at: at, uid: uid})
	d.recent.Set(key, list, window)
	return list
}

func (d *Detector) lookupOccurrences(key string) []occurrence {
	if v, ok := d.recent.Get(key); ok {
		return v.([]occurrence)
	}
	return nil
}

// touchLastSeen updates the last-seen map under key and returns how many
// distinct members remain inside the window.
func touchLastSeen[K comparable](c *cache.Cache, key string, member K, now time.Time, window time.Duration, cutoff time.Time) int {
	var seen map[K]time.Time
	if v, ok := c.Get(key); ok {
		seen = v.(map[K]time.Time)
	} else {
		seen = make(map[K]time.Time)
	}
	seen[member] = now
	for k, at := range seen {
		if at.Before(cutoff) {
			delete(seen, k)
		}
	}
	c.Set(key, seen, window)
	return len(seen)
}

// anomalyScore is the inverse occurrence count of this record shape within
// the history TTL.
func (d *Detector) anomalyScore(ev models.LogEvent) float64 {
	key := burstKey(ev)
	n := uint64(1)
	if v, ok := d.history.Get(key); ok {
		n = v.(uint64) + 1
	}
	d.history.Set(key, n, historyTTL)
	return 1 / float64(n)
}

// fire claims a suppression slot; false means this detection already fired
// inside the current window.
func (d *Detector) fire(key string, window time.Duration) bool {
	return d.recent.Add(key, struct{}{}, window) == nil
}

func burstKey(ev models.LogEvent) string  { return fmt.Sprintf("times|%s|%d", ev.Host, ev.EventID) }
func typesKey(host string) string         { return "types|" + host }
func userKey(user string) string          { return "user|" + user }
func failureKey(host string) string       { return "failures|" + host }
func successKey(host, user string) string { return "success|" + host + "|" + user }

func pruneOccurrences(list []occurrence, cutoff time.Time) []occurrence {
	out := list[:0]
	for _, o := range list {
		if !o.at.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

func occurrenceIDs(list []occurrence) []string {
	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.uid)
	}
	return ids
}

func percent(score float64) int { return int(math.Round(clamp01(score) * 100)) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Stats is a point-in-time copy of the detector counters.
type Stats struct {
	Observed            uint64 `json:"observed"`
	Detections          uint64 `json:"detections"`
	Bursts              uint64 `json:"bursts"`
	LateralMovement     uint64 `json:"lateralMovement"`
	EscalationSequences uint64 `json:"escalationSequences"`
	AttackChains        uint64 `json:"attackChains"`
	Anomalies           uint64 `json:"anomalies"`
}

// Snapshot returns current counters.
func (d *Detector) Snapshot() Stats {
	return Stats{
		Observed:            d.observed.Load(),
		Detections:          d.detections.Load(),
		Bursts:              d.bursts.Load(),
		LateralMovement:     d.lateral.Load(),
		EscalationSequences: d.escalations.Load(),
		AttackChains:        d.chains.Load(),
		Anomalies:           d.anomalies.Load(),
	}
}
