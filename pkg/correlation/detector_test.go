package correlation

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

var uidSeq atomic.Uint64

func observed(host, user string, eventID int, eventType models.SecurityEventType, risk models.RiskLevel) models.SecurityEvent {
	uid := fmt.Sprintf("uid-%d", uidSeq.Add(1))
	ev := models.NewLogEvent(time.Now().UTC(), host, "Security", eventID,
		"Information", user, "observed event body", "", uid)
	resp := models.LlmSecurityEventResponse{
		Risk:       risk,
		Confidence: 80,
		Summary:    "classification summary for testing",
		EventType:  eventType,
	}
	return models.NewSecurityEvent(ev, resp, false)
}

func detectorWith(cfg *config.CorrelationConfig) *Detector {
	return NewDetector(func() *config.CorrelationConfig { return cfg })
}

func defaultCfg() *config.CorrelationConfig {
	cfg := config.DefaultCorrelationConfig()
	return cfg
}

func TestBurstFiresOnceAtThreshold(t *testing.T) {
	cfg := defaultCfg()
	cfg.BurstThreshold = 10
	d := detectorWith(cfg)

	var detections []Detection
	for i := 0; i < 12; i++ {
		detections = append(detections,
			d.Observe(observed("WS01", "", 4625, models.EventTypeAuthenticationFailure, models.RiskLevelMedium))...)
	}

	require.Len(t, detections, 1)
	det := detections[0]

	require.NotNil(t, det.Correlation)
	assert.Equal(t, models.CorrelationTypeTemporalBurst, det.Correlation.Type)
	assert.Len(t, det.Correlation.EventIDs, 10)

	assert.True(t, det.Event.IsCorrelationBased)
	assert.Equal(t, models.EventTypeBurstActivity, det.Event.Response.EventType)
	assert.Equal(t, 1.0, det.Event.BurstScore)

	snap := d.Snapshot()
	assert.Equal(t, uint64(1), snap.Bursts)
	assert.Equal(t, uint64(12), snap.Observed)
}

func TestLateralMovementAcrossHosts(t *testing.T) {
	d := detectorWith(defaultCfg())

	first := d.Observe(observed("WS01", "jdoe", 4624, models.EventTypeAuthenticationSuccess, models.RiskLevelLow))
	assert.Empty(t, first)

	second := d.Observe(observed("WS02", "jdoe", 4624, models.EventTypeAuthenticationSuccess, models.RiskLevelLow))
	require.Len(t, second, 1)

	det := second[0]
	require.NotNil(t, det.Correlation)
	assert.Equal(t, models.CorrelationTypeLateralMovement, det.Correlation.Type)
	assert.InDelta(t, 0.7, det.Correlation.Confidence, 1e-9)
	assert.Contains(t, det.Correlation.Summary, "jdoe")
	assert.Equal(t, models.EventTypeCorrelatedActivity, det.Event.Response.EventType)

	// Same account touching a third host stays suppressed for the window.
	third := d.Observe(observed("WS03", "jdoe", 4624, models.EventTypeAuthenticationSuccess, models.RiskLevelLow))
	assert.Empty(t, third)
}

func TestAttackChainAfterFailureRun(t *testing.T) {
	d := detectorWith(defaultCfg())

	for i := 0; i < 3; i++ {
		d.Observe(observed("SRV01", "svc", 4625, models.EventTypeAuthenticationFailure, models.RiskLevelMedium))
	}
	detections := d.Observe(observed("SRV01", "svc", 4672, models.EventTypePrivilegeEscalation, models.RiskLevelMedium))

	require.Len(t, detections, 1)
	det := detections[0]

	require.NotNil(t, det.Chain)
	assert.Nil(t, det.Correlation)
	assert.Equal(t, "SRV01", det.Chain.Host)
	assert.Equal(t, []string{"AuthenticationFailure", "PrivilegeEscalation"}, det.Chain.Stages)
	assert.Len(t, det.Chain.EventIDs, 4)
	assert.InDelta(t, 0.8, det.Chain.Confidence, 1e-9)

	assert.Equal(t, models.RiskLevelCritical, det.Event.Response.Risk)
	assert.Equal(t, uint64(1), d.Snapshot().AttackChains)
}

func TestEscalationSequenceAfterLogon(t *testing.T) {
	d := detectorWith(defaultCfg())

	d.Observe(observed("SRV01", "jdoe", 4624, models.EventTypeAuthenticationSuccess, models.RiskLevelLow))
	detections := d.Observe(observed("SRV01", "jdoe", 4672, models.EventTypePrivilegeEscalation, models.RiskLevelMedium))

	require.Len(t, detections, 1)
	det := detections[0]

	require.NotNil(t, det.Correlation)
	assert.Equal(t, models.CorrelationTypePrivilegeEscalation, det.Correlation.Type)
	assert.InDelta(t, sequenceScore, det.Correlation.Confidence, 1e-9)
	assert.Equal(t, uint64(1), d.Snapshot().EscalationSequences)
}

func TestEscalationWithoutPriorActivityIsQuiet(t *testing.T) {
	d := detectorWith(defaultCfg())

	detections := d.Observe(observed("SRV01", "jdoe", 4672, models.EventTypePrivilegeEscalation, models.RiskLevelMedium))
	assert.Empty(t, detections)
}

func TestAnomalyOnFirstHighRiskSighting(t *testing.T) {
	d := detectorWith(defaultCfg())

	first := d.Observe(observed("WS01", "jdoe", 1102, models.EventTypeSuspiciousActivity, models.RiskLevelHigh))
	require.Len(t, first, 1)

	det := first[0]
	require.NotNil(t, det.Correlation)
	assert.Equal(t, models.CorrelationTypeMLDetected, det.Correlation.Type)
	assert.Equal(t, models.EventTypeAnomalousActivity, det.Event.Response.EventType)
	assert.Equal(t, 1.0, det.Correlation.Confidence)
	assert.Equal(t, 1.0, det.Event.AnomalyScore)

	// The second sighting halves the anomaly score below the emit floor.
	second := d.Observe(observed("WS01", "jdoe", 1102, models.EventTypeSuspiciousActivity, models.RiskLevelHigh))
	assert.Empty(t, second)
}

func TestLowRiskEventsNeverAnomaly(t *testing.T) {
	d := detectorWith(defaultCfg())

	detections := d.Observe(observed("WS01", "", 4688, models.EventTypeProcessCreation, models.RiskLevelLow))
	assert.Empty(t, detections)
}

func TestDisabledDetectorObservesNothing(t *testing.T) {
	cfg := defaultCfg()
	cfg.Enabled = false
	d := detectorWith(cfg)

	for i := 0; i < 20; i++ {
		assert.Empty(t, d.Observe(observed("WS01", "", 4625, models.EventTypeAuthenticationFailure, models.RiskLevelMedium)))
	}
	assert.Zero(t, d.Snapshot().Observed)
}

func TestCorrelationEventsAreNotReobserved(t *testing.T) {
	d := detectorWith(defaultCfg())

	ev := observed("WS01", "", 4625, models.EventTypeAuthenticationFailure, models.RiskLevelMedium)
	ev.IsCorrelationBased = true

	assert.Empty(t, d.Observe(ev))
	assert.Zero(t, d.Snapshot().Observed)
}
