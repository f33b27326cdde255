package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Test fixtures shared across the package tests.

func analyzedEvent(eventID int, risk models.RiskLevel, eventType models.SecurityEventType) *models.SecurityEvent {
	ev := models.NewLogEvent(time.Now().UTC(), "WS01", "Security", eventID,
		"Information", "jdoe", "fixture event body", "", "")
	resp := models.LlmSecurityEventResponse{
		Risk:               risk,
		Confidence:         82,
		Summary:            "Fixture classification summary for delivery tests",
		Mitre:              []string{"T1078"},
		RecommendedActions: []string{"Review the session origin"},
		EventType:          eventType,
	}
	out := models.NewSecurityEvent(ev, resp, false)
	return &out
}

func securityAlert(risk models.RiskLevel, eventType models.SecurityEventType) Alert {
	return Alert{Kind: KindSecurity, Event: analyzedEvent(4672, risk, eventType)}
}

func correlationAlert(corrType models.CorrelationType) Alert {
	event := analyzedEvent(4625, models.RiskLevelMedium, models.EventTypeBurstActivity)
	event.IsCorrelationBased = true
	return Alert{
		Kind:  KindCorrelation,
		Event: event,
		Correlation: &models.EventCorrelation{
			ID:         uuid.NewString(),
			Type:       corrType,
			Confidence: 0.9,
			Window:     10 * time.Minute,
			EventIDs:   []string{"a", "b", "c"},
			Summary:    "12 occurrences of event 4625 on WS01 within 10m",
			DetectedAt: time.Now().UTC(),
		},
	}
}

func chainAlert(host string) Alert {
	event := analyzedEvent(4672, models.RiskLevelCritical, models.EventTypeCorrelatedActivity)
	event.IsCorrelationBased = true
	return Alert{
		Kind:   KindAttackChain,
		Events: []*models.SecurityEvent{event},
		Event:  event,
		Chain: &models.AttackChain{
			ID:         uuid.NewString(),
			Host:       host,
			Stages:     []string{"AuthenticationFailure", "PrivilegeEscalation"},
			EventIDs:   []string{"a", "b", "c", "d"},
			Confidence: 0.8,
			DetectedAt: time.Now().UTC(),
		},
	}
}
