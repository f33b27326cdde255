// Package notify fans emitted security events out to chat channels. The
// manager decides whether an alert goes out at all (channel enabled,
// throttle window open, rate budget left); drivers format and deliver.
// Delivery is best-effort: a dead webhook never blocks the pipeline.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// ChannelType identifies a delivery platform.
type ChannelType string

const (
	ChannelTeams ChannelType = "teams"
	ChannelSlack ChannelType = "slack"
)

// AlertKind distinguishes the three alert shapes the manager dispatches.
type AlertKind string

const (
	KindSecurity    AlertKind = "security"
	KindCorrelation AlertKind = "correlation"
	KindAttackChain AlertKind = "attackChain"
)

// Alert is the channel-neutral payload handed to drivers. Exactly one of
// the optional fields matches Kind: Correlation for correlation alerts,
// Chain and Events for attack chains.
type Alert struct {
	Kind        AlertKind
	Event       *models.SecurityEvent
	Correlation *models.EventCorrelation
	Chain       *models.AttackChain
	Events      []*models.SecurityEvent
}

// Risk is the severity the alert renders and throttles under.
func (a Alert) Risk() models.RiskLevel {
	if a.Event != nil {
		return a.Event.Response.Risk
	}
	if a.Kind == KindAttackChain {
		return models.RiskLevelCritical
	}
	return models.RiskLevelMedium
}

// Title is the headline shared by every platform rendering.
func (a Alert) Title() string {
	switch a.Kind {
	case KindAttackChain:
		host := ""
		if a.Chain != nil {
			host = a.Chain.Host
		}
		return fmt.Sprintf("Attack chain detected on %s", host)
	case KindCorrelation:
		if a.Correlation != nil {
			return fmt.Sprintf("Correlated activity: %s", a.Correlation.Type)
		}
		return "Correlated activity detected"
	default:
		if a.Event != nil {
			return fmt.Sprintf("%s (%s)", a.Event.Response.EventType, a.Event.Response.Risk)
		}
		return "Security event"
	}
}

// Driver delivers alerts to one platform and tracks its own health.
type Driver interface {
	Type() ChannelType
	IsEnabled() bool
	Send(ctx context.Context, alert Alert) error
	TestConnection(ctx context.Context) error
	Health() Health
}

// Health is a point-in-time view of one channel's delivery record. Healthy
// means the most recent delivery or connectivity check succeeded.
type Health struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"lastCheck"`
	LastError string    `json:"lastError,omitempty"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
}

// healthState is the shared mutable health record behind a Driver.
type healthState struct {
	mu        sync.Mutex
	checked   bool
	lastCheck time.Time
	lastErr   string
	sent      uint64
	failed    uint64
}

func (h *healthState) success() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = true
	h.lastCheck = time.Now().UTC()
	h.lastErr = ""
	h.sent++
}

func (h *healthState) failure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = true
	h.lastCheck = time.Now().UTC()
	h.lastErr = err.Error()
	h.failed++
}

func (h *healthState) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		Healthy:   !h.checked || h.lastErr == "",
		LastCheck: h.lastCheck,
		LastError: h.lastErr,
		Sent:      h.sent,
		Failed:    h.failed,
	}
}
