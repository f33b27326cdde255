package notify

import (
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Throttle windows per severity. Critical never throttles; anything else
// alerts at most once per window per channel.
const (
	highWindow    = 5 * time.Minute
	mediumWindow  = 15 * time.Minute
	lowWindow     = 60 * time.Minute
	defaultWindow = 30 * time.Minute

	// attackChainWindow throttles chain alerts uniformly per host.
	attackChainWindow = 5 * time.Minute
)

// correlationWindows throttle correlation alerts per detection type.
var correlationWindows = map[models.CorrelationType]time.Duration{
	models.CorrelationTypeAttackChain:         10 * time.Minute,
	models.CorrelationTypeLateralMovement:     15 * time.Minute,
	models.CorrelationTypePrivilegeEscalation: 20 * time.Minute,
	models.CorrelationTypeTemporalBurst:       30 * time.Minute,
	models.CorrelationTypeMLDetected:          45 * time.Minute,
}

// Throttle suppresses repeat alerts inside their window. Claims are TTL
// entries: the first claim in a window wins, later ones read as suppressed.
type Throttle struct {
	c *cache.Cache
}

// NewThrottle returns an empty throttle.
func NewThrottle() *Throttle {
	return &Throttle{c: cache.New(time.Hour, 10*time.Minute)}
}

// AllowSeverity claims the per-severity window on channel. Critical alerts
// always pass.
func (t *Throttle) AllowSeverity(channel ChannelType, risk models.RiskLevel) bool {
	window := severityWindow(risk)
	if window == 0 {
		return true
	}
	return t.claim(fmt.Sprintf("sev|%s|%s", channel, risk), window)
}

// AllowCorrelation claims the per-type window on channel.
func (t *Throttle) AllowCorrelation(channel ChannelType, corrType models.CorrelationType) bool {
	window, ok := correlationWindows[corrType]
	if !ok {
		window = defaultWindow
	}
	return t.claim(fmt.Sprintf("corr|%s|%s", channel, corrType), window)
}

// AllowAttackChain claims the chain window for one host on channel.
func (t *Throttle) AllowAttackChain(channel ChannelType, host string) bool {
	return t.claim(fmt.Sprintf("chain|%s|%s", channel, host), attackChainWindow)
}

func (t *Throttle) claim(key string, window time.Duration) bool {
	return t.c.Add(key, struct{}{}, window) == nil
}

func severityWindow(risk models.RiskLevel) time.Duration {
	switch risk {
	case models.RiskLevelCritical:
		return 0
	case models.RiskLevelHigh:
		return highWindow
	case models.RiskLevelMedium:
		return mediumWindow
	case models.RiskLevelLow:
		return lowWindow
	default:
		return defaultWindow
	}
}
