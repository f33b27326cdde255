package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

const (
	// dispatchRetries caps retries per delivery; with the first attempt
	// that is three tries total.
	dispatchRetries = 2

	// dispatchBaseDelay is the first retry delay; it doubles per attempt.
	dispatchBaseDelay = time.Second
)

// ConfigSource returns the notifications section of the current
// configuration snapshot.
type ConfigSource func() *config.NotificationsConfig

// Manager owns alert eligibility and fan-out. Per channel, an alert goes
// out when the channel is enabled, its throttle window is open, and the
// rolling dispatch budget has room. Delivery failures are logged and
// counted; they never propagate beyond the returned error.
type Manager struct {
	source    ConfigSource
	drivers   []Driver
	throttle  *Throttle
	limiter   *RateLimiter
	baseDelay time.Duration
	logger    *slog.Logger

	sent        atomic.Uint64
	throttled   atomic.Uint64
	rateLimited atomic.Uint64
	failed      atomic.Uint64
}

// NewManager builds a manager over the given drivers.
func NewManager(source ConfigSource, drivers ...Driver) *Manager {
	return &Manager{
		source:    source,
		drivers:   drivers,
		throttle:  NewThrottle(),
		limiter:   NewRateLimiter(DefaultDispatchLimit, DefaultDispatchWindow),
		baseDelay: dispatchBaseDelay,
		logger:    slog.With("component", "notify"),
	}
}

// SendSecurityAlert dispatches one analyzed event, throttled per severity.
func (m *Manager) SendSecurityAlert(ctx context.Context, event *models.SecurityEvent) error {
	alert := Alert{Kind: KindSecurity, Event: event}
	return m.dispatch(ctx, alert, func(ch ChannelType) bool {
		return m.throttle.AllowSeverity(ch, event.Response.Risk)
	})
}

// SendCorrelationAlert dispatches one correlation detection, throttled per
// correlation type.
func (m *Manager) SendCorrelationAlert(ctx context.Context, event *models.SecurityEvent, corr *models.EventCorrelation) error {
	alert := Alert{Kind: KindCorrelation, Event: event, Correlation: corr}
	return m.dispatch(ctx, alert, func(ch ChannelType) bool {
		return m.throttle.AllowCorrelation(ch, corr.Type)
	})
}

// SendAttackChainAlert dispatches one suspected attack progression,
// throttled per host.
func (m *Manager) SendAttackChainAlert(ctx context.Context, events []*models.SecurityEvent, chain *models.AttackChain) error {
	alert := Alert{Kind: KindAttackChain, Events: events, Chain: chain}
	if len(events) > 0 {
		alert.Event = events[len(events)-1]
	}
	return m.dispatch(ctx, alert, func(ch ChannelType) bool {
		return m.throttle.AllowAttackChain(ch, chain.Host)
	})
}

// TestChannels runs a connectivity check against every enabled driver and
// returns per-channel outcomes. Used at startup for operator feedback.
func (m *Manager) TestChannels(ctx context.Context) map[ChannelType]error {
	out := make(map[ChannelType]error)
	for _, d := range m.drivers {
		if !d.IsEnabled() {
			continue
		}
		out[d.Type()] = d.TestConnection(ctx)
	}
	return out
}

func (m *Manager) dispatch(ctx context.Context, alert Alert, allow func(ChannelType) bool) error {
	if !m.source().Enabled {
		return nil
	}

	var errs []error
	for _, d := range m.drivers {
		if !d.IsEnabled() {
			continue
		}
		ch := d.Type()

		if !allow(ch) {
			m.throttled.Add(1)
			notificationsThrottled.WithLabelValues(string(ch)).Inc()
			m.logger.Debug("Alert throttled", "channel", ch, "kind", alert.Kind, "risk", alert.Risk())
			continue
		}
		if !m.limiter.Allow(ch) {
			m.rateLimited.Add(1)
			notificationsRateLimited.WithLabelValues(string(ch)).Inc()
			m.logger.Warn("Dispatch budget exhausted, dropping alert", "channel", ch, "kind", alert.Kind)
			continue
		}

		if err := m.deliver(ctx, d, alert); err != nil {
			m.failed.Add(1)
			notificationsFailed.WithLabelValues(string(ch)).Inc()
			m.logger.Error("Alert delivery failed", "channel", ch, "kind", alert.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			continue
		}
		m.sent.Add(1)
		notificationsSent.WithLabelValues(string(ch)).Inc()
	}
	return errors.Join(errs...)
}

// deliver retries a failed send with doubling delays. The caller's
// cancellation stops the retry loop immediately.
func (m *Manager) deliver(ctx context.Context, d Driver, alert Alert) error {
	work := func() error {
		if err := d.Send(ctx, alert); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.baseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	return backoff.Retry(work, backoff.WithContext(backoff.WithMaxRetries(expo, dispatchRetries), ctx))
}

// ChannelStatus pairs a channel with its delivery health.
type ChannelStatus struct {
	Type    ChannelType `json:"type"`
	Enabled bool        `json:"enabled"`
	Health  Health      `json:"health"`
}

// Channels returns the status of every configured driver.
func (m *Manager) Channels() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, ChannelStatus{
			Type:    d.Type(),
			Enabled: d.IsEnabled(),
			Health:  d.Health(),
		})
	}
	return out
}

// Stats is a point-in-time copy of the manager counters.
type Stats struct {
	Sent        uint64          `json:"sent"`
	Throttled   uint64          `json:"throttled"`
	RateLimited uint64          `json:"rateLimited"`
	Failed      uint64          `json:"failed"`
	Channels    []ChannelStatus `json:"channels"`
}

// Snapshot returns current counters.
func (m *Manager) Snapshot() Stats {
	return Stats{
		Sent:        m.sent.Load(),
		Throttled:   m.throttled.Load(),
		RateLimited: m.rateLimited.Load(),
		Failed:      m.failed.Load(),
		Channels:    m.Channels(),
	}
}
