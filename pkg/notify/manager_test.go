package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// fakeDriver fails its first `failures` sends and records the rest.
type fakeDriver struct {
	typ     ChannelType
	enabled bool
	testErr error

	mu       sync.Mutex
	failures int
	calls    int
	alerts   []Alert
	health   healthState
}

func (d *fakeDriver) Type() ChannelType { return d.typ }
func (d *fakeDriver) IsEnabled() bool   { return d.enabled }

func (d *fakeDriver) Send(_ context.Context, alert Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures > 0 {
		d.failures--
		err := errors.New("webhook unavailable")
		d.health.failure(err)
		return err
	}
	d.alerts = append(d.alerts, alert)
	d.health.success()
	return nil
}

func (d *fakeDriver) TestConnection(context.Context) error { return d.testErr }
func (d *fakeDriver) Health() Health                       { return d.health.snapshot() }

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDriver) delivered() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Alert(nil), d.alerts...)
}

func testManager(drivers ...Driver) *Manager {
	cfg := &config.NotificationsConfig{Enabled: true}
	m := NewManager(func() *config.NotificationsConfig { return cfg }, drivers...)
	m.baseDelay = time.Millisecond
	return m
}

func TestManagerDeliversSecurityAlert(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true}
	m := testManager(driver)

	err := m.SendSecurityAlert(context.Background(), analyzedEvent(4672, models.RiskLevelHigh, models.EventTypePrivilegeEscalation))
	require.NoError(t, err)

	got := driver.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, KindSecurity, got[0].Kind)
	assert.Equal(t, models.RiskLevelHigh, got[0].Risk())

	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Zero(t, stats.Throttled)
	assert.Zero(t, stats.Failed)
}

func TestManagerThrottlesRepeatedSeverity(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true}
	m := testManager(driver)
	ctx := context.Background()

	require.NoError(t, m.SendSecurityAlert(ctx, analyzedEvent(4672, models.RiskLevelMedium, models.EventTypePrivilegeEscalation)))
	require.NoError(t, m.SendSecurityAlert(ctx, analyzedEvent(4672, models.RiskLevelMedium, models.EventTypePrivilegeEscalation)))

	assert.Equal(t, 1, driver.callCount())
	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.Throttled)
}

func TestManagerCriticalNeverThrottled(t *testing.T) {
	driver := &fakeDriver{typ: ChannelSlack, enabled: true}
	m := testManager(driver)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.SendSecurityAlert(ctx, analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity)))
	}

	assert.Equal(t, 5, driver.callCount())
	assert.Equal(t, uint64(5), m.Snapshot().Sent)
}

func TestManagerRetriesUntilDeliverySucceeds(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true, failures: 2}
	m := testManager(driver)

	err := m.SendSecurityAlert(context.Background(), analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity))
	require.NoError(t, err)

	// Two failed attempts plus the one that landed.
	assert.Equal(t, 3, driver.callCount())
	require.Len(t, driver.delivered(), 1)

	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Zero(t, stats.Failed)
}

func TestManagerGivesUpAfterRetriesExhausted(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true, failures: 5}
	m := testManager(driver)

	err := m.SendSecurityAlert(context.Background(), analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams")

	assert.Equal(t, 3, driver.callCount())
	assert.Empty(t, driver.delivered())

	stats := m.Snapshot()
	assert.Zero(t, stats.Sent)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestManagerRateLimitsDispatches(t *testing.T) {
	driver := &fakeDriver{typ: ChannelSlack, enabled: true}
	m := testManager(driver)
	ctx := context.Background()

	// Critical alerts bypass the throttle, so only the dispatch budget
	// bounds them.
	for i := 0; i < DefaultDispatchLimit+1; i++ {
		require.NoError(t, m.SendSecurityAlert(ctx, analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity)))
	}

	assert.Equal(t, DefaultDispatchLimit, driver.callCount())
	stats := m.Snapshot()
	assert.Equal(t, uint64(DefaultDispatchLimit), stats.Sent)
	assert.Equal(t, uint64(1), stats.RateLimited)
}

func TestManagerDisabledSendsNothing(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true}
	cfg := &config.NotificationsConfig{Enabled: false}
	m := NewManager(func() *config.NotificationsConfig { return cfg }, driver)
	m.baseDelay = time.Millisecond

	require.NoError(t, m.SendSecurityAlert(context.Background(), analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity)))

	assert.Zero(t, driver.callCount())
	assert.Zero(t, m.Snapshot().Sent)
}

func TestManagerSkipsDisabledDriver(t *testing.T) {
	disabled := &fakeDriver{typ: ChannelTeams, enabled: false}
	enabled := &fakeDriver{typ: ChannelSlack, enabled: true}
	m := testManager(disabled, enabled)

	require.NoError(t, m.SendSecurityAlert(context.Background(), analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity)))

	assert.Zero(t, disabled.callCount())
	assert.Equal(t, 1, enabled.callCount())
}

func TestManagerCorrelationAlertThrottledPerType(t *testing.T) {
	driver := &fakeDriver{typ: ChannelSlack, enabled: true}
	m := testManager(driver)
	ctx := context.Background()

	burst := correlationAlert(models.CorrelationTypeTemporalBurst)
	require.NoError(t, m.SendCorrelationAlert(ctx, burst.Event, burst.Correlation))
	require.NoError(t, m.SendCorrelationAlert(ctx, burst.Event, burst.Correlation))

	// A different correlation type opens its own window.
	lateral := correlationAlert(models.CorrelationTypeLateralMovement)
	require.NoError(t, m.SendCorrelationAlert(ctx, lateral.Event, lateral.Correlation))

	assert.Equal(t, 2, driver.callCount())
	assert.Equal(t, uint64(1), m.Snapshot().Throttled)

	got := driver.delivered()
	require.Len(t, got, 2)
	assert.Equal(t, KindCorrelation, got[0].Kind)
	assert.Equal(t, models.CorrelationTypeTemporalBurst, got[0].Correlation.Type)
	assert.Equal(t, models.CorrelationTypeLateralMovement, got[1].Correlation.Type)
}

func TestManagerAttackChainAlertCarriesLastEvent(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true}
	m := testManager(driver)

	first := analyzedEvent(4625, models.RiskLevelMedium, models.EventTypeAuthenticationFailure)
	last := analyzedEvent(4672, models.RiskLevelCritical, models.EventTypePrivilegeEscalation)
	chain := &models.AttackChain{
		ID:         "chain-1",
		Host:       "SRV01",
		Stages:     []string{"AuthenticationFailure", "PrivilegeEscalation"},
		EventIDs:   []string{"a", "b"},
		Confidence: 0.8,
		DetectedAt: time.Now().UTC(),
	}

	err := m.SendAttackChainAlert(context.Background(), []*models.SecurityEvent{first, last}, chain)
	require.NoError(t, err)

	got := driver.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, KindAttackChain, got[0].Kind)
	assert.Same(t, last, got[0].Event)
	assert.Equal(t, "SRV01", got[0].Chain.Host)
	assert.Len(t, got[0].Events, 2)

	// Same host stays quiet inside the chain window.
	require.NoError(t, m.SendAttackChainAlert(context.Background(), []*models.SecurityEvent{first, last}, chain))
	assert.Equal(t, 1, driver.callCount())
}

func TestManagerTestChannels(t *testing.T) {
	healthy := &fakeDriver{typ: ChannelTeams, enabled: true}
	broken := &fakeDriver{typ: ChannelSlack, enabled: true, testErr: errors.New("dns failure")}
	disabled := &fakeDriver{typ: ChannelType("noop"), enabled: false}
	m := testManager(healthy, broken, disabled)

	out := m.TestChannels(context.Background())
	require.Len(t, out, 2)
	assert.NoError(t, out[ChannelTeams])
	assert.EqualError(t, out[ChannelSlack], "dns failure")
	assert.NotContains(t, out, ChannelType("noop"))
}

func TestManagerSnapshotIncludesChannelHealth(t *testing.T) {
	driver := &fakeDriver{typ: ChannelTeams, enabled: true}
	m := testManager(driver)

	require.NoError(t, m.SendSecurityAlert(context.Background(), analyzedEvent(1102, models.RiskLevelCritical, models.EventTypeSuspiciousActivity)))

	stats := m.Snapshot()
	require.Len(t, stats.Channels, 1)
	assert.Equal(t, ChannelTeams, stats.Channels[0].Type)
	assert.True(t, stats.Channels[0].Enabled)
	assert.True(t, stats.Channels[0].Health.Healthy)
	assert.Equal(t, uint64(1), stats.Channels[0].Health.Sent)
}
