package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
)

// fastResilienceConfig keeps retry pauses negligible in tests.
func fastResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxRetries:           3,
		RetryBaseDelay:       time.Millisecond,
		BreakerFailureRatio:  0.5,
		BreakerWindow:        30 * time.Second,
		BreakerMinThroughput: 5,
		BreakerBreakDuration: time.Minute,
	}
}

func TestResilienceFirstTrySuccess(t *testing.T) {
	mock := &mockClient{analyzeReplies: []scriptedReply{{text: "answer"}}}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)

	out, err := r.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	stats := r.Snapshot()
	assert.Equal(t, uint64(1), stats.TotalCalls)
	assert.Equal(t, uint64(1), stats.SuccessfulCalls)
	assert.Zero(t, stats.RetriedCalls)
	assert.Zero(t, stats.FailedCalls)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestResilienceRetriesTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockClient{analyzeReplies: []scriptedReply{
		{err: boom}, {err: boom}, {err: boom}, {text: "recovered"},
	}}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)

	out, err := r.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	analyzeCalls, _ := mock.calls()
	assert.Equal(t, 4, analyzeCalls)

	stats := r.Snapshot()
	assert.Equal(t, uint64(1), stats.SuccessfulCalls)
	assert.Equal(t, uint64(3), stats.RetriedCalls)
	assert.Zero(t, stats.FailedCalls)
}

func TestResilienceRetriesEmptyResults(t *testing.T) {
	mock := &mockClient{generateReplies: []scriptedReply{
		{text: ""}, {text: ""}, {text: "eventually"},
	}}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)

	out, err := r.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "eventually", out)
	assert.Equal(t, uint64(2), r.Snapshot().RetriedCalls)
}

func TestResilienceExhaustedRetriesYieldEmpty(t *testing.T) {
	// Persistent failure: the caller gets an empty result and no error
	// after the initial attempt plus three retries.
	mock := &mockClient{analyzeReplies: []scriptedReply{{err: errors.New("down")}}}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)

	out, err := r.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	analyzeCalls, _ := mock.calls()
	assert.Equal(t, 4, analyzeCalls, "one initial attempt plus three retries")

	stats := r.Snapshot()
	assert.Equal(t, uint64(1), stats.FailedCalls)
	assert.Equal(t, uint64(3), stats.RetriedCalls)
	assert.Zero(t, stats.SuccessfulCalls)
	assert.Zero(t, stats.SuccessRate)
}

func TestResiliencePerAttemptTimeout(t *testing.T) {
	cfg := fastResilienceConfig()
	cfg.MaxRetries = 1

	mock := &mockClient{onCall: blockUntilDone}
	r := NewResilience(mock, cfg, 20*time.Millisecond)

	out, err := r.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	stats := r.Snapshot()
	assert.Equal(t, uint64(2), stats.Timeouts, "both attempts timed out")
	assert.Equal(t, uint64(1), stats.FailedCalls)
}

func TestResilienceCallerCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &mockClient{onCall: func(context.Context, int) { cancel() }}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)

	_, err := r.Analyze(ctx, testEvent(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	analyzeCalls, _ := mock.calls()
	assert.Equal(t, 1, analyzeCalls, "caller cancellation is never retried")

	stats := r.Snapshot()
	assert.Zero(t, stats.FailedCalls, "cancellation is not a provider failure")
	assert.Zero(t, stats.SuccessfulCalls)
}

func TestResilienceBreakerOpensAndShortCircuits(t *testing.T) {
	mock := &mockClient{analyzeReplies: []scriptedReply{{err: errors.New("down")}}}
	r := NewResilience(mock, fastResilienceConfig(), time.Second)
	ctx := context.Background()

	// First call: 4 failing attempts, below the breaker's minimum
	// throughput of 5.
	_, err := r.Analyze(ctx, testEvent(), nil)
	require.NoError(t, err)
	analyzeCalls, _ := mock.calls()
	assert.Equal(t, 4, analyzeCalls)
	assert.Zero(t, r.Snapshot().CircuitBreakerOpens)

	// Second call: the fifth consecutive failure trips the breaker; the
	// remaining retries short-circuit without reaching the provider.
	_, err = r.Analyze(ctx, testEvent(), nil)
	require.NoError(t, err)
	analyzeCalls, _ = mock.calls()
	assert.Equal(t, 5, analyzeCalls, "breaker open stops further attempts")
	assert.Equal(t, uint64(1), r.Snapshot().CircuitBreakerOpens)

	// Third call: rejected outright while open.
	out, err := r.Analyze(ctx, testEvent(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	analyzeCalls, _ = mock.calls()
	assert.Equal(t, 5, analyzeCalls, "no provider traffic while open")
	assert.Equal(t, uint64(3), r.Snapshot().FailedCalls)
}

func TestResilienceBreakerRecoversAfterBreak(t *testing.T) {
	cfg := fastResilienceConfig()
	cfg.BreakerMinThroughput = 2
	cfg.BreakerBreakDuration = 30 * time.Millisecond
	cfg.MaxRetries = 1

	mock := &mockClient{analyzeReplies: []scriptedReply{
		{err: errors.New("down")}, {err: errors.New("down")}, {text: "back"},
	}}
	r := NewResilience(mock, cfg, time.Second)
	ctx := context.Background()

	// Two failures trip the breaker.
	_, err := r.Analyze(ctx, testEvent(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.Snapshot().CircuitBreakerOpens)

	// After the break duration the half-open probe succeeds.
	time.Sleep(50 * time.Millisecond)
	out, err := r.Analyze(ctx, testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "back", out)
	assert.Equal(t, uint64(1), r.Snapshot().SuccessfulCalls)
}
