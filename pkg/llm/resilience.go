package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// errEmptyResult marks a call that technically succeeded but produced
// nothing usable. Retried like a transport failure.
var errEmptyResult = errors.New("model returned an empty result")

// Resilience wraps a client with retry, circuit breaking, and per-attempt
// timeouts, in that order per call. The analysis pipeline must keep moving
// when the model misbehaves, so a terminal failure surfaces as an empty
// string with a nil error; only the caller's own cancellation propagates
// as an error.
type Resilience struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	maxRetries uint64
	baseDelay  time.Duration
	timeout    time.Duration

	totalCalls      atomic.Uint64
	successfulCalls atomic.Uint64
	failedCalls     atomic.Uint64
	retriedCalls    atomic.Uint64
	breakerOpens    atomic.Uint64
	timeouts        atomic.Uint64
}

var _ Client = (*Resilience)(nil)

// NewResilience wraps inner per cfg. timeout bounds each individual attempt.
func NewResilience(inner Client, cfg config.ResilienceConfig, timeout time.Duration) *Resilience {
	r := &Resilience{
		inner:      inner,
		logger:     slog.With("component", "llm_resilience"),
		maxRetries: uint64(cfg.MaxRetries),
		baseDelay:  cfg.RetryBaseDelay,
		timeout:    timeout,
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		Interval:    cfg.BreakerWindow,
		Timeout:     cfg.BreakerBreakDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.BreakerMinThroughput &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				r.breakerOpens.Add(1)
			}
			r.logger.Info("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return r
}

// ProviderName implements providerNamer.
func (r *Resilience) ProviderName() string { return ProviderName(r.inner) }

// Analyze implements Client.
func (r *Resilience) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	return r.execute(ctx, func(attemptCtx context.Context) (string, error) {
		return r.inner.Analyze(attemptCtx, event, neighbors)
	})
}

// Generate implements Client.
func (r *Resilience) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return r.execute(ctx, func(attemptCtx context.Context) (string, error) {
		return r.inner.Generate(attemptCtx, systemPrompt, userPrompt)
	})
}

func (r *Resilience) execute(ctx context.Context, op func(ctx context.Context) (string, error)) (string, error) {
	r.totalCalls.Add(1)

	attempts := 0
	work := func() (string, error) {
		if attempts > 0 {
			r.retriedCalls.Add(1)
		}
		attempts++

		out, err := r.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			result, err := op(attemptCtx)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					r.timeouts.Add(1)
				}
				return nil, err
			}
			if result == "" {
				return nil, errEmptyResult
			}
			return result, nil
		})
		if err != nil {
			// The caller gave up: stop immediately and report their error.
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			// An open breaker fails every attempt until the break expires,
			// so retrying inside this call is pointless.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return out.(string), nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.baseDelay
	expo.MaxElapsedTime = 0

	result, err := backoff.RetryWithData(work, backoff.WithContext(backoff.WithMaxRetries(expo, r.maxRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.failedCalls.Add(1)
		r.logger.Warn("Model call failed terminally", "attempts", attempts, "error", err)
		return "", nil
	}

	r.successfulCalls.Add(1)
	return result, nil
}

// ResilienceStats is a point-in-time snapshot of call outcomes.
type ResilienceStats struct {
	TotalCalls          uint64  `json:"totalCalls"`
	SuccessfulCalls     uint64  `json:"successfulCalls"`
	FailedCalls         uint64  `json:"failedCalls"`
	RetriedCalls        uint64  `json:"retriedCalls"`
	CircuitBreakerOpens uint64  `json:"circuitBreakerOpens"`
	Timeouts            uint64  `json:"timeouts"`
	SuccessRate         float64 `json:"successRate"`
}

// Snapshot returns current counters. SuccessRate is successes over total
// calls, zero when nothing ran yet.
func (r *Resilience) Snapshot() ResilienceStats {
	total := r.totalCalls.Load()
	success := r.successfulCalls.Load()

	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	return ResilienceStats{
		TotalCalls:          total,
		SuccessfulCalls:     success,
		FailedCalls:         r.failedCalls.Load(),
		RetriedCalls:        r.retriedCalls.Load(),
		CircuitBreakerOpens: r.breakerOpens.Load(),
		Timeouts:            r.timeouts.Load(),
		SuccessRate:         rate,
	}
}
