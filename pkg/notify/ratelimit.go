package notify

import (
	"sync"
	"time"
)

const (
	// DefaultDispatchLimit caps deliveries per channel per window.
	DefaultDispatchLimit = 10

	// DefaultDispatchWindow is the rolling budget window.
	DefaultDispatchWindow = 5 * time.Minute
)

// RateLimiter caps dispatches per channel over a rolling window. A slot is
// consumed per delivery attempt, successful or not, so a flapping webhook
// cannot burn unlimited retries.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	sent   map[ChannelType][]time.Time
}

// NewRateLimiter returns a limiter allowing limit dispatches per window.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultDispatchLimit
	}
	if window <= 0 {
		window = DefaultDispatchWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		sent:   make(map[ChannelType][]time.Time),
	}
}

// Allow consumes one slot for channel if the rolling budget permits.
func (r *RateLimiter) Allow(channel ChannelType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.sent[channel][:0]
	for _, at := range r.sent[channel] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= r.limit {
		r.sent[channel] = kept
		return false
	}
	r.sent[channel] = append(kept, now)
	return true
}
