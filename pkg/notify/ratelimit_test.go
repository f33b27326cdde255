package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterCapsRollingWindow(t *testing.T) {
	rl := NewRateLimiter(10, 5*time.Minute)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(ChannelTeams), "dispatch %d should fit the budget", i)
	}
	assert.False(t, rl.Allow(ChannelTeams))

	// Budgets are per channel.
	assert.True(t, rl.Allow(ChannelSlack))
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow(ChannelTeams))
	assert.True(t, rl.Allow(ChannelTeams))
	assert.False(t, rl.Allow(ChannelTeams))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow(ChannelTeams))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, DefaultDispatchLimit, rl.limit)
	assert.Equal(t, DefaultDispatchWindow, rl.window)
}
