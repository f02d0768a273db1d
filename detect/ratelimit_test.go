package detect

import (
	"testing"

	"botguard/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterCache_BudgetEnforced(t *testing.T) {
	cache, err := NewRateLimiterCache(100)
	require.NoError(t, err)

	rl := core.RateLimit{Requests: 3, WindowSeconds: 60}
	for i := 0; i < 3; i++ {
		assert.True(t, cache.Allow("1.2.3.4", "rule-a", rl), "request %d should be within budget", i)
	}
	assert.False(t, cache.Allow("1.2.3.4", "rule-a", rl), "burst exhausted, request should be limited")
}

func TestRateLimiterCache_SeparateBucketsPerClient(t *testing.T) {
	cache, err := NewRateLimiterCache(100)
	require.NoError(t, err)

	rl := core.RateLimit{Requests: 1, WindowSeconds: 60}
	assert.True(t, cache.Allow("1.2.3.4", "rule-a", rl))
	assert.False(t, cache.Allow("1.2.3.4", "rule-a", rl))
	assert.True(t, cache.Allow("5.6.7.8", "rule-a", rl), "a different client has its own bucket")
}

func TestRateLimiterCache_SeparateBucketsPerRule(t *testing.T) {
	cache, err := NewRateLimiterCache(100)
	require.NoError(t, err)

	rl := core.RateLimit{Requests: 1, WindowSeconds: 60}
	assert.True(t, cache.Allow("1.2.3.4", "rule-a", rl))
	assert.True(t, cache.Allow("1.2.3.4", "rule-b", rl), "a different rule has its own bucket")
}

func TestRateLimiterCache_EvictionBoundsSize(t *testing.T) {
	cache, err := NewRateLimiterCache(2)
	require.NoError(t, err)

	rl := core.RateLimit{Requests: 1, WindowSeconds: 60}
	cache.Allow("a", "rule", rl)
	cache.Allow("b", "rule", rl)
	cache.Allow("c", "rule", rl)
	assert.Equal(t, 2, cache.Len())
}

func TestRateLimiterCache_DefaultSize(t *testing.T) {
	cache, err := NewRateLimiterCache(0)
	require.NoError(t, err)
	assert.NotNil(t, cache)
}
