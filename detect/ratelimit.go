package detect

import (
	"fmt"
	"sync"

	"botguard/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// defaultLimiterCacheSize bounds the number of live token buckets. Old
// clients are evicted LRU; a re-appearing client simply gets a fresh bucket.
const defaultLimiterCacheSize = 100_000

// RateLimiterCache resolves rate_limit actions to an allow/limited verdict.
// One token bucket is kept per (client, rule) pair so two rate_limit rules
// with different budgets never share a bucket.
type RateLimiterCache struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiterCache creates a rate limiter cache. size <= 0 uses the
// default capacity.
func NewRateLimiterCache(size int) (*RateLimiterCache, error) {
	if size <= 0 {
		size = defaultLimiterCacheSize
	}
	limiters, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}
	return &RateLimiterCache{limiters: limiters}, nil
}

// Allow reports whether the client identified by clientKey is within the
// budget of the given rate_limit action for ruleID. A false result means the
// request should be treated as blocked.
func (c *RateLimiterCache) Allow(clientKey, ruleID string, rl core.RateLimit) bool {
	key := ruleID + "|" + clientKey

	c.mu.Lock()
	limiter, ok := c.limiters.Get(key)
	if !ok {
		limit := rate.Limit(float64(rl.Requests) / float64(rl.WindowSeconds))
		limiter = rate.NewLimiter(limit, rl.Requests)
		c.limiters.Add(key, limiter)
	}
	c.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of live token buckets
func (c *RateLimiterCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiters.Len()
}
