package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/waitroomlab/waitroom/pkg/response"
)

// RateLimitConfig holds per-client rate limiting configuration.
// This protects the HTTP surface (join/heartbeat storms from one client);
// it is unrelated to the per-queue release token bucket, which lives in
// the session store.
type RateLimitConfig struct {
	// RequestsPerSecond per client key (0 disables the middleware)
	RequestsPerSecond float64
	// BurstSize is the token bucket capacity
	BurstSize int
	// KeyFunc extracts the client key; defaults to ClientIP
	KeyFunc func(c *gin.Context) string
	// CleanupInterval and EntryTTL bound the limiter map
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		CleanupInterval:   time.Minute,
		EntryTTL:          time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client key
type ClientRateLimiter struct {
	config  *RateLimitConfig
	mu      sync.Mutex
	entries map[string]*limiterEntry
	stop    chan struct{}
}

// NewClientRateLimiter creates a rate limiter and starts its cleanup loop
func NewClientRateLimiter(cfg *RateLimitConfig) *ClientRateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = time.Minute
	}

	rl := &ClientRateLimiter{
		config:  cfg,
		entries: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether the client key may proceed
func (rl *ClientRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the cleanup loop
func (rl *ClientRateLimiter) Stop() {
	close(rl.stop)
}

func (rl *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.EntryTTL)
			rl.mu.Lock()
			for key, entry := range rl.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit returns a gin middleware enforcing the per-client limit
func RateLimit(rl *ClientRateLimiter) gin.HandlerFunc {
	if rl == nil || rl.config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if !rl.Allow(rl.config.KeyFunc(c)) {
			response.TooManyRequests(c, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
