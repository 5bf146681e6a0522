package daemon

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leonletto/chatnode/internal/config"
)

// PeerRateLimiter provides per-peer rate limiting for peer-channel requests.
type PeerRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*peerLimiter // keyed by remote host
	config   config.RateLimitConfig
}

// peerLimiter wraps a rate limiter with last access time for cleanup.
type peerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewPeerRateLimiter creates a new rate limiter with the given config.
// If config has zero values, defaults are used.
func NewPeerRateLimiter(cfg config.RateLimitConfig) *PeerRateLimiter {
	if cfg.MaxRequestsPerSecond == 0 {
		cfg.MaxRequestsPerSecond = config.DefaultMaxRequestsPerSec
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = config.DefaultBurst
	}

	return &PeerRateLimiter{
		limiters: make(map[string]*peerLimiter),
		config:   cfg,
	}
}

// Allow checks if a request from the given peer should be allowed.
// Returns nil if allowed, or a *RateLimitError if rate limited.
func (r *PeerRateLimiter) Allow(peerID string) error {
	if r == nil || !r.config.Enabled {
		return nil
	}

	limiter := r.getLimiter(peerID)
	if !limiter.Allow() {
		return &RateLimitError{
			Code:    429,
			Message: "rate limit exceeded",
			PeerID:  peerID,
		}
	}

	return nil
}

// CleanupStale removes limiters for peers not seen in the given duration.
// Returns the number of limiters removed.
func (r *PeerRateLimiter) CleanupStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, pl := range r.limiters {
		if pl.lastAccess.Before(cutoff) {
			delete(r.limiters, id)
			removed++
		}
	}

	return removed
}

// getLimiter returns or creates a rate limiter for the given peer.
func (r *PeerRateLimiter) getLimiter(peerID string) *rate.Limiter {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if pl, ok := r.limiters[peerID]; ok {
		pl.lastAccess = now
		return pl.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(r.config.MaxRequestsPerSecond), r.config.BurstSize)
	r.limiters[peerID] = &peerLimiter{
		limiter:    limiter,
		lastAccess: now,
	}

	return limiter
}

// RateLimitError represents a rate limit rejection.
type RateLimitError struct {
	Code    int // 429
	Message string
	PeerID  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error (code %d) for peer %s: %s", e.Code, e.PeerID, e.Message)
}
