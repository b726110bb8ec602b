// ABOUTME: Per-identity token-bucket rate limiting for inbound events.
// ABOUTME: Limiters for idle identities are evicted to bound the map.

package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an identity may be quiet before its
	// limiter is dropped (a fresh one restores the full burst, which is
	// fine after this much silence).
	limiterIdleTTL = 10 * time.Minute

	// limiterEvictThreshold is the map size that triggers an eviction
	// pass on the next Allow call.
	limiterEvictThreshold = 1024
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// identityLimiter maintains one token bucket per identity.
type identityLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

func newIdentityLimiter(eventsPerSecond float64, burst int) *identityLimiter {
	return &identityLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(eventsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether the identity may submit an event now. Fail-fast:
// there is no queueing at the rate-limit boundary.
func (l *identityLimiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[identity]
	if !ok {
		if len(l.limiters) >= limiterEvictThreshold {
			l.evictIdleLocked(now)
		}
		entry = &limiterEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[identity] = entry
	}
	entry.lastSeen = now

	return entry.lim.Allow()
}

// evictIdleLocked drops limiters that have been quiet past the TTL.
func (l *identityLimiter) evictIdleLocked(now time.Time) {
	for identity, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, identity)
		}
	}
}
