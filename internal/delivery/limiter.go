// ABOUTME: Per-sender token bucket pool guarding the message:send path.

package delivery

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per sender id. Buckets are
// created lazily and never expire; sender cardinality is bounded by the
// registered agent and client population.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the sender may send one more message now.
// A zero rate disables limiting.
func (p *limiterPool) Allow(senderID string) bool {
	if p.rps <= 0 {
		return true
	}

	p.mu.Lock()
	limiter, ok := p.limiters[senderID]
	if !ok {
		limiter = rate.NewLimiter(p.rps, p.burst)
		p.limiters[senderID] = limiter
	}
	p.mu.Unlock()

	return limiter.Allow()
}
