package httptracker

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// rateLimiterIdle is how long a client IP may stay quiet before its bucket is
// dropped.
const rateLimiterIdle = 2 * DefaultInterval

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// rateLimiter keeps one token bucket per client IP. A nil *rateLimiter
// allows everything.
type rateLimiter struct {
	clients *xsync.Map[netip.Addr, *limiterEntry]
	limit   rate.Limit
	burst   int
}

func newRateLimiter(limit rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{
		clients: xsync.NewMap[netip.Addr, *limiterEntry](),
		limit:   limit,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(ip netip.Addr) bool {
	if rl == nil {
		return true
	}
	e, _ := rl.clients.LoadOrCompute(ip, func() (*limiterEntry, bool) {
		return &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}, false
	})
	e.lastSeen.Store(time.Now().UnixNano())
	return e.limiter.Allow()
}

// cleanup drops buckets idle for longer than idle and returns how many.
func (rl *rateLimiter) cleanup(idle time.Duration) int {
	if rl == nil {
		return 0
	}
	cutoff := time.Now().Add(-idle).UnixNano()
	removed := 0
	rl.clients.Range(func(ip netip.Addr, e *limiterEntry) bool {
		if e.lastSeen.Load() < cutoff {
			rl.clients.Compute(ip, func(old *limiterEntry, loaded bool) (*limiterEntry, xsync.ComputeOp) {
				if loaded && old.lastSeen.Load() < cutoff {
					removed++
					return nil, xsync.DeleteOp
				}
				return old, xsync.CancelOp
			})
		}
		return true
	})
	return removed
}

func (rl *rateLimiter) size() int {
	if rl == nil {
		return 0
	}
	return rl.clients.Size()
}
