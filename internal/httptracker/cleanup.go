package httptracker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCleanupInterval is how often expired peers are swept.
const DefaultCleanupInterval = 5 * time.Minute

// RunCleanup periodically evicts expired peers, drops empty swarms and
// forgets idle rate limiter buckets, until ctx is canceled.
func (tr *Tracker) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tr.cleanup()
		}
	}
}

func (tr *Tracker) cleanup() {
	start := time.Now()

	// Phase 1: evict peers that stopped announcing
	expired := tr.peers.CleanupAllExpired()

	// Phase 2: drop swarms left without peers
	pruned := tr.peers.PruneEmpty()

	// Phase 3: forget idle clients
	limiters := tr.limiter.cleanup(rateLimiterIdle)

	if expired > 0 || pruned > 0 || limiters > 0 {
		log.Info().
			Int("peers", expired).
			Int("swarms", pruned).
			Int("limiters", limiters).
			Dur("took", time.Since(start)).
			Msg("cleanup")
	}
}
