// Package swarm holds live tracker state: the peers of every torrent, the
// seeder/leecher/completed counters and the peer selection algorithm.
//
// Nothing here blocks on I/O. Peers are stored copy-on-write in striped
// concurrent maps, and every per-peer mutation runs inside Map.Compute so that
// the map update and the counter update for one entry are a single step.
package swarm

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"
)

// Stats are the cached counters of a swarm, as served by scrape.
type Stats struct {
	Seeders   int
	Leechers  int
	Completed int
}

// Swarm is the set of peers of one torrent.
type Swarm struct {
	peers     *xsync.Map[netip.AddrPort, *Peer]
	seeders   atomic.Int64
	leechers  atomic.Int64
	completed atomic.Int64

	// life is held shared by inserts and exclusively while the Manager
	// retires an empty swarm, so nothing is inserted into a dropped swarm.
	life    sync.RWMutex
	retired bool
}

// New returns an empty swarm.
func New() *Swarm {
	return &Swarm{peers: xsync.NewMap[netip.AddrPort, *Peer]()}
}

// peerKey folds IPv4-mapped IPv6 addresses onto plain IPv4 so that the same
// endpoint always maps to one entry.
func peerKey(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func (s *Swarm) counter(seeder bool) *atomic.Int64 {
	if seeder {
		return &s.seeders
	}
	return &s.leechers
}

// Upsert inserts p or updates the entry with the same ip:port.
// It returns true when the peer was not in the swarm before.
//
// A swarm held by a Manager may be retired by PruneEmpty at any time, after
// which Upsert stores nothing and returns false. Announce into registered
// swarms through Manager.UpsertPeer, which retries on a retired swarm.
func (s *Swarm) Upsert(p Peer) bool {
	isNew, _ := s.upsert(p)
	return isNew
}

// upsert reports ok=false when the swarm has been retired and the caller must
// look the swarm up again.
func (s *Swarm) upsert(p Peer) (isNew, ok bool) {
	s.life.RLock()
	defer s.life.RUnlock()
	if s.retired {
		return false, false
	}

	p.Addr = peerKey(p.Addr)
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}

	s.peers.Compute(p.Addr, func(old *Peer, loaded bool) (*Peer, xsync.ComputeOp) {
		next := p
		next.completed = false
		if !loaded {
			isNew = true
			s.counter(next.IsSeeder()).Add(1)
			return &next, xsync.UpdateOp
		}

		next.completed = old.completed
		if wasSeeder := old.IsSeeder(); wasSeeder != next.IsSeeder() {
			// Increment first: a concurrent reader may see both classes
			// counting the peer for an instant, never neither.
			s.counter(!wasSeeder).Add(1)
			s.counter(wasSeeder).Add(-1)
		}
		return &next, xsync.UpdateOp
	})

	if isNew {
		log.Debug().Stringer("peer", p.Addr).Bool("seeder", p.IsSeeder()).Msg("added peer")
	}
	return isNew, true
}

// Remove deletes the peer at addr and returns it. Removing an absent peer is a
// no-op that returns false.
func (s *Swarm) Remove(addr netip.AddrPort) (Peer, bool) {
	var (
		removed Peer
		found   bool
	)
	s.peers.Compute(peerKey(addr), func(old *Peer, loaded bool) (*Peer, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		removed, found = *old, true
		s.counter(old.IsSeeder()).Add(-1)
		return nil, xsync.DeleteOp
	})

	if found {
		log.Debug().Stringer("peer", removed.Addr).Msg("removed peer")
	}
	return removed, found
}

// RecordCompleted counts a finished download for the peer at addr.
// Each peer entry is counted at most once; it returns true when the counter
// was incremented.
func (s *Swarm) RecordCompleted(addr netip.AddrPort) bool {
	var counted bool
	s.peers.Compute(peerKey(addr), func(old *Peer, loaded bool) (*Peer, xsync.ComputeOp) {
		if !loaded || old.completed {
			return old, xsync.CancelOp
		}
		next := *old
		next.completed = true
		s.completed.Add(1)
		counted = true
		return &next, xsync.UpdateOp
	})
	return counted
}

// Get returns a copy of the peer at addr.
func (s *Swarm) Get(addr netip.AddrPort) (Peer, bool) {
	p, ok := s.peers.Load(peerKey(addr))
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// CleanupExpired evicts every peer that has not announced within PeerTimeout
// and returns how many were removed.
func (s *Swarm) CleanupExpired() int {
	return s.cleanupExpiredAt(time.Now())
}

func (s *Swarm) cleanupExpiredAt(now time.Time) int {
	var stale []netip.AddrPort
	s.peers.Range(func(key netip.AddrPort, p *Peer) bool {
		if p.expiredAt(now) {
			stale = append(stale, key)
		}
		return true
	})

	removed := 0
	for _, key := range stale {
		// The peer may have re-announced since the scan; check again under the
		// entry lock before evicting.
		s.peers.Compute(key, func(old *Peer, loaded bool) (*Peer, xsync.ComputeOp) {
			if !loaded || !old.expiredAt(now) {
				return old, xsync.CancelOp
			}
			s.counter(old.IsSeeder()).Add(-1)
			removed++
			return nil, xsync.DeleteOp
		})
	}
	return removed
}

// Stats returns the cached counters. They may trail a racing write by an
// instant but are never negative.
func (s *Swarm) Stats() Stats {
	return Stats{
		Seeders:   load(&s.seeders),
		Leechers:  load(&s.leechers),
		Completed: load(&s.completed),
	}
}

// PeerCount returns the number of peers in the swarm.
func (s *Swarm) PeerCount() int {
	return s.peers.Size()
}

func load(c *atomic.Int64) int {
	return int(max(c.Load(), 0))
}

// retire marks an empty swarm as dropped. Inserts racing with it observe the
// flag and retry against the registry.
func (s *Swarm) retire() bool {
	s.life.Lock()
	defer s.life.Unlock()
	if s.retired || s.peers.Size() != 0 {
		return false
	}
	s.retired = true
	return true
}
