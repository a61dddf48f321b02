package swarm

import (
	"net/netip"
	"runtime"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

// Manager is the process-wide info-hash to swarm registry.
//
// The registry is a striped map: announces for different torrents do not
// contend, and announces for the same torrent only meet at the peer entry.
type Manager struct {
	swarms *xsync.Map[bittorrent.InfoHash, *Swarm]
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{swarms: xsync.NewMap[bittorrent.InfoHash, *Swarm]()}
}

// GetOrCreateSwarm returns the swarm for ih, creating it on first reference.
func (m *Manager) GetOrCreateSwarm(ih bittorrent.InfoHash) *Swarm {
	s, loaded := m.swarms.LoadOrCompute(ih, func() (*Swarm, bool) {
		return New(), false
	})
	if !loaded {
		log.Debug().Stringer("info_hash", ih).Msg("created swarm")
	}
	return s
}

// Swarm returns the swarm for ih if one exists.
func (m *Manager) Swarm(ih bittorrent.InfoHash) (*Swarm, bool) {
	return m.swarms.Load(ih)
}

// UpsertPeer registers or refreshes p in the swarm of ih.
func (m *Manager) UpsertPeer(ih bittorrent.InfoHash, p Peer) bool {
	for {
		if isNew, ok := m.GetOrCreateSwarm(ih).upsert(p); ok {
			return isNew
		}
		// Lost a race with PruneEmpty; wait for the registry to drop the
		// retired swarm and try again.
		runtime.Gosched()
	}
}

// RemovePeer removes the peer at addr from the swarm of ih.
func (m *Manager) RemovePeer(ih bittorrent.InfoHash, addr netip.AddrPort) (Peer, bool) {
	s, ok := m.swarms.Load(ih)
	if !ok {
		return Peer{}, false
	}
	return s.Remove(addr)
}

// RecordCompleted counts a finished download for the peer at addr.
func (m *Manager) RecordCompleted(ih bittorrent.InfoHash, addr netip.AddrPort) bool {
	s, ok := m.swarms.Load(ih)
	if !ok {
		return false
	}
	return s.RecordCompleted(addr)
}

// SelectPeers runs peer selection on the swarm of ih. An unknown info-hash
// yields no peers.
func (m *Manager) SelectPeers(
	ih bittorrent.InfoHash, exclude netip.AddrPort, requesterIsSeeder, wantIPv6 bool, numWant int,
) []Peer {
	s, ok := m.swarms.Load(ih)
	if !ok {
		return nil
	}
	return s.SelectPeers(exclude, requesterIsSeeder, wantIPv6, numWant)
}

// Stats returns the counters of ih, or false if no swarm exists for it.
func (m *Manager) Stats(ih bittorrent.InfoHash) (Stats, bool) {
	s, ok := m.swarms.Load(ih)
	if !ok {
		return Stats{}, false
	}
	return s.Stats(), true
}

// CleanupAllExpired sweeps every swarm and returns the total number of
// evicted peers.
func (m *Manager) CleanupAllExpired() int {
	total := 0
	m.swarms.Range(func(_ bittorrent.InfoHash, s *Swarm) bool {
		total += s.CleanupExpired()
		return true
	})
	return total
}

// PruneEmpty drops swarms without peers and returns how many were dropped.
func (m *Manager) PruneEmpty() int {
	pruned := 0
	m.swarms.Range(func(ih bittorrent.InfoHash, s *Swarm) bool {
		if s.PeerCount() > 0 || !s.retire() {
			return true
		}
		m.swarms.Compute(ih, func(old *Swarm, loaded bool) (*Swarm, xsync.ComputeOp) {
			if loaded && old == s {
				return nil, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
		pruned++
		log.Debug().Stringer("info_hash", ih).Msg("pruned empty swarm")
		return true
	})
	return pruned
}

// SwarmCount returns the number of swarms in the registry.
func (m *Manager) SwarmCount() int {
	return m.swarms.Size()
}

// TotalPeerCount returns the number of peers across all swarms.
func (m *Manager) TotalPeerCount() int {
	total := 0
	m.swarms.Range(func(_ bittorrent.InfoHash, s *Swarm) bool {
		total += s.PeerCount()
		return true
	})
	return total
}

// Totals returns seeders and leechers summed across all swarms.
func (m *Manager) Totals() (seeders, leechers int) {
	m.swarms.Range(func(_ bittorrent.InfoHash, s *Swarm) bool {
		st := s.Stats()
		seeders += st.Seeders
		leechers += st.Leechers
		return true
	})
	return seeders, leechers
}
