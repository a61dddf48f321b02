package swarm

import (
	"math/rand"
	"net/netip"
	"time"
)

// MaxNumWant is the hard ceiling on peers returned by one announce.
const MaxNumWant = 50

// SelectPeers picks up to numWant peers of the requested IP family for a
// requester, never returning the requester itself (exclude) or expired peers.
//
// Pass 1 takes peers of the opposite role: a leecher is shown seeders first,
// a seeder is shown leechers first. Pass 2 fills whatever is left with the
// remaining peers regardless of role.
func (s *Swarm) SelectPeers(exclude netip.AddrPort, requesterIsSeeder, wantIPv6 bool, numWant int) []Peer {
	return s.selectPeersAt(time.Now(), exclude, requesterIsSeeder, wantIPv6, numWant)
}

func (s *Swarm) selectPeersAt(
	now time.Time, exclude netip.AddrPort, requesterIsSeeder, wantIPv6 bool, numWant int,
) []Peer {
	numWant = min(numWant, MaxNumWant)
	if numWant <= 0 {
		return nil
	}
	exclude = peerKey(exclude)

	// One scan splits the candidates by role; the two passes then run over the
	// split instead of iterating the map twice. The split is disjoint, so the
	// second pass cannot repeat a peer from the first.
	var opposite, same []*Peer
	s.peers.Range(func(key netip.AddrPort, p *Peer) bool {
		if key == exclude || p.IsIPv6() != wantIPv6 || p.expiredAt(now) {
			return true
		}
		if p.IsSeeder() != requesterIsSeeder {
			opposite = append(opposite, p)
		} else {
			same = append(same, p)
		}
		return true
	})

	selected := make([]Peer, 0, min(numWant, len(opposite)+len(same)))
	selected = fill(selected, opposite, numWant)
	selected = fill(selected, same, numWant)
	return selected
}

// fill appends candidates to dst until it holds limit peers. When there are
// more candidates than room, it starts at a random offset so repeated
// announces see different parts of the swarm.
func fill(dst []Peer, candidates []*Peer, limit int) []Peer {
	room := limit - len(dst)
	if room <= 0 || len(candidates) == 0 {
		return dst
	}

	start := 0
	if len(candidates) > room {
		//nolint:gosec // G404: math/rand acceptable for peer selection
		start = rand.Intn(len(candidates))
	}
	for i := 0; i < len(candidates) && len(dst) < limit; i++ {
		dst = append(dst, *candidates[(start+i)%len(candidates)])
	}
	return dst
}
