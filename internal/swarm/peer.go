package swarm

import (
	"net/netip"
	"time"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

// PeerTimeout is how long a peer survives without announcing.
// Allows several missed announces at the default interval.
const PeerTimeout = time.Hour

// Peer is one participant's state within one swarm, keyed by Addr.
type Peer struct {
	LastSeen   time.Time
	UserAgent  string
	Addr       netip.AddrPort
	UserID     uint64 // 0 when the announce is anonymous
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	ID         bittorrent.PeerID

	// completed is set once the peer has been counted in the swarm's
	// completed-downloads counter.
	completed bool
}

// IsSeeder reports whether the peer has nothing left to download.
func (p *Peer) IsSeeder() bool {
	return p.Left == 0
}

// IsIPv6 reports whether the peer is reachable over IPv6 only.
func (p *Peer) IsIPv6() bool {
	return !p.Addr.Addr().Unmap().Is4()
}

// IsExpired reports whether the peer has not announced within PeerTimeout.
func (p *Peer) IsExpired() bool {
	return p.expiredAt(time.Now())
}

func (p *Peer) expiredAt(now time.Time) bool {
	return now.Sub(p.LastSeen) > PeerTimeout
}
