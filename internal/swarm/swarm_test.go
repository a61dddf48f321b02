package swarm

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func leecher(a string) Peer { return Peer{Addr: addr(a), Left: 1000} }
func seeder(a string) Peer  { return Peer{Addr: addr(a), Left: 0} }

func TestUpsert_NewPeers(t *testing.T) {
	s := New()

	assert.True(t, s.Upsert(seeder("192.168.1.1:6881")))
	assert.True(t, s.Upsert(leecher("192.168.1.2:6881")))

	assert.Equal(t, Stats{Seeders: 1, Leechers: 1}, s.Stats())
	assert.Equal(t, 2, s.PeerCount())
}

func TestUpsert_SameKeyTwice(t *testing.T) {
	s := New()

	assert.True(t, s.Upsert(leecher("192.168.1.1:6881")))
	assert.False(t, s.Upsert(leecher("192.168.1.1:6881")))

	assert.Equal(t, 1, s.PeerCount())
	assert.Equal(t, Stats{Leechers: 1}, s.Stats())
}

func TestUpsert_UpdatesInPlace(t *testing.T) {
	s := New()
	s.Upsert(Peer{Addr: addr("10.0.0.1:1"), Left: 500, Uploaded: 1, UserAgent: "a/1"})
	s.Upsert(Peer{Addr: addr("10.0.0.1:1"), Left: 250, Uploaded: 9, Downloaded: 3, UserAgent: "a/2", UserID: 7})

	p, ok := s.Get(addr("10.0.0.1:1"))
	require.True(t, ok)
	assert.Equal(t, uint64(250), p.Left)
	assert.Equal(t, uint64(9), p.Uploaded)
	assert.Equal(t, uint64(3), p.Downloaded)
	assert.Equal(t, "a/2", p.UserAgent)
	assert.Equal(t, uint64(7), p.UserID)
	assert.False(t, p.LastSeen.IsZero())
}

func TestUpsert_LeecherToSeeder(t *testing.T) {
	s := New()
	s.Upsert(leecher("192.168.1.1:6881"))
	s.Upsert(seeder("192.168.1.1:6881"))

	assert.Equal(t, Stats{Seeders: 1, Leechers: 0}, s.Stats())
	assert.Equal(t, 1, s.PeerCount())
}

func TestUpsert_SeederToLeecher(t *testing.T) {
	s := New()
	s.Upsert(seeder("192.168.1.1:6881"))
	s.Upsert(leecher("192.168.1.1:6881"))

	assert.Equal(t, Stats{Seeders: 0, Leechers: 1}, s.Stats())
}

func TestUpsert_IPv4MappedIsSameKey(t *testing.T) {
	s := New()
	s.Upsert(leecher("1.2.3.4:80"))
	assert.False(t, s.Upsert(leecher("[::ffff:1.2.3.4]:80")))
	assert.Equal(t, 1, s.PeerCount())
}

func TestRemove(t *testing.T) {
	s := New()
	s.Upsert(seeder("192.168.1.1:6881"))
	s.Upsert(leecher("192.168.1.2:6881"))

	p, ok := s.Remove(addr("192.168.1.1:6881"))
	require.True(t, ok)
	assert.True(t, p.IsSeeder())
	assert.Equal(t, Stats{Leechers: 1}, s.Stats())

	t.Run("absent peer is a no-op", func(t *testing.T) {
		_, ok := s.Remove(addr("192.168.1.1:6881"))
		assert.False(t, ok)
		_, ok = s.Remove(addr("8.8.8.8:53"))
		assert.False(t, ok)
		assert.Equal(t, Stats{Leechers: 1}, s.Stats())
	})
}

func TestRecordCompleted(t *testing.T) {
	s := New()
	assert.False(t, s.RecordCompleted(addr("1.1.1.1:1")), "unknown peer")

	s.Upsert(seeder("1.1.1.1:1"))
	assert.True(t, s.RecordCompleted(addr("1.1.1.1:1")))
	assert.False(t, s.RecordCompleted(addr("1.1.1.1:1")), "counted once per peer")

	// re-announcing keeps the completed mark
	s.Upsert(seeder("1.1.1.1:1"))
	assert.False(t, s.RecordCompleted(addr("1.1.1.1:1")))
	assert.Equal(t, 1, s.Stats().Completed)

	// once removed the peer may complete again on a fresh entry
	s.Remove(addr("1.1.1.1:1"))
	s.Upsert(seeder("1.1.1.1:1"))
	assert.True(t, s.RecordCompleted(addr("1.1.1.1:1")))
	assert.Equal(t, 2, s.Stats().Completed)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	fresh := Peer{LastSeen: now.Add(-PeerTimeout + time.Minute)}
	stale := Peer{LastSeen: now.Add(-PeerTimeout - time.Second)}

	assert.False(t, fresh.expiredAt(now))
	assert.True(t, stale.expiredAt(now))
	assert.True(t, stale.IsExpired())
	assert.False(t, (&Peer{LastSeen: time.Now()}).IsExpired())
}

func TestCleanupExpired(t *testing.T) {
	s := New()
	old := time.Now().Add(-2 * PeerTimeout)

	s.Upsert(Peer{Addr: addr("10.0.0.1:1"), Left: 0, LastSeen: old})
	s.Upsert(Peer{Addr: addr("10.0.0.2:1"), Left: 5, LastSeen: old})
	s.Upsert(Peer{Addr: addr("10.0.0.3:1"), Left: 5, LastSeen: old})
	s.Upsert(seeder("10.0.0.4:1"))
	s.Upsert(leecher("10.0.0.5:1"))

	assert.Equal(t, 3, s.CleanupExpired())
	assert.Equal(t, Stats{Seeders: 1, Leechers: 1}, s.Stats())
	assert.Equal(t, 2, s.PeerCount())

	_, ok := s.Get(addr("10.0.0.4:1"))
	assert.True(t, ok)
	_, ok = s.Get(addr("10.0.0.1:1"))
	assert.False(t, ok)

	assert.Equal(t, 0, s.CleanupExpired(), "second sweep finds nothing")
}

func TestConcurrentUpsertRemove(t *testing.T) {
	s := New()
	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				a := addr(fmt.Sprintf("10.%d.%d.%d:6881", w, i/250, i%250))
				s.Upsert(leecher(a.String()))
				s.Upsert(seeder(a.String()))
				if i%2 == 0 {
					s.Remove(a)
				}
			}
		}()
	}

	// sweeps race with the writers; nothing is old enough to go
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			s.CleanupExpired()
		}
	}()
	wg.Wait()

	want := workers * perWorker / 2
	assert.Equal(t, want, s.PeerCount())
	assert.Equal(t, Stats{Seeders: want, Leechers: 0}, s.Stats())
}

func TestConcurrentFlipsSameKey(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				left := uint64((w + i) % 2)
				s.Upsert(Peer{Addr: addr("1.2.3.4:5"), Left: left})
			}
		}()
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, 1, st.Seeders+st.Leechers, "one peer counted exactly once")
	assert.Equal(t, 1, s.PeerCount())
}
