package bittorrent

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoHashFromBytes(t *testing.T) {
	t.Run("exactly 20 bytes", func(t *testing.T) {
		h, err := InfoHashFromBytes([]byte("12345678901234567890"))
		require.NoError(t, err)
		assert.Equal(t, "12345678901234567890", h.RawString())
	})

	t.Run("rejects short and long input", func(t *testing.T) {
		_, err := InfoHashFromBytes([]byte("short"))
		assert.ErrorIs(t, err, ErrInvalidLength)

		_, err = InfoHashFromBytes([]byte("12345678901234567890extra"))
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("equality is byte for byte", func(t *testing.T) {
		a, _ := InfoHashFromString("12345678901234567890")
		b, _ := InfoHashFromString("12345678901234567890")
		c, _ := InfoHashFromString("12345678901234567891")
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)

		m := map[InfoHash]int{a: 1}
		assert.Equal(t, 1, m[b])
	})
}

// 20 bytes -> 40 hex chars
func TestInfoHash_Hex(t *testing.T) {
	var zero InfoHash
	assert.Equal(t, strings.Repeat("00", 20), zero.String())

	const hexHash = "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0"
	h, err := InfoHashFromHex(hexHash)
	require.NoError(t, err)
	assert.Equal(t, hexHash, h.String())

	_, err = InfoHashFromHex("abc")
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = InfoHashFromHex(strings.Repeat("zz", 20))
	assert.Error(t, err)
}

func TestPeerIDFromString(t *testing.T) {
	id, err := PeerIDFromString("-qB4650-abcdefghijkl")
	require.NoError(t, err)
	assert.Equal(t, "-qB4650-abcdefghijkl", id.RawString())
	assert.Len(t, id.String(), 40)

	_, err = PeerIDFromString("-qB4650-")
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestAppendCompact(t *testing.T) {
	t.Run("IPv4 is 6 bytes", func(t *testing.T) {
		b := AppendCompact(nil, netip.MustParseAddrPort("192.168.1.1:6881"))
		assert.Equal(t, []byte{192, 168, 1, 1, 0x1a, 0xe1}, b)
	})

	t.Run("IPv4-mapped IPv6 is written as IPv4", func(t *testing.T) {
		b := AppendCompact(nil, netip.MustParseAddrPort("[::ffff:10.0.0.1]:80"))
		assert.Equal(t, []byte{10, 0, 0, 1, 0, 80}, b)
	})

	t.Run("IPv6 is 18 bytes", func(t *testing.T) {
		b := AppendCompact(nil, netip.MustParseAddrPort("[2001:db8::1]:6881"))
		require.Len(t, b, CompactIPv6Len)
		assert.Equal(t, byte(0x20), b[0])
		assert.Equal(t, byte(0x01), b[15])
		assert.Equal(t, []byte{0x1a, 0xe1}, b[16:])
	})

	t.Run("appends to existing buffer", func(t *testing.T) {
		b := AppendCompact(nil, netip.MustParseAddrPort("1.2.3.4:1"))
		b = AppendCompact(b, netip.MustParseAddrPort("5.6.7.8:2"))
		assert.Len(t, b, 2*CompactIPv4Len)
	})
}

func TestParseCompact(t *testing.T) {
	in := []netip.AddrPort{
		netip.MustParseAddrPort("1.2.3.4:6881"),
		netip.MustParseAddrPort("5.6.7.8:51413"),
	}
	var b []byte
	for _, a := range in {
		b = AppendCompact(b, a)
	}

	out, err := ParseCompact(b, false)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ParseCompact(b[:5], false)
	assert.Error(t, err)

	v6 := AppendCompact(nil, netip.MustParseAddrPort("[2001:db8::2]:443"))
	out, err = ParseCompact(v6, true)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::2]:443", out[0].String())
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in   string
		want Event
	}{
		{"", EventNone},
		{"empty", EventNone},
		{"started", EventStarted},
		{"stopped", EventStopped},
		{"completed", EventCompleted},
	}
	for _, tt := range tests {
		got, err := ParseEvent(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseEvent("paused")
	assert.Error(t, err)
	assert.Equal(t, "completed", EventCompleted.String())
}
