// Package bittorrent holds the fixed-width identifiers and compact peer
// encodings shared by the tracker wire protocol.
package bittorrent

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
)

// Per BEP 3 both info_hash and peer_id are exactly 20 bytes
const idLen = 20

const (
	CompactIPv4Len = 4 + 2  // ip:4 + port:2
	CompactIPv6Len = 16 + 2 // ip:16 + port:2
)

// ErrInvalidLength is returned when an identifier is not 20 bytes long.
var ErrInvalidLength = errors.New("identifier must be 20 bytes")

// InfoHash is the SHA-1 digest of a torrent's bencoded info dictionary.
// Used as a map key to avoid 40-byte hex string overhead.
type InfoHash [idLen]byte

// PeerID is the opaque identifier a client sends on announce.
// Never trusted for authorization.
type PeerID [idLen]byte

// InfoHashFromBytes creates an InfoHash from a byte slice that must be 20 bytes long.
func InfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != idLen {
		return h, fmt.Errorf("info_hash: %w (got %d)", ErrInvalidLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// InfoHashFromString is like InfoHashFromBytes for raw (not hex) strings,
// as they come out of a decoded query string.
func InfoHashFromString(s string) (InfoHash, error) {
	return InfoHashFromBytes([]byte(s))
}

// InfoHashFromHex parses a 40 character hex string.
func InfoHashFromHex(s string) (InfoHash, error) {
	var h InfoHash
	if len(s) != hex.EncodedLen(idLen) {
		return h, fmt.Errorf("info_hash: %w (got %d hex chars)", ErrInvalidLength, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("info_hash: %w", err)
	}
	return h, nil
}

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

// RawString returns the 20 raw bytes as a string, the form used as a
// dictionary key in scrape responses.
func (h InfoHash) RawString() string {
	return string(h[:])
}

// PeerIDFromBytes creates a PeerID from a byte slice that must be 20 bytes long.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != idLen {
		return id, fmt.Errorf("peer_id: %w (got %d)", ErrInvalidLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// PeerIDFromString is like PeerIDFromBytes for raw strings.
func PeerIDFromString(s string) (PeerID, error) {
	return PeerIDFromBytes([]byte(s))
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// RawString returns the 20 raw bytes as a string.
func (id PeerID) RawString() string {
	return string(id[:])
}

// CompactLen returns the size of one compact block for the address family.
func CompactLen(ipv6 bool) int {
	if ipv6 {
		return CompactIPv6Len
	}
	return CompactIPv4Len
}

// AppendCompact appends the compact form of addr to dst.
// IPv4 (and IPv4-mapped IPv6) addresses are written as 4+2 bytes, anything
// else as 16+2 bytes. Port is big endian.
func AppendCompact(dst []byte, addr netip.AddrPort) []byte {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		a := ip.As4()
		dst = append(dst, a[:]...)
	} else {
		a := ip.As16()
		dst = append(dst, a[:]...)
	}
	return binary.BigEndian.AppendUint16(dst, addr.Port())
}

// ParseCompact decodes a string of concatenated compact blocks.
func ParseCompact(b []byte, ipv6 bool) ([]netip.AddrPort, error) {
	size := CompactLen(ipv6)
	if len(b)%size != 0 {
		return nil, fmt.Errorf("compact peers: length %d is not a multiple of %d", len(b), size)
	}

	addrs := make([]netip.AddrPort, 0, len(b)/size)
	for off := 0; off < len(b); off += size {
		block := b[off : off+size]
		var ip netip.Addr
		if ipv6 {
			ip = netip.AddrFrom16([16]byte(block[:16]))
		} else {
			ip = netip.AddrFrom4([4]byte(block[:4]))
		}
		port := binary.BigEndian.Uint16(block[size-2:])
		addrs = append(addrs, netip.AddrPortFrom(ip, port))
	}
	return addrs, nil
}
