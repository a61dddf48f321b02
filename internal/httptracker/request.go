package httptracker

import (
	"net/netip"
	"net/url"
	"strconv"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

// requestError is a rejected request. reason labels the failure metric,
// msg is sent to the client as the failure reason.
type requestError struct {
	reason string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func reject(reason, msg string) *requestError {
	return &requestError{reason: reason, msg: msg}
}

// announceRequest holds the parsed query of an announce.
type announceRequest struct {
	passkey    string
	addr       netip.AddrPort
	uploaded   uint64
	downloaded uint64
	left       uint64
	numWant    int
	infoHash   bittorrent.InfoHash
	peerID     bittorrent.PeerID
	event      bittorrent.Event
	compact    bool
	noPeerID   bool
}

// parseAnnounceRequest extracts all announce fields from the query.
// The peer address is the client IP combined with the announced port.
func parseAnnounceRequest(q url.Values, clientIP netip.Addr) (announceRequest, *requestError) {
	var req announceRequest

	ih, err := bittorrent.InfoHashFromString(q.Get("info_hash"))
	if err != nil {
		return req, reject("invalid_info_hash", "invalid info_hash")
	}
	req.infoHash = ih

	pid, err := bittorrent.PeerIDFromString(q.Get("peer_id"))
	if err != nil {
		return req, reject("invalid_peer_id", "invalid peer_id")
	}
	req.peerID = pid

	port, err := strconv.ParseUint(q.Get("port"), 10, 16)
	if err != nil {
		return req, reject("invalid_port", "invalid port")
	}
	if port == 0 {
		return req, reject("invalid_port", "port cannot be 0")
	}
	req.addr = netip.AddrPortFrom(clientIP, uint16(port))

	if req.uploaded, err = optUint(q, "uploaded"); err != nil {
		return req, reject("invalid_uploaded", "invalid uploaded")
	}
	if req.downloaded, err = optUint(q, "downloaded"); err != nil {
		return req, reject("invalid_downloaded", "invalid downloaded")
	}
	if req.left, err = strconv.ParseUint(q.Get("left"), 10, 64); err != nil {
		return req, reject("invalid_left", "invalid left")
	}

	if req.event, err = bittorrent.ParseEvent(q.Get("event")); err != nil {
		return req, reject("invalid_event", "invalid event")
	}

	req.numWant = DefaultNumWant
	if v := q.Get("numwant"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, reject("invalid_numwant", "invalid numwant")
		}
		// negative means "default" for many clients
		if n >= 0 {
			req.numWant = n
		}
	}

	req.compact = q.Get("compact") == "1"
	req.noPeerID = q.Get("no_peer_id") == "1"
	req.passkey = q.Get("passkey")
	return req, nil
}

func optUint(q url.Values, key string) (uint64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

// parseScrapeRequest returns every info_hash of the query, in order and
// without duplicates.
func parseScrapeRequest(q url.Values) ([]bittorrent.InfoHash, *requestError) {
	raw := q["info_hash"]
	if len(raw) == 0 {
		return nil, reject("missing_info_hash", "no info hashes provided")
	}

	hashes := make([]bittorrent.InfoHash, 0, len(raw))
	seen := make(map[bittorrent.InfoHash]struct{}, len(raw))
	for _, s := range raw {
		ih, err := bittorrent.InfoHashFromString(s)
		if err != nil {
			return nil, reject("invalid_info_hash", "invalid info_hash")
		}
		if _, dup := seen[ih]; dup {
			continue
		}
		seen[ih] = struct{}{}
		hashes = append(hashes, ih)
	}
	return hashes, nil
}
