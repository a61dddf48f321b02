package httptracker

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/rs/zerolog/log"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
	"github.com/fabricionaweb/pico-httptracker/internal/swarm"
)

// announceResponse is the BEP 3 reply. Compact peer lists use 6-byte blocks
// for IPv4 requesters and 18-byte blocks for IPv6 requesters, both under the
// "peers" key.
type announceResponse struct {
	peers       []swarm.Peer
	interval    time.Duration
	minInterval time.Duration
	stats       swarm.Stats
	compact     bool
	noPeerID    bool
	ipv6        bool
}

func (a announceResponse) dict() map[string]any {
	d := map[string]any{
		"interval":     int64(a.interval / time.Second),
		"min interval": int64(a.minInterval / time.Second),
		"complete":     int64(a.stats.Seeders),
		"incomplete":   int64(a.stats.Leechers),
		"downloaded":   int64(a.stats.Completed),
	}
	if a.compact {
		d["peers"] = string(compactPeers(a.peers, a.ipv6))
	} else {
		d["peers"] = dictPeers(a.peers, a.noPeerID)
	}
	return d
}

func compactPeers(peers []swarm.Peer, ipv6 bool) []byte {
	buf := make([]byte, 0, len(peers)*bittorrent.CompactLen(ipv6))
	for i := range peers {
		buf = bittorrent.AppendCompact(buf, peers[i].Addr)
	}
	return buf
}

func dictPeers(peers []swarm.Peer, noPeerID bool) []any {
	list := make([]any, 0, len(peers))
	for i := range peers {
		p := &peers[i]
		entry := map[string]any{
			"ip":   p.Addr.Addr().Unmap().String(),
			"port": int64(p.Addr.Port()),
		}
		if !noPeerID {
			entry["peer id"] = p.ID.RawString()
		}
		list = append(list, entry)
	}
	return list
}

func scrapeEntry(st swarm.Stats) map[string]any {
	return map[string]any{
		"complete":   int64(st.Seeders),
		"incomplete": int64(st.Leechers),
		"downloaded": int64(st.Completed),
	}
}

func failure(msg string) map[string]any {
	return map[string]any{"failure reason": msg}
}

// writeBencode encodes v and writes it with status 200. Clients expect
// failures in the body, not in the status code.
func writeBencode(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, v); err != nil {
		log.Error().Err(err).Msg("encode response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Client may have gone away
	w.Write(buf.Bytes())
}
