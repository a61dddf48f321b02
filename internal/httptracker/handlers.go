package httptracker

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/fabricionaweb/pico-httptracker/internal/batch"
	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
	"github.com/fabricionaweb/pico-httptracker/internal/metrics"
	"github.com/fabricionaweb/pico-httptracker/internal/swarm"
)

// handleAnnounce registers the client in the swarm and answers with a
// selection of other peers.
//
//	GET /announce?info_hash=&peer_id=&port=&uploaded=&downloaded=&left=&compact=&numwant=&event=
func (tr *Tracker) handleAnnounce(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	timer := tr.metrics.StartRequest(metrics.Announce)
	defer timer.Done()

	clientIP, ok := tr.clientIP(r)
	if !ok {
		tr.fail(w, timer, reject("bad_remote_addr", "cannot determine client address"))
		return
	}
	if !tr.limiter.allow(clientIP) {
		log.Debug().Stringer("ip", clientIP).Msg("rate limited announce")
		tr.fail(w, timer, reject("rate_limited", "rate limit exceeded, try again later"))
		return
	}

	req, rerr := parseAnnounceRequest(r.URL.Query(), clientIP)
	if rerr != nil {
		log.Debug().Stringer("ip", clientIP).Str("reason", rerr.msg).Msg("malformed announce")
		tr.fail(w, timer, rerr)
		return
	}

	if !tr.isAllowed(req.infoHash) {
		log.Info().Stringer("info_hash", req.infoHash).Stringer("ip", clientIP).
			Msg("announce rejected: info_hash not whitelisted")
		tr.fail(w, timer, reject("unauthorized", "torrent not authorized"))
		return
	}

	var userID uint64
	if tr.users != nil {
		if userID, ok = tr.users.ResolvePasskey(req.passkey); !ok {
			tr.fail(w, timer, reject("unknown_passkey", "unknown passkey"))
			return
		}
	}

	if e := log.Debug(); e.Enabled() {
		e.Stringer("info_hash", req.infoHash).
			Stringer("peer_id", req.peerID).
			Stringer("peer", req.addr).
			Stringer("event", req.event).
			Uint64("left", req.left).
			Int("numwant", req.numWant).
			Msg("announce")
	}

	peer := swarm.Peer{
		ID:         req.peerID,
		UserID:     userID,
		Addr:       req.addr,
		Uploaded:   req.uploaded,
		Downloaded: req.downloaded,
		Left:       req.left,
		LastSeen:   time.Now(),
		UserAgent:  r.UserAgent(),
	}

	var peers []swarm.Peer
	wantIPv6 := req.addr.Addr().Is6()
	switch req.event {
	case bittorrent.EventStopped:
		tr.peers.RemovePeer(req.infoHash, req.addr)
	default:
		tr.peers.UpsertPeer(req.infoHash, peer)
		if req.event == bittorrent.EventCompleted {
			tr.peers.RecordCompleted(req.infoHash, req.addr)
		}
		peers = tr.peers.SelectPeers(req.infoHash, req.addr, peer.IsSeeder(), wantIPv6, req.numWant)
	}

	if tr.recorder != nil {
		tr.recorder.Add(batch.Record{
			At:         peer.LastSeen,
			Addr:       req.addr,
			UserID:     userID,
			Uploaded:   req.uploaded,
			Downloaded: req.downloaded,
			Left:       req.left,
			InfoHash:   req.infoHash,
			Event:      req.event,
		})
	}

	stats, _ := tr.peers.Stats(req.infoHash)
	resp := announceResponse{
		interval:    tr.cfg.Interval,
		minInterval: tr.cfg.MinInterval,
		stats:       stats,
		peers:       peers,
		compact:     req.compact,
		noPeerID:    req.noPeerID,
		ipv6:        wantIPv6,
	}
	writeBencode(w, resp.dict())
}

// handleScrape reports swarm counters for each requested info_hash without
// registering a peer. Unknown or unauthorized torrents are left out.
//
//	GET /scrape?info_hash=...&info_hash=...
func (tr *Tracker) handleScrape(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	timer := tr.metrics.StartRequest(metrics.Scrape)
	defer timer.Done()

	if clientIP, ok := tr.clientIP(r); ok && !tr.limiter.allow(clientIP) {
		tr.fail(w, timer, reject("rate_limited", "rate limit exceeded, try again later"))
		return
	}

	hashes, rerr := parseScrapeRequest(r.URL.Query())
	if rerr != nil {
		tr.fail(w, timer, rerr)
		return
	}

	files := make(map[string]any, len(hashes))
	for _, ih := range hashes {
		if !tr.isAllowed(ih) {
			log.Debug().Stringer("info_hash", ih).Msg("scrape filtered: info_hash not whitelisted")
			continue
		}
		stats, ok := tr.peers.Stats(ih)
		if !ok {
			continue
		}
		files[ih.RawString()] = scrapeEntry(stats)
	}
	log.Debug().Int("hashes", len(hashes)).Int("found", len(files)).Msg("scrape")

	writeBencode(w, map[string]any{"files": files})
}

func (tr *Tracker) fail(w http.ResponseWriter, timer *metrics.Timer, err *requestError) {
	timer.Fail(err.reason)
	writeBencode(w, failure(err.msg))
}
