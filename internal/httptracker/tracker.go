// Package httptracker serves the HTTP tracker protocol (BEP 3, BEP 23 and
// BEP 48) on top of the in-memory swarm registry.
package httptracker

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/fabricionaweb/pico-httptracker/internal/batch"
	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
	"github.com/fabricionaweb/pico-httptracker/internal/metrics"
	"github.com/fabricionaweb/pico-httptracker/internal/swarm"
)

const (
	DefaultInterval    = 10 * time.Minute // between reannounces
	DefaultMinInterval = 5 * time.Minute
	DefaultNumWant     = 50 // when the client doesn't specify
)

// Authorizer decides whether a torrent may be tracked. The whitelist
// implements it; a moderation layer can supply its own.
type Authorizer interface {
	Allowed(ih bittorrent.InfoHash) bool
}

// UserResolver maps an announce passkey to a user id.
type UserResolver interface {
	ResolvePasskey(passkey string) (userID uint64, ok bool)
}

// Recorder receives one record per accepted announce. batch.Batcher
// implements it.
type Recorder interface {
	Add(r batch.Record) bool
}

// Config holds the protocol knobs of the tracker.
//
//nolint:govet // Field alignment is acceptable
type Config struct {
	Interval     time.Duration
	MinInterval  time.Duration
	RealIPHeader string     // e.g. X-Real-IP when behind a reverse proxy
	RateLimit    rate.Limit // requests per second per client IP, 0 disables
	RateBurst    int
}

// Tracker wires the HTTP handlers to the swarm registry.
type Tracker struct {
	peers    *swarm.Manager
	metrics  *metrics.Collector
	auth     Authorizer
	users    UserResolver
	recorder Recorder
	limiter  *rateLimiter
	cfg      Config
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithAuthorizer restricts announces and scrapes to authorized torrents.
func WithAuthorizer(a Authorizer) Option { return func(tr *Tracker) { tr.auth = a } }

// WithUserResolver requires a known passkey on every announce.
func WithUserResolver(u UserResolver) Option { return func(tr *Tracker) { tr.users = u } }

// WithRecorder hands every accepted announce to r.
func WithRecorder(r Recorder) Option { return func(tr *Tracker) { tr.recorder = r } }

// New returns a Tracker serving peers and reporting to m.
func New(cfg Config, peers *swarm.Manager, m *metrics.Collector, opts ...Option) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinInterval <= 0 || cfg.MinInterval > cfg.Interval {
		cfg.MinInterval = min(DefaultMinInterval, cfg.Interval)
	}

	tr := &Tracker{peers: peers, metrics: m, cfg: cfg}
	if cfg.RateLimit > 0 {
		tr.limiter = newRateLimiter(cfg.RateLimit, max(cfg.RateBurst, 1))
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Handler returns the router serving /announce, /scrape and /metrics.
func (tr *Tracker) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/announce", tr.handleAnnounce)
	router.GET("/scrape", tr.handleScrape)
	router.Handler(http.MethodGet, "/metrics", tr.metrics)
	return router
}

// ConnState keeps the open connections gauge; install it as
// http.Server.ConnState.
func (tr *Tracker) ConnState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		tr.metrics.ConnOpened()
	case http.StateClosed, http.StateHijacked:
		tr.metrics.ConnClosed()
	}
}

func (tr *Tracker) isAllowed(ih bittorrent.InfoHash) bool {
	return tr.auth == nil || tr.auth.Allowed(ih)
}

// clientIP returns the address peers should connect to. The real-IP header is
// only consulted when configured, since clients can set it freely.
func (tr *Tracker) clientIP(r *http.Request) (netip.Addr, bool) {
	if tr.cfg.RealIPHeader != "" {
		if v := r.Header.Get(tr.cfg.RealIPHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip.Unmap(), true
			}
		}
	}

	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
