package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fabricionaweb/pico-httptracker/internal/batch"
	"github.com/fabricionaweb/pico-httptracker/internal/httptracker"
	"github.com/fabricionaweb/pico-httptracker/internal/metrics"
	"github.com/fabricionaweb/pico-httptracker/internal/swarm"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = httptracker.DefaultCleanupInterval
)

type Server struct {
	tr        *httptracker.Tracker
	peers     *swarm.Manager
	batcher   *batch.Batcher
	whitelist *httptracker.Whitelist
	http      *http.Server
	cfg       config
}

// NewServer creates and initializes a new server instance
func NewServer(cfg config) *Server {
	peers := swarm.NewManager()
	m := metrics.New(peers)
	s := &Server{
		cfg:     cfg,
		peers:   peers,
		batcher: batch.New(batch.LogSink{}, m, batch.Config{}),
	}

	opts := []httptracker.Option{httptracker.WithRecorder(s.batcher)}
	if cfg.whitelistPath != "" {
		s.whitelist = httptracker.NewWhitelist(cfg.whitelistPath)
		opts = append(opts, httptracker.WithAuthorizer(s.whitelist))
	}

	s.tr = httptracker.New(httptracker.Config{
		Interval:     cfg.interval,
		RealIPHeader: cfg.realIPHeader,
		RateLimit:    cfg.rateLimit,
		RateBurst:    int(cfg.rateLimit) * 2,
	}, peers, m, opts...)

	s.http = &http.Server{
		Addr:              cfg.addr,
		Handler:           s.tr.Handler(),
		ConnState:         s.tr.ConnState,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run starts the server and blocks until context cancellation
func (s *Server) Run(ctx context.Context) error {
	log.Info().Str("version", version).Msg("starting pico-httptracker")
	log.Debug().Msg("debug mode is enabled")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", s.cfg.addr).Msg("HTTP tracker listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.cfg.addr, err)
		}
		return nil
	})

	g.Go(func() error { return s.tr.RunCleanup(gctx, cleanupInterval) })
	g.Go(func() error { return s.batcher.Run(gctx) })
	if s.whitelist != nil {
		g.Go(func() error { return s.whitelist.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("forcing shutdown after timeout, some handlers incomplete")
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().
		Int("swarms", s.peers.SwarmCount()).
		Int("peers", s.peers.TotalPeerCount()).
		Uint64("dropped_records", s.batcher.Dropped()).
		Msg("shutdown complete")
	return nil
}

// setupSignalHandling creates a context that cancels on SIGINT/SIGTERM
func setupSignalHandling() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
