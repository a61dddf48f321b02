// HTTP BitTorrent Tracker Benchmark Tool
// Simulates concurrent HTTP clients announcing and scraping against a tracker
//
// Usage: go run ./benchmark -target http://localhost:1337 -duration 30s -concurrency 100
//
// The tracker rate limits per client IP; run it with -rate-limit 0 for meaningful numbers.

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const requestTimeout = 5 * time.Second

// latencies stores durations of one request kind.
type latencies struct {
	values []time.Duration
	mu     sync.Mutex
}

func (l *latencies) record(d time.Duration) {
	l.mu.Lock()
	l.values = append(l.values, d)
	l.mu.Unlock()
}

func (l *latencies) sorted() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Clone(l.values)
	slices.Sort(out)
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := min(int(float64(len(sorted))*p/100.0), len(sorted)-1)
	return sorted[idx]
}

type counters struct {
	announces   atomic.Uint64
	scrapes     atomic.Uint64
	failed      atomic.Uint64
	failures    atomic.Uint64 // bencoded "failure reason" replies
	peersServed atomic.Uint64
	bytesRead   atomic.Uint64
}

type config struct {
	target      string
	duration    time.Duration
	concurrency int
	rate        float64
	numHashes   int
	numWant     int
}

type benchmark struct {
	client          *http.Client
	announceLatency latencies
	scrapeLatency   latencies
	counters        counters
	cfg             config
}

func newBenchmark(cfg config) *benchmark {
	return &benchmark{
		cfg: cfg,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.concurrency,
				MaxIdleConnsPerHost: cfg.concurrency,
			},
		},
	}
}

func (b *benchmark) run(ctx context.Context) error {
	log.Info().
		Str("target", b.cfg.target).
		Dur("duration", b.cfg.duration).
		Int("concurrency", b.cfg.concurrency).
		Float64("rate", b.cfg.rate).
		Int("hashes", b.cfg.numHashes).
		Msg("starting benchmark")

	ctx, cancel := context.WithTimeout(ctx, b.cfg.duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.reportProgress(gctx, start)
		return nil
	})
	for i := range b.cfg.concurrency {
		g.Go(func() error { return b.worker(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.printResults(time.Since(start))
	return nil
}

func (b *benchmark) worker(ctx context.Context, id int) error {
	limit := rate.Inf
	if b.cfg.rate > 0 {
		limit = rate.Limit(b.cfg.rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	peerID := generatePeerID(id)
	hashes := make([][20]byte, b.cfg.numHashes)
	for i := range hashes {
		hashes[i] = generateInfoHash(i)
	}

	for {
		for i, ih := range hashes {
			if err := limiter.Wait(ctx); err != nil {
				return nil // deadline reached
			}
			// half the workers seed so selection has opposite roles to mix
			left := uint64(100)
			if id%2 == 0 {
				left = 0
			}
			b.announce(ctx, ih, peerID, 6881+id%1000+i, left)
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		b.scrape(ctx, hashes)
	}
}

func (b *benchmark) announce(ctx context.Context, ih, peerID [20]byte, port int, left uint64) {
	q := url.Values{}
	q.Set("info_hash", string(ih[:]))
	q.Set("peer_id", string(peerID[:]))
	q.Set("port", fmt.Sprint(port))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", fmt.Sprint(left))
	q.Set("compact", "1")
	q.Set("numwant", fmt.Sprint(b.cfg.numWant))

	start := time.Now()
	resp, err := b.get(ctx, "/announce?"+q.Encode())
	b.announceLatency.record(time.Since(start))
	if err != nil {
		b.countError(err)
		return
	}
	b.counters.announces.Add(1)
	if peers, ok := resp["peers"].(string); ok {
		b.counters.peersServed.Add(uint64(len(peers) / 6))
	}
}

func (b *benchmark) scrape(ctx context.Context, hashes [][20]byte) {
	q := url.Values{}
	for _, ih := range hashes {
		q.Add("info_hash", string(ih[:]))
	}

	start := time.Now()
	_, err := b.get(ctx, "/scrape?"+q.Encode())
	b.scrapeLatency.record(time.Since(start))
	if err != nil {
		b.countError(err)
		return
	}
	b.counters.scrapes.Add(1)
}

var errFailureReason = errors.New("tracker replied with failure reason")

func (b *benchmark) countError(err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, errFailureReason) {
		b.counters.failures.Add(1)
		return
	}
	b.counters.failed.Add(1)
	log.Debug().Err(err).Msg("request failed")
}

func (b *benchmark) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.target+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Body close errors ignored after read
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	b.counters.bytesRead.Add(uint64(len(body)))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	v, err := bencode.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("response is not a dictionary")
	}
	if reason, ok := d["failure reason"].(string); ok {
		return nil, fmt.Errorf("%w: %s", errFailureReason, reason)
	}
	return d, nil
}

func (b *benchmark) total() uint64 {
	c := &b.counters
	return c.announces.Load() + c.scrapes.Load() + c.failed.Load() + c.failures.Load()
}

func (b *benchmark) reportProgress(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			total := b.total()
			log.Info().
				Dur("elapsed", elapsed.Round(time.Second)).
				Uint64("total", total).
				Float64("rps", float64(total)/elapsed.Seconds()).
				Uint64("failed", b.counters.failed.Load()+b.counters.failures.Load()).
				Msg("progress")
		}
	}
}

func (b *benchmark) printResults(elapsed time.Duration) {
	c := &b.counters
	total := b.total()

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:           %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Concurrency:        %d workers\n", b.cfg.concurrency)
	fmt.Printf("Total Requests:     %d\n", total)
	fmt.Printf("Requests/Second:    %.2f\n", float64(total)/elapsed.Seconds())
	fmt.Printf("Announce:           %d\n", c.announces.Load())
	fmt.Printf("Scrape:             %d\n", c.scrapes.Load())
	fmt.Printf("Failure replies:    %d\n", c.failures.Load())
	fmt.Printf("Transport errors:   %d\n", c.failed.Load())
	if n := c.announces.Load(); n > 0 {
		fmt.Printf("Peers per announce: %.1f\n", float64(c.peersServed.Load())/float64(n))
	}
	fmt.Printf("Bytes read:         %d\n", c.bytesRead.Load())

	printLatency := func(name string, l *latencies) {
		sorted := l.sorted()
		if len(sorted) == 0 {
			return
		}
		fmt.Printf("\n%s Latency (n=%d):\n", name, len(sorted))
		fmt.Printf("  Min:  %s\n", sorted[0])
		fmt.Printf("  P50:  %s\n", percentile(sorted, 50))
		fmt.Printf("  P95:  %s\n", percentile(sorted, 95))
		fmt.Printf("  P99:  %s\n", percentile(sorted, 99))
		fmt.Printf("  Max:  %s\n", sorted[len(sorted)-1])
	}
	printLatency("Announce", &b.announceLatency)
	printLatency("Scrape", &b.scrapeLatency)
	fmt.Println()

	if total > 0 {
		if errRate := float64(c.failed.Load()+c.failures.Load()) / float64(total) * 100; errRate > 5 {
			fmt.Printf("WARNING: error rate is high (%.1f%%). Check tracker logs and -rate-limit.\n", errRate)
		}
	}
}

// generateInfoHash creates a deterministic 20-byte info hash shared by all
// workers, so that they meet in the same swarms.
func generateInfoHash(hashID int) [20]byte {
	var hash [20]byte
	binary.BigEndian.PutUint32(hash[0:4], uint32(hashID)) //nolint:gosec // small test ids
	for i := 4; i < 20; i++ {
		hash[i] = byte(i)
	}
	return hash
}

// generatePeerID creates an Azureus-style peer ID for testing.
func generatePeerID(workerID int) [20]byte {
	var id [20]byte
	copy(id[0:8], "-PB0001-")
	binary.BigEndian.PutUint32(id[8:12], uint32(workerID))                //nolint:gosec // small test ids
	binary.BigEndian.PutUint64(id[12:20], uint64(time.Now().UnixNano())) //nolint:gosec // any bits will do
	return id
}

func main() {
	var cfg config
	flag.StringVar(&cfg.target, "target", "http://localhost:1337", "Tracker base URL")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "Benchmark duration")
	flag.IntVar(&cfg.concurrency, "concurrency", 100, "Number of concurrent workers")
	flag.Float64Var(&cfg.rate, "rate", 0, "Rate limit per worker (req/s, 0=unlimited)")
	flag.IntVar(&cfg.numHashes, "hashes", 5, "Number of info hashes")
	flag.IntVar(&cfg.numWant, "numwant", 50, "Number of peers to request")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	if cfg.concurrency < 1 || cfg.numHashes < 1 {
		log.Fatal().Msg("concurrency and hashes must be at least 1")
	}

	if err := newBenchmark(cfg).run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("benchmark failed")
	}
}
