// Package batch buffers announce records and hands them to the application's
// storage layer in batches, so announces never wait on a database.
package batch

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

const (
	DefaultSize      = 500
	DefaultInterval  = 10 * time.Second
	DefaultQueueSize = 10000

	flushTimeout = 30 * time.Second
)

// Record is what one announce reports about a peer.
type Record struct {
	At         time.Time
	Addr       netip.AddrPort
	UserID     uint64
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	InfoHash   bittorrent.InfoHash
	Event      bittorrent.Event
}

// Sink persists a batch. It is implemented by the surrounding application
// and must not keep records after WriteBatch returns.
type Sink interface {
	WriteBatch(ctx context.Context, records []Record) error
}

// Observer receives one call per flushed batch. metrics.Collector implements it.
type Observer interface {
	ObserveBatchWrite(rows int, d time.Duration, err error)
}

// Config tunes a Batcher. Zero fields take the defaults.
type Config struct {
	Size      int           // flush when this many records are buffered
	Interval  time.Duration // flush at least this often
	QueueSize int           // records waiting for the flush loop
}

// Batcher collects records from many goroutines and flushes them from one.
type Batcher struct {
	sink     Sink
	obs      Observer
	queue    chan Record
	size     int
	interval time.Duration
	dropped  atomic.Uint64
}

// New returns a Batcher writing to sink. obs may be nil.
func New(sink Sink, obs Observer, cfg Config) *Batcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Batcher{
		sink:     sink,
		obs:      obs,
		queue:    make(chan Record, cfg.QueueSize),
		size:     cfg.Size,
		interval: cfg.Interval,
	}
}

// Add queues r without blocking. It returns false, and counts a drop, when
// the queue is full.
func (b *Batcher) Add(r Record) bool {
	select {
	case b.queue <- r:
		return true
	default:
		if n := b.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Warn().Uint64("dropped", n).Msg("announce batch queue full, dropping records")
		}
		return false
	}
}

// Dropped returns how many records were rejected by Add.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Run flushes until ctx is canceled, then drains what is queued and flushes
// once more. It always returns nil so it can sit in an errgroup.
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	buf := make([]Record, 0, b.size)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case r := <-b.queue:
					buf = append(buf, r)
					if len(buf) >= b.size {
						buf = b.flush(buf)
					}
				default:
					b.flush(buf)
					return nil
				}
			}

		case r := <-b.queue:
			buf = append(buf, r)
			if len(buf) >= b.size {
				buf = b.flush(buf)
			}

		case <-ticker.C:
			buf = b.flush(buf)
		}
	}
}

// flush writes buf and returns it emptied for reuse. A failed batch is
// logged and dropped: the next announces carry fresh totals.
func (b *Batcher) flush(buf []Record) []Record {
	if len(buf) == 0 {
		return buf
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	start := time.Now()
	err := b.sink.WriteBatch(ctx, buf)
	elapsed := time.Since(start)
	if b.obs != nil {
		b.obs.ObserveBatchWrite(len(buf), elapsed, err)
	}

	if err != nil {
		log.Error().Err(err).Int("records", len(buf)).Msg("batch write failed")
	} else {
		log.Debug().Int("records", len(buf)).Dur("took", elapsed).Msg("batch written")
	}
	return buf[:0]
}

// LogSink is the Sink used when no storage layer is attached: it only logs a
// summary of each batch.
type LogSink struct{}

func (LogSink) WriteBatch(_ context.Context, records []Record) error {
	var up, down uint64
	swarms := make(map[bittorrent.InfoHash]struct{})
	for _, r := range records {
		up += r.Uploaded
		down += r.Downloaded
		swarms[r.InfoHash] = struct{}{}
	}
	log.Info().
		Int("records", len(records)).
		Int("torrents", len(swarms)).
		Uint64("uploaded", up).
		Uint64("downloaded", down).
		Msg("announce batch")
	return nil
}
