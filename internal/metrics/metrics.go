// Package metrics collects tracker request, swarm and batch-write metrics and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
)

// ContentType is the media type of the text exposition format.
const ContentType = "text/plain; version=0.0.4"

const namespace = "tracker"

// RequestKind labels the request family a metric belongs to.
type RequestKind string

const (
	Announce RequestKind = "announce"
	Scrape   RequestKind = "scrape"
)

// SwarmSource supplies the live swarm totals exported as gauges.
// swarm.Manager implements it.
type SwarmSource interface {
	SwarmCount() int
	TotalPeerCount() int
	Totals() (seeders, leechers int)
}

// Collector owns a private registry. All updates are atomic; a Collector is
// safe for concurrent use and needs no teardown.
type Collector struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	failures     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	batchWrites  *prometheus.CounterVec
	batchRows    prometheus.Counter
	batchLatency prometheus.Histogram
	openConns    prometheus.Gauge
}

// New builds a Collector. src may be nil, in which case the swarm gauges are
// not exported.
func New(src SwarmSource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total tracker requests received, by type.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "Tracker requests that failed, by type and reason.",
		}, []string{"type", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling tracker requests, by type.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us .. ~400ms
		}, []string{"type"}),
		batchWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_batch_writes_total",
			Help:      "Batched database write operations, by result.",
		}, []string{"result"}),
		batchRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_batch_rows_total",
			Help:      "Rows handed to batched database writes.",
		}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_batch_duration_seconds",
			Help:      "Duration of batched database writes.",
			Buckets:   prometheus.DefBuckets,
		}),
		openConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Currently open client connections.",
		}),
	}

	c.registry.MustRegister(c.requests, c.failures, c.latency,
		c.batchWrites, c.batchRows, c.batchLatency, c.openConns)
	if src != nil {
		c.registry.MustRegister(newSwarmCollector(src))
	}

	// Zero samples so the series exist before the first request.
	for _, k := range []RequestKind{Announce, Scrape} {
		c.requests.WithLabelValues(string(k))
	}
	return c
}

// Timer measures one request. Create it with StartRequest and defer Done.
type Timer struct {
	c     *Collector
	start time.Time
	kind  RequestKind
	done  bool
}

// StartRequest counts a request of kind and starts its latency timer.
func (c *Collector) StartRequest(kind RequestKind) *Timer {
	c.requests.WithLabelValues(string(kind)).Inc()
	return &Timer{c: c, kind: kind, start: time.Now()}
}

// Fail records a failed request with reason.
func (t *Timer) Fail(reason string) {
	t.c.failures.WithLabelValues(string(t.kind), reason).Inc()
}

// Done records the elapsed latency. It must be deferred directly so that it
// also runs, and records a "panic" failure, when the handler panics; the panic
// is then propagated.
func (t *Timer) Done() {
	if t.done {
		return
	}
	t.done = true
	t.c.latency.WithLabelValues(string(t.kind)).Observe(time.Since(t.start).Seconds())

	if r := recover(); r != nil {
		t.Fail("panic")
		panic(r)
	}
}

// ObserveBatchWrite records one batched write of rows records.
func (c *Collector) ObserveBatchWrite(rows int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.batchWrites.WithLabelValues(result).Inc()
	c.batchRows.Add(float64(rows))
	c.batchLatency.Observe(d.Seconds())
}

// ConnOpened and ConnClosed track the open connections gauge.
func (c *Collector) ConnOpened() { c.openConns.Inc() }
func (c *Collector) ConnClosed() { c.openConns.Dec() }

// Export renders every metric in text exposition format.
func (c *Collector) Export() (string, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// ServeHTTP serves Export for pull-based scraping.
func (c *Collector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	text, err := c.Export()
	if err != nil {
		log.Error().Err(err).Msg("failed to export metrics")
		http.Error(w, "failed to export metrics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	if _, err := w.Write([]byte(text)); err != nil {
		log.Debug().Err(err).Msg("failed to write metrics response")
	}
}

// swarmCollector reads the swarm totals once per scrape.
type swarmCollector struct {
	src      SwarmSource
	peers    *prometheus.Desc
	seeders  *prometheus.Desc
	leechers *prometheus.Desc
	torrents *prometheus.Desc
}

func newSwarmCollector(src SwarmSource) *swarmCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &swarmCollector{
		src:      src,
		peers:    desc("peers", "Peers currently registered across all swarms."),
		seeders:  desc("seeders", "Seeders currently registered across all swarms."),
		leechers: desc("leechers", "Leechers currently registered across all swarms."),
		torrents: desc("torrents_active", "Swarms currently held in memory."),
	}
}

func (sc *swarmCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.peers
	ch <- sc.seeders
	ch <- sc.leechers
	ch <- sc.torrents
}

func (sc *swarmCollector) Collect(ch chan<- prometheus.Metric) {
	seeders, leechers := sc.src.Totals()
	ch <- prometheus.MustNewConstMetric(sc.peers, prometheus.GaugeValue, float64(sc.src.TotalPeerCount()))
	ch <- prometheus.MustNewConstMetric(sc.seeders, prometheus.GaugeValue, float64(seeders))
	ch <- prometheus.MustNewConstMetric(sc.leechers, prometheus.GaugeValue, float64(leechers))
	ch <- prometheus.MustNewConstMetric(sc.torrents, prometheus.GaugeValue, float64(sc.src.SwarmCount()))
}
