// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	crawlerPartitionsTotal          *prometheus.CounterVec
	crawlerEntriesTotal             *prometheus.CounterVec
	crawlerRecordsTotal             *prometheus.CounterVec
	crawlerFetchAttemptsTotal       *prometheus.CounterVec
	crawlerFetchDurationSeconds     *prometheus.HistogramVec
	crawlerDataQualityWarningsTotal *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds   *prometheus.HistogramVec
	crawlerActiveWorkers            prometheus.Gauge
	crawlerLastRunTimestampSeconds  prometheus.Gauge
	crawlerLastRunDurationSeconds   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPartitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_partitions_total",
				Help: "Partition passes finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		crawlerEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_entries_total",
				Help: "Search result entries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records reconciled against the store, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Upstream fetch attempts, labeled by page kind and result.",
			},
			[]string{"kind", "result"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"kind"},
		)

		crawlerDataQualityWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_data_quality_warnings_total",
				Help: "Recoverable extraction problems, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently crawling a country.",
			},
		)

		crawlerLastRunTimestampSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_last_run_timestamp_seconds",
				Help: "Unix time at which the last crawl pass finished.",
			},
		)

		crawlerLastRunDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_last_run_duration_seconds",
				Help: "Wall-clock duration of the last crawl pass.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePartition counts a finished partition.
func ObservePartition(state string) {
	Init()
	crawlerPartitionsTotal.WithLabelValues(state).Inc()
}

// ObserveEntry counts one processed result entry.
func ObserveEntry(outcome string) {
	Init()
	crawlerEntriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord counts one reconcile outcome.
func ObserveRecord(outcome string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt records one fetch attempt.
func ObserveFetchAttempt(kind, result string, duration time.Duration) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(kind, result).Inc()
	crawlerFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveDataQualityWarning counts a recoverable extraction problem.
func ObserveDataQualityWarning(kind string) {
	Init()
	crawlerDataQualityWarningsTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRun records when the pass ended and how long it took.
func ObserveRun(started, finished time.Time) {
	Init()
	crawlerLastRunTimestampSeconds.Set(float64(finished.Unix()))
	crawlerLastRunDurationSeconds.Set(finished.Sub(started).Seconds())
}

// Push sends every registered collector to a Prometheus Pushgateway.
// Batch runs exit before a scrape could happen, so this is how their
// counters leave the process.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if err := push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
