package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/coursemart-api/internal/models"
)

// Purchase and payment event outcomes.
const (
	PurchaseOutcomeGranted   = "granted"
	PurchaseOutcomeDuplicate = "duplicate"
	PurchaseOutcomeReplayed  = "replayed"
	PurchaseOutcomeRecorded  = "recorded"
	PurchaseOutcomeRejected  = "rejected"
	PurchaseOutcomeFailed    = "failed"

	EventOutcomeAccepted  = "accepted"
	EventOutcomeDuplicate = "duplicate"
	EventOutcomeInvalid   = "invalid"
	EventOutcomeProcessed = "processed"
	EventOutcomeFailed    = "failed"
	EventOutcomeDead      = "dead"
)

// MetricsService owns the Prometheus registry and keeps lightweight totals for the admin summary.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	accessChecks    *prometheus.CounterVec
	purchases       *prometheus.CounterVec
	paymentEvents   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64

	mu         sync.Mutex
	tallies    map[string]map[string]uint64
	queueDepth func() int
}

// NewMetricsService registers the HTTP, cache and purchase-flow collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	accessChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_checks_total",
		Help: "Course access checks by result",
	}, []string{"result"})

	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_total",
		Help: "Payment-success handler outcomes",
	}, []string{"outcome"})

	paymentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Inbound payment events by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, accessChecks, purchases, paymentEvents, goroutines)

	m := &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		accessChecks:    accessChecks,
		purchases:       purchases,
		paymentEvents:   paymentEvents,
		tallies:         make(map[string]map[string]uint64),
	}

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "payment_queue_depth",
		Help: "Payment events waiting for the projector",
	}, func() float64 {
		return float64(m.currentQueueDepth())
	}))

	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// TrackQueue registers the projector queue so its backlog shows up in metrics.
func (m *MetricsService) TrackQueue(depth func() int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queueDepth = depth
	m.mu.Unlock()
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAccessCheck counts an access decision by reason, or "error" when the store failed.
func (m *MetricsService) RecordAccessCheck(result string) {
	if m == nil {
		return
	}
	m.accessChecks.WithLabelValues(result).Inc()
	m.tally("access", result)
}

// RecordPurchase counts a payment-success handler outcome.
func (m *MetricsService) RecordPurchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
	m.tally("purchase", outcome)
}

// RecordPaymentEvent counts an inbound or projected payment event.
func (m *MetricsService) RecordPaymentEvent(outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(outcome).Inc()
	m.tally("event", outcome)
}

func (m *MetricsService) tally(family, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.tallies[family]
	if !ok {
		bucket = make(map[string]uint64)
		m.tallies[family] = bucket
	}
	bucket[label]++
}

func (m *MetricsService) copyTally(family string) map[string]uint64 {
	out := make(map[string]uint64, len(m.tallies[family]))
	for k, v := range m.tallies[family] {
		out[k] = v
	}
	return out
}

func (m *MetricsService) currentQueueDepth() int {
	m.mu.Lock()
	depth := m.queueDepth
	m.mu.Unlock()
	if depth == nil {
		return 0
	}
	return depth()
}

// Snapshot returns aggregated counters for the admin summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	m.mu.Lock()
	access := m.copyTally("access")
	purchases := m.copyTally("purchase")
	events := m.copyTally("event")
	m.mu.Unlock()

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		AccessChecks:             access,
		Purchases:                purchases,
		PaymentEvents:            events,
		QueueDepth:               m.currentQueueDepth(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
