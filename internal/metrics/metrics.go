// Package metrics implements the driver's observability surface:
// per-operation latency on HdrHistogram, alongside Prometheus
// counters/histograms scrapeable by an operator running the driver inside a
// Prometheus-monitored service.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the seam internal/exec and internal/coordinator hold; a nil
// *Recorder records nothing, the same silent-by-default posture a no-op
// logger gives logging.
type Recorder struct {
	mu      sync.Mutex
	latency *hdrhistogram.Histogram // per-call latency in microseconds
	requestsTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	rateLimitDelay    *prometheus.HistogramVec
	consumedReadUnits  prometheus.Counter
	consumedWriteUnits prometheus.Counter
}

// New builds a Recorder registering its collectors on reg. Each Recorder
// owns its own HdrHistogram rather than sharing a package-level global,
// since a process may construct more than one Client against different
// endpoints.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		// min 1us, max 5 minutes (in us), 3 significant figures; a query
		// call may legitimately take minutes across a continuation chain.
		latency: hdrhistogram.New(1, 300*1000*1000, 3),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kelp_requests_total",
			Help: "Total number of data-plane and DDL requests by operation kind and outcome.",
		}, []string{"kind", "outcome"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kelp_retries_total",
			Help: "Total number of execution-loop retry attempts by operation kind.",
		}, []string{"kind"}),
		rateLimitDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kelp_rate_limit_delay_seconds",
			Help:    "Time spent blocked on the per-table rate limiter while charging the units a completed exchange consumed.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"table", "side"}),
		consumedReadUnits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kelp_consumed_read_units_total",
			Help: "Total read units charged by the server across all requests.",
		}),
		consumedWriteUnits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kelp_consumed_write_units_total",
			Help: "Total write units charged by the server across all requests.",
		}),
	}
}

// RecordRequest folds one completed execution-loop call into the latency
// histogram and the requests-total counter.
func (r *Recorder) RecordRequest(kind string, latency time.Duration, retries int, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.requestsTotal.WithLabelValues(kind, outcome).Inc()
	if retries > 0 {
		r.retriesTotal.WithLabelValues(kind).Add(float64(retries))
	}

	r.mu.Lock()
	_ = r.latency.RecordValue(latency.Microseconds())
	r.mu.Unlock()
}

// RecordRateLimitDelay reports time a request spent blocked on the
// rate limiter for one side (read or write) of one table.
func (r *Recorder) RecordRateLimitDelay(table, side string, delay time.Duration) {
	if r == nil || delay <= 0 {
		return
	}
	r.rateLimitDelay.WithLabelValues(table, side).Observe(delay.Seconds())
}

// RecordConsumedCapacity folds a server-reported charge into the
// process-wide consumed-unit counters.
func (r *Recorder) RecordConsumedCapacity(readUnits, writeUnits int) {
	if r == nil {
		return
	}
	if readUnits > 0 {
		r.consumedReadUnits.Add(float64(readUnits))
	}
	if writeUnits > 0 {
		r.consumedWriteUnits.Add(float64(writeUnits))
	}
}

// LatencySnapshot reports the latency distribution observed so far.
type LatencySnapshot struct {
	P50, P90, P99, Max, Min time.Duration
}

// Snapshot returns the current latency distribution.
func (r *Recorder) Snapshot() LatencySnapshot {
	if r == nil {
		return LatencySnapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.latency
	return LatencySnapshot{
		P50: time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90: time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P99: time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Max: time.Duration(h.Max()) * time.Microsecond,
		Min: time.Duration(h.Min()) * time.Microsecond,
	}
}
