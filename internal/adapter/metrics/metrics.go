package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet_dispatch"

// DispatchMetrics holds all Prometheus metrics for the dispatch service.
// Every method is safe to call on a nil receiver so components can run
// without metrics in tests.
type DispatchMetrics struct {
	Requests          *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	PlayersSynced     prometheus.Counter
	UpsertFailures    prometheus.Counter
	CommandsEnqueued  *prometheus.CounterVec
	CommandsClaimed   prometheus.Counter
	ClaimBatch        prometheus.Histogram
	CommandsAcked     *prometheus.CounterVec
	CommandsExpired   prometheus.Counter
	WALActive         prometheus.Gauge
	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
}

// NewDispatchMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	f := promauto.With(reg)
	return &DispatchMetrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "requests_total",
			Help:      "Agent protocol requests by operation and outcome.",
		}, []string{"operation", "status"}), // status: ok, unauthorized, forbidden, invalid, error
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		PlayersSynced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "synced_total",
			Help:      "Player facts merged into the player store.",
		}),
		UpsertFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "upsert_failures_total",
			Help:      "Player facts that could not be stored.",
		}),
		CommandsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "enqueued_total",
			Help:      "Commands enqueued by type.",
		}, []string{"type"}),
		CommandsClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "claimed_total",
			Help:      "Commands handed to agents.",
		}),
		ClaimBatch: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "claim_batch_size",
			Help:      "Number of commands returned per poll.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		CommandsAcked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "acked_total",
			Help:      "Command acknowledgements by outcome.",
		}, []string{"outcome"}), // outcome: SUCCESS, FAILED, noop, unknown
		CommandsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "expired_total",
			Help:      "Commands retired by the expiry sweep.",
		}),
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "wal_active",
			Help:      "1 while player sightings are being buffered to the WAL.",
		}),
		APIKeyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "API key lookups served from the local cache.",
		}),
		APIKeyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "API key lookups that went to the tenant store.",
		}),
	}
}

func (m *DispatchMetrics) ObserveRequest(operation, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, status).Inc()
}

func (m *DispatchMetrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *DispatchMetrics) PlayersStored(synced, failed int) {
	if m == nil {
		return
	}
	m.PlayersSynced.Add(float64(synced))
	m.UpsertFailures.Add(float64(failed))
}

func (m *DispatchMetrics) CommandEnqueued(commandType string) {
	if m == nil {
		return
	}
	m.CommandsEnqueued.WithLabelValues(commandType).Inc()
}

func (m *DispatchMetrics) CommandsClaimedBatch(n int) {
	if m == nil {
		return
	}
	m.CommandsClaimed.Add(float64(n))
	m.ClaimBatch.Observe(float64(n))
}

func (m *DispatchMetrics) CommandAcked(outcome string) {
	if m == nil {
		return
	}
	m.CommandsAcked.WithLabelValues(outcome).Inc()
}

func (m *DispatchMetrics) CommandsExpiredBatch(n int64) {
	if m == nil {
		return
	}
	m.CommandsExpired.Add(float64(n))
}

func (m *DispatchMetrics) SetWALActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WALActive.Set(1)
	} else {
		m.WALActive.Set(0)
	}
}

func (m *DispatchMetrics) CacheHit() {
	if m == nil {
		return
	}
	m.APIKeyCacheHits.Inc()
}

func (m *DispatchMetrics) CacheMiss() {
	if m == nil {
		return
	}
	m.APIKeyCacheMisses.Inc()
}
