package netcopy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results recorded by the pool.
const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupStale = "stale"
)

// Metrics instruments a Pool. A nil *Metrics records nothing.
type Metrics struct {
	handles        prometheus.Gauge
	lookups        *prometheus.CounterVec
	creations      *prometheus.CounterVec
	createDuration *prometheus.HistogramVec
	expirations    *prometheus.CounterVec
}

// NewMetrics registers pool metrics with reg. Returns nil if reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	factory := promauto.With(reg)
	return &Metrics{
		handles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netcopy_pool_handles",
			Help: "Number of sessions currently held by the pool",
		}),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcopy_pool_lookups_total",
				Help: "GetOrCreate calls by registry outcome",
			},
			[]string{"result"}, // "hit", "miss", "stale"
		),
		creations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcopy_pool_creations_total",
				Help: "Session creation attempts by scheme and result",
			},
			[]string{"scheme", "result"},
		),
		createDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "netcopy_pool_create_duration_seconds",
				Help: "Time spent connecting and authenticating new sessions",
				Buckets: []float64{
					0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
				},
			},
			[]string{"scheme"},
		),
		expirations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcopy_pool_expirations_total",
				Help: "Sessions expired by scheme",
			},
			[]string{"scheme"},
		),
	}
}

func (m *Metrics) setHandles(n int) {
	if m != nil {
		m.handles.Set(float64(n))
	}
}

func (m *Metrics) lookup(result string) {
	if m != nil {
		m.lookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) created(scheme Scheme, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	m.creations.WithLabelValues(string(scheme), result).Inc()
	m.createDuration.WithLabelValues(string(scheme)).Observe(elapsed.Seconds())
}

func (m *Metrics) expired(scheme Scheme) {
	if m != nil {
		m.expirations.WithLabelValues(string(scheme)).Inc()
	}
}
