package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fxsnap"

type metrics struct {
	syncs      *prometheus.CounterVec
	empty      prometheus.Counter
	lastSync   prometheus.Gauge
	committed  prometheus.Gauge
	syncTiming prometheus.Histogram
}

// newMetrics creates the sync metrics.
// A nil registerer leaves the collectors unregistered
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_total",
			Help:      "Number of sync invocations, by terminal state",
		}, []string{"state"}),
		empty: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_empty_total",
			Help:      "Number of successful syncs where the provider returned no rates",
		}),
		lastSync: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last committed sync",
		}),
		committed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sync_committed_rates",
			Help:      "Number of provider rates written by the last committed sync",
		}),
		syncTiming: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync invocations",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// observe records the terminal result
func (m *metrics) observe(res Result) {
	m.syncs.WithLabelValues(string(res.State)).Inc()
	m.syncTiming.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	if res.State != StateFinished {
		return
	}

	if res.Empty {
		m.empty.Inc()
	}

	m.committed.Set(float64(res.Committed))
	m.lastSync.Set(float64(res.FinishedAt.UnixNano()) / float64(time.Second))
}
