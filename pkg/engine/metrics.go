package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aegisops/aegis/pkg/investigation"
)

// Metrics is the turn-level counter set the Milestone Engine records
// against, built on client_golang the same way worker-pool health is
// reported elsewhere. A *Metrics is safe for concurrent use across the
// many goroutines processing turns for different cases.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	degradedEntries *prometheus.CounterVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics instance, registering
// it with the default Prometheus registry on first call. Safe to call
// from multiple MilestoneEngine instances.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			turnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "engine",
				Name:      "turns_total",
				Help:      "Turns processed by the Milestone Engine, by outcome.",
			}, []string{"outcome"}),
			turnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "aegis",
				Subsystem: "engine",
				Name:      "turn_duration_seconds",
				Help:      "Wall-clock time to process one turn.",
				Buckets:   prometheus.DefBuckets,
			}),
			degradedEntries: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aegis",
				Subsystem: "engine",
				Name:      "degraded_mode_entries_total",
				Help:      "Times the engine declared degraded mode, by type.",
			}, []string{"type"}),
		}
	})
	return defaultMetrics
}

func (m *Metrics) observeTurn(outcome investigation.TurnOutcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(string(outcome)).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func (m *Metrics) observeDegradedMode(kind investigation.DegradedModeType) {
	if m == nil {
		return
	}
	m.degradedEntries.WithLabelValues(string(kind)).Inc()
}
