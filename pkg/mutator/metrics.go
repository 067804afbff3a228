// Copyright © 2018 One Concern

package mutator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "remoteconf"
	metricsSubsystem = "mutator"

	outcomeOK            = "ok"
	outcomeFailed        = "failed"
	outcomeIndeterminate = "indeterminate"
)

// Metrics collects counters and timings of the operations run by a session
type Metrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	backups       prometheus.Counter
	indeterminate prometheus.Gauge
}

// NewMetrics creates the session metrics and registers them.
//
// A nil registerer leaves the metrics unregistered, which is useful for tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Number of session operations, by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of session operations, remote round trips included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"operation"}),
		backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "backups_total",
			Help:      "Number of backups recorded",
		}),
		indeterminate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "indeterminate_paths",
			Help:      "Number of remote paths left in an indeterminate state",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.backups, m.indeterminate} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe records one operation. It is a no-op on a nil receiver.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case err == nil:
	case isIndeterminate(err):
		outcome = outcomeIndeterminate
	default:
		outcome = outcomeFailed
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) backupRecorded() {
	if m == nil {
		return
	}
	m.backups.Inc()
}

func (m *Metrics) setIndeterminate(n int) {
	if m == nil {
		return
	}
	m.indeterminate.Set(float64(n))
}
