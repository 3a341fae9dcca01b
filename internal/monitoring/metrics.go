// Package monitoring exposes pipeline metrics and health checks.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/wasmscope/internal/types"
)

const namespace = "wasmscope"

// Metrics holds the prometheus collectors for one pipeline. Collectors are
// registered on the registerer given to NewMetrics, never on the global one.
type Metrics struct {
	analyses    *prometheus.CounterVec
	duration    prometheus.Histogram
	inFlight    prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
	records     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "analyses_total",
			Help:      "Binary analyses by result and error kind.",
		}, []string{"result", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "analysis_duration_seconds",
			Help:      "Wall-clock time spent decoding one binary.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "in_flight",
			Help:      "Analyses currently running.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Change events published by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_events_total",
			Help:      "Events dropped from slow subscriber queues.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Active change subscribers.",
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "records",
			Help:      "Registry records by lifecycle state.",
		}, []string{"state"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.analyses, m.duration, m.inFlight, m.events, m.dropped, m.subscribers, m.records,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AnalysisStarted marks the start of one decode.
func (m *Metrics) AnalysisStarted() { m.inFlight.Inc() }

// AnalysisFinished records one decode. An empty errKind means success.
func (m *Metrics) AnalysisFinished(errKind string, d time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(d.Seconds())
	if errKind == "" {
		m.analyses.WithLabelValues("success", "").Inc()
		return
	}
	m.analyses.WithLabelValues("failure", errKind).Inc()
}

// EventPublished counts one change event.
func (m *Metrics) EventPublished(kind types.ChangeKind) {
	m.events.WithLabelValues(string(kind)).Inc()
}

// EventDropped counts one event lost to subscriber overflow.
func (m *Metrics) EventDropped() { m.dropped.Inc() }

// SubscribersChanged sets the subscriber gauge.
func (m *Metrics) SubscribersChanged(n int) { m.subscribers.Set(float64(n)) }

// RecordStates sets the per-state record gauges.
func (m *Metrics) RecordStates(stats map[types.ComponentState]int) {
	for state, n := range stats {
		m.records.WithLabelValues(string(state)).Set(float64(n))
	}
}
