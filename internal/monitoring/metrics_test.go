package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/types"
)

// gather returns metric values keyed by family name and joined label values.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "|" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsAnalysis(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.AnalysisStarted()
	m.AnalysisStarted()
	m.AnalysisFinished("", 2*time.Millisecond)
	values := gather(t, reg)
	assert.Equal(t, 1.0, values["wasmscope_analyzer_in_flight"])

	m.AnalysisFinished("invalid_magic", time.Millisecond)
	values = gather(t, reg)
	assert.Equal(t, 0.0, values["wasmscope_analyzer_in_flight"])
	assert.Equal(t, 1.0, values["wasmscope_analyzer_analyses_total||success"])
	assert.Equal(t, 1.0, values["wasmscope_analyzer_analyses_total|invalid_magic|failure"])
	assert.Equal(t, 2.0, values["wasmscope_analyzer_analysis_duration_seconds"])
}

func TestMetricsBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.EventPublished(types.ChangeAdded)
	m.EventPublished(types.ChangeAdded)
	m.EventPublished(types.ChangeRemoved)
	m.EventDropped()
	m.SubscribersChanged(3)

	values := gather(t, reg)
	assert.Equal(t, 2.0, values["wasmscope_bus_events_total|added"])
	assert.Equal(t, 1.0, values["wasmscope_bus_events_total|removed"])
	assert.Equal(t, 1.0, values["wasmscope_bus_dropped_events_total"])
	assert.Equal(t, 3.0, values["wasmscope_bus_subscribers"])
}

func TestMetricsRecordStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.RecordStates(map[types.ComponentState]int{
		types.StateAnalyzed:       4,
		types.StateAnalysisFailed: 1,
	})
	m.RecordStates(map[types.ComponentState]int{
		types.StateAnalyzed:       3,
		types.StateAnalysisFailed: 0,
	})

	values := gather(t, reg)
	assert.Equal(t, 3.0, values["wasmscope_registry_records|analyzed"])
	assert.Equal(t, 0.0, values["wasmscope_registry_records|analysis_failed"])
}

func TestNewMetricsRegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.EventDropped() })
}
