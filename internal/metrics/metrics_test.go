package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}
	return byName
}

func TestCountersRegisteredAndTagged(t *testing.T) {
	ChecksExecuted.WithLabelValues("t1", "HTTPS", "Completed").Inc()
	ExecutionFailures.WithLabelValues("t1", "FTP", "AuthenticationFailure").Inc()
	SkippedOverlappingFires.WithLabelValues("t1", "c1").Add(2)

	byName := gather(t)

	fam, ok := byName["inlet_checks_executed_total"]
	require.True(t, ok)
	found := false
	for _, m := range fam.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["tenant"] == "t1" && labels["protocol"] == "HTTPS" && labels["status"] == "Completed" {
			found = true
			assert.GreaterOrEqual(t, m.GetCounter().GetValue(), 1.0)
		}
	}
	assert.True(t, found, "expected tagged checks_executed sample")

	fam, ok = byName["inlet_scheduler_skipped_overlapping_fires_total"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, fam.GetMetric()[0].GetCounter().GetValue(), 2.0)

	_, ok = byName["inlet_execution_failures_total"]
	assert.True(t, ok)
}

func TestHistogramObserves(t *testing.T) {
	CheckDuration.WithLabelValues("HTTPS", "Completed").Observe(0.25)

	byName := gather(t)
	fam, ok := byName["inlet_check_duration_seconds"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, fam.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))
}

func TestGauges(t *testing.T) {
	ActiveConfigurations.WithLabelValues("t1").Set(3)
	ArmedConfigurations.Set(5)

	byName := gather(t)
	fam, ok := byName["inlet_active_configurations"]
	require.True(t, ok)
	assert.Equal(t, 3.0, fam.GetMetric()[0].GetGauge().GetValue())

	fam, ok = byName["inlet_scheduler_armed_configurations"]
	require.True(t, ok)
	assert.Equal(t, 5.0, fam.GetMetric()[0].GetGauge().GetValue())
}
