package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetProgress("training", 42.5)
	m.PhaseEntered("training", "Testing the model")
	m.SetPoolActive("trading", 3)
	m.PoolSubmission("trading", "capacity")
	m.PoolSubmission("trading", "capacity")
	m.UnitCompleted("trading", false)
	m.JobRun("trading-job", "completed")
	m.StoreError("read")

	assert.Equal(t, 42.5, testutil.ToFloat64(m.phaseProgress.WithLabelValues("training")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phaseTransitions.WithLabelValues("training", "Testing the model")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolActive.WithLabelValues("trading")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolSubmissions.WithLabelValues("trading", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolUnits.WithLabelValues("trading", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("trading-job", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("read")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetProgress("training", 1)
		m.PhaseEntered("training", "x")
		m.SetPoolActive("p", 1)
		m.PoolSubmission("p", "admitted")
		m.UnitCompleted("p", true)
		m.JobRun("j", "failed")
		m.StoreError("write")
	})
}
