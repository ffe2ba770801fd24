package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics_NoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuth("success")
		m.RecordSecondFactor("success")
		m.RecordProvisioning("create", "success")
		m.RecordCompensation(true)
		m.RecordWarning("export")
		m.ObserveBackend("store", "create", time.Now())
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordAuth("success")
	m.RecordAuth("success")
	m.RecordAuth("rejected")
	m.RecordProvisioning("create", "already_exists")
	m.RecordCompensation(false)
	m.RecordWarning("export")
	m.ObserveBackend("directory", "add", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Provisioning.WithLabelValues("create", "already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warnings.WithLabelValues("export")))

	n, err := testutil.GatherAndCount(reg, "gatekeeper_backend_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
