package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PositionsProcessed.Inc()
	m.Rejected("position")
	m.Rejected("position")
	m.AlertsCreated.WithLabelValues("High").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesRejected.WithLabelValues("position")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["safetrack_positions_processed_total"])
	assert.True(t, names["safetrack_alerts_created_total"])
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
