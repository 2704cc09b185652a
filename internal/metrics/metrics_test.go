package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Stored(5, 5)
	c.Stored(3, 8)
	c.StoreFailed()
	c.ColdStart()
	c.Sampled([]float64{0.5, 1}, []float64{1, 0.7}, 0.4)
	c.Reprioritized(2, 1)
	c.Priorities(6.5, 1)

	assert.Equal(t, 8.0, testutil.ToFloat64(c.rowsStored))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.size))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("cold_start")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.priorityUpdates.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.priorityUpdates.WithLabelValues("stale")))
	assert.Equal(t, 6.5, testutil.ToFloat64(c.totalPriority))
	assert.Equal(t, 0.4, testutil.ToFloat64(c.beta))

	expected := `
# HELP replay_priority_max Priority assigned to newly stored rows
# TYPE replay_priority_max gauge
replay_priority_max 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "replay_priority_max"))
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
