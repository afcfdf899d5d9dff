package metrics

import (
	"testing"
	"time"

	"github.com/feedmesh/ingestd/internal/accelerator"
	"github.com/feedmesh/ingestd/internal/ratelimit"
	"github.com/feedmesh/ingestd/internal/writer"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ writer.Metrics      = (*Registry)(nil)
	_ accelerator.Metrics = (*Registry)(nil)
)

func TestRegistryRecordsWriterObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncBatchesWritten()
	m.AddRowsWritten(3)
	m.SetPoolHealth("shard-a", 2, 1, 8)

	assert.Equal(t, float64(1), counterValue(t, m.BatchesWritten))
	assert.Equal(t, float64(3), counterValue(t, m.RowsWritten))
	assert.Equal(t, float64(2), gaugeVecValue(t, m.PoolInUse, "shard-a"))
}

func TestRegistryRecordsRateLimitWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRateLimitWait("binance", ratelimit.Subscribe, 50*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.True(t, hasFamily(families, "ingestd_ratelimit_wait_seconds"))
}

func TestRegistryRecordsAcceleratorDisableEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DisableWithReason(accelerator.ReasonSaturated)
	m.SetEnabledState(false)

	assert.Equal(t, float64(0), gaugeValue(t, m.AcceleratorEnabled))
	assert.Equal(t, float64(1), counterValue(t, m.DisableEvents.WithLabelValues(string(accelerator.ReasonSaturated))))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, g.Write(&pb))
	return pb.GetGauge().GetValue()
}

func gaugeVecValue(t *testing.T, v *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, v.WithLabelValues(label).Write(&pb))
	return pb.GetGauge().GetValue()
}

func hasFamily(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}
