// Package metrics builds the single Prometheus registry shared by
// every component: writer, accelerator gate, and rate limiters each
// see it through their own narrow interface (internal/writer.Metrics,
// internal/accelerator.Metrics), so no component imports prometheus
// directly. Construction follows internal/interfaces/http/
// metrics.go's MetricsRegistry pattern: one struct of vec fields, one
// constructor registering them all with prometheus.MustRegister.
package metrics

import (
	"time"

	"github.com/feedmesh/ingestd/internal/accelerator"
	"github.com/feedmesh/ingestd/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the ingest pipeline records, named per
// spec.md §4/§7.
type Registry struct {
	// Writer (C7)
	QueueWait      prometheus.Histogram
	QueueDepth     prometheus.Gauge
	FlushDelay     prometheus.Histogram
	PoolWait       prometheus.Histogram
	PoolInUse      *prometheus.GaugeVec
	PoolIdle       *prometheus.GaugeVec
	PoolMax        *prometheus.GaugeVec
	WriteLatency   prometheus.Histogram
	RowsPerBatch   prometheus.Histogram
	BatchesWritten prometheus.Counter
	RowsWritten    prometheus.Counter
	FailedBatch    prometheus.Counter
	RetriedBatch   prometheus.Counter

	// Rate limiter (C3)
	RateLimitWait *prometheus.HistogramVec

	// Accelerator gate (C9)
	AcceleratorEnabled prometheus.Gauge
	DisableEvents      *prometheus.CounterVec

	// Normalization (C5)
	DecodeErrors  *prometheus.CounterVec
	MappingErrors *prometheus.CounterVec
}

// New constructs and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_writer_queue_wait_seconds",
			Help:    "Time spent waiting to acquire the inflight-batch semaphore.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestd_writer_queue_depth",
			Help: "Current number of batches admitted into the inflight semaphore.",
		}),
		FlushDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_writer_flush_delay_seconds",
			Help:    "Time between a batch's enqueued_at and the flush that drains it.",
			Buckets: prometheus.DefBuckets,
		}),
		PoolWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_writer_pool_wait_seconds",
			Help:    "Time spent waiting on a shard's connection pool.",
			Buckets: prometheus.DefBuckets,
		}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestd_writer_pool_in_use",
			Help: "Connections currently checked out of a shard's pool.",
		}, []string{"shard_id"}),
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestd_writer_pool_idle",
			Help: "Idle connections in a shard's pool.",
		}, []string{"shard_id"}),
		PoolMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestd_writer_pool_max",
			Help: "Configured maximum pool size for a shard.",
		}, []string{"shard_id"}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_writer_write_latency_seconds",
			Help:    "Time spent executing a batch's chunked INSERTs.",
			Buckets: prometheus.DefBuckets,
		}),
		RowsPerBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_writer_rows_per_batch",
			Help:    "Row count of successfully flushed batches.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		BatchesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_writer_batches_written_total",
			Help: "Batches successfully flushed.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_writer_rows_written_total",
			Help: "Rows successfully written across all batches.",
		}),
		FailedBatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_writer_failed_batch_total",
			Help: "Batch flush attempts that returned a store error.",
		}),
		RetriedBatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_writer_retried_batch_total",
			Help: "Batch flush retries issued by WriteBatchWithRetry.",
		}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestd_ratelimit_wait_seconds",
			Help:    "Time spent waiting on a per-exchange rate limiter.",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange", "purpose"}),
		AcceleratorEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestd_accelerator_enabled",
			Help: "1 if the accelerator gate currently permits publish, else 0.",
		}),
		DisableEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_accelerator_disable_events_total",
			Help: "Accelerator gate disable transitions, labeled by reason.",
		}, []string{"reason"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_decode_errors_total",
			Help: "Malformed push-feed frames dropped before mapping.",
		}, []string{"exchange"}),
		MappingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_mapping_errors_total",
			Help: "Malformed entries dropped during normalization.",
		}, []string{"exchange", "kind"}),
	}
	reg.MustRegister(
		m.QueueWait, m.QueueDepth, m.FlushDelay, m.PoolWait,
		m.PoolInUse, m.PoolIdle, m.PoolMax, m.WriteLatency, m.RowsPerBatch,
		m.BatchesWritten, m.RowsWritten, m.FailedBatch, m.RetriedBatch,
		m.RateLimitWait, m.AcceleratorEnabled, m.DisableEvents,
		m.DecodeErrors, m.MappingErrors,
	)
	return m
}

// --- internal/writer.Metrics ---

func (m *Registry) ObserveQueueWait(d time.Duration)  { m.QueueWait.Observe(d.Seconds()) }
func (m *Registry) SetQueueDepth(depth int64)         { m.QueueDepth.Set(float64(depth)) }
func (m *Registry) ObserveFlushDelay(d time.Duration) { m.FlushDelay.Observe(d.Seconds()) }
func (m *Registry) ObservePoolWait(d time.Duration)   { m.PoolWait.Observe(d.Seconds()) }

func (m *Registry) SetPoolHealth(shardID string, inUse, idle, max int64) {
	m.PoolInUse.WithLabelValues(shardID).Set(float64(inUse))
	m.PoolIdle.WithLabelValues(shardID).Set(float64(idle))
	m.PoolMax.WithLabelValues(shardID).Set(float64(max))
}

func (m *Registry) ObserveWriteLatency(d time.Duration) { m.WriteLatency.Observe(d.Seconds()) }
func (m *Registry) IncBatchesWritten()                  { m.BatchesWritten.Inc() }
func (m *Registry) AddRowsWritten(n int64)              { m.RowsWritten.Add(float64(n)) }
func (m *Registry) ObserveRowsPerBatch(n float64)        { m.RowsPerBatch.Observe(n) }
func (m *Registry) IncFailedBatch()                      { m.FailedBatch.Inc() }
func (m *Registry) IncRetriedBatch()                     { m.RetriedBatch.Inc() }

// --- internal/ratelimit observation hook ---

// ObserveRateLimitWait matches internal/ratelimit.WaitFunc's shape so
// it can be passed directly as the onWait callback to Registry.Acquire.
func (m *Registry) ObserveRateLimitWait(exchange string, purpose ratelimit.Purpose, waited time.Duration) {
	m.RateLimitWait.WithLabelValues(exchange, string(purpose)).Observe(waited.Seconds())
}

// --- internal/accelerator.Metrics ---

func (m *Registry) SetEnabledState(enabled bool) {
	v := 0.0
	if enabled {
		v = 1.0
	}
	m.AcceleratorEnabled.Set(v)
}

func (m *Registry) DisableWithReason(reason accelerator.DisableReason) {
	m.DisableEvents.WithLabelValues(string(reason)).Inc()
}

func (m *Registry) IncDisableEvent(reason accelerator.DisableReason) {
	m.DisableEvents.WithLabelValues(string(reason)).Inc()
}

// --- normalization counters (C5) ---

func (m *Registry) IncDecodeError(exchange string) { m.DecodeErrors.WithLabelValues(exchange).Inc() }

func (m *Registry) IncMappingError(exchange, kind string) {
	m.MappingErrors.WithLabelValues(exchange, kind).Inc()
}
