package writer

import "time"

// Metrics is the narrow set of observations the writer makes; the
// real implementation lives in internal/metrics and is constructed
// once at process start.
type Metrics interface {
	ObserveQueueWait(d time.Duration)
	SetQueueDepth(depth int64)
	ObserveFlushDelay(d time.Duration)
	ObservePoolWait(d time.Duration)
	SetPoolHealth(shardID string, inUse, idle, max int64)
	ObserveWriteLatency(d time.Duration)
	IncBatchesWritten()
	AddRowsWritten(n int64)
	ObserveRowsPerBatch(n float64)
	IncFailedBatch()
	IncRetriedBatch()
}

// NoopMetrics satisfies Metrics with no-ops, for tests that don't
// care about observability.
type NoopMetrics struct{}

func (NoopMetrics) ObserveQueueWait(time.Duration)            {}
func (NoopMetrics) SetQueueDepth(int64)                       {}
func (NoopMetrics) ObserveFlushDelay(time.Duration)           {}
func (NoopMetrics) ObservePoolWait(time.Duration)             {}
func (NoopMetrics) SetPoolHealth(string, int64, int64, int64) {}
func (NoopMetrics) ObserveWriteLatency(time.Duration)         {}
func (NoopMetrics) IncBatchesWritten()                        {}
func (NoopMetrics) AddRowsWritten(int64)                      {}
func (NoopMetrics) ObserveRowsPerBatch(float64)               {}
func (NoopMetrics) IncFailedBatch()                           {}
func (NoopMetrics) IncRetriedBatch()                          {}
