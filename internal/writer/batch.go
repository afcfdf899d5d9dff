package writer

import "time"

// BatchKey identifies the routing key a batch accumulates rows under.
type BatchKey struct {
	Exchange   string
	StreamKind string
	Symbol     string
}

// Knobs are the per-batch flush/chunk/cap parameters; immutable once
// a batch is constructed. Invariant: 0 < FlushRows <= HardCapRows,
// 0 < ChunkRows <= FlushRows.
type Knobs struct {
	FlushRows          int
	FlushIntervalMS    int64
	ChunkRows          int
	HardCapRows        int
	DisablePrimary     bool
	DisableAccelerator bool
}

// RowTable is satisfied by every canonical row type: it declares its
// own table name and column order so the writer never interpolates
// an identifier from caller-supplied data.
type RowTable interface {
	Columns() []string
	Table(exchange string) string
	Values() []any
}

// Batch is the append-only, single-owner buffer of canonical rows
// accumulating for one BatchKey, generic over the concrete row type
// so each stream kind gets its own strongly-typed batch.
type Batch[T RowTable] struct {
	Key        BatchKey
	Knobs      Knobs
	Rows       []T
	EnqueuedAt time.Time
}

func NewBatch[T RowTable](key BatchKey, knobs Knobs, now time.Time) *Batch[T] {
	return &Batch[T]{Key: key, Knobs: knobs, EnqueuedAt: now}
}

// ShouldFlush implements the size-or-time predicate: flush when
// len(rows) >= flush_rows, or when the elapsed time since enqueued_at
// has reached flush_interval_ms. A batch beyond hard_cap_rows flushes
// unconditionally.
func (b *Batch[T]) ShouldFlush(now time.Time) bool {
	if len(b.Rows) == 0 {
		return false
	}
	if len(b.Rows) >= b.Knobs.HardCapRows {
		return true
	}
	if len(b.Rows) >= b.Knobs.FlushRows {
		return true
	}
	elapsed := now.Sub(b.EnqueuedAt).Milliseconds()
	return elapsed >= b.Knobs.FlushIntervalMS
}

func (b *Batch[T]) Push(row T) { b.Rows = append(b.Rows, row) }
