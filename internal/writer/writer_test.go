package writer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/feedmesh/ingestd/internal/normalize"
	"github.com/feedmesh/ingestd/internal/shard"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	router, err := shard.NewRouter([]shard.Config{
		{ID: "A", PoolMin: 1, PoolMax: 4, Rules: []shard.Rule{{Exchange: "*", StreamKind: "*", Symbol: "*"}}},
	})
	require.NoError(t, err)

	pools, err := NewPools(router, func(shard.Config) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "postgres"), nil
	})
	require.NoError(t, err)

	w := New(pools, Config{MaxInflightBatches: 2}, NoopMetrics{})
	return w, mock
}

func tradeRow() normalize.TradeRow {
	return normalize.TradeRow{Time: time.Now().UTC(), Symbol: "BTCUSDT", Side: normalize.SideBuy, PriceI: 1, QtyI: 1}
}

func TestFlushBySizeChunksInserts(t *testing.T) {
	w, mock := newTestWriter(t)
	batch := NewBatch[normalize.TradeRow](BatchKey{Exchange: "binance", StreamKind: "trades", Symbol: "BTCUSDT"},
		Knobs{FlushRows: 3, ChunkRows: 2, FlushIntervalMS: 10000, HardCapRows: 100}, time.Now().UTC())

	for i := 0; i < 3; i++ {
		batch.Push(tradeRow())
	}

	mock.ExpectExec("INSERT INTO ex_binance.trades").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO ex_binance.trades").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, WriteBatch(context.Background(), w, batch))
	require.Len(t, batch.Rows, 0)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushPredicateBoundary(t *testing.T) {
	w, _ := newTestWriter(t)
	batch := NewBatch[normalize.TradeRow](BatchKey{Exchange: "binance", StreamKind: "trades", Symbol: "BTCUSDT"},
		Knobs{FlushRows: 3, ChunkRows: 3, FlushIntervalMS: 10000, HardCapRows: 100}, time.Now().UTC())

	for i := 0; i < 2; i++ {
		batch.Push(tradeRow())
	}
	require.NoError(t, WriteBatch(context.Background(), w, batch))
	require.Len(t, batch.Rows, 2, "must not flush at flush_rows-1 before interval elapses")
}

func TestFailedFlushLeavesRowsInBatch(t *testing.T) {
	w, mock := newTestWriter(t)
	batch := NewBatch[normalize.TradeRow](BatchKey{Exchange: "binance", StreamKind: "trades", Symbol: "BTCUSDT"},
		Knobs{FlushRows: 1, ChunkRows: 1, FlushIntervalMS: 10000, HardCapRows: 100}, time.Now().UTC())
	batch.Push(tradeRow())

	mock.ExpectExec("INSERT INTO ex_binance.trades").WillReturnError(context.DeadlineExceeded)

	err := WriteBatch(context.Background(), w, batch)
	require.Error(t, err)
	require.Len(t, batch.Rows, 1)
}

func TestWriteBatchWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	w, mock := newTestWriter(t)
	batch := NewBatch[normalize.TradeRow](BatchKey{Exchange: "binance", StreamKind: "trades", Symbol: "BTCUSDT"},
		Knobs{FlushRows: 1, ChunkRows: 1, FlushIntervalMS: 10000, HardCapRows: 100}, time.Now().UTC())
	batch.Push(tradeRow())

	mock.ExpectExec("INSERT INTO ex_binance.trades").WillReturnError(context.DeadlineExceeded)
	mock.ExpectExec("INSERT INTO ex_binance.trades").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, WriteBatchWithRetry(context.Background(), w, batch, 1, time.Millisecond))
	require.Len(t, batch.Rows, 0)
}
