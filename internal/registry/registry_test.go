package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/feedmesh/ingestd/internal/shard"
	"github.com/feedmesh/ingestd/internal/writer"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() StreamSpec {
	return StreamSpec{Exchange: "binance", Instrument: "BTCUSDT", Kind: "trades", Transport: "ws"}
}

func TestStreamIDIsStableAndTotal(t *testing.T) {
	a := StreamID(testSpec())
	b := StreamID(testSpec())
	assert.Equal(t, a, b)

	other := testSpec()
	other.Instrument = "ETHUSDT"
	assert.NotEqual(t, a, StreamID(other))
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	router, err := shard.NewRouter([]shard.Config{
		{ID: "A", PoolMin: 1, PoolMax: 1, Rules: []shard.Rule{{Exchange: "*", StreamKind: "*", Symbol: "*"}}},
	})
	require.NoError(t, err)
	pools, err := writer.NewPools(router, func(shard.Config) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "postgres"), nil
	})
	require.NoError(t, err)
	return New(pools), mock
}

func TestUpdateKnobsZeroRowsIsStreamNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("UPDATE stream_registry").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateKnobs(context.Background(), testSpec(), writer.Knobs{FlushRows: 1, ChunkRows: 1, HardCapRows: 1})
	require.Error(t, err)
}

func TestRemoveZeroRowsIsStreamNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM stream_registry").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Remove(context.Background(), testSpec())
	require.Error(t, err)
}

func TestSetEnabledZeroRowsIsStreamNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("UPDATE stream_registry SET enabled").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetEnabled(context.Background(), testSpec(), false)
	require.Error(t, err)
}

func TestSetEnabledAffectsOnlyEnabledColumn(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("UPDATE stream_registry SET enabled").
		WithArgs(false, StreamID(testSpec())).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetEnabled(context.Background(), testSpec(), false)
	require.NoError(t, err)
}

func TestUpsertThenUpsertIsIdempotentOnSameArgs(t *testing.T) {
	s, mock := newTestStore(t)
	knobs := writer.Knobs{FlushRows: 10, ChunkRows: 5, HardCapRows: 100, FlushIntervalMS: 1000}

	mock.ExpectExec("INSERT INTO stream_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Upsert(context.Background(), testSpec(), knobs, true))

	mock.ExpectExec("INSERT INTO stream_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Upsert(context.Background(), testSpec(), knobs, true))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadEnabledDedupesAcrossShards(t *testing.T) {
	dbA, mockA, err := sqlmock.New()
	require.NoError(t, err)
	dbB, mockB, err := sqlmock.New()
	require.NoError(t, err)

	router, err := shard.NewRouter([]shard.Config{
		{ID: "A", PoolMin: 1, PoolMax: 1, Rules: []shard.Rule{{Exchange: "binance", StreamKind: "trades", Symbol: "BTCUSDT"}}},
		{ID: "B", PoolMin: 1, PoolMax: 1, Rules: []shard.Rule{{Exchange: "*", StreamKind: "*", Symbol: "*"}}},
	})
	require.NoError(t, err)

	byShard := map[string]*sqlx.DB{"A": sqlx.NewDb(dbA, "postgres"), "B": sqlx.NewDb(dbB, "postgres")}
	pools, err := writer.NewPools(router, func(cfg shard.Config) (*sqlx.DB, error) {
		return byShard[cfg.ID], nil
	})
	require.NoError(t, err)

	cols := []string{"stream_id", "exchange", "instrument", "kind", "transport", "enabled",
		"disable_db_writes", "disable_redis_publishes", "flush_rows", "flush_interval_ms",
		"chunk_rows", "hard_cap_rows", "created_at", "updated_at"}
	now := time.Now()
	newRows := func() *sqlmock.Rows {
		return sqlmock.NewRows(cols).AddRow("dup-id", "binance", "BTCUSDT", "trades", "ws", true, false, false, 10, 1000, 5, 100, now, now)
	}

	mockA.ExpectQuery("SELECT stream_id").WillReturnRows(newRows())
	mockB.ExpectQuery("SELECT stream_id").WillReturnRows(newRows())

	store := New(pools)
	out, err := store.LoadEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
}
