// Package registry implements the durable stream registry: the
// record of subscribed streams consulted on restart to resume
// ingestion without manual re-subscription.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/writer"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// StreamSpec identifies one subscribed stream.
type StreamSpec struct {
	Exchange   string
	Instrument string
	Kind       string
	Transport  string
}

// StreamID is the stable, total function of (exchange, instrument,
// kind, transport); two calls with identical fields always yield the
// same id, independent of process or time.
func StreamID(s StreamSpec) string {
	h := sha256.New()
	for _, f := range []string{s.Exchange, s.Instrument, s.Kind, s.Transport} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// StartParams is what load_enabled returns for each stream that
// should resume on restart.
type StartParams struct {
	Exchange   string
	Transport  string
	Kind       string
	Symbol     string
}

type row struct {
	StreamID  string    `db:"stream_id"`
	Exchange  string    `db:"exchange"`
	Instrument string   `db:"instrument"`
	Kind      string    `db:"kind"`
	Transport string    `db:"transport"`
	Enabled   bool      `db:"enabled"`

	DisablePrimary     bool  `db:"disable_db_writes"`
	DisableAccelerator bool  `db:"disable_redis_publishes"`
	FlushRows          int32 `db:"flush_rows"`
	FlushIntervalMS    int64 `db:"flush_interval_ms"`
	ChunkRows          int32 `db:"chunk_rows"`
	HardCapRows        int32 `db:"hard_cap_rows"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store is the sqlx-backed registry, sharded the same way ingestion
// batches are: a stream's registry row lives on the shard selected
// by that stream's own batch key.
type Store struct {
	pools *writer.Pools
}

func New(pools *writer.Pools) *Store { return &Store{pools: pools} }

func (s *Store) dbFor(ctx context.Context, spec StreamSpec) (*sqlx.DB, error) {
	shardID, err := s.pools.ShardIDFor(spec.Exchange, spec.Kind, spec.Instrument)
	if err != nil {
		return nil, err
	}
	return s.pools.PoolByID(shardID)
}

// Upsert inserts or, on primary-key conflict by stream_id, updates
// all columns and bumps updated_at.
func (s *Store) Upsert(ctx context.Context, spec StreamSpec, knobs writer.Knobs, enabled bool) error {
	db, err := s.dbFor(ctx, spec)
	if err != nil {
		return err
	}
	id := StreamID(spec)
	const q = `
		INSERT INTO stream_registry (
			stream_id, exchange, instrument, kind, transport, enabled,
			disable_db_writes, disable_redis_publishes,
			flush_rows, flush_interval_ms, chunk_rows, hard_cap_rows,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now()
		)
		ON CONFLICT (stream_id) DO UPDATE SET
			exchange = EXCLUDED.exchange,
			instrument = EXCLUDED.instrument,
			kind = EXCLUDED.kind,
			transport = EXCLUDED.transport,
			enabled = EXCLUDED.enabled,
			disable_db_writes = EXCLUDED.disable_db_writes,
			disable_redis_publishes = EXCLUDED.disable_redis_publishes,
			flush_rows = EXCLUDED.flush_rows,
			flush_interval_ms = EXCLUDED.flush_interval_ms,
			chunk_rows = EXCLUDED.chunk_rows,
			hard_cap_rows = EXCLUDED.hard_cap_rows,
			updated_at = now()
	`
	_, err = db.ExecContext(ctx, q,
		id, spec.Exchange, spec.Instrument, spec.Kind, spec.Transport, enabled,
		knobs.DisablePrimary, knobs.DisableAccelerator,
		knobs.FlushRows, knobs.FlushIntervalMS, knobs.ChunkRows, knobs.HardCapRows)
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.Upsert", err)
	}
	return nil
}

// UpdateKnobs updates the mutable batch knobs for an existing stream;
// zero rows affected means the stream was never registered.
func (s *Store) UpdateKnobs(ctx context.Context, spec StreamSpec, knobs writer.Knobs) error {
	db, err := s.dbFor(ctx, spec)
	if err != nil {
		return err
	}
	id := StreamID(spec)
	const q = `
		UPDATE stream_registry SET
			disable_db_writes = $1, disable_redis_publishes = $2,
			flush_rows = $3, flush_interval_ms = $4, chunk_rows = $5, hard_cap_rows = $6,
			updated_at = now()
		WHERE stream_id = $7
	`
	res, err := db.ExecContext(ctx, q,
		knobs.DisablePrimary, knobs.DisableAccelerator,
		knobs.FlushRows, knobs.FlushIntervalMS, knobs.ChunkRows, knobs.HardCapRows, id)
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.UpdateKnobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.UpdateKnobs", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindStreamNotFound, "registry.UpdateKnobs", apperr.ErrStreamNotFound)
	}
	return nil
}

// SetEnabled flips only the enabled flag, leaving batch knobs
// untouched; zero rows affected means the stream was never
// registered.
func (s *Store) SetEnabled(ctx context.Context, spec StreamSpec, enabled bool) error {
	db, err := s.dbFor(ctx, spec)
	if err != nil {
		return err
	}
	id := StreamID(spec)
	res, err := db.ExecContext(ctx, `UPDATE stream_registry SET enabled = $1, updated_at = now() WHERE stream_id = $2`, enabled, id)
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.SetEnabled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.SetEnabled", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindStreamNotFound, "registry.SetEnabled", apperr.ErrStreamNotFound)
	}
	return nil
}

// Remove deletes a stream's registry row; zero rows affected means
// StreamNotFound.
func (s *Store) Remove(ctx context.Context, spec StreamSpec) error {
	db, err := s.dbFor(ctx, spec)
	if err != nil {
		return err
	}
	id := StreamID(spec)
	res, err := db.ExecContext(ctx, `DELETE FROM stream_registry WHERE stream_id = $1`, id)
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.Remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.New(apperr.KindStore, "registry.Remove", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindStreamNotFound, "registry.Remove", apperr.ErrStreamNotFound)
	}
	return nil
}

// LoadEnabled scans every shard's registry table and deduplicates by
// stream_id: a stream may appear on multiple shards because of
// wildcard rules. The first encountered row wins; a divergent
// duplicate is logged, not merged. Results are sorted by (exchange,
// transport, kind, symbol) for a deterministic restart order.
func (s *Store) LoadEnabled(ctx context.Context) ([]StartParams, error) {
	seen := make(map[string]row)
	var order []string

	for _, shardCfg := range s.pools.ShardsSnapshot() {
		db, err := s.pools.PoolByID(shardCfg.ID)
		if err != nil {
			return nil, err
		}
		var rows []row
		if err := db.SelectContext(ctx, &rows, `
			SELECT stream_id, exchange, instrument, kind, transport,
			       enabled, disable_db_writes, disable_redis_publishes,
			       flush_rows, flush_interval_ms, chunk_rows, hard_cap_rows,
			       created_at, updated_at
			FROM stream_registry WHERE enabled = true
		`); err != nil {
			return nil, apperr.New(apperr.KindStore, "registry.LoadEnabled", err)
		}
		for _, r := range rows {
			if existing, ok := seen[r.StreamID]; ok {
				if existing != r {
					log.Warn().Str("stream_id", r.StreamID).Str("shard", shardCfg.ID).
						Msg("stream registry row diverges across shards; keeping first-seen")
				}
				continue
			}
			seen[r.StreamID] = r
			order = append(order, r.StreamID)
		}
	}

	out := make([]StartParams, 0, len(order))
	for _, id := range order {
		r := seen[id]
		out = append(out, StartParams{Exchange: r.Exchange, Transport: r.Transport, Kind: r.Kind, Symbol: r.Instrument})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Exchange != b.Exchange {
			return a.Exchange < b.Exchange
		}
		if a.Transport != b.Transport {
			return a.Transport < b.Transport
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Symbol < b.Symbol
	})
	return out, nil
}
