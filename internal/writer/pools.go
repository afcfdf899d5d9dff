package writer

import (
	"fmt"
	"sync"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/shard"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// Pools owns one *sqlx.DB connection pool per shard plus the router
// that picks which shard a key belongs to. Construction follows
// internal/infrastructure/db/connection.go's sqlx.Connect + pool
// tuning pattern, generalized from one DSN to one per shard.
type Pools struct {
	router *shard.Router
	mu     sync.RWMutex
	dbs    map[string]*sqlx.DB
}

// Dialer opens a *sqlx.DB for one shard; production wiring passes
// sqlx.Connect("postgres", dsn), tests pass a stub.
type Dialer func(shard.Config) (*sqlx.DB, error)

func DefaultDialer(dsnByShard map[string]string) Dialer {
	return func(cfg shard.Config) (*sqlx.DB, error) {
		dsn, ok := dsnByShard[cfg.ID]
		if !ok {
			return nil, fmt.Errorf("no dsn configured for shard %q", cfg.ID)
		}
		db, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.PoolMax)
		db.SetMaxIdleConns(cfg.PoolMin)
		return db, nil
	}
}

func NewPools(router *shard.Router, dial Dialer) (*Pools, error) {
	dbs := make(map[string]*sqlx.DB, len(router.Shards()))
	for _, s := range router.Shards() {
		db, err := dial(s)
		if err != nil {
			return nil, apperr.New(apperr.KindConfig, "writer.NewPools", fmt.Errorf("shard %s: %w", s.ID, err))
		}
		dbs[s.ID] = db
	}
	return &Pools{router: router, dbs: dbs}, nil
}

func (p *Pools) ShardIDFor(exchange, kind, symbol string) (string, error) {
	return p.router.ShardIDFor(exchange, kind, symbol)
}

func (p *Pools) PoolByID(id string) (*sqlx.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	db, ok := p.dbs[id]
	if !ok {
		return nil, apperr.New(apperr.KindStore, "writer.Pools.PoolByID", fmt.Errorf("unknown shard %q", id))
	}
	return db, nil
}

func (p *Pools) ShardsSnapshot() []shard.Config { return p.router.Shards() }

func (p *Pools) ShardConfigByID(id string) (shard.Config, bool) {
	for _, s := range p.router.Shards() {
		if s.ID == id {
			return s, true
		}
	}
	return shard.Config{}, false
}

func (p *Pools) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
