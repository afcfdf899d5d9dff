// Package shard selects which backing-store partition owns a given
// (exchange, stream-kind, symbol) key via an ordered, wildcard-
// capable rule table.
package shard

import (
	"fmt"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
)

const wildcard = "*"

// Rule matches a key when every field equals "*" or the argument
// exactly.
type Rule struct {
	Exchange   string
	StreamKind string
	Symbol     string
}

func (r Rule) matches(exchange, kind, symbol string) bool {
	return fieldMatches(r.Exchange, exchange) &&
		fieldMatches(r.StreamKind, kind) &&
		fieldMatches(r.Symbol, symbol)
}

func fieldMatches(rule, value string) bool {
	return rule == wildcard || rule == value
}

// Config is one shard's pool sizing, timeouts, and ordered rule list.
type Config struct {
	ID             string
	PoolMin        int
	PoolMax        int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	Rules          []Rule
}

func (c Config) Validate() error {
	if c.ID == "" {
		return apperr.New(apperr.KindConfig, "shard.Config.Validate", fmt.Errorf("shard id must not be empty"))
	}
	if c.PoolMin < 1 || c.PoolMax < 1 || c.PoolMin > c.PoolMax {
		return apperr.New(apperr.KindConfig, "shard.Config.Validate",
			fmt.Errorf("shard %s: pool_min (%d) must be >=1 and <= pool_max (%d)", c.ID, c.PoolMin, c.PoolMax))
	}
	if len(c.Rules) == 0 {
		return apperr.New(apperr.KindConfig, "shard.Config.Validate", fmt.Errorf("shard %s: must have at least one rule", c.ID))
	}
	return nil
}

// Router holds the declaration-ordered shard list; declaration order
// IS precedence, so callers express catch-all shards by listing a
// `*,*,*` rule last.
type Router struct {
	shards []Config
}

// NewRouter validates uniqueness of shard ids and each shard's own
// invariants, then builds the router preserving input order.
func NewRouter(shards []Config) (*Router, error) {
	seen := make(map[string]struct{}, len(shards))
	for _, s := range shards {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.ID]; dup {
			return nil, apperr.New(apperr.KindConfig, "shard.NewRouter", fmt.Errorf("duplicate shard id %q", s.ID))
		}
		seen[s.ID] = struct{}{}
	}
	cp := make([]Config, len(shards))
	copy(cp, shards)
	return &Router{shards: cp}, nil
}

// ShardIDFor scans shards in declaration order and returns the id of
// the first shard whose rule list contains a rule matching all three
// fields; fails with apperr.ErrNoShardForKey if none match.
func (r *Router) ShardIDFor(exchange, kind, symbol string) (string, error) {
	for _, s := range r.shards {
		for _, rule := range s.Rules {
			if rule.matches(exchange, kind, symbol) {
				return s.ID, nil
			}
		}
	}
	return "", apperr.New(apperr.KindMapping, "ShardIDFor",
		fmt.Errorf("%w: %s/%s/%s", apperr.ErrNoShardForKey, exchange, kind, symbol))
}

// Shards returns the configured shards in declaration order.
func (r *Router) Shards() []Config {
	return r.shards
}
