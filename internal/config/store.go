package config

import (
	"fmt"
	"os"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/shard"
	"github.com/feedmesh/ingestd/internal/writer"
	"gopkg.in/yaml.v3"
)

// ShardRuleConfig is one YAML-declared routing rule; each field is
// either a literal string or "*".
type ShardRuleConfig struct {
	Exchange   string `yaml:"exchange"`
	StreamKind string `yaml:"stream"`
	Symbol     string `yaml:"symbol"`
}

// ShardEntry is one YAML-declared shard: pool sizing, timeouts, and
// its ordered rule list. DSNEnv names the environment variable
// holding the shard's connection string; the DSN itself is never
// stored in config on disk.
type ShardEntry struct {
	ID               string            `yaml:"id"`
	DSNEnv           string            `yaml:"dsn_env"`
	PoolMin          int               `yaml:"pool_min"`
	PoolMax          int               `yaml:"pool_max"`
	ConnectTimeoutMS int64             `yaml:"connect_timeout_ms"`
	IdleTimeoutSec   int64             `yaml:"idle_timeout_sec"`
	Rules            []ShardRuleConfig `yaml:"rules"`
}

func (e ShardEntry) toShardConfig() shard.Config {
	rules := make([]shard.Rule, len(e.Rules))
	for i, r := range e.Rules {
		rules[i] = shard.Rule{Exchange: r.Exchange, StreamKind: r.StreamKind, Symbol: r.Symbol}
	}
	return shard.Config{
		ID:             e.ID,
		PoolMin:        e.PoolMin,
		PoolMax:        e.PoolMax,
		ConnectTimeout: time.Duration(e.ConnectTimeoutMS) * time.Millisecond,
		IdleTimeout:    time.Duration(e.IdleTimeoutSec) * time.Second,
		Rules:          rules,
	}
}

// WriterConfig is the store-wide writer knobs (§6): batch_size is
// the flush_rows every stream's batch uses, flush_interval_ms and
// max_inflight_batches apply process-wide.
// ChunkRows and HardCapRows are optional: zero means "derive from
// BatchSize" (chunk defaults to the full batch, hard cap to 4x).
type WriterConfig struct {
	BatchSize          int   `yaml:"batch_size"`
	FlushIntervalMS    int64 `yaml:"flush_interval_ms"`
	MaxInflightBatches int   `yaml:"max_inflight_batches"`
	ChunkRows          int   `yaml:"chunk_rows"`
	HardCapRows        int   `yaml:"hard_cap_rows"`
}

func (w WriterConfig) effectiveChunkRows() int {
	if w.ChunkRows > 0 {
		return w.ChunkRows
	}
	return w.BatchSize
}

func (w WriterConfig) effectiveHardCapRows() int {
	if w.HardCapRows > 0 {
		return w.HardCapRows
	}
	return w.BatchSize * 4
}

// StoreConfig is the primary-store declarative config: the shard
// list and writer parameters.
type StoreConfig struct {
	Shards []ShardEntry `yaml:"shards"`
	Writer WriterConfig `yaml:"writer"`
}

func LoadStoreConfig(path string) (*StoreConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadStoreConfig", err)
	}
	var c StoreConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadStoreConfig", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the shard list is non-empty, each shard's own
// invariants (via shard.Config.Validate, which also rejects empty
// rule lists), unique shard ids, every rule field is either a
// literal or "*" (never blank), and the writer knobs are all > 0.
// Duplicate-id and per-shard checks are delegated to shard.NewRouter
// so the two code paths can never drift.
func (c StoreConfig) Validate() error {
	if len(c.Shards) == 0 {
		return apperr.New(apperr.KindConfig, "StoreConfig.Validate", fmt.Errorf("must define at least one shard"))
	}
	shardCfgs := make([]shard.Config, len(c.Shards))
	for i, s := range c.Shards {
		if s.DSNEnv == "" {
			return apperr.New(apperr.KindConfig, "StoreConfig.Validate", fmt.Errorf("shards[%d]: dsn_env must not be empty", i))
		}
		for r, rule := range s.Rules {
			if err := validateRuleField(i, r, "exchange", rule.Exchange); err != nil {
				return err
			}
			if err := validateRuleField(i, r, "stream", rule.StreamKind); err != nil {
				return err
			}
			if err := validateRuleField(i, r, "symbol", rule.Symbol); err != nil {
				return err
			}
		}
		shardCfgs[i] = s.toShardConfig()
	}
	if _, err := shard.NewRouter(shardCfgs); err != nil {
		return err
	}
	if c.Writer.BatchSize <= 0 {
		return apperr.New(apperr.KindConfig, "StoreConfig.Validate", fmt.Errorf("writer.batch_size must be > 0"))
	}
	if c.Writer.FlushIntervalMS <= 0 {
		return apperr.New(apperr.KindConfig, "StoreConfig.Validate", fmt.Errorf("writer.flush_interval_ms must be > 0"))
	}
	if c.Writer.MaxInflightBatches <= 0 {
		return apperr.New(apperr.KindConfig, "StoreConfig.Validate", fmt.Errorf("writer.max_inflight_batches must be > 0"))
	}
	return nil
}

func validateRuleField(shardIdx, ruleIdx int, field, value string) error {
	if value == "" {
		return apperr.New(apperr.KindConfig, "StoreConfig.Validate",
			fmt.Errorf(`shards[%d].rules[%d]: %s must not be empty (use "*" for wildcard)`, shardIdx, ruleIdx, field))
	}
	return nil
}

// Router builds the shard.Router for this config; callers resolve
// DSNs from DSNEnv separately (the writer's Dialer does the actual
// sqlx.Connect).
func (c StoreConfig) Router() (*shard.Router, error) {
	cfgs := make([]shard.Config, len(c.Shards))
	for i, s := range c.Shards {
		cfgs[i] = s.toShardConfig()
	}
	return shard.NewRouter(cfgs)
}

// DSNByShard resolves each shard's DSNEnv from the process
// environment; a missing variable fails closed rather than
// connecting with an empty DSN.
func (c StoreConfig) DSNByShard() (map[string]string, error) {
	out := make(map[string]string, len(c.Shards))
	for _, s := range c.Shards {
		dsn, ok := os.LookupEnv(s.DSNEnv)
		if !ok || dsn == "" {
			return nil, apperr.New(apperr.KindConfig, "StoreConfig.DSNByShard",
				fmt.Errorf("shard %s: environment variable %q is not set", s.ID, s.DSNEnv))
		}
		out[s.ID] = dsn
	}
	return out, nil
}

// WriterKnobs builds the writer.Config used process-wide.
func (c StoreConfig) WriterKnobs() writer.Config {
	return writer.Config{MaxInflightBatches: c.Writer.MaxInflightBatches}
}

// DefaultBatchKnobs builds the writer.Knobs every stream's batch is
// created with. Knobs stored in a stream's registry row (Upsert,
// UpdateKnobs) are not read back: LoadEnabled does not return them,
// so resumed streams always start from these values.
func (c StoreConfig) DefaultBatchKnobs() writer.Knobs {
	return writer.Knobs{
		FlushRows:       c.Writer.BatchSize,
		FlushIntervalMS: c.Writer.FlushIntervalMS,
		ChunkRows:       c.Writer.effectiveChunkRows(),
		HardCapRows:     c.Writer.effectiveHardCapRows(),
	}
}
