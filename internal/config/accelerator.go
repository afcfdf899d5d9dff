package config

import (
	"fmt"
	"os"
	"time"

	"github.com/feedmesh/ingestd/internal/accelerator"
	"github.com/feedmesh/ingestd/internal/apperr"
	"gopkg.in/yaml.v3"
)

// AcceleratorConnectionConfig is the transport-level connection
// tuning for the secondary sink.
type AcceleratorConnectionConfig struct {
	Addr              string `yaml:"addr"`
	DB                int    `yaml:"db"`
	ConnectTimeoutMS  int64  `yaml:"connect_timeout_ms"`
	CommandTimeoutMS  int64  `yaml:"command_timeout_ms"`
	KeepAliveSec      int64  `yaml:"keepalive_sec"`
}

// AcceleratorCapacityConfig mirrors accelerator.CapacityConfig in
// YAML-friendly units (seconds/percent instead of Duration).
type AcceleratorCapacityConfig struct {
	PollIntervalSec int64   `yaml:"poll_interval_sec"`
	MaxMemoryPct    float64 `yaml:"max_memory_pct"`
	MaxPending      uint64  `yaml:"max_pending"`
	MaxP99CmdMS     float64 `yaml:"max_p99_cmd_ms"`
	LatencyWindow   int     `yaml:"latency_window"`
}

func (c AcceleratorCapacityConfig) ToCapacityConfig() accelerator.CapacityConfig {
	return accelerator.CapacityConfig{
		PollInterval:  time.Duration(c.PollIntervalSec) * time.Second,
		MaxMemoryPct:  c.MaxMemoryPct,
		MaxPending:    c.MaxPending,
		MaxP99CmdMS:   c.MaxP99CmdMS,
		LatencyWindow: c.LatencyWindow,
	}
}

// AcceleratorFailoverConfig selects the policy applied when health
// turns unhealthy (§4.9's policy table).
type AcceleratorFailoverConfig struct {
	OnDown      accelerator.DownPolicy       `yaml:"on_down"`
	OnSaturated accelerator.SaturationPolicy `yaml:"on_saturated"`
}

// AcceleratorRetentionConfig bounds the secondary stream's length.
type AcceleratorRetentionConfig struct {
	MaxLen int64 `yaml:"maxlen"`
	Approx bool  `yaml:"approx"`
}

// AcceleratorConfig is the full declarative config for C9: how to
// connect, what health thresholds gate usage, what to do when
// unhealthy, the stream key format, and retention.
type AcceleratorConfig struct {
	Connection AcceleratorConnectionConfig `yaml:"connection"`
	Capacity   AcceleratorCapacityConfig   `yaml:"capacity"`
	Failover   AcceleratorFailoverConfig   `yaml:"failover"`
	KeyFormat  string                      `yaml:"key_format"`
	Retention  AcceleratorRetentionConfig  `yaml:"retention"`
}

func LoadAcceleratorConfig(path string) (*AcceleratorConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadAcceleratorConfig", err)
	}
	var c AcceleratorConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadAcceleratorConfig", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces the "must be > 0" invariants from §6 plus the
// key format carrying all three required placeholders.
func (c AcceleratorConfig) Validate() error {
	if c.Connection.Addr == "" {
		return apperr.New(apperr.KindConfig, "AcceleratorConfig.Validate", fmt.Errorf("connection.addr must not be empty"))
	}
	if c.Capacity.PollIntervalSec <= 0 {
		return apperr.New(apperr.KindConfig, "AcceleratorConfig.Validate", fmt.Errorf("capacity.poll_interval_sec must be > 0"))
	}
	if c.Capacity.LatencyWindow <= 0 {
		return apperr.New(apperr.KindConfig, "AcceleratorConfig.Validate", fmt.Errorf("capacity.latency_window must be > 0"))
	}
	for _, placeholder := range []string{"{exchange}", "{symbol}", "{kind}"} {
		if !containsSubstring(c.KeyFormat, placeholder) {
			return apperr.New(apperr.KindConfig, "AcceleratorConfig.Validate",
				fmt.Errorf("key_format %q must contain %s", c.KeyFormat, placeholder))
		}
	}
	if c.Retention.MaxLen <= 0 {
		return apperr.New(apperr.KindConfig, "AcceleratorConfig.Validate", fmt.Errorf("retention.maxlen must be > 0"))
	}
	return nil
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
