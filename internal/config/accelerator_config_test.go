package config

import (
	"testing"

	"github.com/feedmesh/ingestd/internal/accelerator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAcceleratorConfigFromShippedFile(t *testing.T) {
	cfg, err := LoadAcceleratorConfig("../../config/accelerator.yaml")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Connection.Addr)
	assert.Equal(t, accelerator.SaturationStopAssigningNew, cfg.Failover.OnSaturated)
	assert.Contains(t, cfg.KeyFormat, "{exchange}")
	assert.Contains(t, cfg.KeyFormat, "{symbol}")
	assert.Contains(t, cfg.KeyFormat, "{kind}")

	cap := cfg.Capacity.ToCapacityConfig()
	assert.Greater(t, cap.PollInterval.Seconds(), 0.0)
}

func TestAcceleratorConfigValidateRejectsMissingPlaceholder(t *testing.T) {
	cfg := AcceleratorConfig{
		Connection: AcceleratorConnectionConfig{Addr: "localhost:6379"},
		Capacity:   AcceleratorCapacityConfig{PollIntervalSec: 2, LatencyWindow: 128},
		KeyFormat:  "{exchange}:{symbol}",
		Retention:  AcceleratorRetentionConfig{MaxLen: 100},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{kind}")
}

func TestAcceleratorConfigValidateRejectsZeroRetention(t *testing.T) {
	cfg := AcceleratorConfig{
		Connection: AcceleratorConnectionConfig{Addr: "localhost:6379"},
		Capacity:   AcceleratorCapacityConfig{PollIntervalSec: 2, LatencyWindow: 128},
		KeyFormat:  "{exchange}:{symbol}:{kind}",
		Retention:  AcceleratorRetentionConfig{MaxLen: 0},
	}
	require.Error(t, cfg.Validate())
}
