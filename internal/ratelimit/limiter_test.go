package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUnconfiguredExchangeFailsOpen(t *testing.T) {
	r := NewRegistry()
	err := r.Acquire(context.Background(), "unknown", Subscribe, nil)
	require.NoError(t, err)
}

func TestColdStartAllowsExactlyBurst(t *testing.T) {
	r := NewRegistry()
	r.Configure("binance", 1, 3, 1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("binance", Subscribe), "burst token %d", i)
	}
	assert.False(t, r.Allow("binance", Subscribe))
}

func TestAcquireReportsWaitDuration(t *testing.T) {
	r := NewRegistry()
	r.Configure("okx", 100, 1, 100, 1)

	var waited time.Duration
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.Acquire(ctx, "okx", Reconnect, func(_ string, _ Purpose, w time.Duration) {
		waited = w
	}))
	assert.GreaterOrEqual(t, waited, time.Duration(0))
}

func TestIndependentPurposesDoNotShareBudget(t *testing.T) {
	r := NewRegistry()
	r.Configure("coinbase", 1, 1, 1, 1)

	assert.True(t, r.Allow("coinbase", Subscribe))
	assert.True(t, r.Allow("coinbase", Reconnect))
	assert.False(t, r.Allow("coinbase", Subscribe))
}
