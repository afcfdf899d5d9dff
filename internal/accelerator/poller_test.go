package accelerator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	pingErr      error
	usedBytes    uint64
	maxBytes     *uint64
	usedPct      *float64
	memErr       error
	pending      uint64
	pendingErr   error
}

func (f *fakeProbe) Ping(context.Context) error { return f.pingErr }
func (f *fakeProbe) MemoryInfo(context.Context) (uint64, *uint64, *float64, error) {
	return f.usedBytes, f.maxBytes, f.usedPct, f.memErr
}
func (f *fakeProbe) PendingTotal(context.Context) (uint64, error) {
	return f.pending, f.pendingErr
}

func TestPollOnceDownLeavesEverythingUnknown(t *testing.T) {
	p := NewPoller(CapacityConfig{PollInterval: time.Second}, "test")
	snap := p.PollOnce(context.Background(), &fakeProbe{pingErr: errors.New("dial timeout")}, nil)
	assert.False(t, snap.IsUp)
	assert.Nil(t, snap.UsedMemoryPct)
	assert.Nil(t, snap.PendingTotal)
}

func TestPollOnceUpFillsBestEffort(t *testing.T) {
	p := NewPoller(CapacityConfig{PollInterval: time.Second}, "test")
	maxB := uint64(1000)
	pct := 10.0
	p99 := 1.5
	snap := p.PollOnce(context.Background(), &fakeProbe{usedBytes: 100, maxBytes: &maxB, usedPct: &pct, pending: 5}, &p99)

	assert.True(t, snap.IsUp)
	require.NotNil(t, snap.UsedMemoryPct)
	assert.Equal(t, 10.0, *snap.UsedMemoryPct)
	require.NotNil(t, snap.PendingTotal)
	assert.Equal(t, uint64(5), *snap.PendingTotal)
	require.NotNil(t, snap.P99CmdMS)
	assert.Equal(t, 1.5, *snap.P99CmdMS)
}

func TestPollOnceMemoryFailureLeavesMemoryFieldsNil(t *testing.T) {
	p := NewPoller(CapacityConfig{PollInterval: time.Second}, "test")
	snap := p.PollOnce(context.Background(), &fakeProbe{memErr: errors.New("info failed"), pending: 3}, nil)

	assert.True(t, snap.IsUp)
	assert.Nil(t, snap.UsedMemoryPct)
	require.NotNil(t, snap.PendingTotal)
	assert.Equal(t, uint64(3), *snap.PendingTotal)
}
