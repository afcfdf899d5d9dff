package accelerator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate() *Gate {
	return NewGate(FailoverConfig{
		OnDown:      DownDisableTemporarily,
		OnSaturated: SaturationStopAssigningNew,
	}, NoopMetrics{})
}

func TestGateStartsEnabled(t *testing.T) {
	g := testGate()
	assert.True(t, g.CanPublish())
	assert.True(t, g.CanAssignNew())
	_, ok := g.LastDisableReason()
	assert.False(t, ok)
}

func TestDownDisablesPublishing(t *testing.T) {
	g := testGate()
	g.ApplyHealth(Unhealthy(ReasonDown, Snapshot{IsUp: false}))
	assert.False(t, g.CanPublish())
	assert.False(t, g.CanAssignNew())
	reason, ok := g.LastDisableReason()
	require.True(t, ok)
	assert.Equal(t, ReasonDown, reason)
}

func TestHealthyReenables(t *testing.T) {
	g := testGate()
	g.ApplyHealth(Unhealthy(ReasonDown, Snapshot{IsUp: false}))
	require.False(t, g.CanPublish())

	g.ApplyHealth(Healthy(Snapshot{IsUp: true}))
	assert.True(t, g.CanPublish())
	assert.True(t, g.CanAssignNew())
	_, ok := g.LastDisableReason()
	assert.False(t, ok)
}

// S5: saturation stops new-symbol assignment but keeps publishing for
// already-onboarded symbols; a subsequent healthy snapshot clears both.
func TestSaturationStopsAssigningNewOnly(t *testing.T) {
	g := testGate()
	pending := uint64(300_000)
	g.ApplyHealth(Unhealthy(ReasonMaxPending, Snapshot{IsUp: true, PendingTotal: &pending}))

	assert.True(t, g.CanPublish())
	assert.False(t, g.CanAssignNew())

	g.ApplyHealth(Healthy(Snapshot{IsUp: true}))
	assert.True(t, g.CanPublish())
	assert.True(t, g.CanAssignNew())
}

// Invariant 6: every non-ok status with reason in
// {Down, Latency, Manual, (unset/None)} must flip CanPublish false.
func TestInvariant6DisablingReasonsAlwaysClosePublish(t *testing.T) {
	for _, reason := range []DisableReason{ReasonDown, ReasonLatency, ReasonManual, ""} {
		g := testGate()
		g.ApplyHealth(Status{OK: false, Reason: reason})
		assert.Falsef(t, g.CanPublish(), "reason %q must disable publish", reason)
	}
}

func TestManualOverrideThenHealthEvaluationWins(t *testing.T) {
	g := testGate()
	g.DisableManual()
	assert.False(t, g.CanPublish())

	g.EnableManual()
	assert.True(t, g.CanPublish())

	g.ApplyHealth(Unhealthy(ReasonDown, Snapshot{IsUp: false}))
	assert.False(t, g.CanPublish())
}

func TestEvaluatorRuleOrderFirstMatchWins(t *testing.T) {
	ev := NewEvaluator(CapacityConfig{MaxMemoryPct: 85, MaxPending: 200_000, MaxP99CmdMS: 10})

	down := ev.Evaluate(Snapshot{IsUp: false})
	assert.Equal(t, ReasonDown, down.Reason)

	memPct := 90.0
	mem := ev.Evaluate(Snapshot{IsUp: true, UsedMemoryPct: &memPct})
	assert.Equal(t, ReasonMaxMemory, mem.Reason)

	pending := uint64(250_000)
	pend := ev.Evaluate(Snapshot{IsUp: true, PendingTotal: &pending})
	assert.Equal(t, ReasonMaxPending, pend.Reason)

	p99 := 12.5
	lat := ev.Evaluate(Snapshot{IsUp: true, P99CmdMS: &p99})
	assert.Equal(t, ReasonLatency, lat.Reason)

	healthy := ev.Evaluate(Snapshot{IsUp: true})
	assert.True(t, healthy.OK)

	all := ev.Evaluate(Snapshot{IsUp: true, UsedMemoryPct: &memPct, PendingTotal: &pending, P99CmdMS: &p99})
	assert.Equal(t, ReasonMaxMemory, all.Reason)
}

func TestEvaluatorUnknownFieldsDoNotTrigger(t *testing.T) {
	ev := NewEvaluator(CapacityConfig{MaxMemoryPct: 85, MaxPending: 200_000, MaxP99CmdMS: 10})
	status := ev.Evaluate(Snapshot{IsUp: true})
	assert.True(t, status.OK)
}
