package accelerator

import (
	"sync"
	"sync/atomic"
)

// DownPolicy controls what happens to the gate when the accelerator
// is unreachable.
type DownPolicy string

const (
	DownDisableTemporarily DownPolicy = "disable_temporarily"
	DownPauseAndRetry      DownPolicy = "pause_and_retry"
)

// SaturationPolicy controls what happens when the accelerator is up
// but over a capacity threshold.
type SaturationPolicy string

const (
	SaturationStopAssigningNew   SaturationPolicy = "stop_assigning_new"
	SaturationErrorNew           SaturationPolicy = "error_new"
	SaturationSpilloverToOther   SaturationPolicy = "spillover_to_other_node"
)

// FailoverConfig is the policy the gate applies when health turns
// unhealthy.
type FailoverConfig struct {
	OnDown      DownPolicy
	OnSaturated SaturationPolicy
}

// Gate is the producer-facing accelerator usage gate. The accelerator
// is optional acceleration, never the source of truth: this gate only
// decides whether a producer should attempt to use it right now.
//
// enabled and stopAssigningNew are lock-free on the fast path;
// lastDisable is guarded by a mutex held only across the reason
// read/write, never across a suspension point.
type Gate struct {
	enabled          atomic.Bool
	stopAssigningNew atomic.Bool

	mu          sync.Mutex
	lastDisable *DisableReason

	failover FailoverConfig
	metrics  Metrics
}

func NewGate(failover FailoverConfig, metrics Metrics) *Gate {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	g := &Gate{failover: failover, metrics: metrics}
	g.enabled.Store(true)
	metrics.SetEnabledState(true)
	return g
}

// DisableManual forces the gate closed until EnableManual or a
// healthy evaluation reopens it.
func (g *Gate) DisableManual() {
	g.setDisabled(ReasonManual)
}

// EnableManual reopens the gate immediately; a subsequent unhealthy
// evaluation can still close it again.
func (g *Gate) EnableManual() {
	g.enabled.Store(true)
	g.stopAssigningNew.Store(false)
	g.mu.Lock()
	g.lastDisable = nil
	g.mu.Unlock()
	g.metrics.SetEnabledState(true)
}

// CanPublish is the fast-path check: should the producer attempt a
// publish right now?
func (g *Gate) CanPublish() bool { return g.enabled.Load() }

// CanAssignNew reports whether a not-yet-onboarded symbol may start
// publishing through the accelerator. Already-onboarded symbols keep
// publishing (if CanPublish) even when this is false.
func (g *Gate) CanAssignNew() bool {
	return g.enabled.Load() && !g.stopAssigningNew.Load()
}

// LastDisableReason returns the most recent reason the gate closed,
// if any.
func (g *Gate) LastDisableReason() (DisableReason, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastDisable == nil {
		return "", false
	}
	return *g.lastDisable, true
}

// ApplyHealth is called once per poll interval with the evaluated
// status; it is the only place the gate's state transitions happen
// outside the manual overrides.
func (g *Gate) ApplyHealth(status Status) {
	if status.OK {
		g.enabled.Store(true)
		g.stopAssigningNew.Store(false)
		g.mu.Lock()
		g.lastDisable = nil
		g.mu.Unlock()
		g.metrics.SetEnabledState(true)
		return
	}

	switch status.Reason {
	case ReasonDown:
		switch g.failover.OnDown {
		case DownPauseAndRetry:
			g.setDisabled(ReasonDown)
		default:
			g.setDisabled(ReasonDown)
		}
	case ReasonMaxMemory, ReasonMaxPending, ReasonSaturated:
		g.applySaturation(status.Reason)
	case ReasonLatency:
		g.setDisabled(ReasonLatency)
	case ReasonManual:
		g.setDisabled(ReasonManual)
	default:
		g.setDisabled(ReasonDown)
	}
}

// applySaturation keeps publishing enabled for already-onboarded
// symbols; only new-symbol assignment stops. The three saturation
// policies differ in intent (stop, error, spill to another node) but
// express identically at the gate: CanAssignNew becomes false.
func (g *Gate) applySaturation(reason DisableReason) {
	g.stopAssigningNew.Store(true)
	g.metrics.IncDisableEvent(reason)
}

func (g *Gate) setDisabled(reason DisableReason) {
	g.enabled.Store(false)
	g.stopAssigningNew.Store(true)
	g.mu.Lock()
	r := reason
	g.lastDisable = &r
	g.mu.Unlock()
	g.metrics.DisableWithReason(reason)
}
