package accelerator

import "time"

// DisableReason names why the gate considers the accelerator
// unhealthy or manually suspended; values double as metric labels.
type DisableReason string

const (
	ReasonDown       DisableReason = "down"
	ReasonMaxMemory  DisableReason = "max_memory"
	ReasonMaxPending DisableReason = "max_pending"
	ReasonLatency    DisableReason = "latency"
	ReasonManual     DisableReason = "manual"
	ReasonSaturated  DisableReason = "saturated"
)

// Snapshot is one point-in-time measurement of the accelerator sink;
// the poller fills connectivity/memory/backlog, the latency tracker
// fills P99CmdMS. Unmeasured fields stay nil and never trigger a
// health rule.
type Snapshot struct {
	At time.Time

	IsUp      bool
	PingRTTMS *float64

	UsedMemoryBytes *uint64
	MaxMemoryBytes  *uint64
	UsedMemoryPct   *float64

	PendingTotal *uint64

	P99CmdMS *float64
}

func DownSnapshot(at time.Time) Snapshot {
	return Snapshot{At: at, IsUp: false}
}

// Status is the evaluated verdict: safe to use right now or not, and
// if not, why.
type Status struct {
	OK       bool
	Reason   DisableReason
	Snapshot Snapshot
}

func Healthy(snapshot Snapshot) Status {
	return Status{OK: true, Snapshot: snapshot}
}

func Unhealthy(reason DisableReason, snapshot Snapshot) Status {
	return Status{OK: false, Reason: reason, Snapshot: snapshot}
}

// CapacityConfig holds the thresholds the evaluator checks against.
type CapacityConfig struct {
	PollInterval  time.Duration
	MaxMemoryPct  float64
	MaxPending    uint64
	MaxP99CmdMS   float64
	LatencyWindow int
}

// Evaluator turns a raw Snapshot into a Status using a fixed,
// first-match-wins rule order: connectivity, then memory, then
// backlog, then latency. A rule whose input is unmeasured (nil)
// never fires.
type Evaluator struct {
	cap CapacityConfig
}

func NewEvaluator(cap CapacityConfig) *Evaluator { return &Evaluator{cap: cap} }

func (e *Evaluator) Evaluate(snap Snapshot) Status {
	if !snap.IsUp {
		return Unhealthy(ReasonDown, snap)
	}
	if snap.UsedMemoryPct != nil && *snap.UsedMemoryPct > e.cap.MaxMemoryPct {
		return Unhealthy(ReasonMaxMemory, snap)
	}
	if snap.PendingTotal != nil && *snap.PendingTotal > e.cap.MaxPending {
		return Unhealthy(ReasonMaxPending, snap)
	}
	if snap.P99CmdMS != nil && *snap.P99CmdMS > e.cap.MaxP99CmdMS {
		return Unhealthy(ReasonLatency, snap)
	}
	return Healthy(snap)
}
