package accelerator

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Probe is the minimal set of round-trips the poller needs; the
// concrete implementation wraps a go-redis client.
type Probe interface {
	Ping(ctx context.Context) error
	MemoryInfo(ctx context.Context) (usedBytes uint64, maxBytes *uint64, usedPct *float64, err error)
	PendingTotal(ctx context.Context) (uint64, error)
}

// Poller measures Probe on a fixed interval; it never decides
// healthy/unhealthy itself, that is the Evaluator's job. Every
// round-trip runs through a circuit breaker so a wedged accelerator
// fails fast instead of stalling the poll loop on dial timeouts.
type Poller struct {
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker
}

func NewPoller(cap CapacityConfig, name string) *Poller {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cap.PollInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Poller{interval: cap.PollInterval, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *Poller) Interval() time.Duration { return p.interval }

// PollOnce probes connectivity, memory, and backlog; p99CmdMS is
// supplied by the caller's latency tracker, not measured here. Any
// round-trip failure after connectivity succeeds is best-effort:
// the corresponding snapshot field is left nil rather than failing
// the whole poll.
func (p *Poller) PollOnce(ctx context.Context, probe Probe, p99CmdMS *float64) Snapshot {
	at := time.Now().UTC()

	t0 := time.Now()
	_, pingErr := p.breaker.Execute(func() (any, error) {
		return nil, probe.Ping(ctx)
	})
	if pingErr != nil {
		return Snapshot{At: at, IsUp: false, P99CmdMS: p99CmdMS}
	}
	rtt := time.Since(t0).Seconds() * 1000
	pingRTT := rtt

	snap := Snapshot{At: at, IsUp: true, PingRTTMS: &pingRTT, P99CmdMS: p99CmdMS}

	if v, err := p.breaker.Execute(func() (any, error) {
		used, maxB, pct, merr := probe.MemoryInfo(ctx)
		if merr != nil {
			return nil, merr
		}
		return memInfo{used, maxB, pct}, nil
	}); err == nil {
		mi := v.(memInfo)
		snap.UsedMemoryBytes = &mi.used
		snap.MaxMemoryBytes = mi.max
		snap.UsedMemoryPct = mi.pct
	}

	if v, err := p.breaker.Execute(func() (any, error) {
		return probe.PendingTotal(ctx)
	}); err == nil {
		pending := v.(uint64)
		snap.PendingTotal = &pending
	}

	return snap
}

type memInfo struct {
	used uint64
	max  *uint64
	pct  *float64
}
