package accelerator

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// StreamKind names the five canonical stream kinds published through
// the accelerator.
type StreamKind string

const (
	KindTrades       StreamKind = "trades"
	KindDepth        StreamKind = "depth"
	KindLiquidations StreamKind = "liquidations"
	KindFunding      StreamKind = "funding"
	KindOpenInterest StreamKind = "open_interest"
)

// KeyBuilder renders the configured `{exchange}`/`{symbol}`/`{kind}`
// key format into a concrete Redis stream key.
type KeyBuilder struct {
	format string
}

func NewKeyBuilder(format string) KeyBuilder {
	return KeyBuilder{format: format}
}

func (b KeyBuilder) Key(exchange, symbol string, kind StreamKind) string {
	r := strings.NewReplacer("{exchange}", exchange, "{symbol}", symbol, "{kind}", string(kind))
	return r.Replace(b.format)
}

// Publisher pushes normalized rows into the accelerator's stream
// sink. Every XADD round-trip runs through a circuit breaker so
// a degraded accelerator fails fast and reports into the latency
// tracker instead of blocking the writer path it accelerates.
type Publisher struct {
	client  *redis.Client
	keys    KeyBuilder
	breaker *gobreaker.CircuitBreaker
	latency *LatencyTracker
	maxLen  int64
}

func NewPublisher(client *redis.Client, keys KeyBuilder, latency *LatencyTracker, maxLen int64) *Publisher {
	settings := gobreaker.Settings{
		Name:        "accelerator-publish",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Publisher{
		client:  client,
		keys:    keys,
		breaker: gobreaker.NewCircuitBreaker(settings),
		latency: latency,
		maxLen:  maxLen,
	}
}

// Publish XADDs one row's field map onto the stream for
// (exchange, symbol, kind); the same command carries an approximate
// MAXLEN trim to maxLen. The publish latency is observed regardless of outcome so
// a wedged accelerator shows up in the next health evaluation.
func (p *Publisher) Publish(ctx context.Context, exchange, symbol string, kind StreamKind, fields map[string]any) error {
	key := p.keys.Key(exchange, symbol, kind)

	start := nowFunc()
	_, err := p.breaker.Execute(func() (any, error) {
		cmd := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: p.maxLen,
			Approx: true,
			Values: fields,
		})
		return nil, cmd.Err()
	})
	if p.latency != nil {
		p.latency.Observe(float64(nowFunc().Sub(start).Microseconds()) / 1000.0)
	}
	return err
}

// nowFunc is a package-level indirection so tests can stub elapsed
// time without depending on wall-clock timing.
var nowFunc = func() time.Time { return time.Now() }
