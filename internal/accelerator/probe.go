package accelerator

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisProbe implements Probe against a real go-redis client. Pending
// backlog is app-defined: the sum of XLEN across a caller-supplied
// set of stream keys (the aggregate streams, not a full key scan).
type RedisProbe struct {
	client     *redis.Client
	streamKeys func() []string
}

func NewRedisProbe(client *redis.Client, streamKeys func() []string) *RedisProbe {
	return &RedisProbe{client: client, streamKeys: streamKeys}
}

func (p *RedisProbe) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisProbe) MemoryInfo(ctx context.Context) (uint64, *uint64, *float64, error) {
	info, err := p.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, nil, nil, err
	}
	used := parseInfoUint(info, "used_memory:")
	max := parseInfoUint(info, "maxmemory:")

	var maxPtr *uint64
	var pct *float64
	if max > 0 {
		maxPtr = &max
		usedPct := float64(used) / float64(max) * 100
		pct = &usedPct
	}
	return used, maxPtr, pct, nil
}

func (p *RedisProbe) PendingTotal(ctx context.Context) (uint64, error) {
	if p.streamKeys == nil {
		return 0, nil
	}
	var total uint64
	for _, key := range p.streamKeys() {
		n, err := p.client.XLen(ctx, key).Result()
		if err != nil {
			continue
		}
		total += uint64(n)
	}
	return total, nil
}

func parseInfoUint(info, field string) uint64 {
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, field) {
			v, err := strconv.ParseUint(strings.TrimPrefix(line, field), 10, 64)
			if err == nil {
				return v
			}
		}
	}
	return 0
}
