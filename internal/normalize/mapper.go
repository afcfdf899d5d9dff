package normalize

import (
	"fmt"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
)

// MapCtx carries the shared, read-mostly collaborators every mapper
// needs: the instrument registry for unit conversion, a clock for
// tests, and the process-wide fixed-point scales.
type MapCtx struct {
	Registry *instrument.Registry
	Now      func() time.Time
	Scales   instrument.Scales
}

func (c MapCtx) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Mapper converts one raw venue payload into canonical rows of a
// single kind. A malformed single entry inside a batch payload is
// dropped (counted by the caller); a malformed envelope (channel
// mismatch, missing data) returns an error that propagates.
type Mapper interface {
	Exchange() string
	Map(ctx MapCtx, kind StreamKind, raw []byte) (Rows, int, error)
}

// Registry dispatches raw payloads to the mapper registered for an
// exchange.
type Registry struct {
	mappers map[string]Mapper
}

func NewRegistry(mappers ...Mapper) *Registry {
	r := &Registry{mappers: make(map[string]Mapper, len(mappers))}
	for _, m := range mappers {
		r.mappers[m.Exchange()] = m
	}
	return r
}

func (r *Registry) Map(ctx MapCtx, exchange string, kind StreamKind, raw []byte) (Rows, int, error) {
	m, ok := r.mappers[exchange]
	if !ok {
		return Rows{}, 0, apperr.New(apperr.KindDecode, "Registry.Map", fmt.Errorf("no mapper registered for exchange %q", exchange))
	}
	return m.Map(ctx, kind, raw)
}

// msToTime converts venue millisecond timestamps to UTC nanosecond
// time by zero-extending, never rounding up.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
