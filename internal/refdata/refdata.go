// Package refdata exposes the read-only reference-data interface enrichment
// depends on: price adjustment factors and industry classification. The
// authoritative provider is an external service; Static backs tests and
// bootstrap runs.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind names a reference-data table.
type Kind string

const (
	// AdjustmentFactor is the cumulative split/dividend adjustment factor per
	// symbol, effective as of a date.
	AdjustmentFactor Kind = "adjustment_factor"

	// IndustryClass maps a symbol to its industry classification code.
	IndustryClass Kind = "industry_class"
)

// ErrNotFound is returned when no value exists for (kind, key) as of the given
// time. Enrichment treats a miss as a quarantine condition, never a default.
var ErrNotFound = errors.New("refdata: not found")

// Value is a single reference-data observation.
type Value struct {
	Number      float64
	Text        string
	EffectiveAt time.Time
}

// Provider is the narrow lookup interface the enrichers call. Lookups are
// expected to answer with the newest value whose EffectiveAt is not after
// asOf.
type Provider interface {
	Lookup(ctx context.Context, kind Kind, key string, asOf time.Time) (Value, error)
}

// Static is an immutable-after-load in-memory Provider.
type Static struct {
	mu     sync.RWMutex
	series map[string][]Value // kind/key -> values sorted by EffectiveAt
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{series: make(map[string][]Value)}
}

// Put registers a value for (kind, key). Values may be added in any order.
func (s *Static) Put(kind Kind, key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := seriesKey(kind, key)
	s.series[k] = append(s.series[k], v)
	sort.Slice(s.series[k], func(i, j int) bool {
		return s.series[k][i].EffectiveAt.Before(s.series[k][j].EffectiveAt)
	})
}

func (s *Static) Lookup(_ context.Context, kind Kind, key string, asOf time.Time) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.series[seriesKey(kind, key)]
	if !ok || len(values) == 0 {
		return Value{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, key)
	}

	// Newest value effective at or before asOf.
	idx := sort.Search(len(values), func(i int) bool {
		return values[i].EffectiveAt.After(asOf)
	})
	if idx == 0 {
		return Value{}, fmt.Errorf("%w: %s/%s as of %s", ErrNotFound, kind, key, asOf.Format(time.RFC3339))
	}
	return values[idx-1], nil
}

func seriesKey(kind Kind, key string) string {
	return string(kind) + "/" + key
}
