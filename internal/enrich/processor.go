// Package enrich turns schema-checked envelopes into normalized records. Each
// domain has its own processor implementing validation and deterministic
// enrichment; records that fail either step are routed to quarantine with the
// failure reason, never silently dropped.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/refdata"
)

// Processor is the per-domain validate+enrich capability. Process returns
// exactly one of:
//   - a normalized record,
//   - a quarantine entry (validation/enrichment rejection),
//   - an error (infrastructure failure such as a reference-data timeout,
//     retryable by the caller).
type Processor interface {
	ProcessorDomain() domain.Domain
	Process(ctx context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error)
}

// Bounds holds the timestamp acceptance policy shared by all processors.
type Bounds struct {
	// ClockSkewTolerance is how far into the future a record timestamp may be.
	ClockSkewTolerance time.Duration
	// Staleness is the per-domain maximum age of a record at processing time.
	Staleness time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

func (b Bounds) withDefaults() Bounds {
	if b.ClockSkewTolerance <= 0 {
		b.ClockSkewTolerance = 5 * time.Minute
	}
	if b.Staleness <= 0 {
		b.Staleness = 72 * time.Hour
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	return b
}

// checkTimestamp rejects future-dated records beyond the skew tolerance and
// records older than the staleness bound.
func (b Bounds) checkTimestamp(ts time.Time) error {
	if ts.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	now := b.Now()
	if ts.After(now.Add(b.ClockSkewTolerance)) {
		return fmt.Errorf("timestamp %s is future-dated beyond skew tolerance", ts.Format(time.RFC3339))
	}
	if now.Sub(ts) > b.Staleness {
		return fmt.Errorf("timestamp %s exceeds staleness bound", ts.Format(time.RFC3339))
	}
	return nil
}

// Registry maps domains to processors; the worker selects by the envelope's
// explicit domain field.
type Registry struct {
	processors map[domain.Domain]Processor
}

func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[domain.Domain]Processor, len(processors))}
	for _, p := range processors {
		r.processors[p.ProcessorDomain()] = p
	}
	return r
}

// For returns the processor registered for d.
func (r *Registry) For(d domain.Domain) (Processor, bool) {
	p, ok := r.processors[d]
	return p, ok
}

// DefaultRegistry wires all five domain processors against one reference-data
// provider with shared bounds.
func DefaultRegistry(provider refdata.Provider, bounds Bounds, windows IndicatorWindows) *Registry {
	return NewRegistry(
		NewQuoteProcessor(provider, bounds, windows),
		NewAnnouncementProcessor(bounds),
		NewFinancialProcessor(provider, bounds),
		NewNewsProcessor(provider, bounds),
		NewSentimentProcessor(bounds),
	)
}

func rejection(env *envelope.Envelope, stage quarantine.Stage, format string, args ...any) *quarantine.Entry {
	return quarantine.NewEntry(env, stage, fmt.Sprintf(format, args...))
}
