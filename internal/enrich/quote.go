package enrich

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/refdata"
)

// quotePayload is the collector-side quote schema.
type quotePayload struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TS       time.Time `json:"ts"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   uint64    `json:"volume"`
}

// QuoteProcessor validates OHLCV bars and enriches them with the adjusted
// close and recomputed rolling indicators. Indicator state is keyed by symbol
// and is order-sensitive; the partition worker feeds it sequentially.
type QuoteProcessor struct {
	provider refdata.Provider
	bounds   Bounds
	windows  IndicatorWindows

	mu     sync.Mutex
	series map[string]*symbolSeries
}

func NewQuoteProcessor(provider refdata.Provider, bounds Bounds, windows IndicatorWindows) *QuoteProcessor {
	return &QuoteProcessor{
		provider: provider,
		bounds:   bounds.withDefaults(),
		windows:  windows.withDefaults(),
		series:   make(map[string]*symbolSeries),
	}
}

func (p *QuoteProcessor) ProcessorDomain() domain.Domain { return domain.Quotes }

func (p *QuoteProcessor) Process(ctx context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error) {
	var payload quotePayload
	if err := jsoncodec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "quote payload: %v", err), nil
	}

	if entry := p.validate(env, &payload); entry != nil {
		return nil, entry, nil
	}

	// Adjustment factor as of the bar's business time. A miss quarantines the
	// record rather than defaulting to 1.0.
	factor, err := p.provider.Lookup(ctx, refdata.AdjustmentFactor, payload.Symbol, payload.TS)
	if err != nil {
		if errors.Is(err, refdata.ErrNotFound) {
			return nil, rejection(env, quarantine.StageEnrichment, "adjustment factor missing for %s", payload.Symbol), nil
		}
		return nil, nil, err
	}

	p.mu.Lock()
	s, ok := p.series[payload.Symbol]
	if !ok {
		s = newSymbolSeries(p.windows)
		p.series[payload.Symbol] = s
	}
	if !s.lastTS.IsZero() && !payload.TS.After(s.lastTS) {
		p.mu.Unlock()
		return nil, rejection(env, quarantine.StageValidation,
			"quote for %s at %s is not after last processed bar %s",
			payload.Symbol, payload.TS.Format(time.RFC3339), s.lastTS.Format(time.RFC3339)), nil
	}
	indicators := s.observe(payload.TS, payload.Close, payload.Volume)
	p.mu.Unlock()

	return &domain.Quote{
		Symbol:        payload.Symbol,
		Exchange:      payload.Exchange,
		TS:            payload.TS,
		Open:          payload.Open,
		High:          payload.High,
		Low:           payload.Low,
		Close:         payload.Close,
		Volume:        payload.Volume,
		AdjustedClose: roundTo(payload.Close*factor.Number, indicatorPrecision),
		Indicators:    indicators,
	}, nil, nil
}

func (p *QuoteProcessor) validate(env *envelope.Envelope, q *quotePayload) *quarantine.Entry {
	if q.Symbol == "" {
		return rejection(env, quarantine.StageValidation, "quote missing symbol")
	}
	if q.Exchange == "" {
		return rejection(env, quarantine.StageValidation, "quote missing exchange code")
	}
	if err := p.bounds.checkTimestamp(q.TS); err != nil {
		return rejection(env, quarantine.StageValidation, "quote %s: %v", q.Symbol, err)
	}
	for name, v := range map[string]float64{
		"open": q.Open, "high": q.High, "low": q.Low, "close": q.Close,
	} {
		if v < 0 {
			return rejection(env, quarantine.StageValidation, "quote %s: negative price %s=%v", q.Symbol, name, v)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rejection(env, quarantine.StageValidation, "quote %s: non-finite price %s", q.Symbol, name)
		}
	}
	if q.High < q.Low {
		return rejection(env, quarantine.StageValidation, "quote %s: high %v below low %v", q.Symbol, q.High, q.Low)
	}
	return nil
}
