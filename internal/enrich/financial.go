package enrich

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/refdata"
)

type financialPayload struct {
	Symbol     string    `json:"symbol"`
	Period     string    `json:"period"`
	ReportDate time.Time `json:"report_date"`
	Revenue    float64   `json:"revenue"`
	NetIncome  float64   `json:"net_income"`
	EPS        float64   `json:"eps"`
}

var periodPattern = regexp.MustCompile(`^\d{4}(Q[1-4]|H[12]|FY)$`)

// FinancialProcessor validates periodic reports and enriches them with the
// issuer's industry classification and derived margin.
type FinancialProcessor struct {
	provider refdata.Provider
	bounds   Bounds
}

func NewFinancialProcessor(provider refdata.Provider, bounds Bounds) *FinancialProcessor {
	b := bounds.withDefaults()
	// Filings arrive long after the period closes; the quote staleness bound
	// would reject almost everything.
	if b.Staleness < 366*24*time.Hour {
		b.Staleness = 366 * 24 * time.Hour
	}
	return &FinancialProcessor{provider: provider, bounds: b}
}

func (p *FinancialProcessor) ProcessorDomain() domain.Domain { return domain.Financials }

func (p *FinancialProcessor) Process(ctx context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error) {
	var payload financialPayload
	if err := jsoncodec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "financial payload: %v", err), nil
	}

	switch {
	case payload.Symbol == "":
		return nil, rejection(env, quarantine.StageValidation, "financial report missing symbol"), nil
	case !periodPattern.MatchString(payload.Period):
		return nil, rejection(env, quarantine.StageValidation, "financial %s: invalid period %q", payload.Symbol, payload.Period), nil
	case payload.Revenue < 0:
		return nil, rejection(env, quarantine.StageValidation, "financial %s %s: negative revenue", payload.Symbol, payload.Period), nil
	}
	if err := p.bounds.checkTimestamp(payload.ReportDate); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "financial %s: %v", payload.Symbol, err), nil
	}

	industry, err := p.provider.Lookup(ctx, refdata.IndustryClass, payload.Symbol, payload.ReportDate)
	if err != nil {
		if errors.Is(err, refdata.ErrNotFound) {
			return nil, rejection(env, quarantine.StageEnrichment, "industry classification missing for %s", payload.Symbol), nil
		}
		return nil, nil, err
	}

	margin := 0.0
	if payload.Revenue > 0 {
		margin = roundTo(payload.NetIncome/payload.Revenue, indicatorPrecision)
	}

	return &domain.Financial{
		Symbol:     payload.Symbol,
		Period:     payload.Period,
		ReportDate: payload.ReportDate,
		Revenue:    payload.Revenue,
		NetIncome:  payload.NetIncome,
		EPS:        payload.EPS,
		NetMargin:  margin,
		Industry:   industry.Text,
	}, nil, nil
}
