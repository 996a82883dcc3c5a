package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/refdata"
)

type newsPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Symbols     []string  `json:"symbols"`
	URL         string    `json:"url"`
}

// NewsProcessor validates news articles and tags referenced symbols with
// their industry classification.
type NewsProcessor struct {
	provider refdata.Provider
	bounds   Bounds
}

func NewNewsProcessor(provider refdata.Provider, bounds Bounds) *NewsProcessor {
	return &NewsProcessor{provider: provider, bounds: bounds.withDefaults()}
}

func (p *NewsProcessor) ProcessorDomain() domain.Domain { return domain.News }

func (p *NewsProcessor) Process(ctx context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error) {
	var payload newsPayload
	if err := jsoncodec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "news payload: %v", err), nil
	}

	switch {
	case payload.ID == "":
		return nil, rejection(env, quarantine.StageValidation, "news item missing id"), nil
	case payload.Title == "":
		return nil, rejection(env, quarantine.StageValidation, "news %s missing title", payload.ID), nil
	case payload.Source == "":
		return nil, rejection(env, quarantine.StageValidation, "news %s missing source", payload.ID), nil
	}
	if err := p.bounds.checkTimestamp(payload.PublishedAt); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "news %s: %v", payload.ID, err), nil
	}

	symbols := dedupeStrings(payload.Symbols)
	industries := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		class, err := p.provider.Lookup(ctx, refdata.IndustryClass, symbol, payload.PublishedAt)
		if err != nil {
			if errors.Is(err, refdata.ErrNotFound) {
				return nil, rejection(env, quarantine.StageEnrichment, "industry classification missing for %s", symbol), nil
			}
			return nil, nil, err
		}
		industries = append(industries, class.Text)
	}

	return &domain.NewsItem{
		ID:          payload.ID,
		Title:       payload.Title,
		Source:      payload.Source,
		PublishedAt: payload.PublishedAt,
		Symbols:     symbols,
		Industries:  dedupeStrings(industries),
		URL:         payload.URL,
	}, nil, nil
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
