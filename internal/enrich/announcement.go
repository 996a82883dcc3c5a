package enrich

import (
	"context"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/quarantine"
)

type announcementPayload struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// AnnouncementProcessor validates corporate disclosure notices. Announcements
// carry their own category; there is no enrichment beyond normalization.
type AnnouncementProcessor struct {
	bounds Bounds
}

func NewAnnouncementProcessor(bounds Bounds) *AnnouncementProcessor {
	return &AnnouncementProcessor{bounds: bounds.withDefaults()}
}

func (p *AnnouncementProcessor) ProcessorDomain() domain.Domain { return domain.Announcements }

func (p *AnnouncementProcessor) Process(_ context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error) {
	var payload announcementPayload
	if err := jsoncodec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "announcement payload: %v", err), nil
	}

	switch {
	case payload.ID == "":
		return nil, rejection(env, quarantine.StageValidation, "announcement missing id"), nil
	case payload.Symbol == "":
		return nil, rejection(env, quarantine.StageValidation, "announcement %s missing symbol", payload.ID), nil
	case payload.Title == "":
		return nil, rejection(env, quarantine.StageValidation, "announcement %s missing title", payload.ID), nil
	}
	if err := p.bounds.checkTimestamp(payload.PublishedAt); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "announcement %s: %v", payload.ID, err), nil
	}

	category := payload.Category
	if category == "" {
		category = "general"
	}

	return &domain.Announcement{
		ID:          payload.ID,
		Symbol:      payload.Symbol,
		Title:       payload.Title,
		Category:    category,
		PublishedAt: payload.PublishedAt,
		URL:         payload.URL,
	}, nil, nil
}
