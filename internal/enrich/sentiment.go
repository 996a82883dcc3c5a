package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/quarantine"
)

type sentimentPayload struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Score      float64   `json:"score"`
	Magnitude  float64   `json:"magnitude"`
	Source     string    `json:"source"`
	SampleSize int       `json:"sample_size"`
}

// sentimentWindow is the number of observations the rolling average covers.
const sentimentWindow = 20

// SentimentProcessor validates sentiment observations and maintains a
// per-symbol rolling average score.
type SentimentProcessor struct {
	bounds Bounds

	mu     sync.Mutex
	recent map[string][]float64
}

func NewSentimentProcessor(bounds Bounds) *SentimentProcessor {
	return &SentimentProcessor{
		bounds: bounds.withDefaults(),
		recent: make(map[string][]float64),
	}
}

func (p *SentimentProcessor) ProcessorDomain() domain.Domain { return domain.Sentiment }

func (p *SentimentProcessor) Process(_ context.Context, env *envelope.Envelope) (domain.Record, *quarantine.Entry, error) {
	var payload sentimentPayload
	if err := jsoncodec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "sentiment payload: %v", err), nil
	}

	switch {
	case payload.Symbol == "":
		return nil, rejection(env, quarantine.StageValidation, "sentiment missing symbol"), nil
	case payload.Score < -1 || payload.Score > 1:
		return nil, rejection(env, quarantine.StageValidation, "sentiment %s: score %v outside [-1,1]", payload.Symbol, payload.Score), nil
	case payload.SampleSize <= 0:
		return nil, rejection(env, quarantine.StageValidation, "sentiment %s: sample size %d", payload.Symbol, payload.SampleSize), nil
	}
	if err := p.bounds.checkTimestamp(payload.TS); err != nil {
		return nil, rejection(env, quarantine.StageValidation, "sentiment %s: %v", payload.Symbol, err), nil
	}

	p.mu.Lock()
	window := append(p.recent[payload.Symbol], payload.Score)
	if len(window) > sentimentWindow {
		window = window[len(window)-sentimentWindow:]
	}
	p.recent[payload.Symbol] = window
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	avg := roundTo(sum/float64(len(window)), indicatorPrecision)
	p.mu.Unlock()

	return &domain.SentimentScore{
		Symbol:     payload.Symbol,
		TS:         payload.TS,
		Score:      payload.Score,
		Magnitude:  payload.Magnitude,
		Source:     payload.Source,
		SampleSize: payload.SampleSize,
		RollingAvg: avg,
	}, nil, nil
}
