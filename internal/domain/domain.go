// Package domain defines the normalized, typed records the pipeline produces
// and the market-data domains it partitions work by.
package domain

import (
	"fmt"
	"time"
)

// Domain identifies one of the independently consumed market-data streams.
type Domain string

const (
	Quotes        Domain = "quotes"
	Announcements Domain = "announcements"
	Financials    Domain = "financials"
	News          Domain = "news"
	Sentiment     Domain = "sentiment"
)

// All lists every known domain in stable order.
func All() []Domain {
	return []Domain{Quotes, Announcements, Financials, News, Sentiment}
}

// Valid reports whether d names a known domain.
func (d Domain) Valid() bool {
	switch d {
	case Quotes, Announcements, Financials, News, Sentiment:
		return true
	}
	return false
}

// InboundTopic is the raw log topic the collectors publish the domain to.
func (d Domain) InboundTopic() string { return "raw_" + string(d) }

// OutboundTopic is the normalized republish topic for downstream consumers.
func (d Domain) OutboundTopic() string { return "normalized_" + string(d) }

// Record is a validated, enriched, domain-typed output record.
type Record interface {
	// RecordDomain returns the domain the record belongs to.
	RecordDomain() Domain
	// Key is the natural identity of the record, the sink upsert key.
	Key() string
	// Topic is the publication bus topic, e.g. "quotes.600000".
	Topic() string
	// Timestamp is the business time of the record.
	Timestamp() time.Time
}

// Quote is an OHLCV bar enriched with the adjusted close and recomputed
// indicators. Indicators are derived in the pipeline, never trusted upstream.
type Quote struct {
	Symbol        string             `json:"symbol"`
	Exchange      string             `json:"exchange"`
	TS            time.Time          `json:"ts"`
	Open          float64            `json:"open"`
	High          float64            `json:"high"`
	Low           float64            `json:"low"`
	Close         float64            `json:"close"`
	Volume        uint64             `json:"volume"`
	AdjustedClose float64            `json:"adjusted_close"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
}

func (q *Quote) RecordDomain() Domain { return Quotes }
func (q *Quote) Key() string          { return fmt.Sprintf("%s@%d", q.Symbol, q.TS.UnixMilli()) }
func (q *Quote) Topic() string        { return "quotes." + q.Symbol }
func (q *Quote) Timestamp() time.Time { return q.TS }

// Announcement is a corporate disclosure notice.
type Announcement struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url,omitempty"`
}

func (a *Announcement) RecordDomain() Domain { return Announcements }
func (a *Announcement) Key() string          { return a.ID }
func (a *Announcement) Topic() string        { return "announcements." + a.Symbol }
func (a *Announcement) Timestamp() time.Time { return a.PublishedAt }

// Financial is a periodic financial report enriched with the issuer's
// industry classification and derived ratios.
type Financial struct {
	Symbol     string    `json:"symbol"`
	Period     string    `json:"period"` // e.g. "2025Q2"
	ReportDate time.Time `json:"report_date"`
	Revenue    float64   `json:"revenue"`
	NetIncome  float64   `json:"net_income"`
	EPS        float64   `json:"eps"`
	NetMargin  float64   `json:"net_margin"`
	Industry   string    `json:"industry"`
}

func (f *Financial) RecordDomain() Domain { return Financials }
func (f *Financial) Key() string          { return f.Symbol + "@" + f.Period }
func (f *Financial) Topic() string        { return "financials." + f.Symbol }
func (f *Financial) Timestamp() time.Time { return f.ReportDate }

// NewsItem is a market news article referencing zero or more symbols.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Symbols     []string  `json:"symbols,omitempty"`
	Industries  []string  `json:"industries,omitempty"`
	URL         string    `json:"url,omitempty"`
}

func (n *NewsItem) RecordDomain() Domain { return News }
func (n *NewsItem) Key() string          { return n.ID }

// Topic publishes news under the first referenced symbol; untargeted articles
// go to the shared "news.market" stream.
func (n *NewsItem) Topic() string {
	if len(n.Symbols) > 0 {
		return "news." + n.Symbols[0]
	}
	return "news.market"
}
func (n *NewsItem) Timestamp() time.Time { return n.PublishedAt }

// SentimentScore is an aggregated sentiment observation for one symbol.
type SentimentScore struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Score      float64   `json:"score"` // [-1, 1]
	Magnitude  float64   `json:"magnitude"`
	Source     string    `json:"source"`
	SampleSize int       `json:"sample_size"`
	RollingAvg float64   `json:"rolling_avg"`
}

func (s *SentimentScore) RecordDomain() Domain { return Sentiment }
func (s *SentimentScore) Key() string          { return fmt.Sprintf("%s@%d", s.Symbol, s.TS.UnixMilli()) }
func (s *SentimentScore) Topic() string        { return "sentiment." + s.Symbol }
func (s *SentimentScore) Timestamp() time.Time { return s.TS }
