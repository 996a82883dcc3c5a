package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphafeed/marketpipe/internal/domain"
)

const (
	qUpsertQuote = `INSERT INTO quotes (
    symbol, exchange, ts, open, high, low, close, volume, adjusted_close, indicators
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (symbol, ts) DO UPDATE SET
    exchange       = EXCLUDED.exchange,
    open           = EXCLUDED.open,
    high           = EXCLUDED.high,
    low            = EXCLUDED.low,
    close          = EXCLUDED.close,
    volume         = EXCLUDED.volume,
    adjusted_close = EXCLUDED.adjusted_close,
    indicators     = EXCLUDED.indicators;`

	qUpsertAnnouncement = `INSERT INTO announcements (
    id, symbol, title, category, published_at, url
) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
    symbol       = EXCLUDED.symbol,
    title        = EXCLUDED.title,
    category     = EXCLUDED.category,
    published_at = EXCLUDED.published_at,
    url          = EXCLUDED.url;`

	qUpsertFinancial = `INSERT INTO financials (
    symbol, period, report_date, revenue, net_income, eps, net_margin, industry
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (symbol, period) DO UPDATE SET
    report_date = EXCLUDED.report_date,
    revenue     = EXCLUDED.revenue,
    net_income  = EXCLUDED.net_income,
    eps         = EXCLUDED.eps,
    net_margin  = EXCLUDED.net_margin,
    industry    = EXCLUDED.industry;`

	qUpsertNews = `INSERT INTO news (
    id, title, source, published_at, symbols, industries, url
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
    title        = EXCLUDED.title,
    source       = EXCLUDED.source,
    published_at = EXCLUDED.published_at,
    symbols      = EXCLUDED.symbols,
    industries   = EXCLUDED.industries,
    url          = EXCLUDED.url;`

	qUpsertSentiment = `INSERT INTO sentiment (
    symbol, ts, score, magnitude, source, sample_size, rolling_avg
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (symbol, ts) DO UPDATE SET
    score       = EXCLUDED.score,
    magnitude   = EXCLUDED.magnitude,
    source      = EXCLUDED.source,
    sample_size = EXCLUDED.sample_size,
    rolling_avg = EXCLUDED.rolling_avg;`
)

// Postgres upserts normalized records into one table per domain. The pool
// bounds sink concurrency; every statement runs under a deadline so a hung
// database surfaces as a RetryableError instead of a stuck worker.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgres(pool *pgxpool.Pool, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{pool: pool, timeout: timeout}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Write(ctx context.Context, rec domain.Record) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var err error
	switch r := rec.(type) {
	case *domain.Quote:
		_, err = p.pool.Exec(ctx, qUpsertQuote,
			r.Symbol, r.Exchange, r.TS, r.Open, r.High, r.Low, r.Close,
			r.Volume, r.AdjustedClose, r.Indicators)
	case *domain.Announcement:
		_, err = p.pool.Exec(ctx, qUpsertAnnouncement,
			r.ID, r.Symbol, r.Title, r.Category, r.PublishedAt, r.URL)
	case *domain.Financial:
		_, err = p.pool.Exec(ctx, qUpsertFinancial,
			r.Symbol, r.Period, r.ReportDate, r.Revenue, r.NetIncome,
			r.EPS, r.NetMargin, r.Industry)
	case *domain.NewsItem:
		_, err = p.pool.Exec(ctx, qUpsertNews,
			r.ID, r.Title, r.Source, r.PublishedAt, r.Symbols, r.Industries, r.URL)
	case *domain.SentimentScore:
		_, err = p.pool.Exec(ctx, qUpsertSentiment,
			r.Symbol, r.TS, r.Score, r.Magnitude, r.Source, r.SampleSize, r.RollingAvg)
	default:
		return &FatalError{Sink: p.Name(), Err: fmt.Errorf("unsupported record type %T", rec)}
	}

	return classify(p.Name(), err)
}
