package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphafeed/marketpipe/internal/domain"
)

var ErrNotFound = errors.New("gateway: not found")

// QuoteStore serves the REST read path.
type QuoteStore interface {
	// Latest returns the most recent quote for a symbol.
	Latest(ctx context.Context, symbol string) (*domain.Quote, error)
	// History returns up to limit quotes strictly older than before, newest
	// first.
	History(ctx context.Context, symbol string, before time.Time, limit int) ([]*domain.Quote, error)
}

const (
	qSelectLatest = `SELECT symbol, exchange, ts, open, high, low, close, volume, adjusted_close, indicators
FROM quotes WHERE symbol = $1 ORDER BY ts DESC LIMIT 1;`

	qSelectHistory = `SELECT symbol, exchange, ts, open, high, low, close, volume, adjusted_close, indicators
FROM quotes WHERE symbol = $1 AND ts < $2 ORDER BY ts DESC LIMIT $3;`
)

// PostgresQuotes reads normalized quotes back out of the sink tables.
type PostgresQuotes struct {
	pool *pgxpool.Pool
}

func NewPostgresQuotes(pool *pgxpool.Pool) *PostgresQuotes {
	return &PostgresQuotes{pool: pool}
}

func (s *PostgresQuotes) Latest(ctx context.Context, symbol string) (*domain.Quote, error) {
	row := s.pool.QueryRow(ctx, qSelectLatest, symbol)
	q, err := scanQuote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (s *PostgresQuotes) History(ctx context.Context, symbol string, before time.Time, limit int) ([]*domain.Quote, error) {
	rows, err := s.pool.Query(ctx, qSelectHistory, symbol, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQuote(row pgx.Row) (*domain.Quote, error) {
	var q domain.Quote
	err := row.Scan(&q.Symbol, &q.Exchange, &q.TS, &q.Open, &q.High, &q.Low,
		&q.Close, &q.Volume, &q.AdjustedClose, &q.Indicators)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Cursor tokens encode the timestamp of the last row a page returned. Opaque
// to clients; a missing token means "from now".
func encodeCursor(ts time.Time) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ts.UTC().Format(time.RFC3339Nano)))
}

func decodeCursor(token string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return ts, nil
}
