package quarantine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphafeed/marketpipe/internal/jsoncodec"
)

const qInsertEntry = `INSERT INTO quarantine (
    id, domain, source, payload_hash, envelope, stage, reason, first_seen_ts
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING;`

// Postgres persists quarantine entries for later reconciliation. The table is
// append-only from the pipeline's point of view; the audit tooling deletes.
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

func (p *Postgres) Put(ctx context.Context, e *Entry) error {
	raw, err := jsoncodec.Marshal(e.Envelope)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.pool.Exec(ctx, qInsertEntry,
		e.ID,
		string(e.Envelope.Domain),
		e.Envelope.Source,
		e.Envelope.PayloadHash,
		raw,
		string(e.Stage),
		e.Reason,
		e.FirstSeenTS,
	)
	return err
}
