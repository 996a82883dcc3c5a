package sink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
)

// RedisLatest keeps the newest record per topic key so the gateway can answer
// point queries without touching Postgres. Only the latest value matters, so
// a plain SET per record is already idempotent.
type RedisLatest struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisLatest(rdb *redis.Client, ttl time.Duration) *RedisLatest {
	return &RedisLatest{rdb: rdb, ttl: ttl, timeout: 2 * time.Second}
}

func (r *RedisLatest) Name() string { return "redis_latest" }

func latestKey(rec domain.Record) string {
	return "latest:" + rec.Topic()
}

func (r *RedisLatest) Write(ctx context.Context, rec domain.Record) error {
	data, err := jsoncodec.Marshal(rec)
	if err != nil {
		return &FatalError{Sink: r.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return classify(r.Name(), r.rdb.Set(ctx, latestKey(rec), data, r.ttl).Err())
}

// Latest fetches the most recent record payload for a topic, redis.Nil when
// nothing has been written yet.
func (r *RedisLatest) Latest(ctx context.Context, topic string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rdb.Get(ctx, "latest:"+topic).Bytes()
}
