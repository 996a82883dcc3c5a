package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphafeed/marketpipe/internal/domain"
)

// Redis is the production Store: all partition workers and the gateway share
// one keyspace, and TTL handles retention server-side.
type Redis struct {
	rdb    *redis.Client
	window time.Duration
}

// NewRedis wraps an existing client. The retention window becomes the key TTL.
func NewRedis(rdb *redis.Client, window time.Duration) *Redis {
	return &Redis{rdb: rdb, window: window}
}

func (r *Redis) Seen(ctx context.Context, d domain.Domain, hash string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key(d, hash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) MarkSeen(ctx context.Context, d domain.Domain, hash, offset string) error {
	return r.rdb.Set(ctx, key(d, hash), offset, r.window).Err()
}
