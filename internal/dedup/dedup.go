// Package dedup tracks payload identity so the pipeline never reprocesses a
// record it has already seen within the retention window. Keys are
// (domain, payload hash); the consumer group is the only writer.
package dedup

import (
	"context"

	"github.com/alphafeed/marketpipe/internal/domain"
)

// Store is the shared deduplication service. Implementations must serialise
// concurrent access to the same key; partition workers operate on disjoint
// key ranges but share one store instance with the rest of the process.
type Store interface {
	// Seen reports whether the (domain, hash) pair was marked inside the
	// retention window.
	Seen(ctx context.Context, d domain.Domain, hash string) (bool, error)

	// MarkSeen records the pair together with the consumer offset that first
	// produced it. Entries expire after the retention window; expiry outside
	// the window is an accepted tradeoff, never inside it.
	MarkSeen(ctx context.Context, d domain.Domain, hash, offset string) error
}

func key(d domain.Domain, hash string) string {
	return "dedup:" + string(d) + ":" + hash
}
