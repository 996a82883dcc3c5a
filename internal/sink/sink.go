// Package sink persists normalized records. Writers are idempotent under
// redelivery: every upsert is keyed by the record's natural key, so double
// applying a batch leaves identical stored state.
package sink

import (
	"context"

	"github.com/alphafeed/marketpipe/internal/domain"
)

// Writer is one persistence adapter per storage target. Write returns nil,
// a *RetryableError, or a *FatalError; any other error is treated as fatal.
type Writer interface {
	Name() string
	Write(ctx context.Context, rec domain.Record) error
}

// BlobArchiver archives raw envelope payloads to object storage before they
// are reshaped by enrichment.
type BlobArchiver interface {
	AppendRawBlob(ctx context.Context, d domain.Domain, hash string, payload []byte) error
}

// Multi fans a record out to several writers sequentially and stops at the
// first failure so the caller can retry the whole set; every writer is
// idempotent, so partial application is safe.
type Multi struct {
	writers []Writer
}

func NewMulti(writers ...Writer) *Multi {
	return &Multi{writers: writers}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Write(ctx context.Context, rec domain.Record) error {
	for _, w := range m.writers {
		if err := w.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
