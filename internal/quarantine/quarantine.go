// Package quarantine holds records that failed schema or validation checks.
// Entries are durable and never silently dropped; removal is an explicit
// audit action outside this pipeline.
package quarantine

import (
	"context"
	"time"

	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/ids"
)

// Entry is one quarantined record with its failure reason.
type Entry struct {
	ID          string             `json:"id"`
	Envelope    *envelope.Envelope `json:"envelope"`
	Reason      string             `json:"reason"`
	Stage       Stage              `json:"stage"`
	FirstSeenTS time.Time          `json:"first_seen_ts"`
}

// Stage records which pipeline stage rejected the envelope.
type Stage string

const (
	StageSchema     Stage = "schema"
	StageValidation Stage = "validation"
	StageEnrichment Stage = "enrichment"
)

// NewEntry builds an entry for a failed envelope.
func NewEntry(env *envelope.Envelope, stage Stage, reason string) *Entry {
	return &Entry{
		ID:          ids.New(),
		Envelope:    env,
		Reason:      reason,
		Stage:       stage,
		FirstSeenTS: time.Now().UTC(),
	}
}

// Store persists quarantine entries. A Put must succeed before the pipeline
// acknowledges the offending message, otherwise the record would be lost.
type Store interface {
	Put(ctx context.Context, e *Entry) error
}
