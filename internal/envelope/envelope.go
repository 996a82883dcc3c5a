// Package envelope defines the wire format raw ingested records arrive in and
// the schema checks applied before any further processing. Everything in this
// package is a pure function over bytes; side effects belong to the pipeline.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
)

const (
	// CurrentVersion is the envelope schema version this consumer was built
	// against.
	CurrentVersion uint32 = 2

	// MaxCompatibleVersion is the newest producer version accepted. Versions
	// in (CurrentVersion, MaxCompatibleVersion] may only add optional fields,
	// which the JSON decoder ignores. Anything newer is quarantined.
	MaxCompatibleVersion uint32 = 3
)

// Envelope is a raw ingested record as published by the collectors. The core
// consumes it read-only.
type Envelope struct {
	Source      string          `json:"source"`
	Domain      domain.Domain   `json:"domain"`
	Version     uint32          `json:"version"`
	IngestTS    time.Time       `json:"ingest_ts"`
	PayloadHash string          `json:"payload_hash"`
	Payload     json.RawMessage `json:"payload"`
}

// Decode parses a wire envelope. Malformed input yields a *DecodeError; such
// records are dropped and counted, never retried.
func Decode(b []byte) (*Envelope, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	var env Envelope
	if err := jsoncodec.Unmarshal(b, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	return &env, nil
}

// Encode serialises an envelope for the raw topics. Used by tests and replay
// tooling; collectors own production encoding.
func Encode(env *Envelope) ([]byte, error) {
	return jsoncodec.Marshal(env)
}

// ComputeHash returns the canonical 128-bit content digest of a payload,
// hex encoded. Collectors compute the same digest; ValidateSchema compares.
func ComputeHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// ValidateSchema checks structural validity of a decoded envelope. It returns
// nil when the envelope may proceed to deduplication, otherwise a *SchemaError
// describing why the record belongs in quarantine.
func (e *Envelope) ValidateSchema() *SchemaError {
	var missing []string
	if e.Source == "" {
		missing = append(missing, "source")
	}
	if e.Domain == "" {
		missing = append(missing, "domain")
	}
	if e.PayloadHash == "" {
		missing = append(missing, "payload_hash")
	}
	if len(e.Payload) == 0 {
		missing = append(missing, "payload")
	}
	if e.IngestTS.IsZero() {
		missing = append(missing, "ingest_ts")
	}

	var mismatches []string
	if e.Domain != "" && !e.Domain.Valid() {
		mismatches = append(mismatches, "domain: unknown value "+string(e.Domain))
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		mismatches = append(mismatches, "payload: not a JSON document")
	}
	if e.PayloadHash != "" && len(e.Payload) > 0 && json.Valid(e.Payload) {
		if got := ComputeHash(e.Payload); got != e.PayloadHash {
			mismatches = append(mismatches, "payload_hash: digest mismatch")
		}
	}

	unknownVersion := e.Version > MaxCompatibleVersion

	if len(missing) == 0 && len(mismatches) == 0 && !unknownVersion {
		return nil
	}
	return &SchemaError{
		MissingFields:  missing,
		TypeMismatches: mismatches,
		UnknownVersion: unknownVersion,
		Version:        e.Version,
	}
}
