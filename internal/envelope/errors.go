package envelope

import (
	"fmt"
	"strings"
)

// DecodeError marks an envelope that could not be parsed at all. Decode
// failures are terminal: the record is counted and dropped, never quarantined,
// because there is nothing well-formed to hold.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope decode: %s: %v", e.Reason, e.Err)
	}
	return "envelope decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaError marks a structurally invalid envelope. Such records are routed
// to quarantine with the full failure description.
type SchemaError struct {
	MissingFields  []string
	TypeMismatches []string
	UnknownVersion bool
	Version        uint32
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.TypeMismatches) > 0 {
		parts = append(parts, "type mismatches: "+strings.Join(e.TypeMismatches, "; "))
	}
	if e.UnknownVersion {
		parts = append(parts, fmt.Sprintf("unknown schema version %d", e.Version))
	}
	if len(parts) == 0 {
		return "envelope schema: invalid"
	}
	return "envelope schema: " + strings.Join(parts, "; ")
}
