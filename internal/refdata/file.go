package refdata

import (
	"fmt"
	"os"
	"time"

	"github.com/alphafeed/marketpipe/internal/jsoncodec"
)

// fileEntry is one row of the reference-data file.
type fileEntry struct {
	Kind        Kind      `json:"kind"`
	Key         string    `json:"key"`
	Number      float64   `json:"number"`
	Text        string    `json:"text"`
	EffectiveAt time.Time `json:"effective_at"`
}

// LoadFile reads a JSON array of reference-data entries into a Static
// provider. The file is the bootstrap source for deployments without the
// reference-data service; entries for the same (kind, key) may appear in any
// order.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}

	var entries []fileEntry
	if err := jsoncodec.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("refdata: parse %s: %w", path, err)
	}

	s := NewStatic()
	for i, e := range entries {
		switch e.Kind {
		case AdjustmentFactor, IndustryClass:
		default:
			return nil, fmt.Errorf("refdata: %s entry %d: unknown kind %q", path, i, e.Kind)
		}
		if e.Key == "" {
			return nil, fmt.Errorf("refdata: %s entry %d: key is required", path, i)
		}
		if e.EffectiveAt.IsZero() {
			return nil, fmt.Errorf("refdata: %s entry %d: effective_at is required", path, i)
		}
		s.Put(e.Kind, e.Key, Value{Number: e.Number, Text: e.Text, EffectiveAt: e.EffectiveAt})
	}
	return s, nil
}
