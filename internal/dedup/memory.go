package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/alphafeed/marketpipe/internal/domain"
)

type memoryEntry struct {
	offset    string
	firstSeen time.Time
}

// Memory is an in-process Store used in tests and single-node runs. Expired
// entries are swept lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	window  time.Duration
	now     func() time.Time
}

// NewMemory creates a Memory store with the given retention window. A zero
// window disables expiry.
func NewMemory(window time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		window:  window,
		now:     time.Now,
	}
}

func (m *Memory) Seen(_ context.Context, d domain.Domain, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(d, hash)
	entry, ok := m.entries[k]
	if !ok {
		return false, nil
	}
	if m.expired(entry) {
		delete(m.entries, k)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkSeen(_ context.Context, d domain.Domain, hash, offset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key(d, hash)] = memoryEntry{offset: offset, firstSeen: m.now()}
	m.sweepLocked()
	return nil
}

func (m *Memory) expired(e memoryEntry) bool {
	return m.window > 0 && m.now().Sub(e.firstSeen) > m.window
}

func (m *Memory) sweepLocked() {
	if m.window <= 0 {
		return
	}
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
		}
	}
}
