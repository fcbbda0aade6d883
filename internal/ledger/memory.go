package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Ledger for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

// Lookup returns a copy of the entry for fingerprint.
func (m *Memory) Lookup(_ context.Context, fingerprint string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Upsert stores entry, keeping the original CreatedAt.
func (m *Memory) Upsert(_ context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return &Error{Op: "upsert", Fingerprint: entry.Fingerprint, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if prev, ok := m.entries[entry.Fingerprint]; ok {
		entry.CreatedAt = prev.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	m.entries[entry.Fingerprint] = entry
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// List returns entries with the given status (all when empty), oldest first.
func (m *Memory) List(_ context.Context, status Status) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// Delete removes the entry for fingerprint.
func (m *Memory) Delete(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fingerprint]; !ok {
		return &Error{Op: "delete", Fingerprint: fingerprint, Err: ErrNotFound}
	}
	delete(m.entries, fingerprint)
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
