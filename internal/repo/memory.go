package repo

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used for tests and throwaway sessions.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]Record
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		history: make(map[string][]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) RunMigrations(context.Context, fs.FS) error { return nil }

// Load returns a copy of the record stored under name.
func (m *MemoryStore) Load(_ context.Context, name string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[name]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, nil
}

// SaveRecords checks every version before writing anything.
func (m *MemoryStore) SaveRecords(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		current := m.records[rec.Name].Version
		if current != rec.Version {
			return fmt.Errorf("save record %s at version %d: %w", rec.Name, rec.Version, ErrVersionConflict)
		}
	}

	now := m.now()
	for _, rec := range records {
		stored := Record{
			Name:      rec.Name,
			Payload:   append([]byte(nil), rec.Payload...),
			Version:   rec.Version + 1,
			UpdatedAt: now,
		}
		m.records[rec.Name] = stored
		m.history[rec.Name] = append(m.history[rec.Name], stored)
	}
	return nil
}

// History returns the latest stored versions of name.
func (m *MemoryStore) History(_ context.Context, name string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.history[name]
	out := make([]Record, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
