package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps batch records in a map. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*BatchRecord
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*BatchRecord)}
}

// Save inserts or replaces a record.
func (m *MemoryBackend) Save(ctx context.Context, rec *BatchRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.ID] = clone(rec)
	return nil
}

// Load returns a copy of the record with the given id.
func (m *MemoryBackend) Load(ctx context.Context, id string) (*BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

// List returns matching records, newest first.
func (m *MemoryBackend) List(ctx context.Context, filter Filter) ([]*BatchRecord, error) {
	m.mu.RLock()
	out := make([]*BatchRecord, 0, len(m.records))
	for _, rec := range m.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, clone(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes a record.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// Cleanup removes settled records older than olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, rec := range m.records {
		if rec.Status == StatusSettled && rec.UpdatedAt.Before(olderThan) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// Size returns the number of stored records.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func clone(rec *BatchRecord) *BatchRecord {
	c := *rec
	c.Secrets = append([]string(nil), rec.Secrets...)
	return &c
}
