package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-process deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Kind]map[string][]byte
	audit   []AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Kind]map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, kind Kind, id string, data []byte) error {
	if id == "" {
		return fmt.Errorf("put %s: empty id", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.entries[kind]
	if !ok {
		bucket = make(map[string][]byte)
		s.entries[kind] = bucket
	}
	bucket[id] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind Kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) List(_ context.Context, kind Kind) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.entries[kind]
	out := make([]Entry, 0, len(bucket))
	for id, data := range bucket {
		out = append(out, Entry{ID: id, Data: append([]byte(nil), data...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, filter AuditFilter) ([]AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditLogEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if !filter.matches(s.audit[i]) {
			continue
		}
		out = append(out, s.audit[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
