package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps refresh sessions in process memory with expiry.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(defaultTTL, 10*time.Minute)}
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash string, p Principal, expiresAt time.Time) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.cache.Set(tokenHash, p, ttlUntil(expiresAt))
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (Principal, error) {
	v, ok := s.cache.Get(tokenHash)
	if !ok {
		return Principal{}, ErrNotFound
	}
	return v.(Principal), nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.cache.Delete(tokenHash)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
