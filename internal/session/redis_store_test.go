package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "expiring", Principal{UserID: "user-456"}, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(3 * time.Second)

	if _, err := store.LookupRefreshSession(ctx, "expiring"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestRedisRoleDefaultsToViewer(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "no-role", Principal{UserID: "u"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	p, err := store.LookupRefreshSession(ctx, "no-role")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if p.Role != "viewer" {
		t.Errorf("expected viewer, got %q", p.Role)
	}
}

func TestRedisStoreBehaviour(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()
	runStoreBehaviour(t, store)
}

func TestMemoryStoreBehaviour(t *testing.T) {
	runStoreBehaviour(t, NewMemoryStore())
}

func runStoreBehaviour(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "token-1", Principal{UserID: "user-1", Role: "contributor", DeviceID: "dev-1"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession 1 failed: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "token-2", Principal{UserID: "user-2", Role: "moderator"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession 2 failed: %v", err)
	}

	p1, err := store.LookupRefreshSession(ctx, "token-1")
	if err != nil {
		t.Fatalf("Lookup token-1 failed: %v", err)
	}
	if p1.UserID != "user-1" || p1.Role != "contributor" || p1.DeviceID != "dev-1" {
		t.Errorf("unexpected principal %+v", p1)
	}

	if _, err := store.LookupRefreshSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke token-1 failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected revoked token-1 to be gone")
	}
	if err := store.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoking unknown token failed: %v", err)
	}

	p2, err := store.LookupRefreshSession(ctx, "token-2")
	if err != nil || p2.UserID != "user-2" {
		t.Errorf("token-2 should survive: %+v %v", p2, err)
	}
}
