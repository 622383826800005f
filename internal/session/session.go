// Package session provides refresh-session storage backends.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

const defaultTTL = 30 * 24 * time.Hour

// Principal is what a refresh session resolves to.
type Principal struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	DeviceID    string    `json:"device_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps refresh sessions keyed by token hash.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, p Principal, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (Principal, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
	Close() error
}

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}
