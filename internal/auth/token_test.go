package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:    "user-1",
		Name:   "Avery",
		Role:   "contributor",
		Device: "device-1",
		JTI:    "jti-1",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Role != "contributor" || claims.Device != "device-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "contributor",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Hour)
	token, _, err := signer.Issue("user-1", "Avery", "contributor", "device-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewSigner([]byte("other"), time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Parse() with wrong secret error = %v", err)
	}
	if _, err := signer.Parse(token + ".x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Parse() with extra segment error = %v", err)
	}
	if _, err := signer.Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Parse() garbage error = %v", err)
	}
}

func TestSignerExpiry(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return start }

	token, claims, err := signer.Issue("user-1", "Avery", "admin", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if claims.Exp != start.Add(time.Minute).Unix() {
		t.Fatalf("Exp = %d", claims.Exp)
	}
	if _, err := signer.Parse(token); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	signer.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := signer.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Parse() after expiry error = %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(NewRefreshToken()) != 64 {
		t.Fatal("refresh token should be 64 hex chars")
	}
}
