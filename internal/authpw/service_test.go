package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/psinetreject/card-scanner/internal/store"
)

// mockAccountStore is a mock implementation of AccountStore for testing
type mockAccountStore struct {
	byUsername map[string]store.Account
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{byUsername: make(map[string]store.Account)}
}

func (m *mockAccountStore) GetAccountByUsername(ctx context.Context, username string) (store.Account, error) {
	if a, ok := m.byUsername[strings.ToLower(username)]; ok {
		return a, nil
	}
	return store.Account{}, store.ErrNotFound
}

func (m *mockAccountStore) CreateAccount(ctx context.Context, account store.Account) error {
	key := strings.ToLower(account.Username)
	if _, ok := m.byUsername[key]; ok {
		return store.ErrExists
	}
	m.byUsername[key] = account
	return nil
}

func newTestService() *Service {
	svc := NewService(newMockAccountStore())
	svc.cost = bcrypt.MinCost
	return svc
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	t.Run("successful sign up", func(t *testing.T) {
		account, err := svc.SignUp(ctx, SignUpRequest{Username: "avery", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if account.UserID == "" {
			t.Error("expected UserID to be set")
		}
		if account.Role != "contributor" {
			t.Errorf("expected default role contributor, got %s", account.Role)
		}
		if account.DisplayName != "avery" {
			t.Errorf("expected display name to default to username, got %s", account.DisplayName)
		}
		if account.PasswordHash == "password123" {
			t.Error("password must be hashed")
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Username: "Avery", Password: "password123"})
		if !errors.Is(err, store.ErrExists) {
			t.Errorf("expected ErrExists, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Username: "jo", Password: "short"}); err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	if _, err := svc.SignUp(ctx, SignUpRequest{Username: "mod", Password: "password123", Role: "moderator"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		account, err := svc.SignIn(ctx, "mod", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if account.Role != "moderator" {
			t.Errorf("expected moderator, got %s", account.Role)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "mod", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestGuest(t *testing.T) {
	svc := newTestService()
	a := svc.Guest()
	b := svc.Guest()
	if a.Role != "guest" || a.UserID == b.UserID {
		t.Fatalf("unexpected guests: %+v %+v", a, b)
	}
}

func TestEnsureAccount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	req := SignUpRequest{Username: "admin", Password: "change-me-admin", Role: "admin"}

	first, created, err := svc.EnsureAccount(ctx, req)
	if err != nil || !created {
		t.Fatalf("first EnsureAccount = %v, %v", created, err)
	}
	second, created, err := svc.EnsureAccount(ctx, req)
	if err != nil || created {
		t.Fatalf("second EnsureAccount = %v, %v", created, err)
	}
	if first.UserID != second.UserID {
		t.Fatal("EnsureAccount must not replace an existing account")
	}
}
