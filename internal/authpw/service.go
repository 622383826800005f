// Package authpw provides username/password and guest authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/util"
)

const minPasswordLength = 8

var ErrInvalidCredentials = errors.New("invalid username or password")

// AccountStore defines the storage interface for credential accounts.
type AccountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (store.Account, error)
	CreateAccount(ctx context.Context, account store.Account) error
}

// Service provides password and guest authentication.
type Service struct {
	store AccountStore
	cost  int
	now   func() time.Time
}

func NewService(accounts AccountStore) *Service {
	return &Service{store: accounts, cost: bcrypt.DefaultCost, now: time.Now}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Username    string
	Password    string
	DisplayName string
	Role        string
}

// SignUp creates a credential account. New accounts are contributors
// unless a role is given.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.Account{}, errors.New("username and password are required")
	}
	if len(req.Password) < minPasswordLength {
		return store.Account{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = "contributor"
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	account := store.Account{
		UserID:       util.NewID("u"),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn checks a username/password pair.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.Account, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return store.Account{}, ErrInvalidCredentials
	}
	account, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Account{}, ErrInvalidCredentials
		}
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

// Guest returns a fresh, unpersisted guest principal.
func (s *Service) Guest() store.Account {
	return store.Account{
		UserID:      util.NewID("guest"),
		Username:    "guest",
		DisplayName: "Guest",
		Role:        "guest",
		CreatedAt:   s.now(),
	}
}

// EnsureAccount creates the account unless the username is taken. It is
// used to provision seed accounts on startup.
func (s *Service) EnsureAccount(ctx context.Context, req SignUpRequest) (store.Account, bool, error) {
	if existing, err := s.store.GetAccountByUsername(ctx, req.Username); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, false, err
	}
	account, err := s.SignUp(ctx, req)
	if err != nil {
		return store.Account{}, false, err
	}
	return account, true, nil
}
