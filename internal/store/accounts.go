package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrExists = errors.New("already exists")

// AccountRepo stores credential accounts on top of a Store.
type AccountRepo struct {
	store Store
}

func NewAccountRepo(s Store) *AccountRepo {
	return &AccountRepo{store: s}
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID string) (Account, error) {
	return GetJSON[Account](ctx, r.store, KindAccount, userID)
}

// GetAccountByUsername matches usernames case-insensitively.
func (r *AccountRepo) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	accounts, err := ListJSON[Account](ctx, r.store, KindAccount)
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Username, strings.TrimSpace(username)) {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("account %q: %w", username, ErrNotFound)
}

func (r *AccountRepo) CreateAccount(ctx context.Context, account Account) error {
	if _, err := r.GetAccountByUsername(ctx, account.Username); err == nil {
		return fmt.Errorf("account %q: %w", account.Username, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return PutJSON(ctx, r.store, KindAccount, account.UserID, account)
}
