package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	metaSyncState = "sync_state"
	metaSession   = "session"
)

// Session is the signed-in principal as the client remembers it.
type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Role         string `json:"role"`
	DeviceID     string `json:"deviceId"`
}

func (s *Store) SyncState(ctx context.Context) (store.SyncState, error) {
	var state store.SyncState
	err := s.Get(ctx, BucketMeta, metaSyncState, &state)
	if errors.Is(err, ErrNotFound) {
		return store.SyncState{}, nil
	}
	return state, err
}

func (s *Store) SaveSyncState(ctx context.Context, state store.SyncState) error {
	return s.Put(ctx, BucketMeta, metaSyncState, state)
}

// Session returns the stored session; ok is false when signed out.
func (s *Store) Session(ctx context.Context) (Session, bool, error) {
	var sess Session
	err := s.Get(ctx, BucketMeta, metaSession, &sess)
	if errors.Is(err, ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	return s.Put(ctx, BucketMeta, metaSession, sess)
}

func (s *Store) ClearSession(ctx context.Context) error {
	return s.Delete(ctx, BucketMeta, metaSession)
}

// ApplyPull installs a pull response. Pulls carry the full live catalog, so
// cached records missing from it (deprecated upstream) are dropped. Draft
// statuses are merged and the cursor is saved in the same transaction.
func (s *Store) ApplyPull(ctx context.Context, pulled store.PullResponse) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.replaceCatalog(ctx, tx, pulled.Cards, pulled.Prints, pulled.Aliases, pulled.ImageFeatures, pulled.FeaturePacks, pulled.Claims); err != nil {
			return err
		}
		for _, st := range pulled.DraftStatuses {
			if err := s.put(ctx, tx, BucketDraftStatuses, st.DraftID, st); err != nil {
				return err
			}
		}
		return s.put(ctx, tx, BucketMeta, metaSyncState, pulled.SyncState)
	})
}

// ReplaceFromBundle swaps the whole cache for a snapshot bundle. Outboxes
// and the session are left alone.
func (s *Store) ReplaceFromBundle(ctx context.Context, bundle store.Bundle) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.replaceCatalog(ctx, tx, bundle.Cards, bundle.Prints, bundle.Aliases, bundle.ImageFeatures, bundle.FeaturePacks, bundle.Claims); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE bucket = ?`, string(BucketDraftStatuses)); err != nil {
			return fmt.Errorf("clear %s: %w", BucketDraftStatuses, err)
		}
		for _, st := range bundle.DraftStatuses {
			if err := s.put(ctx, tx, BucketDraftStatuses, st.DraftID, st); err != nil {
				return err
			}
		}
		return s.put(ctx, tx, BucketMeta, metaSyncState, bundle.SyncState)
	})
}

func (s *Store) replaceCatalog(ctx context.Context, tx *sql.Tx, cards []store.Card, prints []store.Print, aliases []store.Alias,
	features []store.ImageFeature, packs []store.FeaturePack, claims []store.Claim) error {
	for _, bucket := range cacheBuckets {
		if bucket == BucketDraftStatuses {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE bucket = ?`, string(bucket)); err != nil {
			return fmt.Errorf("clear %s: %w", bucket, err)
		}
	}
	for _, c := range cards {
		if err := s.put(ctx, tx, BucketCards, c.ID, c); err != nil {
			return err
		}
	}
	for _, p := range prints {
		if err := s.put(ctx, tx, BucketPrints, p.PrintID, p); err != nil {
			return err
		}
	}
	for _, a := range aliases {
		if err := s.put(ctx, tx, BucketAliases, a.AliasID, a); err != nil {
			return err
		}
	}
	for _, f := range features {
		if err := s.put(ctx, tx, BucketImageFeatures, f.FeatureID, f); err != nil {
			return err
		}
	}
	for _, p := range packs {
		if err := s.put(ctx, tx, BucketFeaturePacks, p.PackID, p); err != nil {
			return err
		}
	}
	for _, c := range claims {
		if err := s.put(ctx, tx, BucketClaims, c.ClaimID, c); err != nil {
			return err
		}
	}
	return nil
}

// Catalog is the cached canonical state the matcher runs against.
type Catalog struct {
	Cards    []store.Card
	Prints   []store.Print
	Aliases  []store.Alias
	Features []store.ImageFeature
}

func (s *Store) Catalog(ctx context.Context) (Catalog, error) {
	var (
		out Catalog
		err error
	)
	if out.Cards, err = ListJSON[store.Card](ctx, s, BucketCards); err != nil {
		return Catalog{}, err
	}
	if out.Prints, err = ListJSON[store.Print](ctx, s, BucketPrints); err != nil {
		return Catalog{}, err
	}
	if out.Aliases, err = ListJSON[store.Alias](ctx, s, BucketAliases); err != nil {
		return Catalog{}, err
	}
	if out.Features, err = ListJSON[store.ImageFeature](ctx, s, BucketImageFeatures); err != nil {
		return Catalog{}, err
	}
	return out, nil
}

// DraftStatuses returns cached draft statuses, most recently updated first.
func (s *Store) DraftStatuses(ctx context.Context) ([]store.DraftStatusCache, error) {
	out, err := ListJSON[store.DraftStatusCache](ctx, s, BucketDraftStatuses)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
