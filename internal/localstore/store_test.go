package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psinetreject/card-scanner/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "local", "cardscan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, BucketCards, "c2", store.Card{ID: "c2", Name: "Blue-Eyes White Dragon", Type: "Monster"}))
	require.NoError(t, s.Put(ctx, BucketCards, "c1", store.Card{ID: "c1", Name: "Dark Magician", Type: "Monster"}))
	require.NoError(t, s.Put(ctx, BucketCards, "c1", store.Card{ID: "c1", Name: "Dark Magician", Type: "Monster", Version: 2}))

	var card store.Card
	require.NoError(t, s.Get(ctx, BucketCards, "c1", &card))
	assert.Equal(t, 2, card.Version)

	cards, err := ListJSON[store.Card](ctx, s, BucketCards)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "c1", cards[0].ID)

	require.NoError(t, s.Delete(ctx, BucketCards, "c1"))
	err = s.Get(ctx, BucketCards, "c1", &card)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Count(ctx, BucketCards)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cardscan.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, Session{Token: "t", UserID: "u1", Role: "contributor"}))
	require.NoError(t, s.SaveSyncState(ctx, store.SyncState{LastCardsVersion: 4}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	sess, ok, err := s.Session(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", sess.UserID)

	state, err := s.SyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, state.LastCardsVersion)

	require.NoError(t, s.ClearSession(ctx))
	_, ok, err = s.Session(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyPullReplacesCatalogAndMergesDraftStatuses(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, BucketCards, "gone", store.Card{ID: "gone", Name: "Deprecated", Type: "Spell"}))
	require.NoError(t, s.Put(ctx, BucketDraftStatuses, "u1-old", store.DraftStatusCache{DraftID: "u1-old", Status: store.DraftRejected}))

	now := time.Now().UTC()
	require.NoError(t, s.ApplyPull(ctx, store.PullResponse{
		Cards:         []store.Card{{ID: "c1", Name: "Dark Magician", Type: "Monster", Version: 3}},
		Prints:        []store.Print{{PrintID: "p1", CardID: "c1", SetCode: "LOB-EN005"}},
		Aliases:       []store.Alias{{AliasID: "a1", CardID: "c1", AliasText: "Black Magician"}},
		DraftStatuses: []store.DraftStatusCache{{DraftID: "u1-new", Status: store.DraftPublished, UpdatedAt: now}},
		SyncState:     store.SyncState{LastSyncAt: &now, LastCardsVersion: 3},
	}))

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog.Cards, 1)
	assert.Equal(t, "c1", catalog.Cards[0].ID)
	assert.Len(t, catalog.Prints, 1)
	assert.Len(t, catalog.Aliases, 1)

	statuses, err := s.DraftStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "u1-new", statuses[0].DraftID)

	state, err := s.SyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, state.LastCardsVersion)
}

func TestReplaceFromBundleKeepsOutbox(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveProposal(ctx, store.OutboxProposal{LocalProposalID: "lp1", Status: store.OutboxQueued}))
	require.NoError(t, s.Put(ctx, BucketDraftStatuses, "stale", store.DraftStatusCache{DraftID: "stale"}))

	require.NoError(t, s.ReplaceFromBundle(ctx, store.Bundle{
		Cards: []store.Card{{ID: "c3", Name: "Pot of Greed", Type: "Spell"}},
	}))

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog.Cards, 1)

	statuses, err := s.DraftStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	proposals, err := s.Proposals(ctx)
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestOutboxOrderingAndCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveObservation(ctx, store.OutboxObservation{LocalObservationID: "b", CreatedAt: base, Status: store.OutboxQueued}))
	require.NoError(t, s.SaveObservation(ctx, store.OutboxObservation{LocalObservationID: "a", CreatedAt: base.Add(time.Minute), Status: store.OutboxFailed}))
	require.NoError(t, s.SaveDraft(ctx, store.OutboxDraft{LocalDraftID: "d", CreatedAt: base, Status: store.OutboxSent}))

	observations, err := s.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, observations, 2)
	assert.Equal(t, "b", observations[0].LocalObservationID)

	counts, err := s.OutboxCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Observations[store.OutboxQueued])
	assert.Equal(t, 1, counts.Observations[store.OutboxFailed])
	assert.Equal(t, 1, counts.Drafts[store.OutboxSent])
	assert.Empty(t, counts.Proposals)
}
