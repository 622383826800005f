package localstore

import (
	"context"
	"sort"
	"time"

	"github.com/psinetreject/card-scanner/internal/store"
)

func (s *Store) SaveProposal(ctx context.Context, p store.OutboxProposal) error {
	return s.Put(ctx, BucketOutboxProposals, p.LocalProposalID, p)
}

func (s *Store) SaveObservation(ctx context.Context, ob store.OutboxObservation) error {
	return s.Put(ctx, BucketOutboxObservations, ob.LocalObservationID, ob)
}

func (s *Store) SaveDraft(ctx context.Context, d store.OutboxDraft) error {
	return s.Put(ctx, BucketOutboxDrafts, d.LocalDraftID, d)
}

// Proposals lists the proposal outbox oldest first.
func (s *Store) Proposals(ctx context.Context) ([]store.OutboxProposal, error) {
	out, err := ListJSON[store.OutboxProposal](ctx, s, BucketOutboxProposals)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(out, func(p store.OutboxProposal) (time.Time, string) { return p.CreatedAt, p.LocalProposalID })
	return out, nil
}

func (s *Store) Observations(ctx context.Context) ([]store.OutboxObservation, error) {
	out, err := ListJSON[store.OutboxObservation](ctx, s, BucketOutboxObservations)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(out, func(ob store.OutboxObservation) (time.Time, string) { return ob.CreatedAt, ob.LocalObservationID })
	return out, nil
}

func (s *Store) Drafts(ctx context.Context) ([]store.OutboxDraft, error) {
	out, err := ListJSON[store.OutboxDraft](ctx, s, BucketOutboxDrafts)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(out, func(d store.OutboxDraft) (time.Time, string) { return d.CreatedAt, d.LocalDraftID })
	return out, nil
}

// OutboxCounts tallies each outbox by status.
type OutboxCounts struct {
	Proposals    map[store.OutboxStatus]int `json:"proposals"`
	Observations map[store.OutboxStatus]int `json:"observations"`
	Drafts       map[store.OutboxStatus]int `json:"drafts"`
}

func (s *Store) OutboxCounts(ctx context.Context) (OutboxCounts, error) {
	counts := OutboxCounts{
		Proposals:    map[store.OutboxStatus]int{},
		Observations: map[store.OutboxStatus]int{},
		Drafts:       map[store.OutboxStatus]int{},
	}
	proposals, err := s.Proposals(ctx)
	if err != nil {
		return counts, err
	}
	for _, p := range proposals {
		counts.Proposals[p.Status]++
	}
	observations, err := s.Observations(ctx)
	if err != nil {
		return counts, err
	}
	for _, ob := range observations {
		counts.Observations[ob.Status]++
	}
	drafts, err := s.Drafts(ctx)
	if err != nil {
		return counts, err
	}
	for _, d := range drafts {
		counts.Drafts[d.Status]++
	}
	return counts, nil
}

func sortOldestFirst[T any](items []T, key func(T) (time.Time, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}
