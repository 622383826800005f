package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/psinetreject/card-scanner/internal/consensus"
	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/trust"
	"github.com/psinetreject/card-scanner/internal/util"
)

const autoAcceptNote = "auto-accepted by consensus policy"

type recomputeOutcome int

const (
	outcomeNone recomputeOutcome = iota
	outcomeOpen
	outcomeAccepted
	outcomeSuperseded
)

// RecomputeSummary reports a full consensus recompute.
type RecomputeSummary struct {
	Groups       int `json:"groups"`
	Open         int `json:"open"`
	AutoAccepted int `json:"autoAccepted"`
	Superseded   int `json:"superseded"`
}

// recomputeLocked rebuilds the open claim of one (target, field) from the
// active observations created after the tuple's last resolution, and
// applies it when the auto-accept policy holds. Caller holds mu.
func (s *Service) recomputeLocked(ctx context.Context, key consensus.Key) (recomputeOutcome, error) {
	var (
		open   *store.Claim
		cutoff time.Time
	)
	for _, id := range sortedMapKeys(s.claims) {
		c := s.claims[id]
		if c.TargetType != key.TargetType || c.TargetID != key.TargetID || c.FieldPath != key.FieldPath {
			continue
		}
		if c.Status == store.ClaimOpen {
			if open == nil {
				claim := c
				open = &claim
			}
			continue
		}
		if c.ResolvedAt != nil && c.ResolvedAt.After(cutoff) {
			cutoff = *c.ResolvedAt
		}
	}

	evidence := s.evidenceLocked(key, cutoff)
	tally, ok := consensus.Compute(evidence, s.reputation)
	now := s.now()
	if !ok {
		if open == nil {
			return outcomeNone, nil
		}
		open.Status = store.ClaimSuperseded
		open.ResolvedAt = &now
		open.ResolvedBy = systemActorID
		open.LastComputedAt = now
		if err := s.saveClaim(ctx, *open); err != nil {
			return outcomeNone, err
		}
		return outcomeSuperseded, s.audit(ctx, store.AuditLogEntry{
			Action:      store.AuditClaimSuperseded,
			ActorUserID: systemActorID,
			ActorRole:   systemActor.Role,
			Entity:      store.EntityClaim,
			EntityID:    open.ClaimID,
			Notes:       "no active evidence remains",
		})
	}

	if open == nil {
		open = &store.Claim{
			ClaimID:    util.NewID("claim"),
			CreatedAt:  now,
			TargetType: key.TargetType,
			TargetID:   key.TargetID,
			FieldPath:  key.FieldPath,
			Status:     store.ClaimOpen,
		}
	}
	tally.Apply(open)
	open.LastComputedAt = now
	if err := s.saveClaim(ctx, *open); err != nil {
		return outcomeNone, err
	}
	if !s.policy.ShouldAutoAccept(open.ConsensusScore, open.ConsensusCount, open.DisagreementCount) {
		return outcomeOpen, nil
	}
	if _, err := s.acceptClaimLocked(ctx, *open, systemActor, autoAcceptNote); err != nil {
		return outcomeOpen, err
	}
	s.logger.Info("claim auto-accepted",
		"claim_id", open.ClaimID,
		"target_id", open.TargetID,
		"field", open.FieldPath,
		"score", open.ConsensusScore,
		"count", open.ConsensusCount,
	)
	return outcomeAccepted, nil
}

func (s *Service) evidenceLocked(key consensus.Key, after time.Time) []store.Observation {
	var out []store.Observation
	for _, ob := range s.observations {
		if consensus.KeyOf(ob) != key || ob.Status != store.ObservationActive {
			continue
		}
		if !after.IsZero() && !ob.CreatedAt.After(after) {
			continue
		}
		out = append(out, ob)
	}
	sortObservations(out)
	return out
}

func (s *Service) reputation(principalID string) float64 {
	return s.trust.Reputation(principalID, consensus.DefaultReputation)
}

func (s *Service) saveClaim(ctx context.Context, claim store.Claim) error {
	if err := s.put(ctx, store.KindClaim, claim.ClaimID, claim); err != nil {
		return err
	}
	s.claims[claim.ClaimID] = claim
	return nil
}

// acceptClaimLocked writes the claim's value into its target record as a
// new version and resolves the claim.
func (s *Service) acceptClaimLocked(ctx context.Context, claim store.Claim, actor Session, notes string) (store.Claim, error) {
	field, err := fields.Lookup(claim.FieldPath)
	if err != nil {
		return claim, asDomain(&fields.ValidationError{Problems: []string{err.Error()}})
	}
	now := s.now()
	meta := store.ConsensusMeta{
		ConsensusScore:    claim.ConsensusScore,
		ConsensusCount:    claim.ConsensusCount,
		DisagreementCount: claim.DisagreementCount,
		LastComputedAt:    now,
	}
	message := fmt.Sprintf("claim %s: %s", claim.ClaimID, claim.FieldPath)

	var oldValue, newValue any
	switch claim.TargetType {
	case store.TargetCard:
		card, ok := s.cards[claim.TargetID]
		if !ok {
			return claim, notFound("card", claim.TargetID)
		}
		oldValue = field.GetCard(card)
		if err := field.ApplyCard(&card, claim.ProposedValue); err != nil {
			return claim, asDomain(err)
		}
		if err := fields.ValidateCard(card); err != nil {
			return claim, asDomain(err)
		}
		newValue = field.GetCard(card)
		card.Version++
		card.UpdatedAt = now
		if card.Consensus == nil {
			card.Consensus = make(map[string]store.ConsensusMeta)
		}
		card.Consensus[claim.FieldPath] = meta
		if err := s.saveCard(ctx, card, actor, message); err != nil {
			return claim, err
		}
	case store.TargetPrint:
		pr, ok := s.prints[claim.TargetID]
		if !ok {
			return claim, notFound("print", claim.TargetID)
		}
		oldValue = field.GetPrint(pr)
		if err := field.ApplyPrint(&pr, claim.ProposedValue); err != nil {
			return claim, asDomain(err)
		}
		if err := fields.ValidatePrint(pr); err != nil {
			return claim, asDomain(err)
		}
		newValue = field.GetPrint(pr)
		pr.Version++
		pr.UpdatedAt = now
		if pr.Consensus == nil {
			pr.Consensus = make(map[string]store.ConsensusMeta)
		}
		pr.Consensus[claim.FieldPath] = meta
		if err := s.savePrint(ctx, pr, actor, message); err != nil {
			return claim, err
		}
	default:
		return claim, validationError(fmt.Sprintf("unsupported claim target %q", claim.TargetType), nil)
	}

	claim.Status = store.ClaimAccepted
	claim.ResolvedAt = &now
	claim.ResolvedBy = actor.UserID
	if err := s.saveClaim(ctx, claim); err != nil {
		return claim, err
	}
	s.recordClaimPrincipals(ctx, claim, trust.OutcomeAccepted)
	err = s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditClaimAccepted,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.Entity(claim.TargetType),
		EntityID:    claim.TargetID,
		Diff: store.ProposalDiff{
			Entity:    store.Entity(claim.TargetType),
			EntityID:  claim.TargetID,
			OldValues: map[string]any{field.Key: oldValue},
			NewValues: map[string]any{field.Key: newValue},
		},
		Notes: notes,
	})
	return claim, err
}

// recordClaimPrincipals credits each distinct principal behind the claim's
// leading value once.
func (s *Service) recordClaimPrincipals(ctx context.Context, claim store.Claim, outcome trust.Outcome) {
	seen := make(map[string]bool)
	for _, id := range claim.GeneratedFrom {
		ob, ok := s.observations[id]
		if !ok || seen[ob.PrincipalID] {
			continue
		}
		seen[ob.PrincipalID] = true
		s.recordTrust(ctx, ob.PrincipalID, outcome)
	}
}

// ClaimFilter narrows ListClaims. An empty status lists open claims.
type ClaimFilter struct {
	Status store.ClaimStatus
	Limit  int
}

// ListClaims returns claims ordered by consensus score, strongest first.
func (s *Service) ListClaims(_ context.Context, actor Session, filter ClaimFilter) ([]store.Claim, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	status := filter.Status
	if status == "" {
		status = store.ClaimOpen
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Claim, 0)
	for _, c := range s.claims {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsensusScore != out[j].ConsensusScore {
			return out[i].ConsensusScore > out[j].ConsensusScore
		}
		return out[i].ClaimID < out[j].ClaimID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SetClaimStatus resolves an open claim by hand.
func (s *Service) SetClaimStatus(ctx context.Context, actor Session, claimID string, status store.ClaimStatus, notes string) (store.Claim, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.Claim{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[claimID]
	if !ok {
		return store.Claim{}, notFound("claim", claimID)
	}
	if claim.Status != store.ClaimOpen {
		return store.Claim{}, conflict(fmt.Sprintf("claim %s is already %s", claimID, claim.Status))
	}

	var action store.AuditAction
	switch status {
	case store.ClaimAccepted:
		return s.acceptClaimLocked(ctx, claim, actor, notes)
	case store.ClaimRejected:
		action = store.AuditClaimRejected
	case store.ClaimSuperseded:
		action = store.AuditClaimSuperseded
	default:
		return store.Claim{}, validationError(fmt.Sprintf("unsupported claim status %q", status), nil)
	}

	now := s.now()
	claim.Status = status
	claim.ResolvedAt = &now
	claim.ResolvedBy = actor.UserID
	if err := s.saveClaim(ctx, claim); err != nil {
		return store.Claim{}, err
	}
	if status == store.ClaimRejected {
		s.recordClaimPrincipals(ctx, claim, trust.OutcomeRejected)
	}
	err := s.audit(ctx, store.AuditLogEntry{
		Action:      action,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityClaim,
		EntityID:    claim.ClaimID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityClaim,
			EntityID:  claim.ClaimID,
			OldValues: map[string]any{"status": store.ClaimOpen},
			NewValues: map[string]any{"status": status},
		},
		Notes: notes,
	})
	return claim, err
}

// ClaimObservations lists every observation of the claim's (target, field),
// oldest first.
func (s *Service) ClaimObservations(_ context.Context, actor Session, claimID string) ([]store.Observation, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, ok := s.claims[claimID]
	if !ok {
		return nil, notFound("claim", claimID)
	}
	key := consensus.Key{TargetType: claim.TargetType, TargetID: claim.TargetID, FieldPath: claim.FieldPath}
	out := make([]store.Observation, 0)
	for _, ob := range s.observations {
		if consensus.KeyOf(ob) == key {
			out = append(out, ob)
		}
	}
	sortObservations(out)
	return out, nil
}

// SetObservationStatus withdraws, flags as spam or reinstates an
// observation and recomputes its claim.
func (s *Service) SetObservationStatus(ctx context.Context, actor Session, observationID string, status store.ObservationStatus, notes string) (store.Observation, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.Observation{}, err
	}
	switch status {
	case store.ObservationActive, store.ObservationWithdrawn, store.ObservationSpam:
	default:
		return store.Observation{}, validationError(fmt.Sprintf("unsupported observation status %q", status), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.observations[observationID]
	if !ok {
		return store.Observation{}, notFound("observation", observationID)
	}
	previous := ob.Status
	if previous == status {
		return ob, nil
	}
	ob.Status = status
	if err := s.put(ctx, store.KindObservation, ob.ObservationID, ob); err != nil {
		return store.Observation{}, err
	}
	s.observations[ob.ObservationID] = ob
	if status == store.ObservationSpam {
		s.recordTrust(ctx, ob.PrincipalID, trust.OutcomeSpam)
	}
	if err := s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditObservation,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityObservation,
		EntityID:    ob.ObservationID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityObservation,
			EntityID:  ob.ObservationID,
			OldValues: map[string]any{"status": previous},
			NewValues: map[string]any{"status": status},
		},
		Notes: notes,
	}); err != nil {
		return store.Observation{}, err
	}
	if _, err := s.recomputeLocked(ctx, consensus.KeyOf(ob)); err != nil {
		return ob, err
	}
	return ob, nil
}

// RecomputeAll recomputes every (target, field) that has observations.
func (s *Service) RecomputeAll(ctx context.Context, actor Session) (RecomputeSummary, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return RecomputeSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]store.Observation, 0, len(s.observations))
	for _, ob := range s.observations {
		all = append(all, ob)
	}
	sortObservations(all)
	keys, _ := consensus.Group(all)
	sortKeys(keys)

	var summary RecomputeSummary
	for _, key := range keys {
		outcome, err := s.recomputeLocked(ctx, key)
		if err != nil {
			return summary, err
		}
		summary.Groups++
		switch outcome {
		case outcomeOpen:
			summary.Open++
		case outcomeAccepted:
			summary.AutoAccepted++
		case outcomeSuperseded:
			summary.Superseded++
		}
	}
	s.logger.Info("consensus recomputed",
		"groups", summary.Groups,
		"open", summary.Open,
		"auto_accepted", summary.AutoAccepted,
		"superseded", summary.Superseded,
	)
	return summary, nil
}

func sortObservations(obs []store.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].CreatedAt.Equal(obs[j].CreatedAt) {
			return obs[i].CreatedAt.Before(obs[j].CreatedAt)
		}
		return obs[i].ObservationID < obs[j].ObservationID
	})
}
