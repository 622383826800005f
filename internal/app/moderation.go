package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/intake"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/trust"
	"github.com/psinetreject/card-scanner/internal/util"
)

const (
	defaultDraftCardName = "Unknown Card"
	defaultDraftCardType = "Monster"
	defaultAliasLocale   = "en"
)

// ProposalFilter narrows the proposal queue. Status "new" also matches
// proposals flagged into review.
type ProposalFilter struct {
	Status        store.ProposalStatus
	Type          store.ProposalType
	UserID        string
	MinConfidence *float64
	Limit         int
}

func (f ProposalFilter) matches(p store.ModerationProposal) bool {
	switch {
	case f.Status == store.ProposalStatusNew:
		if p.Status != store.ProposalStatusNew && p.Status != store.ProposalStatusReviewing {
			return false
		}
	case f.Status != "" && p.Status != f.Status:
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.MinConfidence != nil {
		if p.Payload.Confidence == nil || *p.Payload.Confidence < *f.MinConfidence {
			return false
		}
	}
	return true
}

// ListProposals returns matching proposals, newest first.
func (s *Service) ListProposals(_ context.Context, actor Session, filter ProposalFilter) ([]store.ModerationProposal, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.ModerationProposal, 0)
	for _, p := range s.proposals {
		if filter.matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ProposalID < out[j].ProposalID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Service) openProposalLocked(id string) (store.ModerationProposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return store.ModerationProposal{}, notFound("proposal", id)
	}
	switch p.Status {
	case store.ProposalStatusNew, store.ProposalStatusReviewing, store.ProposalStatusMoreInfo:
		return p, nil
	default:
		return store.ModerationProposal{}, conflict(fmt.Sprintf("proposal %s is already %s", id, p.Status))
	}
}

// ApproveProposal re-validates the proposal against current state, applies
// it as a new record version and credits the submitter.
func (s *Service) ApproveProposal(ctx context.Context, actor Session, proposalID, notes string) (store.ModerationProposal, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.ModerationProposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.openProposalLocked(proposalID)
	if err != nil {
		return store.ModerationProposal{}, err
	}
	if _, err := intake.ValidateProposal(p.Type, p.Payload); err != nil {
		return store.ModerationProposal{}, asDomain(err)
	}
	diff, err := s.applyProposalLocked(ctx, actor, p)
	if err != nil {
		return store.ModerationProposal{}, err
	}
	p, err = s.decideProposalLocked(ctx, actor, p, store.ProposalStatusAccepted, notes)
	if err != nil {
		return store.ModerationProposal{}, err
	}
	s.recordTrust(ctx, p.UserID, trust.OutcomeAccepted)
	return p, s.audit(ctx, store.AuditLogEntry{
		ProposalID:  p.ProposalID,
		Action:      store.AuditAccepted,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      diff.Entity,
		EntityID:    diff.EntityID,
		Diff:        diff,
		Notes:       notes,
	})
}

func (s *Service) RejectProposal(ctx context.Context, actor Session, proposalID, notes string) (store.ModerationProposal, error) {
	return s.closeProposal(ctx, actor, proposalID, store.ProposalStatusRejected, store.AuditRejected, notes)
}

// submitterFlaggedLocked applies the rejection-rate rule to the submitter's
// decided proposals. Claim and draft outcomes do not count. Callers hold mu.
func (s *Service) submitterFlaggedLocked(userID string) bool {
	accepted, rejected := 0, 0
	for _, p := range s.proposals {
		if p.UserID != userID {
			continue
		}
		switch p.Status {
		case store.ProposalStatusAccepted:
			accepted++
		case store.ProposalStatusRejected:
			rejected++
		}
	}
	return trust.IsFlagged(accepted, rejected)
}

// RequestMoreInfo parks a proposal until its submitter adds detail. The
// proposal stays decidable.
func (s *Service) RequestMoreInfo(ctx context.Context, actor Session, proposalID, notes string) (store.ModerationProposal, error) {
	return s.closeProposal(ctx, actor, proposalID, store.ProposalStatusMoreInfo, store.AuditMoreInfo, notes)
}

func (s *Service) closeProposal(ctx context.Context, actor Session, proposalID string, status store.ProposalStatus, action store.AuditAction, notes string) (store.ModerationProposal, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.ModerationProposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.openProposalLocked(proposalID)
	if err != nil {
		return store.ModerationProposal{}, err
	}
	previous := p.Status
	p, err = s.decideProposalLocked(ctx, actor, p, status, notes)
	if err != nil {
		return store.ModerationProposal{}, err
	}
	if status == store.ProposalStatusRejected {
		s.recordTrust(ctx, p.UserID, trust.OutcomeRejected)
	}
	entity := intake.ProposalTarget(p.Type, p.Payload.Diff)
	return p, s.audit(ctx, store.AuditLogEntry{
		ProposalID:  p.ProposalID,
		Action:      action,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      entity,
		EntityID:    p.Payload.Diff.EntityID,
		Diff: store.ProposalDiff{
			Entity:    entity,
			EntityID:  p.Payload.Diff.EntityID,
			OldValues: map[string]any{"status": previous},
			NewValues: map[string]any{"status": status},
		},
		Notes: notes,
	})
}

func (s *Service) decideProposalLocked(ctx context.Context, actor Session, p store.ModerationProposal, status store.ProposalStatus, notes string) (store.ModerationProposal, error) {
	now := s.now()
	p.Status = status
	p.ReviewedAt = &now
	p.ReviewedBy = actor.UserID
	p.ReviewerNotes = notes
	if err := s.put(ctx, store.KindProposal, p.ProposalID, p); err != nil {
		return store.ModerationProposal{}, err
	}
	s.proposals[p.ProposalID] = p
	return p, nil
}

// applyProposalLocked writes the proposal's diff into canonical state and
// returns the diff as applied.
func (s *Service) applyProposalLocked(ctx context.Context, actor Session, p store.ModerationProposal) (store.ProposalDiff, error) {
	values := p.Payload.Diff.NewValues
	entityID := strings.TrimSpace(p.Payload.Diff.EntityID)
	message := fmt.Sprintf("proposal %s (%s)", p.ProposalID, p.Type)
	now := s.now()

	switch intake.ProposalTarget(p.Type, p.Payload.Diff) {
	case store.EntityCard:
		var card store.Card
		old := map[string]any{}
		if p.Type == store.ProposalNewCard {
			if entityID == "" {
				entityID = util.NewID("card")
			}
			if _, exists := s.cards[entityID]; exists {
				return store.ProposalDiff{}, conflict(fmt.Sprintf("card %s already exists", entityID))
			}
			card = store.Card{ID: entityID}
		} else {
			if entityID == "" {
				return store.ProposalDiff{}, validationError("proposal diff.entityId is required", nil)
			}
			existing, ok := s.cards[entityID]
			if !ok {
				return store.ProposalDiff{}, notFound("card", entityID)
			}
			card = existing
			old = currentValues(store.TargetCard, values, func(f fields.Field) any { return f.GetCard(existing) })
		}
		if err := fields.ApplyCardValues(&card, values); err != nil {
			return store.ProposalDiff{}, asDomain(err)
		}
		if err := fields.ValidateCard(card); err != nil {
			return store.ProposalDiff{}, asDomain(err)
		}
		card.Version++
		card.UpdatedAt = now
		if err := s.saveCard(ctx, card, actor, message); err != nil {
			return store.ProposalDiff{}, err
		}
		return store.ProposalDiff{Entity: store.EntityCard, EntityID: card.ID, OldValues: old, NewValues: values}, nil

	case store.EntityPrint:
		var pr store.Print
		old := map[string]any{}
		cardID, _ := values["cardId"].(string)
		if p.Type == store.ProposalNewPrint {
			if entityID == "" {
				entityID = util.NewID("print")
			}
			if _, exists := s.prints[entityID]; exists {
				return store.ProposalDiff{}, conflict(fmt.Sprintf("print %s already exists", entityID))
			}
			pr = store.Print{PrintID: entityID}
		} else {
			if entityID == "" {
				return store.ProposalDiff{}, validationError("proposal diff.entityId is required", nil)
			}
			existing, ok := s.prints[entityID]
			if !ok {
				return store.ProposalDiff{}, notFound("print", entityID)
			}
			pr = existing
			old = currentValues(store.TargetPrint, values, func(f fields.Field) any { return f.GetPrint(existing) })
		}
		if cardID = strings.TrimSpace(cardID); cardID != "" {
			if _, ok := s.cards[cardID]; !ok {
				return store.ProposalDiff{}, notFound("card", cardID)
			}
			old["cardId"] = pr.CardID
			pr.CardID = cardID
		}
		if err := fields.ApplyPrintValues(&pr, omitKey(values, "cardId")); err != nil {
			return store.ProposalDiff{}, asDomain(err)
		}
		if err := fields.ValidatePrint(pr); err != nil {
			return store.ProposalDiff{}, asDomain(err)
		}
		if p.Type == store.ProposalNewPrint {
			delete(old, "cardId")
		}
		pr.Version++
		pr.UpdatedAt = now
		if err := s.savePrint(ctx, pr, actor, message); err != nil {
			return store.ProposalDiff{}, err
		}
		return store.ProposalDiff{Entity: store.EntityPrint, EntityID: pr.PrintID, OldValues: old, NewValues: values}, nil

	case store.EntityAlias:
		cardID, _ := values["cardId"].(string)
		cardID = firstNonBlank(strings.TrimSpace(cardID), entityID)
		if _, ok := s.cards[cardID]; !ok {
			return store.ProposalDiff{}, notFound("card", cardID)
		}
		text, _ := values["aliasText"].(string)
		locale, _ := values["locale"].(string)
		alias := store.Alias{
			AliasID:   util.NewID("alias"),
			CardID:    cardID,
			AliasText: strings.TrimSpace(text),
			Locale:    firstNonBlank(strings.TrimSpace(locale), defaultAliasLocale),
			UpdatedAt: now,
			Version:   1,
		}
		if err := s.put(ctx, store.KindAlias, alias.AliasID, alias); err != nil {
			return store.ProposalDiff{}, err
		}
		s.aliases[alias.AliasID] = alias
		s.search.IndexAlias(aliasRecord(alias))
		s.catalog.Delete(snapshotKey)
		return store.ProposalDiff{Entity: store.EntityAlias, EntityID: alias.AliasID, OldValues: map[string]any{}, NewValues: values}, nil
	}
	return store.ProposalDiff{}, validationError(fmt.Sprintf("unsupported proposal type %q", p.Type), nil)
}

func currentValues(target store.TargetType, values map[string]any, get func(fields.Field) any) map[string]any {
	old := make(map[string]any, len(values))
	for key := range values {
		if f, err := fields.ForKey(target, key); err == nil {
			old[key] = get(f)
		}
	}
	return old
}

func omitKey(values map[string]any, key string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if k != key {
			out[k] = v
		}
	}
	return out
}

type DraftFilter struct {
	Status    store.DraftStatus
	CreatedBy string
	Limit     int
}

// ListDrafts returns matching drafts, newest first.
func (s *Service) ListDrafts(_ context.Context, actor Session, filter DraftFilter) ([]store.Draft, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Draft, 0)
	for _, d := range s.drafts {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && d.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DraftID < out[j].DraftID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkDraftReviewing moves a new draft into review.
func (s *Service) MarkDraftReviewing(ctx context.Context, actor Session, draftID string) (store.Draft, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.Draft{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[draftID]
	if !ok {
		return store.Draft{}, notFound("draft", draftID)
	}
	if draft.Status != store.DraftNew {
		return store.Draft{}, conflict(fmt.Sprintf("draft %s is %s, not new", draftID, draft.Status))
	}
	draft.Status = store.DraftReviewing
	draft.UpdatedAt = s.now()
	if err := s.saveDraftLocked(ctx, draft); err != nil {
		return store.Draft{}, err
	}
	return draft, nil
}

func (s *Service) pendingDraftLocked(id string) (store.Draft, error) {
	draft, ok := s.drafts[id]
	if !ok {
		return store.Draft{}, notFound("draft", id)
	}
	if draft.Status != store.DraftNew && draft.Status != store.DraftReviewing {
		return store.Draft{}, conflict(fmt.Sprintf("draft %s is already %s", id, draft.Status))
	}
	return draft, nil
}

func (s *Service) saveDraftLocked(ctx context.Context, draft store.Draft) error {
	if err := s.put(ctx, store.KindDraft, draft.DraftID, draft); err != nil {
		return err
	}
	s.drafts[draft.DraftID] = draft
	return s.setDraftStatusLocked(ctx, draft)
}

// PublishDraft applies the draft's payload: it merges into the targeted
// card or print, or creates a new card (and a print when print fields are
// present) when no target is set. A non-empty edited payload replaces the
// submitted one; it is validated like a fresh draft and kept on the draft
// and in the publish event.
func (s *Service) PublishDraft(ctx context.Context, actor Session, draftID string, edited map[string]any, notes string) (store.PublishEvent, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.PublishEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := s.pendingDraftLocked(draftID)
	if err != nil {
		return store.PublishEvent{}, err
	}
	if len(edited) > 0 {
		err := intake.ValidateDraft(store.OutboxDraft{
			LocalDraftID:    draft.LocalID,
			TargetType:      draft.TargetType,
			TargetID:        draft.TargetID,
			ProposedPayload: edited,
		})
		if err != nil {
			return store.PublishEvent{}, asDomain(err)
		}
		draft.ProposedPayload = edited
	}
	ids, err := s.applyDraftLocked(ctx, actor, draft)
	if err != nil {
		return store.PublishEvent{}, err
	}
	event, err := s.decideDraftLocked(ctx, actor, draft, store.DraftPublished, notes, draft.ProposedPayload, ids)
	if err != nil {
		return store.PublishEvent{}, err
	}
	s.recordTrust(ctx, draft.CreatedBy, trust.OutcomeAccepted)
	return event, nil
}

func (s *Service) RejectDraft(ctx context.Context, actor Session, draftID, notes string) (store.PublishEvent, error) {
	return s.closeDraft(ctx, actor, draftID, store.DraftRejected, notes)
}

// RequestDraftChanges closes the draft; the author resubmits as a new one.
func (s *Service) RequestDraftChanges(ctx context.Context, actor Session, draftID, notes string) (store.PublishEvent, error) {
	return s.closeDraft(ctx, actor, draftID, store.DraftRequestChanges, notes)
}

func (s *Service) closeDraft(ctx context.Context, actor Session, draftID string, status store.DraftStatus, notes string) (store.PublishEvent, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return store.PublishEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := s.pendingDraftLocked(draftID)
	if err != nil {
		return store.PublishEvent{}, err
	}
	event, err := s.decideDraftLocked(ctx, actor, draft, status, notes, map[string]any{}, []string{})
	if err != nil {
		return store.PublishEvent{}, err
	}
	if status == store.DraftRejected {
		s.recordTrust(ctx, draft.CreatedBy, trust.OutcomeRejected)
	}
	return event, nil
}

var draftOutcomes = map[store.DraftStatus]struct {
	action store.PublishAction
	audit  store.AuditAction
}{
	store.DraftPublished:      {store.PublishActionPublish, store.AuditDraftPublished},
	store.DraftRejected:       {store.PublishActionReject, store.AuditDraftRejected},
	store.DraftRequestChanges: {store.PublishActionRequestChanges, store.AuditDraftChanges},
}

func (s *Service) decideDraftLocked(ctx context.Context, actor Session, draft store.Draft, status store.DraftStatus, notes string, diff map[string]any, ids []string) (store.PublishEvent, error) {
	outcome := draftOutcomes[status]
	now := s.now()
	previous := draft.Status
	draft.Status = status
	draft.UpdatedAt = now
	draft.ReviewNotes = notes
	if status == store.DraftPublished {
		draft.PublishedAt = &now
		draft.PublishedBy = actor.UserID
	}
	if err := s.saveDraftLocked(ctx, draft); err != nil {
		return store.PublishEvent{}, err
	}

	event := store.PublishEvent{
		EventID:            util.NewID("pub"),
		DraftID:            draft.DraftID,
		Timestamp:          now,
		Action:             outcome.action,
		ActorRole:          actor.Role,
		ActorID:            actor.UserID,
		DiffApplied:        diff,
		ResultingTargetIDs: ids,
	}
	if err := s.put(ctx, store.KindPublishEvent, event.EventID, event); err != nil {
		return store.PublishEvent{}, err
	}
	s.events[event.EventID] = event

	return event, s.audit(ctx, store.AuditLogEntry{
		Action:      outcome.audit,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityDraft,
		EntityID:    draft.DraftID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityDraft,
			EntityID:  draft.DraftID,
			OldValues: map[string]any{"status": previous},
			NewValues: map[string]any{"status": status, "resultingTargetIds": ids},
		},
		Notes: notes,
	})
}

// applyDraftLocked validates every record the draft produces before
// saving any of them.
func (s *Service) applyDraftLocked(ctx context.Context, actor Session, draft store.Draft) ([]string, error) {
	message := fmt.Sprintf("draft %s", draft.DraftID)
	now := s.now()

	if draft.TargetType == store.TargetPrint {
		pr, ok := s.prints[draft.TargetID]
		if !ok {
			return nil, notFound("print", draft.TargetID)
		}
		if err := fields.ApplyPrintValues(&pr, omitKey(draft.ProposedPayload, "cardId")); err != nil {
			return nil, asDomain(err)
		}
		if err := fields.ValidatePrint(pr); err != nil {
			return nil, asDomain(err)
		}
		pr.Version++
		pr.UpdatedAt = now
		if err := s.savePrint(ctx, pr, actor, message); err != nil {
			return nil, err
		}
		return []string{pr.PrintID}, nil
	}

	cardValues := make(map[string]any)
	printValues := make(map[string]any)
	var unknown []string
	for key, value := range draft.ProposedPayload {
		if key == "cardId" {
			continue
		}
		if _, err := fields.ForKey(store.TargetCard, key); err == nil {
			cardValues[key] = value
			continue
		}
		if _, err := fields.ForKey(store.TargetPrint, key); err == nil {
			printValues[key] = value
			continue
		}
		unknown = append(unknown, fmt.Sprintf("%v: %q", fields.ErrUnknownField, key))
	}
	if draft.TargetID != "" {
		for key := range printValues {
			unknown = append(unknown, fmt.Sprintf("print field %q needs a print draft", key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, asDomain(&fields.ValidationError{Problems: unknown})
	}

	var card store.Card
	created := false
	if draft.TargetID != "" {
		existing, ok := s.cards[draft.TargetID]
		if !ok {
			return nil, notFound("card", draft.TargetID)
		}
		card = existing
	} else {
		card = store.Card{ID: util.NewID("card"), Name: defaultDraftCardName, Type: defaultDraftCardType}
		created = true
	}
	if err := fields.ApplyCardValues(&card, cardValues); err != nil {
		return nil, asDomain(err)
	}
	if err := fields.ValidateCard(card); err != nil {
		return nil, asDomain(err)
	}

	var pr *store.Print
	if created && len(printValues) > 0 {
		next := store.Print{PrintID: util.NewID("print"), CardID: card.ID}
		if err := fields.ApplyPrintValues(&next, printValues); err != nil {
			return nil, asDomain(err)
		}
		if err := fields.ValidatePrint(next); err != nil {
			return nil, asDomain(err)
		}
		pr = &next
	}

	card.Version++
	card.UpdatedAt = now
	if err := s.saveCard(ctx, card, actor, message); err != nil {
		return nil, err
	}
	ids := []string{card.ID}
	if pr != nil {
		pr.Version = 1
		pr.UpdatedAt = now
		if err := s.savePrint(ctx, *pr, actor, message); err != nil {
			return nil, err
		}
		ids = append(ids, pr.PrintID)
	}
	return ids, nil
}

// ListPublishEvents returns publish events newest first, optionally for
// one draft.
func (s *Service) ListPublishEvents(_ context.Context, actor Session, draftID string, limit int) ([]store.PublishEvent, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.PublishEvent, 0)
	for _, e := range s.events {
		if draftID == "" || e.DraftID == draftID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].EventID < out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
