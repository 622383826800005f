package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/store"
)

// AdminEditCard replaces a card wholesale, creating it when absent.
func (s *Service) AdminEditCard(ctx context.Context, actor Session, cardID string, card store.Card, notes string) (store.Card, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return store.Card{}, err
	}
	if strings.TrimSpace(cardID) == "" {
		return store.Card{}, validationError("card id is required", nil)
	}
	card.ID = cardID
	if err := fields.ValidateCard(card); err != nil {
		return store.Card{}, asDomain(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cards[cardID]
	old := map[string]any{}
	if ok {
		old = fields.CardValues(existing)
		if card.Consensus == nil {
			card.Consensus = existing.Consensus
		}
	}
	card.Version = existing.Version + 1
	card.UpdatedAt = s.now()
	if err := s.saveCard(ctx, card, actor, firstNonBlank(notes, "admin edit")); err != nil {
		return store.Card{}, err
	}
	return card, s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditAdminEdit,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityCard,
		EntityID:    cardID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityCard,
			EntityID:  cardID,
			OldValues: old,
			NewValues: fields.CardValues(card),
		},
		Notes: notes,
	})
}

// AdminEditPrint replaces a print wholesale, creating it when absent.
func (s *Service) AdminEditPrint(ctx context.Context, actor Session, printID string, pr store.Print, notes string) (store.Print, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return store.Print{}, err
	}
	if strings.TrimSpace(printID) == "" {
		return store.Print{}, validationError("print id is required", nil)
	}
	pr.PrintID = printID
	if err := fields.ValidatePrint(pr); err != nil {
		return store.Print{}, asDomain(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cards[pr.CardID]; !ok {
		return store.Print{}, notFound("card", pr.CardID)
	}
	existing, ok := s.prints[printID]
	old := map[string]any{}
	if ok {
		old = fields.PrintValues(existing)
		old["cardId"] = existing.CardID
		if pr.Consensus == nil {
			pr.Consensus = existing.Consensus
		}
	}
	pr.Version = existing.Version + 1
	pr.UpdatedAt = s.now()
	if err := s.savePrint(ctx, pr, actor, firstNonBlank(notes, "admin edit")); err != nil {
		return store.Print{}, err
	}
	next := fields.PrintValues(pr)
	next["cardId"] = pr.CardID
	return pr, s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditAdminEdit,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityPrint,
		EntityID:    printID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityPrint,
			EntityID:  printID,
			OldValues: old,
			NewValues: next,
		},
		Notes: notes,
	})
}

// RollbackCard restores the fields a card had at toVersion as a new
// version. History is never rewritten.
func (s *Service) RollbackCard(ctx context.Context, actor Session, cardID string, toVersion int, notes string) (store.Card, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return store.Card{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cards[cardID]
	if !ok {
		return store.Card{}, notFound("card", cardID)
	}
	var restored store.Card
	if err := s.loadVersionLocked(ctx, store.EntityCard, cardID, toVersion, &restored); err != nil {
		return store.Card{}, err
	}
	restored.ID = cardID
	restored.Version = current.Version + 1
	restored.UpdatedAt = s.now()
	if err := s.saveCard(ctx, restored, actor, fmt.Sprintf("rollback to v%d", toVersion)); err != nil {
		return store.Card{}, err
	}
	return restored, s.auditRollback(ctx, actor, store.EntityCard, cardID, current.Version, toVersion, restored.Version, notes)
}

func (s *Service) RollbackPrint(ctx context.Context, actor Session, printID string, toVersion int, notes string) (store.Print, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return store.Print{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.prints[printID]
	if !ok {
		return store.Print{}, notFound("print", printID)
	}
	var restored store.Print
	if err := s.loadVersionLocked(ctx, store.EntityPrint, printID, toVersion, &restored); err != nil {
		return store.Print{}, err
	}
	restored.PrintID = printID
	restored.Version = current.Version + 1
	restored.UpdatedAt = s.now()
	if err := s.savePrint(ctx, restored, actor, fmt.Sprintf("rollback to v%d", toVersion)); err != nil {
		return store.Print{}, err
	}
	return restored, s.auditRollback(ctx, actor, store.EntityPrint, printID, current.Version, toVersion, restored.Version, notes)
}

func (s *Service) loadVersionLocked(ctx context.Context, entity store.Entity, id string, version int, into any) error {
	if version <= 0 {
		return conflict(fmt.Sprintf("%s %s has no version %d", entity, id, version))
	}
	rv, err := s.versions.GetVersion(ctx, entity, id, version)
	if err != nil {
		return asDomain(err)
	}
	if err := json.Unmarshal(rv.Record, into); err != nil {
		return fmt.Errorf("decode %s %s v%d: %w", entity, id, version, err)
	}
	return nil
}

func (s *Service) auditRollback(ctx context.Context, actor Session, entity store.Entity, id string, from, to, next int, notes string) error {
	return s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditRollback,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      entity,
		EntityID:    id,
		Diff: store.ProposalDiff{
			Entity:    entity,
			EntityID:  id,
			OldValues: map[string]any{"version": from},
			NewValues: map[string]any{"version": next, "restoredFrom": to},
		},
		Notes: notes,
	})
}

// SetFeaturePackStatus installs or removes an image feature pack. Only
// installed packs feed the matcher and pulls.
func (s *Service) SetFeaturePackStatus(ctx context.Context, actor Session, packID string, status store.PackStatus) (store.FeaturePack, error) {
	if err := s.authorize(actor, rbac.ActionAdmin); err != nil {
		return store.FeaturePack{}, err
	}
	if status != store.PackInstalled && status != store.PackAvailable {
		return store.FeaturePack{}, validationError(fmt.Sprintf("unsupported pack status %q", status), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pack, ok := s.packs[packID]
	if !ok {
		return store.FeaturePack{}, notFound("feature pack", packID)
	}
	previous := pack.Status
	pack.Status = status
	pack.UpdatedAt = s.now()
	if err := s.put(ctx, store.KindFeaturePack, pack.PackID, pack); err != nil {
		return store.FeaturePack{}, err
	}
	s.packs[pack.PackID] = pack
	s.catalog.Delete(snapshotKey)
	return pack, s.audit(ctx, store.AuditLogEntry{
		Action:      store.AuditFeaturePack,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Entity:      store.EntityFeaturePack,
		EntityID:    pack.PackID,
		Diff: store.ProposalDiff{
			Entity:    store.EntityFeaturePack,
			EntityID:  pack.PackID,
			OldValues: map[string]any{"status": previous},
			NewValues: map[string]any{"status": status},
		},
	})
}

func (s *Service) ListAudit(ctx context.Context, actor Session, filter store.AuditFilter) ([]store.AuditLogEntry, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, filter)
}

// CardHistory is one card with its archived versions and audit trail,
// both newest first.
type CardHistory struct {
	Card     store.Card            `json:"card"`
	Versions []store.RecordVersion `json:"versions"`
	Audit    []store.AuditLogEntry `json:"audit"`
}

func (s *Service) CardHistory(ctx context.Context, actor Session, cardID string) (CardHistory, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return CardHistory{}, err
	}
	s.mu.RLock()
	card, ok := s.cards[cardID]
	s.mu.RUnlock()
	if !ok {
		return CardHistory{}, notFound("card", cardID)
	}
	versions, err := s.versions.History(ctx, store.EntityCard, cardID)
	if err != nil {
		return CardHistory{}, err
	}
	audit, err := s.store.ListAudit(ctx, store.AuditFilter{Entity: store.EntityCard, EntityID: cardID})
	if err != nil {
		return CardHistory{}, err
	}
	return CardHistory{Card: card, Versions: versions, Audit: audit}, nil
}

func (s *Service) TrustStats(_ context.Context, actor Session) ([]store.UserTrustStats, error) {
	if err := s.authorize(actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.trust.Stats()
	for i := range stats {
		stats[i].Flagged = s.submitterFlaggedLocked(stats[i].UserID)
	}
	return stats, nil
}
