package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/psinetreject/card-scanner/internal/consensus"
	"github.com/psinetreject/card-scanner/internal/intake"
	"github.com/psinetreject/card-scanner/internal/matcher"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/search"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/util"
)

// Pull returns the non-deprecated catalog, every claim and the draft
// statuses visible to actor.
func (s *Service) Pull(_ context.Context, actor Session) (store.PullResponse, error) {
	if err := s.authorize(actor, rbac.ActionRead); err != nil {
		return store.PullResponse{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle := s.bundleLocked(actor)
	return store.PullResponse{
		Cards:         bundle.Cards,
		Prints:        bundle.Prints,
		Aliases:       bundle.Aliases,
		ImageFeatures: bundle.ImageFeatures,
		FeaturePacks:  bundle.FeaturePacks,
		Claims:        bundle.Claims,
		DraftStatuses: bundle.DraftStatuses,
		SyncState:     bundle.SyncState,
	}, nil
}

// Snapshot exports the full-state recovery bundle with its checksum. When
// an archiver is configured the bundle is also uploaded; upload failures
// are logged and do not fail the download.
func (s *Service) Snapshot(ctx context.Context, actor Session) (store.SnapshotEnvelope, error) {
	if err := s.authorize(actor, rbac.ActionRead); err != nil {
		return store.SnapshotEnvelope{}, err
	}
	s.mu.RLock()
	bundle := s.bundleLocked(actor)
	s.mu.RUnlock()

	bundle.AppVersion = AppVersion
	bundle.SchemaVersion = SchemaVersion
	bundle.ExportedAt = s.now()
	checksum, err := store.BundleChecksum(bundle)
	if err != nil {
		return store.SnapshotEnvelope{}, err
	}
	env := store.SnapshotEnvelope{Bundle: bundle, Checksum: checksum}

	if s.snapshots != nil {
		key, err := s.snapshots.PutSnapshot(ctx, env)
		if err != nil {
			s.logger.Warn("snapshot archive failed", "error", err)
		} else {
			s.logger.Info("snapshot archived", "key", key, "checksum", checksum)
		}
	}
	return env, nil
}

// bundleLocked assembles the catalog view for actor. Caller holds mu.
func (s *Service) bundleLocked(actor Session) store.Bundle {
	now := s.now()
	state := store.SyncState{LastSyncAt: &now}

	cards := make([]store.Card, 0, len(s.cards))
	for _, id := range sortedMapKeys(s.cards) {
		c := s.cards[id]
		if c.DeprecatedAt != nil {
			continue
		}
		cards = append(cards, c)
		state.LastCardsVersion = max(state.LastCardsVersion, c.Version)
	}
	prints := make([]store.Print, 0, len(s.prints))
	for _, id := range sortedMapKeys(s.prints) {
		p := s.prints[id]
		if p.DeprecatedAt != nil {
			continue
		}
		prints = append(prints, p)
		state.LastPrintsVersion = max(state.LastPrintsVersion, p.Version)
	}
	aliases := make([]store.Alias, 0, len(s.aliases))
	for _, id := range sortedMapKeys(s.aliases) {
		a := s.aliases[id]
		aliases = append(aliases, a)
		state.LastAliasesVersion = max(state.LastAliasesVersion, a.Version)
	}
	packs := make([]store.FeaturePack, 0, len(s.packs))
	for _, id := range sortedMapKeys(s.packs) {
		packs = append(packs, s.packs[id])
	}
	features := s.installedFeaturesLocked()
	state.LastImagesVersion = len(features)

	claims := make([]store.Claim, 0, len(s.claims))
	for _, id := range sortedMapKeys(s.claims) {
		claims = append(claims, s.claims[id])
	}

	seeAll := rbac.Can(rbac.Role(actor.Role), rbac.ActionModerate)
	statuses := make([]store.DraftStatusCache, 0)
	for _, id := range sortedMapKeys(s.draftStatuses) {
		draft, ok := s.drafts[id]
		if !seeAll && (!ok || draft.CreatedBy != actor.UserID) {
			continue
		}
		statuses = append(statuses, s.draftStatuses[id])
	}

	return store.Bundle{
		Cards:         cards,
		Prints:        prints,
		Aliases:       aliases,
		ImageFeatures: features,
		FeaturePacks:  packs,
		Claims:        claims,
		DraftStatuses: statuses,
		SyncState:     state,
	}
}

func (s *Service) installedFeaturesLocked() []store.ImageFeature {
	out := make([]store.ImageFeature, 0, len(s.features))
	for _, id := range sortedMapKeys(s.features) {
		f := s.features[id]
		if pack, ok := s.packs[f.PackID]; ok && pack.Status != store.PackInstalled {
			continue
		}
		out = append(out, f)
	}
	return out
}

// PushProposals admits each proposal independently.
func (s *Service) PushProposals(ctx context.Context, actor Session, items []store.OutboxProposal) (store.PushResult, error) {
	if err := s.authorize(actor, rbac.ActionContribute); err != nil {
		return store.PushResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newPushResult()
	for _, item := range items {
		if err := s.admitProposal(ctx, actor, item); err != nil {
			result.fail(item.LocalProposalID, err)
			continue
		}
		result.AcceptedIDs = append(result.AcceptedIDs, item.LocalProposalID)
	}
	return *result.PushResult, nil
}

func (s *Service) admitProposal(ctx context.Context, actor Session, item store.OutboxProposal) error {
	if strings.TrimSpace(item.LocalProposalID) == "" {
		return validationError("localProposalId is required", nil)
	}
	for _, existing := range s.proposals {
		if existing.UserID == actor.UserID && existing.LocalID == item.LocalProposalID {
			return nil
		}
	}
	forceReview, err := intake.ValidateProposal(item.Type, item.Payload)
	if err != nil {
		return asDomain(err)
	}
	if err := s.limiter.Allow(ctx, rateKey(actor, item.DeviceID)); err != nil {
		return asDomain(err)
	}

	proposal := store.ModerationProposal{
		ProposalID: util.NewID("prop"),
		LocalID:    item.LocalProposalID,
		CreatedAt:  s.now(),
		DeviceID:   firstNonBlank(item.DeviceID, actor.DeviceID),
		UserID:     actor.UserID,
		Type:       item.Type,
		Payload:    item.Payload,
		Status:     store.ProposalStatusNew,
	}
	proposal.Flagged = s.submitterFlaggedLocked(actor.UserID)
	if forceReview || proposal.Flagged {
		proposal.Status = store.ProposalStatusReviewing
	}
	if err := s.put(ctx, store.KindProposal, proposal.ProposalID, proposal); err != nil {
		return err
	}
	s.proposals[proposal.ProposalID] = proposal
	s.logger.Info("proposal admitted",
		"proposal_id", proposal.ProposalID,
		"type", proposal.Type,
		"status", proposal.Status,
		"user_id", actor.UserID,
	)
	return nil
}

// PushObservations admits each observation independently, then recomputes
// the claims of every (target, field) that received new evidence.
func (s *Service) PushObservations(ctx context.Context, actor Session, items []store.OutboxObservation) (store.PushResult, error) {
	if err := s.authorize(actor, rbac.ActionContribute); err != nil {
		return store.PushResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := make([]store.Observation, 0)
	for _, ob := range s.observations {
		if ob.PrincipalID == actor.UserID {
			prior = append(prior, ob)
		}
	}

	result := newPushResult()
	touched := make(map[consensus.Key]struct{})
	for _, item := range items {
		ob, stored, err := s.admitObservation(ctx, actor, item, prior)
		if err != nil {
			result.fail(item.LocalObservationID, err)
			continue
		}
		result.AcceptedIDs = append(result.AcceptedIDs, item.LocalObservationID)
		if stored {
			prior = append(prior, ob)
			touched[consensus.KeyOf(ob)] = struct{}{}
		}
	}

	keys := make([]consensus.Key, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sortKeys(keys)
	for _, k := range keys {
		if _, err := s.recomputeLocked(ctx, k); err != nil {
			s.logger.Error("recompute claim", "target_type", k.TargetType, "target_id", k.TargetID, "field", k.FieldPath, "error", err)
		}
	}
	return *result.PushResult, nil
}

// admitObservation reports stored=false for an idempotent duplicate.
func (s *Service) admitObservation(ctx context.Context, actor Session, item store.OutboxObservation, prior []store.Observation) (store.Observation, bool, error) {
	if strings.TrimSpace(item.LocalObservationID) == "" {
		return store.Observation{}, false, validationError("localObservationId is required", nil)
	}
	field, err := intake.ValidateObservation(item)
	if err != nil {
		return store.Observation{}, false, asDomain(err)
	}
	if !s.targetExistsLocked(item.TargetType, item.TargetID) {
		return store.Observation{}, false, notFound(string(item.TargetType), item.TargetID)
	}
	value, err := field.Parse(item.Value)
	if err != nil {
		return store.Observation{}, false, asDomain(err)
	}

	now := s.now()
	ob := store.Observation{
		ObservationID:  util.NewID("obs"),
		LocalID:        item.LocalObservationID,
		CreatedAt:      now,
		PrincipalID:    actor.UserID,
		DeviceID:       actor.DeviceID,
		ScanRef:        item.ScanRef,
		TargetType:     item.TargetType,
		TargetID:       item.TargetID,
		FieldPath:      field.Path,
		Value:          value,
		ValueNorm:      field.Normalize(value),
		OCRConfidence:  item.OCRConfidence,
		CaptureQuality: item.CaptureQuality,
		Status:         store.ObservationActive,
	}
	if intake.IsDuplicate(prior, ob, now, s.cfg.DedupWindow) {
		return ob, false, nil
	}
	if err := s.limiter.Allow(ctx, rateKey(actor, "")); err != nil {
		return store.Observation{}, false, asDomain(err)
	}
	if err := s.put(ctx, store.KindObservation, ob.ObservationID, ob); err != nil {
		return store.Observation{}, false, err
	}
	s.observations[ob.ObservationID] = ob
	return ob, true, nil
}

// PushDrafts admits each draft independently. Draft ids are derived from
// the author and local id, so resubmission is idempotent.
func (s *Service) PushDrafts(ctx context.Context, actor Session, items []store.OutboxDraft) (store.PushResult, error) {
	if err := s.authorize(actor, rbac.ActionContribute); err != nil {
		return store.PushResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newPushResult()
	for _, item := range items {
		if err := s.admitDraft(ctx, actor, item); err != nil {
			result.fail(item.LocalDraftID, err)
			continue
		}
		result.AcceptedIDs = append(result.AcceptedIDs, item.LocalDraftID)
	}
	return *result.PushResult, nil
}

func (s *Service) admitDraft(ctx context.Context, actor Session, item store.OutboxDraft) error {
	if strings.TrimSpace(item.LocalDraftID) == "" {
		return validationError("localDraftId is required", nil)
	}
	draftID := fmt.Sprintf("%s-%s", actor.UserID, item.LocalDraftID)
	if _, ok := s.drafts[draftID]; ok {
		return nil
	}
	if err := intake.ValidateDraft(item); err != nil {
		return asDomain(err)
	}
	targetType := item.TargetType
	if targetType == "" {
		targetType = store.TargetUnknown
	}
	if item.TargetID != "" && targetType != store.TargetUnknown && !s.targetExistsLocked(targetType, item.TargetID) {
		return notFound(string(targetType), item.TargetID)
	}
	if err := s.limiter.Allow(ctx, rateKey(actor, "")); err != nil {
		return asDomain(err)
	}

	now := s.now()
	draft := store.Draft{
		DraftID:         draftID,
		LocalID:         item.LocalDraftID,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       actor.UserID,
		DeviceID:        actor.DeviceID,
		SourceScanRef:   item.SourceScanID,
		TargetType:      targetType,
		TargetID:        item.TargetID,
		ExtractedFields: item.ExtractedFields,
		ProposedPayload: item.ProposedPayload,
		Status:          store.DraftNew,
		Confidence:      item.Confidence,
	}
	if draft.ExtractedFields == nil {
		draft.ExtractedFields = map[string]any{}
	}
	if err := s.put(ctx, store.KindDraft, draft.DraftID, draft); err != nil {
		return err
	}
	s.drafts[draft.DraftID] = draft
	return s.setDraftStatusLocked(ctx, draft)
}

func (s *Service) setDraftStatusLocked(ctx context.Context, draft store.Draft) error {
	status := store.DraftStatusCache{
		DraftID:     draft.DraftID,
		Status:      draft.Status,
		UpdatedAt:   draft.UpdatedAt,
		ReviewNotes: draft.ReviewNotes,
	}
	if err := s.put(ctx, store.KindDraftStatus, status.DraftID, status); err != nil {
		return err
	}
	s.draftStatuses[status.DraftID] = status
	return nil
}

func (s *Service) targetExistsLocked(targetType store.TargetType, id string) bool {
	switch targetType {
	case store.TargetCard:
		c, ok := s.cards[id]
		return ok && c.DeprecatedAt == nil
	case store.TargetPrint:
		p, ok := s.prints[id]
		return ok && p.DeprecatedAt == nil
	default:
		return false
	}
}

// Match identifies a scanned card against the current catalog.
func (s *Service) Match(_ context.Context, actor Session, q matcher.Query) (matcher.Result, error) {
	if err := s.authorize(actor, rbac.ActionRead); err != nil {
		return matcher.Result{}, err
	}
	return s.catalogSnapshot().Match(q), nil
}

// catalogSnapshot returns the cached matcher snapshot, building it on a
// miss. Writers drop the cache entry while holding mu for writing, so a
// snapshot built under the read lock is never stale when stored.
func (s *Service) catalogSnapshot() *matcher.Snapshot {
	if cached, ok := s.catalog.Get(snapshotKey); ok {
		return cached.(*matcher.Snapshot)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := make([]store.Card, 0, len(s.cards))
	for _, c := range s.cards {
		cards = append(cards, c)
	}
	prints := make([]store.Print, 0, len(s.prints))
	for _, p := range s.prints {
		prints = append(prints, p)
	}
	aliases := make([]store.Alias, 0, len(s.aliases))
	for _, a := range s.aliases {
		aliases = append(aliases, a)
	}
	snap := matcher.NewSnapshot(cards, prints, aliases, s.installedFeaturesLocked())
	s.catalog.SetDefault(snapshotKey, snap)
	return snap
}

func (s *Service) Search(_ context.Context, actor Session, q search.Query) (search.Response, error) {
	if err := s.authorize(actor, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(q), nil
}

// rateKey picks the identity a write is counted under: the session's
// device, then the item's declared device, then the user.
func rateKey(actor Session, itemDevice string) string {
	if actor.DeviceID != "" {
		return actor.DeviceID
	}
	if strings.TrimSpace(itemDevice) != "" {
		return itemDevice
	}
	return "user:" + actor.UserID
}

type pushResult struct {
	*store.PushResult
}

func newPushResult() pushResult {
	return pushResult{&store.PushResult{AcceptedIDs: []string{}, Failed: []store.PushFailure{}}}
}

func (r pushResult) fail(id string, err error) {
	message := err.Error()
	var derr *DomainError
	if errors.As(asDomain(err), &derr) {
		message = derr.Message
	}
	r.Failed = append(r.Failed, store.PushFailure{ID: id, Code: KindOf(err), Error: message})
}

func sortKeys(keys []consensus.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TargetType != keys[j].TargetType {
			return keys[i].TargetType < keys[j].TargetType
		}
		if keys[i].TargetID != keys[j].TargetID {
			return keys[i].TargetID < keys[j].TargetID
		}
		return keys[i].FieldPath < keys[j].FieldPath
	})
}
