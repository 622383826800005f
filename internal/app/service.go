// Package app is the card authority: the single process that owns canonical
// card state, admits crowd contributions, runs consensus and moderation,
// and serves the sync protocol over HTTP.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/psinetreject/card-scanner/internal/auth"
	"github.com/psinetreject/card-scanner/internal/authpw"
	"github.com/psinetreject/card-scanner/internal/config"
	"github.com/psinetreject/card-scanner/internal/consensus"
	"github.com/psinetreject/card-scanner/internal/intake"
	"github.com/psinetreject/card-scanner/internal/logging"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/search"
	"github.com/psinetreject/card-scanner/internal/session"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/trust"
	"github.com/psinetreject/card-scanner/internal/util"
)

const (
	AppVersion    = "0.5.0"
	SchemaVersion = 5

	systemActorID = "system"
	snapshotKey   = "catalog"
)

// Session is an authenticated principal on one device.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	DeviceID     string
	JTI          string
	ExpiresAt    time.Time
}

var systemActor = Session{UserID: systemActorID, UserName: "system", Role: string(rbac.RoleAdmin)}

// VersionArchive keeps every accepted version of a canonical record.
type VersionArchive interface {
	Archive(ctx context.Context, v store.RecordVersion) error
	GetVersion(ctx context.Context, entity store.Entity, id string, version int) (store.RecordVersion, error)
	History(ctx context.Context, entity store.Entity, id string) ([]store.RecordVersion, error)
}

// SnapshotArchiver receives every exported snapshot bundle.
type SnapshotArchiver interface {
	PutSnapshot(ctx context.Context, env store.SnapshotEnvelope) (string, error)
}

// Deps are the collaborators a Service is built from. Only Store is
// required; the rest default to in-process implementations.
type Deps struct {
	Store     store.Store
	Versions  VersionArchive
	Sessions  session.Store
	Limiter   intake.RateLimiter
	Search    *search.Service
	Snapshots SnapshotArchiver
	Trust     trust.ScorePolicy
	Logger    *slog.Logger
}

// Service owns all mutable canonical state. Every mutation takes mu for
// writing, which serializes version bumps and claim recomputation; state is
// written through to the store before the lock is released.
type Service struct {
	cfg       config.Config
	store     store.Store
	versions  VersionArchive
	sessions  session.Store
	limiter   intake.RateLimiter
	search    *search.Service
	snapshots SnapshotArchiver
	logger    *slog.Logger
	trust     *trust.Tracker
	accounts  *authpw.Service
	signer    *auth.Signer
	policy    consensus.Policy
	catalog   *gocache.Cache
	now       func() time.Time

	mu            sync.RWMutex
	cards         map[string]store.Card
	prints        map[string]store.Print
	aliases       map[string]store.Alias
	features      map[string]store.ImageFeature
	packs         map[string]store.FeaturePack
	observations  map[string]store.Observation
	claims        map[string]store.Claim
	proposals     map[string]store.ModerationProposal
	drafts        map[string]store.Draft
	draftStatuses map[string]store.DraftStatusCache
	events        map[string]store.PublishEvent
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Versions == nil {
		deps.Versions = store.NewVersionLog(deps.Store)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}
	if deps.Limiter == nil {
		deps.Limiter = intake.NewMemoryLimiter(cfg.RateWindow, cfg.RateMax)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, nil, deps.Logger)
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = intake.DefaultDedupWindow
	}
	return &Service{
		cfg:           cfg,
		store:         deps.Store,
		versions:      deps.Versions,
		sessions:      deps.Sessions,
		limiter:       deps.Limiter,
		search:        deps.Search,
		snapshots:     deps.Snapshots,
		logger:        deps.Logger,
		trust:         trust.NewTracker(deps.Trust),
		accounts:      authpw.NewService(store.NewAccountRepo(deps.Store)),
		signer:        auth.NewSigner([]byte(cfg.TokenSecret), cfg.AccessTTL),
		policy:        consensus.DefaultPolicy(),
		catalog:       gocache.New(5*time.Minute, 10*time.Minute),
		now:           func() time.Time { return time.Now().UTC() },
		cards:         make(map[string]store.Card),
		prints:        make(map[string]store.Print),
		aliases:       make(map[string]store.Alias),
		features:      make(map[string]store.ImageFeature),
		packs:         make(map[string]store.FeaturePack),
		observations:  make(map[string]store.Observation),
		claims:        make(map[string]store.Claim),
		proposals:     make(map[string]store.ModerationProposal),
		drafts:        make(map[string]store.Draft),
		draftStatuses: make(map[string]store.DraftStatusCache),
		events:        make(map[string]store.PublishEvent),
	}
}

// Bootstrap loads persisted state and, on an empty catalog, imports the
// seed catalog and provisions seed accounts.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadState(ctx); err != nil {
		return err
	}
	if len(s.cards) == 0 {
		if err := s.importSeed(ctx); err != nil {
			return err
		}
	}
	s.reindexLocked()
	s.catalog.Delete(snapshotKey)
	s.logger.Info("authority state loaded",
		"cards", len(s.cards),
		"prints", len(s.prints),
		"observations", len(s.observations),
		"claims", len(s.claims),
		"proposals", len(s.proposals),
		"drafts", len(s.drafts),
	)
	return nil
}

func (s *Service) loadState(ctx context.Context) error {
	if err := loadInto(ctx, s.store, store.KindCard, s.cards, func(v store.Card) string { return v.ID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindPrint, s.prints, func(v store.Print) string { return v.PrintID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindAlias, s.aliases, func(v store.Alias) string { return v.AliasID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindImageFeature, s.features, func(v store.ImageFeature) string { return v.FeatureID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindFeaturePack, s.packs, func(v store.FeaturePack) string { return v.PackID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindObservation, s.observations, func(v store.Observation) string { return v.ObservationID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindClaim, s.claims, func(v store.Claim) string { return v.ClaimID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindProposal, s.proposals, func(v store.ModerationProposal) string { return v.ProposalID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindDraft, s.drafts, func(v store.Draft) string { return v.DraftID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindDraftStatus, s.draftStatuses, func(v store.DraftStatusCache) string { return v.DraftID }); err != nil {
		return err
	}
	if err := loadInto(ctx, s.store, store.KindPublishEvent, s.events, func(v store.PublishEvent) string { return v.EventID }); err != nil {
		return err
	}
	profiles, err := store.ListJSON[store.TrustProfile](ctx, s.store, store.KindTrustProfile)
	if err != nil {
		return fmt.Errorf("load trust profiles: %w", err)
	}
	s.trust.Load(profiles)
	return nil
}

func loadInto[T any](ctx context.Context, st store.Store, kind store.Kind, into map[string]T, id func(T) string) error {
	items, err := store.ListJSON[T](ctx, st, kind)
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	for _, item := range items {
		into[id(item)] = item
	}
	return nil
}

func (s *Service) importSeed(ctx context.Context) error {
	seed, err := store.LoadSeed(s.cfg.SeedFile)
	if err != nil {
		return err
	}
	now := s.now()
	for _, sc := range seed.Cards {
		card := sc.Card()
		card.UpdatedAt = now
		if err := s.saveCard(ctx, card, systemActor, "seed import"); err != nil {
			return err
		}
	}
	for _, sp := range seed.Prints {
		pr := sp.Print()
		pr.UpdatedAt = now
		if err := s.savePrint(ctx, pr, systemActor, "seed import"); err != nil {
			return err
		}
	}
	for _, sa := range seed.Aliases {
		alias := sa.Alias()
		alias.UpdatedAt = now
		if err := s.put(ctx, store.KindAlias, alias.AliasID, alias); err != nil {
			return err
		}
		s.aliases[alias.AliasID] = alias
	}
	for _, sp := range seed.FeaturePacks {
		pack := sp.Pack()
		pack.UpdatedAt = now
		if err := s.put(ctx, store.KindFeaturePack, pack.PackID, pack); err != nil {
			return err
		}
		s.packs[pack.PackID] = pack
	}
	for _, sf := range seed.ImageFeatures {
		feature, err := sf.Feature()
		if err != nil {
			return err
		}
		feature.UpdatedAt = now
		if err := s.put(ctx, store.KindImageFeature, feature.FeatureID, feature); err != nil {
			return err
		}
		s.features[feature.FeatureID] = feature
	}
	for _, sa := range seed.Accounts {
		account, created, err := s.accounts.EnsureAccount(ctx, authpw.SignUpRequest{
			Username:    sa.Username,
			Password:    sa.Password,
			DisplayName: sa.DisplayName,
			Role:        sa.Role,
		})
		if err != nil {
			return fmt.Errorf("seed account %s: %w", sa.Username, err)
		}
		if created {
			s.logger.Info("seed account created", "username", account.Username, "role", account.Role)
		}
		if err := s.seedTrust(ctx, account.UserID, account.Role); err != nil {
			return err
		}
	}
	s.logger.Info("seed catalog imported", "cards", len(seed.Cards), "prints", len(seed.Prints), "features", len(seed.ImageFeatures))
	return nil
}

// Login signs in a credential account.
func (s *Service) Login(ctx context.Context, username, password, deviceID string) (Session, error) {
	account, err := s.accounts.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, asDomain(err)
	}
	if err := s.seedTrust(ctx, account.UserID, account.Role); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, session.Principal{
		UserID:      account.UserID,
		DisplayName: account.DisplayName,
		Role:        account.Role,
		DeviceID:    deviceID,
	})
}

// Guest signs in an anonymous principal with the guest role.
func (s *Service) Guest(ctx context.Context, deviceID string) (Session, error) {
	account := s.accounts.Guest()
	if err := s.seedTrust(ctx, account.UserID, account.Role); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, session.Principal{
		UserID:      account.UserID,
		DisplayName: account.DisplayName,
		Role:        account.Role,
		DeviceID:    deviceID,
	})
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	principal, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, asDomain(err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, principal)
}

func (s *Service) issueSession(ctx context.Context, p session.Principal) (Session, error) {
	token, claims, err := s.signer.Issue(p.UserID, p.DisplayName, p.Role, p.DeviceID)
	if err != nil {
		return Session{}, err
	}
	refresh := auth.NewRefreshToken()
	p.CreatedAt = s.now()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), p, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}
	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       p.UserID,
		UserName:     p.DisplayName,
		Role:         p.Role,
		DeviceID:     p.DeviceID,
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, asDomain(err)
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		DeviceID:  claims.Device,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) seedTrust(ctx context.Context, principalID, role string) error {
	profile, created := s.trust.Seed(principalID, role)
	if !created {
		return nil
	}
	return s.put(ctx, store.KindTrustProfile, principalID, profile)
}

func (s *Service) recordTrust(ctx context.Context, principalID string, outcome trust.Outcome) {
	if principalID == "" || principalID == systemActorID {
		return
	}
	profile := s.trust.Record(principalID, outcome)
	if err := s.put(ctx, store.KindTrustProfile, principalID, profile); err != nil {
		s.logger.Error("persist trust profile", "principal_id", principalID, "error", err)
	}
}

// authorize fails with FORBIDDEN when actor's role is below action's
// minimum. Unknown roles count as guest here.
func (s *Service) authorize(actor Session, action rbac.Action) error {
	role := rbac.Role(strings.ToLower(strings.TrimSpace(actor.Role)))
	if !rbac.Can(role, action) {
		return forbidden(action)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// put writes value through to the store.
func (s *Service) put(ctx context.Context, kind store.Kind, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	if err := s.store.Put(ctx, kind, id, data); err != nil {
		return fmt.Errorf("persist %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, entry store.AuditLogEntry) error {
	entry.AuditID = util.NewID("audit")
	entry.Timestamp = s.now()
	if entry.Diff.OldValues == nil {
		entry.Diff.OldValues = map[string]any{}
	}
	if entry.Diff.NewValues == nil {
		entry.Diff.NewValues = map[string]any{}
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// saveCard persists a card, archives its version and refreshes the search
// index. Caller holds mu.
func (s *Service) saveCard(ctx context.Context, card store.Card, actor Session, message string) error {
	if err := s.put(ctx, store.KindCard, card.ID, card); err != nil {
		return err
	}
	s.cards[card.ID] = card
	if err := s.archive(ctx, store.EntityCard, card.ID, card.Version, card, actor, message); err != nil {
		return err
	}
	if card.DeprecatedAt != nil {
		s.search.DeleteCard(card.ID)
	} else {
		s.search.IndexCard(cardRecord(card))
	}
	s.catalog.Delete(snapshotKey)
	return nil
}

func (s *Service) savePrint(ctx context.Context, pr store.Print, actor Session, message string) error {
	if err := s.put(ctx, store.KindPrint, pr.PrintID, pr); err != nil {
		return err
	}
	s.prints[pr.PrintID] = pr
	if err := s.archive(ctx, store.EntityPrint, pr.PrintID, pr.Version, pr, actor, message); err != nil {
		return err
	}
	s.catalog.Delete(snapshotKey)
	return nil
}

func (s *Service) archive(ctx context.Context, entity store.Entity, id string, version int, record any, actor Session, message string) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entity, id, err)
	}
	err = s.versions.Archive(ctx, store.RecordVersion{
		Entity:    entity,
		EntityID:  id,
		Version:   version,
		Record:    payload,
		Author:    firstNonBlank(actor.UserName, actor.UserID),
		Message:   message,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("archive %s %s v%d: %w", entity, id, version, err)
	}
	return nil
}

func (s *Service) reindexLocked() {
	cards := make([]search.CardRecord, 0, len(s.cards))
	for _, c := range s.cards {
		if c.DeprecatedAt == nil {
			cards = append(cards, cardRecord(c))
		}
	}
	aliases := make([]search.AliasRecord, 0, len(s.aliases))
	for _, a := range s.aliases {
		aliases = append(aliases, aliasRecord(a))
	}
	s.search.ReindexAll(cards, aliases)
}

func cardRecord(c store.Card) search.CardRecord {
	return search.CardRecord{ID: c.ID, Name: c.Name, Type: c.Type, Archetype: c.Archetype, Text: c.Text}
}

func aliasRecord(a store.Alias) search.AliasRecord {
	return search.AliasRecord{ID: a.AliasID, CardID: a.CardID, AliasText: a.AliasText, Locale: a.Locale}
}

// Close releases background resources.
func (s *Service) Close() error {
	s.search.Close()
	return errors.Join(s.sessions.Close(), s.store.Close())
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
