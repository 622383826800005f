package store

import (
	"time"

	"github.com/psinetreject/card-scanner/internal/similarity"
)

type TargetType string

const (
	TargetCard    TargetType = "card"
	TargetPrint   TargetType = "print"
	TargetUnknown TargetType = "unknown"
)

type ConsensusMeta struct {
	ConsensusScore    float64   `json:"consensusScore"`
	ConsensusCount    int       `json:"consensusCount"`
	DisagreementCount int       `json:"disagreementCount"`
	LastComputedAt    time.Time `json:"lastComputedAt"`
}

type Card struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Type          string                   `json:"type"`
	Attribute     string                   `json:"attribute,omitempty"`
	LevelRankLink *int                     `json:"levelRankLink,omitempty"`
	ATK           *int                     `json:"atk,omitempty"`
	DEF           *int                     `json:"def,omitempty"`
	Text          string                   `json:"text"`
	Archetype     string                   `json:"archetype,omitempty"`
	ImageKey      string                   `json:"imageKey,omitempty"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	Version       int                      `json:"version"`
	DeprecatedAt  *time.Time               `json:"deprecatedAt,omitempty"`
	Consensus     map[string]ConsensusMeta `json:"consensus,omitempty"`
}

type Print struct {
	PrintID      string                   `json:"printId"`
	CardID       string                   `json:"cardId"`
	SetCode      string                   `json:"setCode"`
	SetName      string                   `json:"setName"`
	Rarity       string                   `json:"rarity,omitempty"`
	Edition      string                   `json:"edition,omitempty"`
	Language     string                   `json:"language"`
	ReleaseDate  string                   `json:"releaseDate,omitempty"`
	UpdatedAt    time.Time                `json:"updatedAt"`
	Version      int                      `json:"version"`
	DeprecatedAt *time.Time               `json:"deprecatedAt,omitempty"`
	Consensus    map[string]ConsensusMeta `json:"consensus,omitempty"`
}

type Alias struct {
	AliasID   string    `json:"aliasId"`
	CardID    string    `json:"cardId"`
	AliasText string    `json:"aliasText"`
	Locale    string    `json:"locale"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

type RegionType string

const (
	RegionFullCard RegionType = "full_card"
	RegionArtBox   RegionType = "art_box"
)

type ImageFeature struct {
	FeatureID   string                 `json:"featureId"`
	CardID      string                 `json:"cardId"`
	PrintID     string                 `json:"printId,omitempty"`
	Region      RegionType             `json:"roiType"`
	Fingerprint similarity.Fingerprint `json:"phash"`
	PackID      string                 `json:"packId"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

type PackStatus string

const (
	PackInstalled PackStatus = "installed"
	PackAvailable PackStatus = "available"
)

type FeaturePack struct {
	PackID    string     `json:"packId"`
	Name      string     `json:"name"`
	Status    PackStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type ObservationStatus string

const (
	ObservationActive    ObservationStatus = "active"
	ObservationWithdrawn ObservationStatus = "withdrawn"
	ObservationSpam      ObservationStatus = "spam"
)

type Observation struct {
	ObservationID    string            `json:"observationId"`
	LocalID          string            `json:"localId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	PrincipalID      string            `json:"principalId"`
	DeviceID         string            `json:"deviceId,omitempty"`
	ScanRef          string            `json:"scanRef,omitempty"`
	TargetType       TargetType        `json:"targetType"`
	TargetID         string            `json:"targetId"`
	FieldPath        string            `json:"fieldPath"`
	Value            any               `json:"value"`
	ValueNorm        string            `json:"valueNorm"`
	OCRConfidence    float64           `json:"ocrConfidence"`
	CaptureQuality   float64           `json:"captureQualityScore"`
	EvidenceImageKey string            `json:"evidenceImageKey,omitempty"`
	Status           ObservationStatus `json:"status"`
}

type ClaimStatus string

const (
	ClaimOpen       ClaimStatus = "open"
	ClaimAccepted   ClaimStatus = "accepted"
	ClaimRejected   ClaimStatus = "rejected"
	ClaimSuperseded ClaimStatus = "superseded"
)

type CompetingValue struct {
	ValueNorm   string  `json:"valueNorm"`
	Value       any     `json:"value"`
	TotalWeight float64 `json:"totalWeight"`
	Principals  int     `json:"principals"`
}

type Claim struct {
	ClaimID           string           `json:"claimId"`
	CreatedAt         time.Time        `json:"createdAt"`
	TargetType        TargetType       `json:"targetType"`
	TargetID          string           `json:"targetId"`
	FieldPath         string           `json:"fieldPath"`
	ProposedValue     any              `json:"proposedValue"`
	ProposedValueNorm string           `json:"proposedValueNorm"`
	GeneratedFrom     []string         `json:"generatedFrom"`
	Status            ClaimStatus      `json:"status"`
	ConsensusScore    float64          `json:"consensusScore"`
	ConsensusCount    int              `json:"consensusCount"`
	DisagreementCount int              `json:"disagreementCount"`
	LastComputedAt    time.Time        `json:"lastComputedAt"`
	CompetingValues   []CompetingValue `json:"competingValues"`
	ResolvedAt        *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy        string           `json:"resolvedBy,omitempty"`
}

type ProposalType string

const (
	ProposalNewCard    ProposalType = "new_card"
	ProposalEditCard   ProposalType = "edit_card"
	ProposalNewPrint   ProposalType = "new_print"
	ProposalEditPrint  ProposalType = "edit_print"
	ProposalAlias      ProposalType = "alias"
	ProposalCorrection ProposalType = "correction"
)

type ProposalStatus string

const (
	ProposalStatusNew       ProposalStatus = "new"
	ProposalStatusReviewing ProposalStatus = "reviewing"
	ProposalStatusAccepted  ProposalStatus = "accepted"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusMoreInfo  ProposalStatus = "more_info"
)

// Entity names a record kind inside diffs and audit entries.
type Entity string

const (
	EntityCard  Entity = "card"
	EntityPrint Entity = "print"
	EntityAlias Entity = "alias"
	EntityClaim Entity = "claim"
	EntityDraft Entity = "draft"

	EntityObservation Entity = "observation"
	EntityFeaturePack Entity = "feature_pack"
)

type ProposalDiff struct {
	Entity    Entity         `json:"entity"`
	EntityID  string         `json:"entityId,omitempty"`
	OldValues map[string]any `json:"oldValues"`
	NewValues map[string]any `json:"newValues"`
}

type ProposalPayload struct {
	Diff                ProposalDiff `json:"diff"`
	Note                string       `json:"note,omitempty"`
	Confidence          *float64     `json:"confidence,omitempty"`
	ScanImageRef        string       `json:"scanImageRef,omitempty"`
	OCRExtractedName    string       `json:"ocrExtractedName,omitempty"`
	OCRExtractedSetCode string       `json:"ocrExtractedSetCode,omitempty"`
}

type ModerationProposal struct {
	ProposalID    string          `json:"proposalId"`
	LocalID       string          `json:"localId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	DeviceID      string          `json:"createdByDeviceId"`
	UserID        string          `json:"userId,omitempty"`
	Type          ProposalType    `json:"type"`
	Payload       ProposalPayload `json:"payload"`
	Status        ProposalStatus  `json:"status"`
	ReviewedAt    *time.Time      `json:"reviewedAt,omitempty"`
	ReviewedBy    string          `json:"reviewedBy,omitempty"`
	ReviewerNotes string          `json:"reviewerNotes,omitempty"`
	Flagged       bool            `json:"flagged,omitempty"`
}

type DraftStatus string

const (
	DraftNew            DraftStatus = "new"
	DraftReviewing      DraftStatus = "reviewing"
	DraftPublished      DraftStatus = "published"
	DraftRejected       DraftStatus = "rejected"
	DraftRequestChanges DraftStatus = "request_changes"
)

type Draft struct {
	DraftID         string         `json:"draftId"`
	LocalID         string         `json:"localId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CreatedBy       string         `json:"createdBy"`
	DeviceID        string         `json:"deviceId,omitempty"`
	SourceScanRef   string         `json:"sourceScanRef,omitempty"`
	TargetType      TargetType     `json:"targetType"`
	TargetID        string         `json:"targetId,omitempty"`
	ExtractedFields map[string]any `json:"extractedFields"`
	ProposedPayload map[string]any `json:"proposedPayload"`
	Status          DraftStatus    `json:"status"`
	ReviewNotes     string         `json:"reviewNotes,omitempty"`
	PublishedAt     *time.Time     `json:"publishedAt,omitempty"`
	PublishedBy     string         `json:"publishedBy,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
}

type DraftStatusCache struct {
	DraftID     string      `json:"draftId"`
	Status      DraftStatus `json:"status"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	ReviewNotes string      `json:"reviewNotes,omitempty"`
}

type PublishAction string

const (
	PublishActionPublish        PublishAction = "publish"
	PublishActionReject         PublishAction = "reject"
	PublishActionRequestChanges PublishAction = "request_changes"
)

type PublishEvent struct {
	EventID            string         `json:"eventId"`
	DraftID            string         `json:"draftId"`
	Timestamp          time.Time      `json:"timestamp"`
	Action             PublishAction  `json:"action"`
	ActorRole          string         `json:"actorRole"`
	ActorID            string         `json:"actorId"`
	DiffApplied        map[string]any `json:"diffApplied"`
	ResultingTargetIDs []string       `json:"resultingTargetIds"`
}

type TrustProfile struct {
	PrincipalID     string    `json:"principalId"`
	Role            string    `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
	ReputationScore float64   `json:"reputationScore"`
	AcceptedCount   int       `json:"acceptedCount"`
	RejectedCount   int       `json:"rejectedCount"`
	SpamFlagCount   int       `json:"spamFlagCount"`
}

type AuditAction string

const (
	AuditAccepted        AuditAction = "accepted"
	AuditRejected        AuditAction = "rejected"
	AuditMoreInfo        AuditAction = "more_info"
	AuditRollback        AuditAction = "rollback"
	AuditAdminEdit       AuditAction = "admin_edit"
	AuditClaimAccepted   AuditAction = "claim_accepted"
	AuditClaimRejected   AuditAction = "claim_rejected"
	AuditClaimSuperseded AuditAction = "claim_superseded"
	AuditDraftPublished  AuditAction = "draft_published"
	AuditDraftRejected   AuditAction = "draft_rejected"
	AuditDraftChanges    AuditAction = "draft_request_changes"
	AuditObservation     AuditAction = "observation_status"
	AuditFeaturePack     AuditAction = "feature_pack"
)

type AuditLogEntry struct {
	AuditID     string       `json:"auditId"`
	Timestamp   time.Time    `json:"timestamp"`
	ProposalID  string       `json:"proposalId,omitempty"`
	Action      AuditAction  `json:"action"`
	ActorUserID string       `json:"actorUserId"`
	ActorRole   string       `json:"actorRole"`
	Entity      Entity       `json:"entity"`
	EntityID    string       `json:"entityId"`
	Diff        ProposalDiff `json:"diff"`
	Notes       string       `json:"notes,omitempty"`
}

type UserTrustStats struct {
	UserID          string  `json:"userId"`
	AcceptedCount   int     `json:"acceptedCount"`
	RejectedCount   int     `json:"rejectedCount"`
	SpamFlagCount   int     `json:"spamFlagCount"`
	RejectionRate   float64 `json:"rejectionRate"`
	TrustScore      int     `json:"trustScore"`
	ReputationScore float64 `json:"reputationScore"`
	Flagged         bool    `json:"flagged"`
}

type Account struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
