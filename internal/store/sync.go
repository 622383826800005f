package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

type OutboxStatus string

const (
	OutboxQueued OutboxStatus = "queued"
	OutboxSent   OutboxStatus = "sent"
	OutboxFailed OutboxStatus = "failed"
)

type OutboxProposal struct {
	LocalProposalID string          `json:"localProposalId"`
	CreatedAt       time.Time       `json:"createdAt"`
	DeviceID        string          `json:"createdByDeviceId"`
	UserID          string          `json:"userId,omitempty"`
	Type            ProposalType    `json:"type"`
	Payload         ProposalPayload `json:"payload"`
	RelatedScanID   string          `json:"relatedScanId,omitempty"`
	Status          OutboxStatus    `json:"status"`
	LastError       string          `json:"lastError,omitempty"`
	LastErrorCode   string          `json:"lastErrorCode,omitempty"`
}

type OutboxObservation struct {
	LocalObservationID string       `json:"localObservationId"`
	CreatedAt          time.Time    `json:"createdAt"`
	TargetType         TargetType   `json:"targetType,omitempty"`
	TargetID           string       `json:"targetId,omitempty"`
	FieldPath          string       `json:"fieldPath"`
	Value              any          `json:"value"`
	OCRConfidence      float64      `json:"ocrConfidence"`
	CaptureQuality     float64      `json:"captureQualityScore"`
	ScanRef            string       `json:"scanRef,omitempty"`
	Status             OutboxStatus `json:"status"`
	LastError          string       `json:"lastError,omitempty"`
	LastErrorCode      string       `json:"lastErrorCode,omitempty"`
}

type OutboxDraft struct {
	LocalDraftID    string         `json:"localDraftId"`
	CreatedAt       time.Time      `json:"createdAt"`
	SourceScanID    string         `json:"sourceScanId,omitempty"`
	ProposedPayload map[string]any `json:"proposedPayload"`
	ExtractedFields map[string]any `json:"extractedFields"`
	TargetType      TargetType     `json:"targetType"`
	TargetID        string         `json:"targetId,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Status          OutboxStatus   `json:"status"`
	LastError       string         `json:"lastError,omitempty"`
	LastErrorCode   string         `json:"lastErrorCode,omitempty"`
}

// SyncState is the client's pull cursor.
type SyncState struct {
	LastSyncAt         *time.Time `json:"lastSyncAt,omitempty"`
	LastCardsVersion   int        `json:"lastCardsVersion"`
	LastPrintsVersion  int        `json:"lastPrintsVersion"`
	LastAliasesVersion int        `json:"lastAliasesVersion"`
	LastImagesVersion  int        `json:"lastImagesVersion"`
}

type PullResponse struct {
	Cards         []Card             `json:"cards"`
	Prints        []Print            `json:"prints"`
	Aliases       []Alias            `json:"aliases"`
	ImageFeatures []ImageFeature     `json:"imageFeatures"`
	FeaturePacks  []FeaturePack      `json:"featurePacks"`
	Claims        []Claim            `json:"claims"`
	DraftStatuses []DraftStatusCache `json:"draftStatuses"`
	SyncState     SyncState          `json:"syncState"`
}

type PushFailure struct {
	ID    string `json:"id"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// PushResult reports per-item admission; a batch never fails as a whole.
type PushResult struct {
	AcceptedIDs []string      `json:"acceptedIds"`
	Failed      []PushFailure `json:"failed"`
}

// Bundle is the full-state recovery snapshot.
type Bundle struct {
	AppVersion    string             `json:"appVersion"`
	SchemaVersion int                `json:"schemaVersion"`
	ExportedAt    time.Time          `json:"exportedAt"`
	Cards         []Card             `json:"cards"`
	Prints        []Print            `json:"prints"`
	Aliases       []Alias            `json:"aliases"`
	ImageFeatures []ImageFeature     `json:"imageFeatures"`
	FeaturePacks  []FeaturePack      `json:"featurePacks"`
	Claims        []Claim            `json:"claims"`
	DraftStatuses []DraftStatusCache `json:"draftStatuses"`
	SyncState     SyncState          `json:"syncState"`
}

type SnapshotEnvelope struct {
	Bundle   Bundle `json:"bundle"`
	Checksum string `json:"checksum"`
}

// BundleChecksum is "sha256-" followed by the hex SHA-256 of the bundle's
// JSON encoding.
func BundleChecksum(bundle Bundle) (string, error) {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	sum := sha256.Sum256(payload)
	return "sha256-" + hex.EncodeToString(sum[:]), nil
}
