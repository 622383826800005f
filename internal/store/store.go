package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionNotFound = errors.New("record version not found")
)

// Kind names one entity collection in the key/value boundary.
type Kind string

const (
	KindCard          Kind = "cards"
	KindPrint         Kind = "prints"
	KindAlias         Kind = "aliases"
	KindImageFeature  Kind = "image_features"
	KindFeaturePack   Kind = "feature_packs"
	KindObservation   Kind = "observations"
	KindClaim         Kind = "claims"
	KindProposal      Kind = "proposals"
	KindDraft         Kind = "drafts"
	KindDraftStatus   Kind = "draft_statuses"
	KindPublishEvent  Kind = "publish_events"
	KindTrustProfile  Kind = "trust_profiles"
	KindAccount       Kind = "accounts"
	KindRecordVersion Kind = "record_versions"
)

// Entry is one stored value.
type Entry struct {
	ID   string
	Data []byte
}

// Store is the authority's persistence boundary: get/put/list per kind and
// an append-only audit log. Implementations give read-your-writes within
// one process and nothing stronger.
type Store interface {
	Put(ctx context.Context, kind Kind, id string, data []byte) error
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	List(ctx context.Context, kind Kind) ([]Entry, error)
	AppendAudit(ctx context.Context, entry AuditLogEntry) error
	// ListAudit returns entries newest first.
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditLogEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

type AuditFilter struct {
	Entity   Entity
	EntityID string
	Limit    int
}

func (f AuditFilter) matches(e AuditLogEntry) bool {
	if f.Entity != "" && e.Entity != f.Entity {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	return true
}

// PutJSON encodes value and stores it under kind/id.
func PutJSON[T any](ctx context.Context, s Store, kind Kind, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	return s.Put(ctx, kind, id, data)
}

// GetJSON loads and decodes kind/id. Missing values return ErrNotFound.
func GetJSON[T any](ctx context.Context, s Store, kind Kind, id string) (T, error) {
	var out T
	data, err := s.Get(ctx, kind, id)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return out, nil
}

// ListJSON decodes every value of kind, ordered by id.
func ListJSON[T any](ctx context.Context, s Store, kind Kind) ([]T, error) {
	entries, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, e.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
