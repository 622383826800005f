package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RecordVersion is the full snapshot of one canonical record at one version.
type RecordVersion struct {
	Entity    Entity          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Version   int             `json:"version"`
	Record    json.RawMessage `json:"record"`
	Author    string          `json:"author"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"createdAt"`
}

// VersionLog keeps record versions in the entity store under
// KindRecordVersion. Archiving the same version twice replaces it.
type VersionLog struct {
	store Store
}

func NewVersionLog(s Store) *VersionLog {
	return &VersionLog{store: s}
}

func versionKey(entity Entity, id string, version int) string {
	return fmt.Sprintf("%s:%s:%08d", entity, id, version)
}

func (l *VersionLog) Archive(ctx context.Context, v RecordVersion) error {
	if v.Version <= 0 {
		return fmt.Errorf("archive %s/%s: version must be positive", v.Entity, v.EntityID)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return PutJSON(ctx, l.store, KindRecordVersion, versionKey(v.Entity, v.EntityID, v.Version), v)
}

func (l *VersionLog) GetVersion(ctx context.Context, entity Entity, id string, version int) (RecordVersion, error) {
	v, err := GetJSON[RecordVersion](ctx, l.store, KindRecordVersion, versionKey(entity, id, version))
	if errors.Is(err, ErrNotFound) {
		return RecordVersion{}, fmt.Errorf("%s %s v%d: %w", entity, id, version, ErrVersionNotFound)
	}
	return v, err
}

// History lists the archived versions of one record, newest first.
func (l *VersionLog) History(ctx context.Context, entity Entity, id string) ([]RecordVersion, error) {
	all, err := ListJSON[RecordVersion](ctx, l.store, KindRecordVersion)
	if err != nil {
		return nil, err
	}
	out := make([]RecordVersion, 0)
	for _, v := range all {
		if v.Entity == entity && v.EntityID == id {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}
