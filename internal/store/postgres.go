package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore keeps entities as JSONB documents keyed by (kind, id) and
// the audit log in an insert-only table guarded by triggers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Put(ctx context.Context, kind Kind, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, string(kind), id, string(data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM entities WHERE kind=$1 AND id=$2`, string(kind), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	return data, nil
}

func (s *PostgresStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM entities WHERE kind=$1 ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		if err := rows.Scan(&item.ID, &item.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry AuditLogEntry) error {
	diff, err := json.Marshal(entry.Diff)
	if err != nil {
		return fmt.Errorf("marshal audit diff: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, ts, proposal_id, action, actor_user_id, actor_role, entity, entity_id, diff, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	`, entry.AuditID, entry.Timestamp, entry.ProposalID, string(entry.Action), entry.ActorUserID, entry.ActorRole,
		string(entry.Entity), entry.EntityID, string(diff), entry.Notes)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, ts, proposal_id, action, actor_user_id, actor_role, entity, entity_id, diff, notes
		FROM audit_log
		WHERE ($1='' OR entity=$1)
		  AND ($2='' OR entity_id=$2)
		ORDER BY seq DESC
		LIMIT $3
	`, string(filter.Entity), filter.EntityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		var action, entity string
		var diffRaw []byte
		if err := rows.Scan(
			&item.AuditID,
			&item.Timestamp,
			&item.ProposalID,
			&action,
			&item.ActorUserID,
			&item.ActorRole,
			&entity,
			&item.EntityID,
			&diffRaw,
			&item.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		item.Action = AuditAction(action)
		item.Entity = Entity(entity)
		if err := json.Unmarshal(diffRaw, &item.Diff); err != nil {
			return nil, fmt.Errorf("decode audit diff %s: %w", item.AuditID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
