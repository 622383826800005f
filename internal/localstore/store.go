// Package localstore is the scanning client's persistent state: the cached
// catalog, the outboxes of unconfirmed writes, the sync cursor and the
// signed-in session. Everything lives in one SQLite file.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Bucket names one collection of records.
type Bucket string

const (
	BucketCards              Bucket = "cache_cards"
	BucketPrints             Bucket = "cache_prints"
	BucketAliases            Bucket = "cache_aliases"
	BucketImageFeatures      Bucket = "cache_image_features"
	BucketFeaturePacks       Bucket = "feature_packs"
	BucketClaims             Bucket = "claims"
	BucketDraftStatuses      Bucket = "draft_statuses"
	BucketOutboxProposals    Bucket = "outbox_proposals"
	BucketOutboxObservations Bucket = "outbox_observations"
	BucketOutboxDrafts       Bucket = "outbox_drafts"
	BucketMeta               Bucket = "meta"
)

// cacheBuckets are replaced wholesale by snapshot recovery.
var cacheBuckets = []Bucket{
	BucketCards, BucketPrints, BucketAliases, BucketImageFeatures,
	BucketFeaturePacks, BucketClaims, BucketDraftStatuses,
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	bucket     TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (bucket, id)
)`

// Entry is one stored record.
type Entry struct {
	ID   string
	Data []byte
}

type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or connects to the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create local store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) put(ctx context.Context, ex execer, bucket Bucket, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, id, err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO records (bucket, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bucket, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, string(bucket), id, string(data), s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, id, err)
	}
	return nil
}

// Put stores value as JSON under (bucket, id), replacing any previous value.
func (s *Store) Put(ctx context.Context, bucket Bucket, id string, value any) error {
	return s.put(ctx, s.db, bucket, id, value)
}

// Get decodes the record at (bucket, id) into target.
func (s *Store) Get(ctx context.Context, bucket Bucket, id string, target any) error {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE bucket = ? AND id = ?`, string(bucket), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", bucket, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, id, err)
	}
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return fmt.Errorf("decode %s/%s: %w", bucket, id, err)
	}
	return nil
}

// List returns every record of bucket ordered by id.
func (s *Store) List(ctx context.Context, bucket Bucket) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM records WHERE bucket = ? ORDER BY id`, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var (
			item Entry
			data string
		)
		if err := rows.Scan(&item.ID, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		item.Data = []byte(data)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", bucket, err)
	}
	return items, nil
}

func (s *Store) Delete(ctx context.Context, bucket Bucket, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE bucket = ? AND id = ?`, string(bucket), id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, id, err)
	}
	return nil
}

// Count returns the number of records in bucket.
func (s *Store) Count(ctx context.Context, bucket Bucket) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE bucket = ?`, string(bucket)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", bucket, err)
	}
	return n, nil
}

// withTx runs fn in one transaction, rolling back when it fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListJSON decodes every record of bucket as T.
func ListJSON[T any](ctx context.Context, s *Store, bucket Bucket) ([]T, error) {
	entries, err := s.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", bucket, e.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
