// Package blob archives snapshot bundles in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	snapshotPrefix = "snapshots/"
	latestKey      = snapshotPrefix + "latest.json"
)

var ErrNoSnapshot = errors.New("no archived snapshot")

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Archive struct {
	client *minio.Client
	bucket string
}

func New(opts Options) (*Archive, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("blob: endpoint is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}
	return &Archive{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket when missing.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("blob: check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blob: make bucket %s: %w", a.bucket, err)
	}
	return nil
}

// SnapshotKey names the object holding the bundle exported at exportedAt.
func SnapshotKey(exportedAt time.Time) string {
	return snapshotPrefix + exportedAt.UTC().Format("20060102T150405.000000000Z") + ".json"
}

// PutSnapshot stores env under its timestamped key and as latest.json.
func (a *Archive) PutSnapshot(ctx context.Context, env store.SnapshotEnvelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("blob: encode snapshot: %w", err)
	}
	key := SnapshotKey(env.Bundle.ExportedAt)
	for _, k := range []string{key, latestKey} {
		_, err := a.client.PutObject(ctx, a.bucket, k, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"checksum": env.Checksum},
		})
		if err != nil {
			return "", fmt.Errorf("blob: put %s: %w", k, err)
		}
	}
	return key, nil
}

// LatestSnapshot reads back the most recent archived envelope.
func (a *Archive) LatestSnapshot(ctx context.Context) (store.SnapshotEnvelope, error) {
	return a.GetSnapshot(ctx, latestKey)
}

func (a *Archive) GetSnapshot(ctx context.Context, key string) (store.SnapshotEnvelope, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return store.SnapshotEnvelope{}, a.mapErr(key, err)
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		return store.SnapshotEnvelope{}, a.mapErr(key, err)
	}
	var env store.SnapshotEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return store.SnapshotEnvelope{}, fmt.Errorf("blob: decode %s: %w", key, err)
	}
	return env, nil
}

func (a *Archive) mapErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("blob: %s: %w", key, ErrNoSnapshot)
	}
	return fmt.Errorf("blob: get %s: %w", key, err)
}
