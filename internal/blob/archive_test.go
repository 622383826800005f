package blob

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/psinetreject/card-scanner/internal/store"
)

func TestSnapshotKeyIsSortableUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	early := SnapshotKey(time.Date(2026, 3, 1, 12, 0, 0, 0, loc))
	late := SnapshotKey(time.Date(2026, 3, 1, 11, 0, 0, 1, time.UTC))

	if early != "snapshots/20260301T100000.000000000Z.json" {
		t.Fatalf("unexpected key %q", early)
	}
	if !(early < late) {
		t.Fatalf("expected %q < %q", early, late)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Options{Bucket: "b"}); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := New(Options{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := New(Options{Endpoint: "localhost:9000", Bucket: "b"}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

// Requires an S3-compatible server, e.g. a local MinIO:
// CARDSCAN_TEST_S3_ENDPOINT=localhost:9000 CARDSCAN_TEST_S3_ACCESS_KEY=... CARDSCAN_TEST_S3_SECRET_KEY=...
func TestArchiveRoundTripIntegration(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("CARDSCAN_TEST_S3_ENDPOINT"))
	if testing.Short() || endpoint == "" {
		t.Skip("set CARDSCAN_TEST_S3_ENDPOINT to run object storage integration tests")
	}
	archive, err := New(Options{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("CARDSCAN_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("CARDSCAN_TEST_S3_SECRET_KEY"),
		Bucket:    "cardscan-test-" + time.Now().UTC().Format("20060102150405"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := archive.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if _, err := archive.LatestSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	bundle := store.Bundle{AppVersion: "0.5.0", SchemaVersion: 5, ExportedAt: time.Now().UTC(), Cards: []store.Card{{ID: "c1", Name: "Dark Magician", Type: "Monster", Version: 1}}}
	checksum, err := store.BundleChecksum(bundle)
	if err != nil {
		t.Fatalf("BundleChecksum() error = %v", err)
	}
	key, err := archive.PutSnapshot(ctx, store.SnapshotEnvelope{Bundle: bundle, Checksum: checksum})
	if err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	latest, err := archive.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if latest.Checksum != checksum || len(latest.Bundle.Cards) != 1 {
		t.Fatalf("unexpected envelope %+v", latest)
	}
	byKey, err := archive.GetSnapshot(ctx, key)
	if err != nil || byKey.Checksum != checksum {
		t.Fatalf("GetSnapshot(%s) = %+v, %v", key, byKey, err)
	}
}
