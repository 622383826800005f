package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psinetreject/card-scanner/internal/store"
)

func archive(t *testing.T, svc *Service, id string, version int, name string) {
	t.Helper()
	err := svc.Archive(context.Background(), store.RecordVersion{
		Entity:    store.EntityCard,
		EntityID:  id,
		Version:   version,
		Record:    []byte(fmt.Sprintf(`{"id":%q,"name":%q,"version":%d}`, id, name, version)),
		Author:    "Mod Avery",
		Message:   fmt.Sprintf("set name to %s", name),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, version, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Archive(v%d) error = %v", version, err)
	}
}

func TestRecordVersionLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	archive(t, svc, "c1", 1, "Dark Magician")
	archive(t, svc, "c1", 2, "Dark Magician Girl")
	archive(t, svc, "c1", 3, "Dark Magician")

	if _, err := os.Stat(filepath.Join(tempDir, "card", "c1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	v2, err := svc.GetVersion(context.Background(), store.EntityCard, "c1", 2)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if string(v2.Record) != `{"id":"c1","name":"Dark Magician Girl","version":2}` {
		t.Fatalf("unexpected record %s", v2.Record)
	}
	if v2.Author != "Mod Avery" || v2.Message != "set name to Dark Magician Girl" {
		t.Fatalf("unexpected commit metadata %+v", v2)
	}

	history, err := svc.History(context.Background(), store.EntityCard, "c1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	for i, want := range []int{3, 2, 1} {
		if history[i].Version != want {
			t.Fatalf("history[%d].Version = %d, want %d", i, history[i].Version, want)
		}
	}
}

func TestGetVersionMissing(t *testing.T) {
	svc := New(t.TempDir())

	_, err := svc.GetVersion(context.Background(), store.EntityCard, "nope", 1)
	if !errors.Is(err, store.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound for missing repo, got %v", err)
	}

	archive(t, svc, "c1", 1, "Pot of Greed")
	_, err = svc.GetVersion(context.Background(), store.EntityCard, "c1", 5)
	if !errors.Is(err, store.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound for missing tag, got %v", err)
	}

	history, err := svc.History(context.Background(), store.EntityPrint, "p1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestArchiveRejectsUnsafeIDs(t *testing.T) {
	svc := New(t.TempDir())
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		err := svc.Archive(context.Background(), store.RecordVersion{Entity: store.EntityCard, EntityID: id, Version: 1, Record: []byte(`{}`)})
		if err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
}

func TestArchiveSameVersionMovesTag(t *testing.T) {
	svc := New(t.TempDir())
	archive(t, svc, "c1", 1, "Mirror Force")
	archive(t, svc, "c1", 1, "Mirror Force (reseeded)")

	got, err := svc.GetVersion(context.Background(), store.EntityCard, "c1", 1)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if string(got.Record) != `{"id":"c1","name":"Mirror Force (reseeded)","version":1}` {
		t.Fatalf("unexpected record %s", got.Record)
	}
}

func TestConcurrentArchivesAcrossRecords(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- svc.Archive(context.Background(), store.RecordVersion{
				Entity:   store.EntityCard,
				EntityID: fmt.Sprintf("c%d", i%2),
				Version:  i/2 + 1,
				Record:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
	}

	for _, id := range []string{"c0", "c1"} {
		history, err := svc.History(context.Background(), store.EntityCard, id)
		if err != nil {
			t.Fatalf("History(%s) error = %v", id, err)
		}
		if len(history) != 4 {
			t.Fatalf("History(%s) has %d versions, want 4", id, len(history))
		}
	}
}
