package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestShippedMigrationsArePaired(t *testing.T) {
	migrations, err := LoadMigrations(os.DirFS(filepath.Join("..", "..", "db", "migrations")))
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, migrations[i].Version)
		}
	}
	if migrations[0].Name != "entities" {
		t.Fatalf("expected first migration to create entities, got %q", migrations[0].Name)
	}
}

func TestLoadMigrationsRejectsUnpairedVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_entities.up.sql":   {Data: []byte("CREATE TABLE entities (id TEXT);")},
		"0001_entities.down.sql": {Data: []byte("DROP TABLE entities;")},
		"0002_claims.up.sql":     {Data: []byte("CREATE TABLE claims (id TEXT);")},
		"README.md":              {Data: []byte("ignored")},
	}
	_, err := LoadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "0002_claims") {
		t.Fatalf("expected unpaired 0002 to fail, got %v", err)
	}

	fsys["0002_claims.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE claims;")}
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 || migrations[1].Down != "DROP TABLE claims;" {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_entities.up.sql":  {Data: []byte("SELECT 1;")},
		"0001_records.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Fatal("expected conflicting names to fail")
	}
}
