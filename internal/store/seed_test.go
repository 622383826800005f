package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBuiltinSeed(t *testing.T) {
	seed, err := LoadSeed("")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(seed.Cards) == 0 || len(seed.Prints) == 0 || len(seed.Accounts) == 0 {
		t.Fatalf("builtin seed is incomplete: %+v", seed)
	}
	card := seed.Cards[0].Card()
	if card.Version != 1 || card.ATK == nil {
		t.Fatalf("unexpected seed card: %+v", card)
	}
	for _, f := range seed.ImageFeatures {
		if _, err := f.Feature(); err != nil {
			t.Fatalf("seed feature: %v", err)
		}
	}
	for _, p := range seed.FeaturePacks {
		if p.Pack().Status == "" {
			t.Fatalf("pack %s has no status", p.PackID)
		}
	}
}

func TestLoadSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	body := "cards:\n  - id: x1\n    name: Kuriboh\n    type: Monster\naliases:\n  - aliasId: a9\n    cardId: x1\n    aliasText: Kuribo\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(seed.Cards) != 1 || seed.Cards[0].Name != "Kuriboh" {
		t.Fatalf("unexpected cards: %+v", seed.Cards)
	}
	if seed.Aliases[0].Alias().AliasText != "Kuribo" {
		t.Fatalf("unexpected alias: %+v", seed.Aliases)
	}
}

func TestSeedFeatureRejectsBadFingerprint(t *testing.T) {
	if _, err := (SeedImageFeature{FeatureID: "f", Fingerprint: "xyz"}).Feature(); err == nil {
		t.Fatal("expected bad fingerprint to fail")
	}
}
