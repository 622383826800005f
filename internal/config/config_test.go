package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.RateMax != 30 || cfg.RateWindow != time.Hour {
		t.Fatalf("unexpected rate limit defaults %d/%s", cfg.RateMax, cfg.RateWindow)
	}
	if cfg.DedupWindow != 24*time.Hour {
		t.Fatalf("DedupWindow = %s", cfg.DedupWindow)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatal("expected in-memory backends by default")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CARDSCAN_ADDR", ":9999")
	t.Setenv("CARDSCAN_RATE_MAX", "5")
	t.Setenv("CARDSCAN_ACCESS_TTL", "2m")

	cfg := Load()

	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.RateMax != 5 {
		t.Fatalf("RateMax = %d", cfg.RateMax)
	}
	if cfg.AccessTTL != 2*time.Minute {
		t.Fatalf("AccessTTL = %s", cfg.AccessTTL)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardscan.yaml")
	content := "addr: \":7000\"\nmeili_url: http://meili:7700\nthrottle_burst: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cfg := FromViper(v)

	if cfg.Addr != ":7000" || cfg.MeiliURL != "http://meili:7700" || cfg.ThrottleBurst != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
