package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psinetreject/card-scanner/internal/app"
	"github.com/psinetreject/card-scanner/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func startAuthority(t *testing.T) string {
	t.Helper()
	svc := app.New(config.Config{
		TokenSecret: "cli-test",
		AccessTTL:   time.Minute,
		RefreshTTL:  time.Hour,
		RateWindow:  time.Hour,
		RateMax:     30,
		DedupWindow: 24 * time.Hour,
	}, app.Deps{})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	server := httptest.NewServer(app.NewHTTPServer(svc, "*", nil).Handler())
	t.Cleanup(server.Close)
	return server.URL
}

func TestSyncAndMatchAgainstAuthority(t *testing.T) {
	t.Setenv("CARDSCAN_AUTHORITY_URL", startAuthority(t))
	t.Setenv("CARDSCAN_LOCAL_DB_PATH", filepath.Join(t.TempDir(), "local.db"))
	t.Setenv("CARDSCAN_DEVICE_ID", "cli-test")
	t.Setenv("CARDSCAN_LOG_LEVEL", "error")

	if _, err := runCLI(t, "match", "--name", "Dark Magician"); err == nil {
		t.Fatal("expected match against an empty cache to fail")
	}

	out, err := runCLI(t, "sync", "login", "-u", "contributor", "-p", "change-me-contributor")
	if err != nil {
		t.Fatalf("sync login: %v", err)
	}
	requireContains(t, out, "(contributor)")

	out, err = runCLI(t, "sync", "observe", "--target", "c1", "--field", "cards.name",
		"--value", "Dark Magician", "--ocr-confidence", "0.9", "--capture-quality", "0.8")
	if err != nil {
		t.Fatalf("sync observe: %v", err)
	}
	requireContains(t, out, "Queued observation")

	out, err = runCLI(t, "sync", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	var report struct {
		Observations struct {
			Sent int `json:"sent"`
		} `json:"observations"`
		Pulled bool `json:"pulled"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Observations.Sent != 1 || !report.Pulled {
		t.Fatalf("unexpected report: %+v", report)
	}

	out, err = runCLI(t, "sync", "status")
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	requireContains(t, out, "Signed in as")
	requireContains(t, out, "Observations")

	out, err = runCLI(t, "match", "--name", "Dark Magician")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	requireContains(t, out, "c1")

	if _, err := runCLI(t, "match"); err == nil {
		t.Fatal("expected match without signals to fail")
	}
}

func TestFingerprintCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.png")
	img := image.NewGray(image.Rect(0, 0, 59, 86))
	for y := 0; y < 86; y++ {
		for x := 0; x < 59; x++ {
			if x < 30 {
				img.SetGray(x, y, color.Gray{Y: 240})
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	_ = f.Close()

	out, err := runCLI(t, "fingerprint", "--json", path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	var decoded []fingerprintOutput
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(decoded) != 1 || decoded[0].Full == 0 {
		t.Fatalf("unexpected fingerprints: %+v", decoded)
	}

	if _, err := runCLI(t, "fingerprint", filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected missing image to fail")
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := runCLI(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, app.AppVersion)
}
