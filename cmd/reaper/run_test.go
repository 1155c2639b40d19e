package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dataharvest/reaper/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildEnricherFailsWithoutAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Enabled = true
	cfg.AI.APIKey = ""

	_, _, err := buildEnricher(cfg, "jobs", testLogger())
	if err == nil {
		t.Fatal("missing OPENAI_API_KEY with enrichment enabled must be fatal")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should name the missing variable, got %v", err)
	}
}

func TestBuildEnricherSkipsSitesWithoutEnrichment(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Enabled = true
	cfg.AI.APIKey = ""

	e, save, err := buildEnricher(cfg, "dealers", testLogger())
	if err != nil || e != nil || save != nil {
		t.Errorf("sites without enrichment should wire nothing, got %v %p %v", e, save, err)
	}
}

func TestBuildEnricherHonorsDisabledFlag(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Enabled = false
	cfg.AI.APIKey = ""

	e, _, err := buildEnricher(cfg, "jobs", testLogger())
	if err != nil || e != nil {
		t.Errorf("disabled enrichment should wire nothing, got %v %v", e, err)
	}
}

func TestBuildEnricherWiresJobsWithKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Enabled = true
	cfg.AI.APIKey = "test-key"
	cfg.AI.LocationCatalog = filepath.Join(t.TempDir(), "locations.json")

	e, save, err := buildEnricher(cfg, "jobs", testLogger())
	if err != nil {
		t.Fatalf("build enricher: %v", err)
	}
	if e == nil || save == nil {
		t.Error("jobs with a key should get an enricher and a catalog save hook")
	}
}
