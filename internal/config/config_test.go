package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcds-view/server/internal/data/mcds"
)

func TestLoad_FullConfig(t *testing.T) {
	content := `
server:
  port: 9000
  cors_origins:
    - "http://localhost:4000"
data:
  datasets:
    - name: tumor
      path: "/data/tumor/output"
    - name: spheroid
      path: "/data/spheroid/output"
query:
  strict: true
  decode_death_model: true
  custom_types:
    oncoprotein: real
    sample: integer
cache:
  response_size_mb: 64
  snapshot_cache_size: 4
index:
  path: "/data/snapshots.db"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:4000" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}
	if cfg.Data.Datasets[0].Name != "tumor" || cfg.Data.Datasets[0].Path != "/data/tumor/output" {
		t.Errorf("unexpected first dataset %+v", cfg.Data.Datasets[0])
	}
	if cfg.Cache.ResponseSizeMB != 64 || cfg.Cache.SnapshotCacheSize != 4 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Index.Path != "/data/snapshots.db" {
		t.Errorf("unexpected index path %q", cfg.Index.Path)
	}

	opts, err := cfg.SnapshotOptions()
	if err != nil {
		t.Fatalf("SnapshotOptions failed: %v", err)
	}
	if !opts.Strict || !opts.DecodeDeathModel {
		t.Errorf("unexpected options %+v", opts)
	}
	if !opts.Microenv || !opts.Graph || !opts.Settings {
		t.Errorf("extraction toggles should default on: %+v", opts)
	}
	if opts.CustomTypes["oncoprotein"] != mcds.KindFloat || opts.CustomTypes["sample"] != mcds.KindInt {
		t.Errorf("unexpected custom types %v", opts.CustomTypes)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.ResponseSizeMB != 256 {
		t.Errorf("expected default response cache size 256, got %d", cfg.Cache.ResponseSizeMB)
	}
	if cfg.Cache.SnapshotCacheSize != 8 {
		t.Errorf("expected default snapshot cache size 8, got %d", cfg.Cache.SnapshotCacheSize)
	}
	if len(cfg.Data.Datasets) != 1 || cfg.Data.Datasets[0].Name != "output" {
		t.Errorf("expected default dataset, got %v", cfg.Data.Datasets)
	}
	if cfg.Index.Path != "./snapshots.db" {
		t.Errorf("unexpected default index path %q", cfg.Index.Path)
	}
}

func TestLoad_ExtractionToggles(t *testing.T) {
	content := `
query:
  microenv: false
  graph: false
`
	cfg := loadFromString(t, content)

	opts, err := cfg.SnapshotOptions()
	if err != nil {
		t.Fatalf("SnapshotOptions failed: %v", err)
	}
	if opts.Microenv || opts.Graph {
		t.Errorf("toggles not applied: %+v", opts)
	}
	if !opts.Settings {
		t.Error("unset toggle should default on")
	}
}

func TestLoad_BadCustomType(t *testing.T) {
	content := `
query:
  custom_types:
    oncoprotein: complex
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown custom type")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default config, got port %d", cfg.Server.Port)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
