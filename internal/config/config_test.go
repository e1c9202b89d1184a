package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath == "" {
		t.Error("expected a default db path")
	}
	if cfg.SpoolDir == "" {
		t.Error("expected a default spool dir")
	}
	if cfg.DashboardPort != 0 {
		t.Errorf("dashboard should be disabled by default, got port %d", cfg.DashboardPort)
	}
	if cfg.Debounce != 100*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Debounce)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shelf.yaml")
	content := `db_path: /tmp/custom/shelf.db
spool_dir: /tmp/custom/spool
dashboard_port: 9000
debounce: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/tmp/custom/shelf.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.SpoolDir != "/tmp/custom/spool" {
		t.Errorf("spool_dir = %q", cfg.SpoolDir)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("dashboard_port = %d", cfg.DashboardPort)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Debounce)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
