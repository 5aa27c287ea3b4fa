package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingDefaultIsFine(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("missing default config should not error: %v", err)
	}
	if cfg.statePath() != defaultStateDB {
		t.Errorf("state path = %q, want default", cfg.statePath())
	}
}

func TestLoadConfigMissingExplicitErrors(t *testing.T) {
	if _, err := loadConfig("/nonexistent/forest.yaml"); err == nil {
		t.Error("explicit missing config path should error")
	}
}

func TestLoadConfigValues(t *testing.T) {
	path := writeConfig(t, `
model: claude-3-5-haiku-20241022
state_db: /tmp/custom.db
output: out.json
workers: 8
batch_size: 6
max_retries: 0
request_timeout_secs: 20
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.statePath() != "/tmp/custom.db" {
		t.Errorf("state path = %q", cfg.statePath())
	}
	if cfg.outputPath("") != "out.json" {
		t.Errorf("output = %q", cfg.outputPath(""))
	}
	if cfg.outputPath("flag.json") != "flag.json" {
		t.Error("flag should override config output")
	}
	if cfg.workerCount() != 8 {
		t.Errorf("workers = %d", cfg.workerCount())
	}

	cc, err := cfg.clusterConfig()
	if err != nil {
		t.Fatalf("clusterConfig failed: %v", err)
	}
	if cc.BatchSize != 6 {
		t.Errorf("batch size = %d, want 6", cc.BatchSize)
	}
	if cc.MaxRetries != 0 {
		t.Errorf("max retries = %d, want explicit 0", cc.MaxRetries)
	}
	if cc.RequestTimeout != 20*time.Second {
		t.Errorf("timeout = %v", cc.RequestTimeout)
	}

	ac := cfg.alignConfig()
	if ac.MaxRetries != 0 {
		t.Errorf("align max retries = %d, want explicit 0", ac.MaxRetries)
	}
	if ac.RequestTimeout != 20*time.Second {
		t.Errorf("align timeout = %v", ac.RequestTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "batch_size: 6\n")
	t.Setenv("FOREST_CLUSTER_BATCH_SIZE", "4")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cc, err := cfg.clusterConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cc.BatchSize != 4 {
		t.Errorf("batch size = %d, env should win over file", cc.BatchSize)
	}
}
