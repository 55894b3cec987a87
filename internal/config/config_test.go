package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := writeConfig(t, `{
			"repositories": [{"name": "gateway", "url": "https://git.example.com/gateway.git", "branch": "main"}],
			"schedules": {"nightly": {"cron": "0 3 * * *", "enabled": true, "skill": "triage"}},
			"paths": {"personas": "personas", "skills": "skills"},
			"integrations": {"default_cluster": "stage", "autoheal": {"oc_get_pods": {"max_retries": 2, "cluster": "auto"}}}
		}`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(cfg.Repositories) != 1 || cfg.Repositories[0].Name != "gateway" {
			t.Errorf("repositories = %+v", cfg.Repositories)
		}
		entry, ok := cfg.HealEntry("oc_get_pods")
		if !ok {
			t.Fatal("HealEntry should find configured tool")
		}
		if entry.MaxRetries != 2 || entry.Cluster != "auto" {
			t.Errorf("heal entry = %+v", entry)
		}
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("TOOLSMITH_TEST_CLUSTER", "prod")
		path := writeConfig(t, `{"integrations": {"default_cluster": "${TOOLSMITH_TEST_CLUSTER}"}}`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Integrations.DefaultCluster != "prod" {
			t.Errorf("default_cluster = %q, want prod", cfg.Integrations.DefaultCluster)
		}
	})

	t.Run("invalid cron rejected", func(t *testing.T) {
		path := writeConfig(t, `{"schedules": {"broken": {"cron": "not a cron", "enabled": true}}}`)
		_, err := Load(path)
		if err == nil {
			t.Fatal("expected error for invalid cron")
		}
		if !strings.Contains(err.Error(), "broken") {
			t.Errorf("error should name the schedule entry: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Load("  "); err == nil {
			t.Error("expected error for empty path")
		}
	})
}
