package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Regions) == 0 {
		t.Error("expected regions to be populated")
	}
	if len(cfg.Regions[0].Feeds) == 0 {
		t.Error("expected region feeds to be populated")
	}
	if cfg.Analyzer.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Analyzer.Provider)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Policy != DefaultPolicy() {
		t.Errorf("expected default.yaml policy to match DefaultPolicy, got %+v", cfg.Policy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
analyzer:
  provider: openai
policy:
  min_views: 5000
  analyzer_timeout: 5s
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Analyzer.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Analyzer.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	assert.Equal(t, "http://localhost:11434", cfg.Analyzer.OllamaURL)
	assert.Equal(t, int64(5000), cfg.Policy.MinViews)
	assert.Equal(t, int64(50), cfg.Policy.MinComments)
	assert.Equal(t, 5*time.Second, cfg.Policy.AnalyzerTimeout)
	assert.Equal(t, 14, cfg.Policy.DormantStaleDays)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Analyzer.Provider = "claude-bridge"
	cfg.Policy.MinViews = 0
	cfg.Policy.AnalyzerTimeout = 0
	cfg.Schedule.Triggers = "every hour"
	cfg.Logging.Format = "xml"
	cfg.Regions = []Region{{Slug: "metro"}, {Slug: "metro"}, {Slug: " "}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown provider "claude-bridge"`)
	assert.Contains(t, msg, "policy.min_views must be positive")
	assert.Contains(t, msg, "policy.analyzer_timeout must be positive")
	assert.Contains(t, msg, "schedule.triggers")
	assert.Contains(t, msg, `unknown format "xml"`)
	assert.Contains(t, msg, `duplicate slug "metro"`)
	assert.Contains(t, msg, "regions[2]: slug is required")
}

func TestValidateAllowsDisabledJobs(t *testing.T) {
	cfg := Default()
	cfg.Schedule = Schedule{}
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	region, ok := cfg.FindRegion("metro")
	if !ok {
		t.Fatal("expected metro region to be loaded from file")
	}
	if region.Name != "Metro Desk" {
		t.Errorf("expected 'Metro Desk', got %q", region.Name)
	}
}

func TestLoadInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  provider: nope\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	assert.Equal(t, filepath.Join("/custom/path", "followup.db"), cfg.DatabasePath())
}
