package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected max tokens 8192, got %d", cfg.Anthropic.MaxTokens)
	}

	if cfg.Approval.DefaultTimeout != time.Hour {
		t.Errorf("expected approval default timeout 1h, got %v", cfg.Approval.DefaultTimeout)
	}

	if cfg.Approval.WaitTimeout != time.Hour {
		t.Errorf("expected approval wait timeout 1h, got %v", cfg.Approval.WaitTimeout)
	}

	if cfg.State.Driver != "sqlite" {
		t.Errorf("expected state driver sqlite, got %q", cfg.State.Driver)
	}

	if cfg.Workflow.TemplatesDir != "templates" {
		t.Errorf("expected templates dir 'templates', got %q", cfg.Workflow.TemplatesDir)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultStatePath(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	want := filepath.Join(dataHome, "conductor", "conductor.db")
	if got := Default().State.Path; got != want {
		t.Errorf("State.Path = %q, want %q", got, want)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CONDUCTOR_ANTHROPIC_API_KEY", "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
  model: claude-test
workflow:
  templates_dir: /srv/templates
  max_parallel: 4
approval:
  default_timeout: 10m
  wait_timeout: 90s
  gated_workers: [coder]
state:
  driver: sqlite3
  path: /tmp/conductor-test.db
server:
  addr: ":9090"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.Model != "claude-test" {
		t.Errorf("expected model 'claude-test', got %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected default max tokens to survive, got %d", cfg.Anthropic.MaxTokens)
	}
	if cfg.Workflow.TemplatesDir != "/srv/templates" {
		t.Errorf("expected templates dir '/srv/templates', got %q", cfg.Workflow.TemplatesDir)
	}
	if cfg.Workflow.MaxParallel != 4 {
		t.Errorf("expected max parallel 4, got %d", cfg.Workflow.MaxParallel)
	}
	if cfg.Approval.DefaultTimeout != 10*time.Minute {
		t.Errorf("expected default timeout 10m, got %v", cfg.Approval.DefaultTimeout)
	}
	if cfg.Approval.WaitTimeout != 90*time.Second {
		t.Errorf("expected wait timeout 90s, got %v", cfg.Approval.WaitTimeout)
	}
	if len(cfg.Approval.GatedWorkers) != 1 || cfg.Approval.GatedWorkers[0] != "coder" {
		t.Errorf("expected gated workers [coder], got %v", cfg.Approval.GatedWorkers)
	}
	if cfg.State.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %q", cfg.State.Driver)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr ':9090', got %q", cfg.Server.Addr)
	}
}

func TestLoadFromPathRejectsBadDriver(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("state:\n  driver: postgres\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CONDUCTOR_ANTHROPIC_API_KEY", "")

	cfg := Default()
	cfg.Workflow.MaxParallel = 3
	cfg.Approval.GatedWorkers = []string{"coder"}
	cfg.Approval.DefaultTimeout = 15 * time.Minute
	cfg.State.Driver = "sqlite3"

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveTo(configPath, cfg); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Workflow.MaxParallel != 3 {
		t.Errorf("max parallel = %d, want 3", loaded.Workflow.MaxParallel)
	}
	if len(loaded.Approval.GatedWorkers) != 1 || loaded.Approval.GatedWorkers[0] != "coder" {
		t.Errorf("gated workers = %v, want [coder]", loaded.Approval.GatedWorkers)
	}
	if loaded.Approval.DefaultTimeout != 15*time.Minute {
		t.Errorf("default timeout = %v, want 15m", loaded.Approval.DefaultTimeout)
	}
	if loaded.State.Driver != "sqlite3" {
		t.Errorf("driver = %q, want sqlite3", loaded.State.Driver)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/data/c.db"); got != filepath.Join(home, "data", "c.db") {
		t.Errorf("expandPath() = %q", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/conductor"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, ".conductor.yaml")
	if err := os.WriteFile(want, []byte("workflow:\n  max_parallel: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	got := findProjectConfig()
	gotResolved, _ := filepath.EvalSymlinks(got)
	wantResolved, _ := filepath.EvalSymlinks(want)
	if gotResolved != wantResolved {
		t.Errorf("findProjectConfig() = %q, want %q", got, want)
	}
}
