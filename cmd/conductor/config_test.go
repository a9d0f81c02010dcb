package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestConfigKeysRoundTrip(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"anthropic.model", "claude-opus-4-20250514", "claude-opus-4-20250514"},
		{"anthropic.max_tokens", "4096", "4096"},
		{"anthropic.use_bedrock", "true", "true"},
		{"workflow.max_parallel", "4", "4"},
		{"workflow.watch_templates", "1", "true"},
		{"approval.default_timeout", "15m", "15m0s"},
		{"approval.wait_timeout", "2d", "48h0m0s"},
		{"approval.gated_workers", "coder, analyst,coder,", "analyst,coder"},
		{"state.driver", "sqlite3", "sqlite3"},
		{"server.addr", "0.0.0.0:9000", "0.0.0.0:9000"},
		{"Log.Path", "/tmp/conductor.log", "/tmp/conductor.log"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue(%q, %q): %v", tt.key, tt.value, err)
			}
			got, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue(%q): %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestConfigValueErrors(t *testing.T) {
	cfg := config.Default()
	bad := map[string]string{
		"anthropic.max_tokens":     "lots",
		"anthropic.use_bedrock":    "maybe",
		"approval.default_timeout": "soon",
		"anthropic.api_key":        "not-a-key",
		"no.such.key":              "x",
	}
	for key, value := range bad {
		if err := setConfigValue(cfg, key, value); err == nil {
			t.Errorf("setConfigValue(%q, %q) should fail", key, value)
		}
	}
	if _, err := getConfigValue(cfg, "no.such.key"); err == nil {
		t.Error("getConfigValue should reject unknown keys")
	}
}

func TestSetAPIKeyValidates(t *testing.T) {
	cfg := config.Default()
	if err := setConfigValue(cfg, "anthropic.api_key", "sk-ant-short"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	if cfg.Anthropic.APIKey != "" {
		t.Errorf("rejected key was stored: %q", cfg.Anthropic.APIKey)
	}
	key := "sk-ant-REDACTED"
	if err := setConfigValue(cfg, "anthropic.api_key", key); err != nil {
		t.Fatalf("setConfigValue: %v", err)
	}
	if cfg.Anthropic.APIKey != key {
		t.Errorf("APIKey = %q, want %q", cfg.Anthropic.APIKey, key)
	}
}

func TestAPIKeyIsMasked(t *testing.T) {
	cfg := config.Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"
	got, _ := getConfigValue(cfg, "anthropic.api_key")
	if strings.Contains(got, "abcdefghijklmnop") {
		t.Errorf("api key should be masked, got %q", got)
	}

	cfg.Anthropic.APIKey = ""
	if got, _ := getConfigValue(cfg, "anthropic.api_key"); got != "(not set)" {
		t.Errorf("empty key = %q, want (not set)", got)
	}
}

func TestDisplayAllConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := displayAllConfig(&buf, config.Default()); err != nil {
		t.Fatalf("displayAllConfig: %v", err)
	}
	out := buf.String()
	for _, key := range configKeys {
		if !strings.Contains(out, key+": ") {
			t.Errorf("output missing %s", key)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"-1d", 0, true},
		{"xd", 0, true},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStepFailed(t *testing.T) {
	tests := []struct {
		name   string
		result models.WorkerResult
		want   bool
	}{
		{"ok", models.WorkerResult{Worker: "coder", Output: "done"}, false},
		{"missing", models.WorkerResult{Worker: "ghost", Output: "Worker 'ghost' not found."}, true},
		{"failed", models.WorkerResult{Worker: "coder", Output: "Worker 'coder' failed: boom"}, true},
		{"other worker text", models.WorkerResult{Worker: "coder", Output: "Worker 'analyst' failed: boom"}, false},
	}
	for _, tt := range tests {
		if got := stepFailed(tt.result); got != tt.want {
			t.Errorf("%s: stepFailed = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolveServerURL(t *testing.T) {
	old := serverURL
	t.Cleanup(func() { serverURL = old })

	cfg := config.Default()
	serverURL = ""
	if got := resolveServerURL(cfg); got != "http://127.0.0.1:8080" {
		t.Errorf("default server URL = %q", got)
	}
	serverURL = "https://conductor.internal/"
	if got := resolveServerURL(cfg); got != "https://conductor.internal" {
		t.Errorf("flag server URL = %q", got)
	}
}

func TestResolveSession(t *testing.T) {
	old := sessionID
	t.Cleanup(func() { sessionID = old })

	sessionID = ""
	t.Setenv("CONDUCTOR_SESSION", "")
	if got := resolveSession(); got != "cli" {
		t.Errorf("default session = %q, want cli", got)
	}
	t.Setenv("CONDUCTOR_SESSION", "from-env")
	if got := resolveSession(); got != "from-env" {
		t.Errorf("env session = %q", got)
	}
	sessionID = "from-flag"
	if got := resolveSession(); got != "from-flag" {
		t.Errorf("flag session = %q", got)
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	tests := map[time.Duration]string{
		10 * time.Second: "just now",
		5 * time.Minute:  "5m ago",
		3 * time.Hour:    "3h ago",
		50 * time.Hour:   "2d ago",
	}
	for ago, want := range tests {
		if got := formatAge(now.Add(-ago)); got != want {
			t.Errorf("formatAge(-%v) = %q, want %q", ago, got, want)
		}
	}
}

func TestWriteState(t *testing.T) {
	s := &models.WorkflowState{
		RunID:     "run-1",
		SessionID: "sess",
		Phase:     models.PhaseDone,
		CompletedResults: []models.WorkerResult{
			{StepID: "s1", Worker: "coder", Task: "write it", Output: "done"},
		},
	}

	var buf bytes.Buffer
	if err := writeState(&buf, s, "yaml"); err != nil {
		t.Fatalf("writeState yaml: %v", err)
	}
	for _, want := range []string{"run_id: run-1", "phase: done", "step_id: s1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("yaml missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := writeState(&buf, s, "json"); err != nil {
		t.Fatalf("writeState json: %v", err)
	}
	if !strings.Contains(buf.String(), `"run_id": "run-1"`) {
		t.Errorf("json missing run_id:\n%s", buf.String())
	}

	if err := writeState(&buf, s, "toml"); err == nil {
		t.Error("unknown format should fail")
	}
}
