// Package config handles configuration loading and management for conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/conductor/internal/state"
)

// Config holds all configuration for conductor.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	State     StateConfig     `mapstructure:"state"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// WorkflowConfig holds planner and scheduler settings.
type WorkflowConfig struct {
	// TemplatesDir is scanned for *.yaml / *.yml workflow templates.
	TemplatesDir string `mapstructure:"templates_dir"`
	// WatchTemplates reloads templates when files in TemplatesDir change.
	WatchTemplates bool `mapstructure:"watch_templates"`
	// MaxParallel caps concurrent steps per round (0 = unlimited).
	MaxParallel int `mapstructure:"max_parallel"`
	// PlannerModel overrides the model used for dynamic planning.
	PlannerModel string `mapstructure:"planner_model"`
}

// ApprovalConfig holds human-in-the-loop settings.
type ApprovalConfig struct {
	// DefaultTimeout is how long a request stays pending before it expires.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// WaitTimeout bounds how long a gated step blocks waiting for a reviewer.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// SweepSchedule is a cron spec for the eager expiry sweep ("" disables it).
	SweepSchedule string `mapstructure:"sweep_schedule"`
	// GatedWorkers always require approval before running.
	GatedWorkers []string `mapstructure:"gated_workers"`
	// SensitivePatterns trigger approval when found in a step's task text.
	SensitivePatterns []string `mapstructure:"sensitive_patterns"`
}

// StateConfig holds checkpoint store settings.
type StateConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	// Path is the database file; empty disables persistence.
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds debug log settings.
type LogConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CONDUCTOR_*)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return unmarshal(v)
}

// bindEnv maps CONDUCTOR_SECTION_KEY variables onto section.key and binds
// the conventional Anthropic variable.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "CONDUCTOR_ANTHROPIC_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.State.Path = expandPath(cfg.State.Path)
	cfg.Log.Path = expandPath(cfg.Log.Path)
	cfg.Workflow.TemplatesDir = expandPath(cfg.Workflow.TemplatesDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.State.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("state.driver must be sqlite or sqlite3, got %q", c.State.Driver)
	}
	if c.Workflow.MaxParallel < 0 {
		return fmt.Errorf("workflow.max_parallel must be >= 0, got %d", c.Workflow.MaxParallel)
	}
	if c.Approval.DefaultTimeout <= 0 {
		return fmt.Errorf("approval.default_timeout must be positive, got %s", c.Approval.DefaultTimeout)
	}
	return nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(filepath.Join(userConfigDir, "config.yaml"), cfg)
}

// SaveTo writes cfg as YAML to path.
func SaveTo(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("workflow.templates_dir", cfg.Workflow.TemplatesDir)
	v.Set("workflow.watch_templates", cfg.Workflow.WatchTemplates)
	v.Set("workflow.max_parallel", cfg.Workflow.MaxParallel)
	v.Set("workflow.planner_model", cfg.Workflow.PlannerModel)
	v.Set("approval.default_timeout", cfg.Approval.DefaultTimeout.String())
	v.Set("approval.wait_timeout", cfg.Approval.WaitTimeout.String())
	v.Set("approval.sweep_schedule", cfg.Approval.SweepSchedule)
	v.Set("approval.gated_workers", cfg.Approval.GatedWorkers)
	v.Set("approval.sensitive_patterns", cfg.Approval.SensitivePatterns)
	v.Set("state.driver", cfg.State.Driver)
	v.Set("state.path", cfg.State.Path)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.read_timeout", cfg.Server.ReadTimeout.String())
	v.Set("server.write_timeout", cfg.Server.WriteTimeout.String())
	v.Set("log.path", cfg.Log.Path)

	return v.WriteConfigAs(path)
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)

	v.SetDefault("workflow.templates_dir", d.Workflow.TemplatesDir)
	v.SetDefault("workflow.watch_templates", d.Workflow.WatchTemplates)
	v.SetDefault("workflow.max_parallel", d.Workflow.MaxParallel)
	v.SetDefault("workflow.planner_model", d.Workflow.PlannerModel)

	v.SetDefault("approval.default_timeout", d.Approval.DefaultTimeout.String())
	v.SetDefault("approval.wait_timeout", d.Approval.WaitTimeout.String())
	v.SetDefault("approval.sweep_schedule", d.Approval.SweepSchedule)
	v.SetDefault("approval.gated_workers", d.Approval.GatedWorkers)
	v.SetDefault("approval.sensitive_patterns", d.Approval.SensitivePatterns)

	v.SetDefault("state.driver", d.State.Driver)
	v.SetDefault("state.path", d.State.Path)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())

	v.SetDefault("log.path", d.Log.Path)
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conductor.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands env references and a leading "~/".
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			AWSRegion: "us-west-2",
		},
		Workflow: WorkflowConfig{
			TemplatesDir:   "templates",
			WatchTemplates: false,
			MaxParallel:    0,
		},
		Approval: ApprovalConfig{
			DefaultTimeout:    time.Hour,
			WaitTimeout:       time.Hour,
			SweepSchedule:     "@every 1m",
			GatedWorkers:      []string{},
			SensitivePatterns: []string{"delete", "drop table", "deploy", "send_email"},
		},
		State: StateConfig{
			Driver: "sqlite",
			Path:   state.DefaultDBPath(),
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
	}
}
