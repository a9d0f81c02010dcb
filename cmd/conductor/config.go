package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify conductor configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/conductor/config.yaml
Project-specific overrides can be placed in .conductor.yaml
List values (approval.gated_workers, approval.sensitive_patterns) are
comma-separated.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			return displayAllConfig(cmd.OutOrStdout(), cfg)
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// Keep environment-provided keys out of the file.
			if !strings.EqualFold(args[0], "anthropic.api_key") && cfg.Anthropic.APIKey == os.Getenv("ANTHROPIC_API_KEY") {
				cfg.Anthropic.APIKey = ""
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKeys lists every key in display order.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"anthropic.aws_profile",
	"workflow.templates_dir",
	"workflow.watch_templates",
	"workflow.max_parallel",
	"workflow.planner_model",
	"approval.default_timeout",
	"approval.wait_timeout",
	"approval.sweep_schedule",
	"approval.gated_workers",
	"approval.sensitive_patterns",
	"state.driver",
	"state.path",
	"server.addr",
	"server.read_timeout",
	"server.write_timeout",
	"log.path",
}

func displayAllConfig(w io.Writer, cfg *config.Config) error {
	for _, key := range configKeys {
		value, err := getConfigValue(cfg, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	fmt.Fprintf(w, "\n# api key source: %s\n", config.GetAPIKeySource(cfg))
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "# project config: %s\n", p)
	}
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.Itoa(cfg.Anthropic.MaxTokens), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "workflow.templates_dir":
		return cfg.Workflow.TemplatesDir, nil
	case "workflow.watch_templates":
		return strconv.FormatBool(cfg.Workflow.WatchTemplates), nil
	case "workflow.max_parallel":
		return strconv.Itoa(cfg.Workflow.MaxParallel), nil
	case "workflow.planner_model":
		return cfg.Workflow.PlannerModel, nil
	case "approval.default_timeout":
		return cfg.Approval.DefaultTimeout.String(), nil
	case "approval.wait_timeout":
		return cfg.Approval.WaitTimeout.String(), nil
	case "approval.sweep_schedule":
		return cfg.Approval.SweepSchedule, nil
	case "approval.gated_workers":
		return strings.Join(cfg.Approval.GatedWorkers, ","), nil
	case "approval.sensitive_patterns":
		return strings.Join(cfg.Approval.SensitivePatterns, ","), nil
	case "state.driver":
		return cfg.State.Driver, nil
	case "state.path":
		return cfg.State.Path, nil
	case "server.addr":
		return cfg.Server.Addr, nil
	case "server.read_timeout":
		return cfg.Server.ReadTimeout.String(), nil
	case "server.write_timeout":
		return cfg.Server.WriteTimeout.String(), nil
	case "log.path":
		return cfg.Log.Path, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		return setInt(&cfg.Anthropic.MaxTokens, key, value)
	case "anthropic.use_bedrock":
		return setBool(&cfg.Anthropic.UseBedrock, key, value)
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "workflow.templates_dir":
		cfg.Workflow.TemplatesDir = value
	case "workflow.watch_templates":
		return setBool(&cfg.Workflow.WatchTemplates, key, value)
	case "workflow.max_parallel":
		return setInt(&cfg.Workflow.MaxParallel, key, value)
	case "workflow.planner_model":
		cfg.Workflow.PlannerModel = value
	case "approval.default_timeout":
		return setDuration(&cfg.Approval.DefaultTimeout, key, value)
	case "approval.wait_timeout":
		return setDuration(&cfg.Approval.WaitTimeout, key, value)
	case "approval.sweep_schedule":
		cfg.Approval.SweepSchedule = value
	case "approval.gated_workers":
		cfg.Approval.GatedWorkers = splitList(value)
	case "approval.sensitive_patterns":
		cfg.Approval.SensitivePatterns = splitList(value)
	case "state.driver":
		cfg.State.Driver = value
	case "state.path":
		cfg.State.Path = value
	case "server.addr":
		cfg.Server.Addr = value
	case "server.read_timeout":
		return setDuration(&cfg.Server.ReadTimeout, key, value)
	case "server.write_timeout":
		return setDuration(&cfg.Server.WriteTimeout, key, value)
	case "log.path":
		cfg.Log.Path = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}

// splitList splits a comma-separated value, dropping blanks and duplicates.
func splitList(value string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

// parseDuration is time.ParseDuration plus a whole-day "Nd" form.
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
