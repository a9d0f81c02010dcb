package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured and Bedrock is off.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// envKeys are checked in order before the config file.
var envKeys = []string{"ANTHROPIC_API_KEY", "CONDUCTOR_ANTHROPIC_API_KEY"}

// GetAPIKey returns the Anthropic API key: environment first, then config.
// When Bedrock is enabled an empty key is fine since AWS credentials are used.
func GetAPIKey(cfg *Config) (string, error) {
	for _, name := range envKeys {
		if key := os.Getenv(name); key != "" {
			return key, nil
		}
	}

	if key := configKey(cfg); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Anthropic.UseBedrock {
		return "", nil
	}
	return "", ErrNoAPIKey
}

// configKey expands the configured key, ignoring unresolved ${VAR} references.
func configKey(cfg *Config) string {
	if cfg == nil || cfg.Anthropic.APIKey == "" {
		return ""
	}
	key := os.ExpandEnv(cfg.Anthropic.APIKey)
	if strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey checks the key's shape without calling the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns the key with everything but its prefix and last 4 chars hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where credentials come from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// GetAPIKeySource reports where GetAPIKey would find credentials.
func GetAPIKeySource(cfg *Config) KeySource {
	for _, name := range envKeys {
		if os.Getenv(name) != "" {
			return KeySourceEnv
		}
	}
	if configKey(cfg) != "" {
		return KeySourceConfig
	}
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return KeySourceBedrock
	}
	return KeySourceNone
}
