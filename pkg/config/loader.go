package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file read from the config directory.
const ConfigFileName = "castellan.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read castellan.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into section structs
//  4. Merge user values over compiled defaults
//  5. Normalize derived values (channel dedup)
//  6. Validate all sections
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"channels", stats.Channels,
		"notification_channels", stats.NotificationChannels,
		"ensemble_models", stats.EnsembleModels,
		"hybrid_search", stats.HybridEnabled)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	user := &Config{}
	if err := loadYAML(configDir, ConfigFileName, user); err != nil {
		// A missing file means run on defaults; anything else is fatal.
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, NewLoadError(ConfigFileName, err)
		}
		slog.Warn("No configuration file found, using built-in defaults",
			"path", filepath.Join(configDir, ConfigFileName))
	}

	cfg := Default()
	cfg.configDir = configDir

	// Merge user-provided sections into the defaults so unset fields keep
	// their built-in values.
	if err := mergeSection(cfg.Collector, user.Collector); err != nil {
		return nil, fmt.Errorf("failed to merge collector config: %w", err)
	}
	if err := mergeSection(cfg.Embedding, user.Embedding); err != nil {
		return nil, fmt.Errorf("failed to merge embedding config: %w", err)
	}
	if err := mergeSection(cfg.VectorStore, user.VectorStore); err != nil {
		return nil, fmt.Errorf("failed to merge vector_store config: %w", err)
	}
	if err := mergeSection(cfg.Retriever, user.Retriever); err != nil {
		return nil, fmt.Errorf("failed to merge retriever config: %w", err)
	}
	if err := mergeSection(cfg.LLM, user.LLM); err != nil {
		return nil, fmt.Errorf("failed to merge llm config: %w", err)
	}
	if err := mergeSection(cfg.Pipeline, user.Pipeline); err != nil {
		return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
	}
	if err := mergeSection(cfg.Correlation, user.Correlation); err != nil {
		return nil, fmt.Errorf("failed to merge correlation config: %w", err)
	}
	if err := mergeSection(cfg.Retention, user.Retention); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}
	if err := mergeSection(cfg.Notifications, user.Notifications); err != nil {
		return nil, fmt.Errorf("failed to merge notifications config: %w", err)
	}
	if err := mergeSection(cfg.Ops, user.Ops); err != nil {
		return nil, fmt.Errorf("failed to merge ops config: %w", err)
	}

	// A retriever or strict-json section present in YAML with enabled: false
	// must win over the default true. mergo skips zero values, so booleans
	// are carried explicitly from the user document when the section exists.
	if user.Retriever != nil {
		cfg.Retriever.Enabled = user.Retriever.Enabled
	}
	if user.LLM != nil {
		cfg.LLM.StrictJSON.Enabled = user.LLM.StrictJSON.Enabled
		cfg.LLM.Ensemble.Enabled = user.LLM.Ensemble.Enabled
	}
	if user.Pipeline != nil {
		cfg.Pipeline.DeterministicRules = user.Pipeline.DeterministicRules
	}
	if user.Correlation != nil {
		cfg.Correlation.Enabled = user.Correlation.Enabled
	}
	if user.Notifications != nil {
		cfg.Notifications.Enabled = user.Notifications.Enabled
		cfg.Notifications.Teams.Enabled = user.Notifications.Teams.Enabled
		cfg.Notifications.Slack.Enabled = user.Notifications.Slack.Enabled
	}

	cfg.Collector.Channels = dedupeChannels(cfg.Collector.Channels)

	return cfg, nil
}

// mergeSection merges a user-provided section over defaults. A nil user
// section keeps the defaults untouched.
func mergeSection[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// dedupeChannels removes duplicate channel names case-insensitively,
// preserving first occurrence and its spelling.
func dedupeChannels(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		key := strings.ToLower(ch)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes original data through on parse/execution errors,
	// letting the YAML parser produce the clearer failure.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
