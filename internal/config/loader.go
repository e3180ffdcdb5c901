package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix scopes which environment variables the loader reads.
const envPrefix = "HITLD_"

// Load builds the configuration from an optional YAML file, then overrides
// with environment variables, then applies defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (HITLD_LOGGING_LEVEL, HITLD_ADVANCE_TIMEOUT, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map section-first: HITLD_LOGGING_LEVEL becomes
// logging.level, HITLD_CLARIFICATION_REUSE_THRESHOLD becomes
// clarification.reuse_threshold.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// Split on the first underscore after the prefix: section, then
		// field name with its underscores kept.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills in every unset field.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Session.TransitionRetention == 0 {
		cfg.Session.TransitionRetention = 100
	}
	if cfg.Session.StepHistoryRetention == 0 {
		cfg.Session.StepHistoryRetention = 50
	}

	if cfg.Clarification.ReuseThreshold == 0 {
		cfg.Clarification.ReuseThreshold = 0.8
	}
	if cfg.Clarification.ResumePolicy == "" {
		cfg.Clarification.ResumePolicy = "resume_agent"
	}

	if cfg.Advance.Preference == "" {
		cfg.Advance.Preference = "ask"
	}
	if cfg.Advance.Timeout == 0 {
		cfg.Advance.Timeout = Duration(30 * time.Second)
	}

	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = Duration(5 * time.Minute)
	}
	if cfg.Reconcile.OrphanAge == 0 {
		cfg.Reconcile.OrphanAge = Duration(time.Hour)
	}

	if cfg.Recovery.MaxLogEntries == 0 {
		cfg.Recovery.MaxLogEntries = 1000
	}
	if cfg.Recovery.AutoRecoveryInterval == 0 {
		cfg.Recovery.AutoRecoveryInterval = Duration(10 * time.Second)
	}
	if cfg.Recovery.AutoRecoveryBurst == 0 {
		cfg.Recovery.AutoRecoveryBurst = 3
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "hitl.session"
	}

	if cfg.Assist.Model == "" {
		cfg.Assist.Model = "gpt-4o-mini"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "hitld"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
}
