// Package config provides configuration loading for hitld.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that should be redacted in logs and serialization.
// Use Value() to access the actual secret value.
type Secret string

// String implements fmt.Stringer. Always returns the redacted form.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always redacts.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// Config is the full hitld configuration.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Session       SessionConfig       `koanf:"session"`
	Clarification ClarificationConfig `koanf:"clarification"`
	Advance       AdvanceConfig       `koanf:"advance"`
	Reconcile     ReconcileConfig     `koanf:"reconcile"`
	Recovery      RecoveryConfig      `koanf:"recovery"`
	Events        EventsConfig        `koanf:"events"`
	Assist        AssistConfig        `koanf:"assist"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	TransitionRetention  int `koanf:"transition_retention"`
	StepHistoryRetention int `koanf:"step_history_retention"`
}

// ClarificationConfig controls the clarification lifecycle.
type ClarificationConfig struct {
	// ReuseThreshold is the minimum confidence for answering a question
	// from history.
	ReuseThreshold float64 `koanf:"reuse_threshold"`
	// ResumePolicy is resume_agent or restart_pipeline.
	ResumePolicy string `koanf:"resume_policy"`
	// SemanticMatching enables the embedding-based question matcher.
	SemanticMatching bool `koanf:"semantic_matching"`
}

// AdvanceConfig controls auto-advance.
type AdvanceConfig struct {
	// Preference is always, ask, or never.
	Preference        string   `koanf:"preference"`
	SkipOptionalSteps bool     `koanf:"skip_optional_steps"`
	Timeout           Duration `koanf:"timeout"`
}

// ReconcileConfig controls scheduled reconciliation.
type ReconcileConfig struct {
	Interval  Duration `koanf:"interval"`
	OrphanAge Duration `koanf:"orphan_age"`
	// RemoveOrphans lets the scheduled pass delete orphaned surfaced
	// clarifications. Off by default: orphans are reported, not removed.
	RemoveOrphans bool `koanf:"remove_orphans"`
}

// RecoveryConfig controls error handling.
type RecoveryConfig struct {
	MaxLogEntries        int      `koanf:"max_log_entries"`
	AutoRecoveryInterval Duration `koanf:"auto_recovery_interval"`
	AutoRecoveryBurst    int      `koanf:"auto_recovery_burst"`
}

// EventsConfig controls transition publishing. An empty URL disables NATS
// and keeps the core single-process.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AssistConfig controls the LLM collaborators. Disabled by default; the
// deterministic fallbacks serve enrichment, validation, and guidance.
type AssistConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// ObservabilityConfig controls OTLP export.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	// Endpoint is the OTLP collector address, host:port.
	Endpoint string `koanf:"endpoint"`
	// Protocol is grpc or http/protobuf.
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Session.TransitionRetention <= 0 {
		return fmt.Errorf("session transition retention must be positive, got %d", c.Session.TransitionRetention)
	}
	if c.Session.StepHistoryRetention <= 0 {
		return fmt.Errorf("session step history retention must be positive, got %d", c.Session.StepHistoryRetention)
	}

	if c.Clarification.ReuseThreshold < 0 || c.Clarification.ReuseThreshold > 1 {
		return fmt.Errorf("clarification reuse threshold must be in [0,1], got %v", c.Clarification.ReuseThreshold)
	}
	switch c.Clarification.ResumePolicy {
	case "resume_agent", "restart_pipeline":
	default:
		return fmt.Errorf("invalid resume policy: %s", c.Clarification.ResumePolicy)
	}

	switch c.Advance.Preference {
	case "always", "ask", "never":
	default:
		return fmt.Errorf("invalid auto-advance preference: %s", c.Advance.Preference)
	}
	if c.Advance.Preference == "ask" && c.Advance.Timeout.Duration() <= 0 {
		return fmt.Errorf("ask mode requires a positive advance timeout")
	}

	if c.Reconcile.Interval.Duration() <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	if c.Reconcile.OrphanAge.Duration() <= 0 {
		return fmt.Errorf("reconcile orphan age must be positive")
	}

	if c.Recovery.MaxLogEntries <= 0 {
		return fmt.Errorf("recovery max log entries must be positive, got %d", c.Recovery.MaxLogEntries)
	}

	if c.Assist.Enabled && !c.Assist.APIKey.IsSet() {
		return fmt.Errorf("assist is enabled but no api key is configured")
	}

	if c.Observability.Enabled {
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("observability is enabled but no endpoint is configured")
		}
		switch c.Observability.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("invalid observability protocol: %s", c.Observability.Protocol)
		}
	}
	return nil
}
