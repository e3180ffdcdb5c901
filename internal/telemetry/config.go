package telemetry

import (
	"fmt"
	"time"
)

// Config controls provider construction.
type Config struct {
	// Enabled turns OTLP export on. Disabled leaves the global no-op
	// providers in place.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP collector address, host:port or URL.
	Endpoint string

	// Protocol is grpc or http/protobuf.
	Protocol string

	// Insecure disables TLS. TLSSkipVerify keeps TLS but trusts any
	// certificate, for collectors behind internal CAs.
	Insecure      bool
	TLSSkipVerify bool

	// SamplingRate is the trace sampling ratio in [0,1]. 1 samples
	// everything.
	SamplingRate float64

	// MetricInterval is the periodic reader export interval.
	MetricInterval time.Duration

	// ShutdownTimeout bounds Shutdown when the caller's context has no
	// deadline.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a disabled config with sane export settings.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "hitld",
		ServiceVersion:  "dev",
		Protocol:        "grpc",
		SamplingRate:    1.0,
		MetricInterval:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid protocol: %s", c.Protocol)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be in [0,1], got %v", c.SamplingRate)
	}
	return nil
}
