package observability

import (
	"strings"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that outputs to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default environment name.
	EnvironmentDevelopment = "development"
)

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Config defines how segment spans and metric instruments are exported.
// It is read from the "observability" section of the agent configuration.
type Config struct {
	// Enabled controls whether export is active. When false every provider is a no-op.
	Enabled     bool          `koanf:"enabled" mapstructure:"enabled"`
	Service     ServiceConfig `koanf:"service" mapstructure:"service"`
	Environment string        `koanf:"environment" mapstructure:"environment"`
	Trace       TraceConfig   `koanf:"trace" mapstructure:"trace"`
	Metrics     MetricsConfig `koanf:"metrics" mapstructure:"metrics"`
}

// ServiceConfig contains service identification metadata.
type ServiceConfig struct {
	Name    string `koanf:"name" mapstructure:"name"`
	Version string `koanf:"version" mapstructure:"version"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	// nil = default (true when observability is enabled), false = explicitly disabled.
	Enabled  *bool             `koanf:"enabled" mapstructure:"enabled"`
	Endpoint string            `koanf:"endpoint" mapstructure:"endpoint"`
	Protocol string            `koanf:"protocol" mapstructure:"protocol"`
	Insecure bool              `koanf:"insecure" mapstructure:"insecure"`
	Headers  map[string]string `koanf:"headers" mapstructure:"headers"`
	// SampleRate is the fraction of traces kept. nil = 1.0.
	SampleRate   *float64      `koanf:"samplerate" mapstructure:"samplerate"`
	BatchTimeout time.Duration `koanf:"batchtimeout" mapstructure:"batchtimeout"`
}

// MetricsConfig configures metric export. Protocol, Insecure and Headers are
// shared with TraceConfig.
type MetricsConfig struct {
	Enabled       *bool         `koanf:"enabled" mapstructure:"enabled"`
	Endpoint      string        `koanf:"endpoint" mapstructure:"endpoint"`
	Interval      time.Duration `koanf:"interval" mapstructure:"interval"`
	ExportTimeout time.Duration `koanf:"exporttimeout" mapstructure:"exporttimeout"`
}

// ApplyDefaults sets default values for any fields that are not specified.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Endpoint == EndpointStdout {
		c.Trace.Insecure = true
	}
	if c.Trace.SampleRate == nil {
		c.Trace.SampleRate = Float64Ptr(1.0)
	}
	if c.Trace.BatchTimeout == 0 {
		if c.Environment == EnvironmentDevelopment || c.Trace.Endpoint == EndpointStdout {
			c.Trace.BatchTimeout = 500 * time.Millisecond
		} else {
			c.Trace.BatchTimeout = 5 * time.Second
		}
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 10 * time.Second
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = 10 * time.Second
	}
}

// Validate checks the configuration. Defaults should be applied first.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Service.Name) == "" {
		return ErrMissingServiceName
	}
	if c.Trace.SampleRate != nil && (*c.Trace.SampleRate < 0 || *c.Trace.SampleRate > 1) {
		return ErrInvalidSampleRate
	}
	if c.Trace.Protocol != ProtocolHTTP && c.Trace.Protocol != ProtocolGRPC {
		return ErrInvalidProtocol
	}
	if err := validateEndpoint(c.Trace.Endpoint); err != nil {
		return err
	}
	return validateEndpoint(c.Metrics.Endpoint)
}

// validateEndpoint rejects a URL scheme. OTLP exporters take "host:port" for
// both protocols.
func validateEndpoint(endpoint string) error {
	if endpoint == "" || endpoint == EndpointStdout {
		return nil
	}
	if strings.Contains(endpoint, "://") {
		return ErrInvalidEndpointFormat
	}
	return nil
}

func (c *Config) traceEnabled() bool {
	return c.Enabled && c.Trace.Enabled != nil && *c.Trace.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c.Enabled && c.Metrics.Enabled != nil && *c.Metrics.Enabled
}
