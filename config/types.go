package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the agent configuration.
// The embedded koanf instance keeps sections that are decoded by their owning
// package (observability) reachable through Unmarshal.
type Config struct {
	App             AppConfig             `koanf:"app" json:"app" yaml:"app" mapstructure:"app"`
	Log             LogConfig             `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Agent           AgentConfig           `koanf:"agent" json:"agent" yaml:"agent" mapstructure:"agent"`
	Instrumentation InstrumentationConfig `koanf:"instrumentation" json:"instrumentation" yaml:"instrumentation" mapstructure:"instrumentation"`
	Sampler         SamplerConfig         `koanf:"sampler" json:"sampler" yaml:"sampler" mapstructure:"sampler"`
	Database        DatabaseConfig        `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`

	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// AppConfig identifies the instrumented application.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" mapstructure:"name"`
	Version string `koanf:"version" json:"version" yaml:"version" mapstructure:"version"`
	Env     string `koanf:"env" json:"env" yaml:"env" mapstructure:"env"`
}

// LogConfig holds logging settings for the agent's own log lines.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// AgentConfig holds agent-wide switches.
type AgentConfig struct {
	// Enabled is the global "is execution traced" switch. When false the tap
	// returns before touching metrics, scopes or samplers.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// InstrumentationConfig holds per-library opt-outs.
type InstrumentationConfig struct {
	Database DatabaseInstrumentationConfig `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
}

// DatabaseInstrumentationConfig controls the query tap.
type DatabaseInstrumentationConfig struct {
	Disabled bool `koanf:"disabled" json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// SamplerConfig groups the slow SQL and transaction trace samplers.
type SamplerConfig struct {
	SQL         SQLSamplerConfig         `koanf:"sql" json:"sql" yaml:"sql" mapstructure:"sql"`
	Transaction TransactionSamplerConfig `koanf:"transaction" json:"transaction" yaml:"transaction" mapstructure:"transaction"`
}

// SQLSamplerConfig holds slow SQL collection settings.
type SQLSamplerConfig struct {
	Enabled   bool          `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Threshold time.Duration `koanf:"threshold" json:"threshold" yaml:"threshold" mapstructure:"threshold" validate:"gte=0"`
	Max       int           `koanf:"max" json:"max" yaml:"max" mapstructure:"max" validate:"gte=1,lte=1000"`
	MaxLength int           `koanf:"maxlength" json:"maxlength" yaml:"maxlength" mapstructure:"maxlength" validate:"gte=16"`
}

// TransactionSamplerConfig holds transaction trace settings.
type TransactionSamplerConfig struct {
	Enabled   bool          `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Threshold time.Duration `koanf:"threshold" json:"threshold" yaml:"threshold" mapstructure:"threshold" validate:"gte=0"`
	Max       int           `koanf:"max" json:"max" yaml:"max" mapstructure:"max" validate:"gte=1,lte=100"`
}

// DatabaseConfig describes a statically configured database. It is only used to
// seed the connection registry; the agent never opens connections itself.
type DatabaseConfig struct {
	Type     string `koanf:"type" json:"type" yaml:"type" mapstructure:"type"`
	Host     string `koanf:"host" json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" mapstructure:"port"`
	Database string `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
	Username string `koanf:"username" json:"username" yaml:"username" mapstructure:"username"`
	Password string `koanf:"password" json:"password" yaml:"password" mapstructure:"password"`
}
