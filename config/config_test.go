package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, "querytap-service", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Agent.Enabled)
	assert.False(t, cfg.Instrumentation.Database.Disabled)

	assert.True(t, cfg.Sampler.SQL.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Sampler.SQL.Threshold)
	assert.Equal(t, 10, cfg.Sampler.SQL.Max)
	assert.Equal(t, 2000, cfg.Sampler.SQL.MaxLength)

	assert.True(t, cfg.Sampler.Transaction.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Sampler.Transaction.Threshold)
	assert.Equal(t, 1, cfg.Sampler.Transaction.Max)
}

func TestLoadFromBytesOverrides(t *testing.T) {
	yaml := []byte(`
app:
  name: billing
  env: production
agent:
  enabled: false
instrumentation:
  database:
    disabled: true
sampler:
  sql:
    threshold: 50ms
    max: 25
database:
  type: postgresql
  host: db1
  port: 5432
observability:
  enabled: true
  service:
    name: billing
`)

	cfg, err := LoadFromBytes(yaml)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.App.Name)
	assert.Equal(t, EnvProduction, cfg.App.Env)
	assert.False(t, cfg.Agent.Enabled)
	assert.True(t, cfg.Instrumentation.Database.Disabled)
	assert.Equal(t, 50*time.Millisecond, cfg.Sampler.SQL.Threshold)
	assert.Equal(t, 25, cfg.Sampler.SQL.Max)
	assert.Equal(t, "db1", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	assert.True(t, cfg.Exists("observability.service.name"))

	var obs struct {
		Enabled bool `koanf:"enabled"`
		Service struct {
			Name string `koanf:"name"`
		} `koanf:"service"`
	}
	require.NoError(t, cfg.Unmarshal("observability", &obs))
	assert.True(t, obs.Enabled)
	assert.Equal(t, "billing", obs.Service.Name)
}

func TestLoadFromBytesInvalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "bad_env", yaml: "app:\n  env: qa\n", field: "app.env"},
		{name: "bad_level", yaml: "log:\n  level: loud\n", field: "log.level"},
		{name: "sql_max_zero", yaml: "sampler:\n  sql:\n    max: 0\n", field: "sampler.sql.max"},
		{name: "short_maxlength", yaml: "sampler:\n  sql:\n    maxlength: 4\n", field: "sampler.sql.maxlength"},
		{name: "txn_max_too_big", yaml: "sampler:\n  transaction:\n    max: 500\n", field: "sampler.transaction.max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadFromBytesMalformedYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("app: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse yaml")
}

func TestLoadReadsEnvironment(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("QUERYTAP_AGENT_ENABLED", "false")
	t.Setenv("QUERYTAP_SAMPLER_SQL_THRESHOLD", "1s")
	t.Setenv("QUERYTAP_INSTRUMENTATION_DATABASE_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Agent.Enabled)
	assert.Equal(t, time.Second, cfg.Sampler.SQL.Threshold)
	assert.True(t, cfg.Instrumentation.Database.Disabled)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile("config.yaml", []byte("app:\n  name: from-file\n  env: staging\n"), 0o600))
	require.NoError(t, os.WriteFile("config.staging.yaml", []byte("log:\n  level: debug\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.App.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestUnmarshalWithoutKoanf(t *testing.T) {
	var cfg *Config
	assert.Error(t, cfg.Unmarshal("x", &struct{}{}))
	assert.False(t, cfg.Exists("x"))
}

func TestConfigErrorFormatting(t *testing.T) {
	missing := NewMissingFieldError("app.name")
	assert.Equal(t, "config_missing: app.name required set QUERYTAP_APP_NAME env var or add app.name to config.yaml", missing.Error())

	invalid := NewInvalidFieldError("app.env", "unknown", []string{"a", "b"})
	assert.Equal(t, "config_invalid: app.env unknown must be one of: a, b", invalid.Error())
}
