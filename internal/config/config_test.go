package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/errors"
)

func newTestViper(t *testing.T, root string) *viper.Viper {
	t.Helper()
	t.Setenv(EnvPrefix+"_CONFIG_FILE", "")
	v, err := NewViper("")
	require.NoError(t, err)
	v.Set("watch.root", root)
	return v
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	c := Defaults()
	c.Watch.Root = t.TempDir()
	return &c
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(newTestViper(t, root))
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Watch.Root)
	assert.Equal(t, []string{"**/*.wasm"}, cfg.Watch.Patterns)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, int64(64<<20), cfg.Analysis.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Analysis.DrainTimeout)
	assert.Equal(t, 32, cfg.Analysis.MaxDepth)
	assert.GreaterOrEqual(t, cfg.Analysis.Workers, 1)
	assert.LessOrEqual(t, cfg.Analysis.Workers, 8)
	assert.Equal(t, 256, cfg.Bus.QueueCapacity)
	assert.Equal(t, 100, cfg.Bus.History)
	assert.Equal(t, 10*time.Minute, cfg.Registry.GracePeriod)
	assert.Equal(t, 1000, cfg.Registry.MaxStale)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("WASMSCOPE_WATCH_DEBOUNCE", "1s")
	t.Setenv("WASMSCOPE_WATCH_IGNORE", "target/**,dist/**")
	t.Setenv("WASMSCOPE_ANALYSIS_WORKERS", "3")
	t.Setenv("WASMSCOPE_BUS_QUEUE_CAPACITY", "16")
	t.Setenv("WASMSCOPE_SERVER_PORT", "9090")
	t.Setenv("WASMSCOPE_LOG_FORMAT", "json")

	cfg, err := Load(newTestViper(t, root))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"target/**", "dist/**"}, cfg.Watch.Ignore)
	assert.Equal(t, 3, cfg.Analysis.Workers)
	assert.Equal(t, 16, cfg.Bus.QueueCapacity)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(t.TempDir(), "wasmscope.yml")
	content := strings.Join([]string{
		"watch:",
		"  root: " + root,
		"  patterns: [\"dist/**/*.wasm\"]",
		"  debounce: 50ms",
		"registry:",
		"  grace_period: 1h",
		"  max_stale: 0",
		"server:",
		"  allowed_origins: [\"localhost:3000\"]",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	v, err := NewViper(file)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Watch.Root)
	assert.Equal(t, []string{"dist/**/*.wasm"}, cfg.Watch.Patterns)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, time.Hour, cfg.Registry.GracePeriod)
	assert.Equal(t, 0, cfg.Registry.MaxStale)
	assert.Equal(t, []string{"localhost:3000"}, cfg.Server.AllowedOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, 256, cfg.Bus.QueueCapacity)
}

func TestNewViperMissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewViperConfigFileFromEnvironment(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yml"))
	_, err := NewViper("")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	v := newTestViper(t, filepath.Join(t.TempDir(), "missing"))
	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "watch.root")
}

func TestLoadRejectsUndecodableValue(t *testing.T) {
	v := newTestViper(t, t.TempDir())
	v.Set("server.port", "not-a-port")
	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoadEmptyPatternsFallBack(t *testing.T) {
	v := newTestViper(t, t.TempDir())
	v.Set("watch.patterns", []string{})
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"**/*.wasm"}, cfg.Watch.Patterns)
}

func TestDecodeSkipsValidation(t *testing.T) {
	v := newTestViper(t, filepath.Join(t.TempDir(), "missing"))
	_, err := Load(v)
	require.Error(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Analysis.MaxSize, cfg.Analysis.MaxSize)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"empty root", func(c *Config) { c.Watch.Root = "" }, "watch.root"},
		{"bad pattern", func(c *Config) { c.Watch.Patterns = []string{"[oops"} }, "watch.patterns[0]"},
		{"bad ignore", func(c *Config) { c.Watch.Ignore = []string{"ok/**", "{a,b"} }, "watch.ignore[1]"},
		{"zero debounce", func(c *Config) { c.Watch.Debounce = 0 }, "watch.debounce"},
		{"zero workers", func(c *Config) { c.Analysis.Workers = 0 }, "analysis.workers"},
		{"zero max size", func(c *Config) { c.Analysis.MaxSize = 0 }, "analysis.max_size"},
		{"negative timeout", func(c *Config) { c.Analysis.Timeout = -time.Second }, "analysis.timeout"},
		{"zero drain timeout", func(c *Config) { c.Analysis.DrainTimeout = 0 }, "analysis.drain_timeout"},
		{"zero max depth", func(c *Config) { c.Analysis.MaxDepth = 0 }, "analysis.max_depth"},
		{"zero queue capacity", func(c *Config) { c.Bus.QueueCapacity = 0 }, "bus.queue_capacity"},
		{"negative history", func(c *Config) { c.Bus.History = -1 }, "bus.history"},
		{"zero grace period", func(c *Config) { c.Registry.GracePeriod = 0 }, "registry.grace_period"},
		{"negative max stale", func(c *Config) { c.Registry.MaxStale = -1 }, "registry.max_stale"},
		{"zero sweep interval", func(c *Config) { c.Registry.SweepInterval = 0 }, "registry.sweep_interval"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"dangerous host", func(c *Config) { c.Server.Host = "localhost; rm -rf /" }, "server.host"},
		{"empty origin", func(c *Config) { c.Server.AllowedOrigins = []string{""} }, "server.allowed_origins[0]"},
		{"unknown level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig(t)
			tc.mutate(c)

			result := ValidateConfigWithDetails(c)
			require.True(t, result.HasErrors())
			assert.False(t, result.Valid)
			assert.Equal(t, tc.field, result.Errors[0].Field)

			err := Validate(c)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := validConfig(t)
	result := ValidateConfigWithDetails(c)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, Validate(c))
}

func TestValidateRootMustBeDirectory(t *testing.T) {
	c := validConfig(t)
	file := filepath.Join(c.Watch.Root, "component.wasm")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	c.Watch.Root = file

	result := ValidateConfigWithDetails(c)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "not a directory")
}

func TestValidateWarnings(t *testing.T) {
	c := validConfig(t)
	c.Server.Port = 80
	c.Watch.Debounce = time.Millisecond

	result := ValidateConfigWithDetails(c)
	assert.True(t, result.Valid)
	assert.True(t, result.HasWarnings())
	assert.Len(t, result.Warnings, 2)
	assert.Contains(t, result.String(), "Validation warnings:")
	assert.Contains(t, result.String(), "server.port")
}

func TestValidatePortZeroAllowed(t *testing.T) {
	c := validConfig(t)
	c.Server.Port = 0
	result := ValidateConfigWithDetails(c)
	assert.True(t, result.Valid)
	assert.False(t, result.HasWarnings())
}

func TestValidationResultString(t *testing.T) {
	c := validConfig(t)
	c.Log.Format = "xml"
	c.Analysis.Workers = 0

	out := ValidateConfigWithDetails(c).String()
	assert.Contains(t, out, "Validation errors:")
	assert.Contains(t, out, "analysis.workers")
	assert.Contains(t, out, "log.format")
}
