// Package config provides configuration management for wasmscope using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The configuration system reads an optional YAML file (.wasmscope.yml),
// applies WASMSCOPE_<SECTION>_<KEY> environment overrides and validates the
// result. Validation failures are config errors and are fatal at startup.
package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/wasmscope/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WASMSCOPE"

// DefaultConfigName is the config file looked up in the working directory.
const DefaultConfigName = ".wasmscope"

type Config struct {
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Bus      BusConfig      `mapstructure:"bus" yaml:"bus"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type WatchConfig struct {
	Root     string        `mapstructure:"root" yaml:"root"`
	Patterns []string      `mapstructure:"patterns" yaml:"patterns"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type AnalysisConfig struct {
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	MaxSize      int64         `mapstructure:"max_size" yaml:"max_size"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	MaxDepth     int           `mapstructure:"max_depth" yaml:"max_depth"`
}

type BusConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// History is how many recent events are kept for late readers. Zero
	// keeps none.
	History       int `mapstructure:"history" yaml:"history"`
}

type RegistryConfig struct {
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	MaxStale      int           `mapstructure:"max_stale" yaml:"max_stale"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	workers := defaultWorkers()
	return Config{
		Watch: WatchConfig{
			Root:     "./workspace",
			Patterns: []string{"**/*.wasm"},
			Ignore:   []string{},
			Debounce: 300 * time.Millisecond,
		},
		Analysis: AnalysisConfig{
			Workers:      workers,
			MaxSize:      64 << 20,
			Timeout:      5 * time.Second,
			DrainTimeout: 10 * time.Second,
			MaxDepth:     32,
		},
		Bus: BusConfig{QueueCapacity: 256, History: 100},
		Registry: RegistryConfig{
			GracePeriod:   10 * time.Minute,
			MaxStale:      1000,
			SweepInterval: time.Minute,
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			AllowedOrigins: []string{},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every default on v, so that environment overrides
// are seen by Unmarshal and IsSet.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("watch.root", d.Watch.Root)
	v.SetDefault("watch.patterns", d.Watch.Patterns)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.max_size", d.Analysis.MaxSize)
	v.SetDefault("analysis.timeout", d.Analysis.Timeout)
	v.SetDefault("analysis.drain_timeout", d.Analysis.DrainTimeout)
	v.SetDefault("analysis.max_depth", d.Analysis.MaxDepth)
	v.SetDefault("bus.queue_capacity", d.Bus.QueueCapacity)
	v.SetDefault("bus.history", d.Bus.History)
	v.SetDefault("registry.grace_period", d.Registry.GracePeriod)
	v.SetDefault("registry.max_stale", d.Registry.MaxStale)
	v.SetDefault("registry.sweep_interval", d.Registry.SweepInterval)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NewViper returns a viper instance with defaults and environment
// overrides in place, and reads the config file. An explicit configFile
// (or WASMSCOPE_CONFIG_FILE) must exist; the default .wasmscope.yml is
// optional.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapConfig(err, errors.ErrCodeConfigLoad, "cannot read config file "+configFile)
		}
		return v, nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.NewConfigError(errors.ErrCodeConfigLoad, "cannot read config file", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	config, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Decode unmarshals v without validating. Commands that never touch the
// watch root use it.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigLoad, "cannot decode configuration", err)
	}
	if len(config.Watch.Patterns) == 0 {
		config.Watch.Patterns = Defaults().Watch.Patterns
	}
	return &config, nil
}

func defaultWorkers() int {
	if n := runtime.NumCPU(); n < 8 {
		return n
	}
	return 8
}
