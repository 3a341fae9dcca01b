package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// Validate returns a config error listing every validation failure, or nil.
func Validate(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if !result.HasErrors() {
		return nil
	}

	collection := &errors.ValidationErrorCollection{}
	for _, e := range result.Errors {
		collection.AddField(e.Field, e.Value, e.Message, e.Suggestions...)
	}
	return collection.ToWatchError()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateWatchConfigDetails(&config.Watch, result)
	validateAnalysisConfigDetails(&config.Analysis, result)
	validateBusConfigDetails(&config.Bus, result)
	validateRegistryConfigDetails(&config.Registry, result)
	validateServerConfigDetails(&config.Server, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateWatchConfigDetails(config *WatchConfig, result *ValidationResult) {
	if config.Root == "" {
		result.addError("watch.root", config.Root, "watch root cannot be empty",
			"Point watch.root at the directory holding your .wasm files")
	} else if info, err := os.Stat(config.Root); err != nil {
		result.addError("watch.root", config.Root, fmt.Sprintf("watch root is not accessible: %v", err),
			"Create the directory or pass --root with an existing path")
	} else if !info.IsDir() {
		result.addError("watch.root", config.Root, "watch root is not a directory",
			"Use the directory containing the binary, not the binary itself")
	}

	for i, p := range config.Patterns {
		if !doublestar.ValidatePattern(p) {
			result.addError(fmt.Sprintf("watch.patterns[%d]", i), p, "invalid glob pattern",
				"Patterns use doublestar syntax, e.g. '**/*.wasm'")
		}
	}
	for i, p := range config.Ignore {
		if !doublestar.ValidatePattern(p) {
			result.addError(fmt.Sprintf("watch.ignore[%d]", i), p, "invalid glob pattern",
				"Ignore a directory tree with 'target/**'")
		}
	}

	if config.Debounce <= 0 {
		result.addError("watch.debounce", config.Debounce, "debounce must be positive",
			"300ms suits most build tools")
	} else if config.Debounce < 10*time.Millisecond {
		result.addWarning("watch.debounce", config.Debounce, "very short debounce may analyze half-written files",
			"Use at least 50ms unless your build writes files atomically")
	}
}

func validateAnalysisConfigDetails(config *AnalysisConfig, result *ValidationResult) {
	if config.Workers < 1 {
		result.addError("analysis.workers", config.Workers, "workers must be at least 1")
	} else if config.Workers > runtime.NumCPU()*4 {
		result.addWarning("analysis.workers", config.Workers, "workers far exceed available CPUs",
			fmt.Sprintf("This machine has %d CPUs", runtime.NumCPU()))
	}
	if config.MaxSize < 1 {
		result.addError("analysis.max_size", config.MaxSize, "max_size must be at least 1 byte")
	}
	if config.Timeout <= 0 {
		result.addError("analysis.timeout", config.Timeout, "timeout must be positive")
	}
	if config.DrainTimeout <= 0 {
		result.addError("analysis.drain_timeout", config.DrainTimeout, "drain_timeout must be positive")
	}
	if config.MaxDepth < 1 {
		result.addError("analysis.max_depth", config.MaxDepth, "max_depth must be at least 1")
	}
}

func validateBusConfigDetails(config *BusConfig, result *ValidationResult) {
	if config.QueueCapacity < 1 {
		result.addError("bus.queue_capacity", config.QueueCapacity, "queue capacity must be at least 1",
			"Slow subscribers lose the oldest events once this many are pending")
	}
	if config.History < 0 {
		result.addError("bus.history", config.History, "history must not be negative",
			"Use 0 to keep no recent events")
	}
}

func validateRegistryConfigDetails(config *RegistryConfig, result *ValidationResult) {
	if config.GracePeriod <= 0 {
		result.addError("registry.grace_period", config.GracePeriod, "grace_period must be positive")
	}
	if config.MaxStale < 0 {
		result.addError("registry.max_stale", config.MaxStale, "max_stale cannot be negative",
			"Use 0 to keep stale records until the grace period ends")
	}
	if config.SweepInterval <= 0 {
		result.addError("registry.sweep_interval", config.SweepInterval, "sweep_interval must be positive")
	}
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	// Port 0 lets the system assign one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port, fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access")
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("server.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("server.host", config.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	for i, origin := range config.AllowedOrigins {
		if origin == "" || strings.ContainsAny(origin, " \t\n") {
			result.addError(fmt.Sprintf("server.allowed_origins[%d]", i), origin, "invalid origin pattern",
				"Origins are host patterns such as 'localhost:3000' or '*.example.com'")
		}
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.addError("log.level", config.Level, err.Error(),
			"Use one of debug, info, warn, error")
	}
	switch config.Format {
	case "text", "json":
	default:
		result.addError("log.format", config.Format, "log format must be 'text' or 'json'")
	}
}

// validateHostname rejects hosts carrying shell metacharacters or spaces.
func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("host contains dangerous character: %q", char)
		}
	}
	return nil
}
