package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// formatValue is a pflag.Value restricted to a fixed set of output formats.
type formatValue struct {
	value   string
	allowed []string
}

var _ pflag.Value = (*formatValue)(nil)

func (f *formatValue) String() string { return f.value }
func (f *formatValue) Type() string   { return "format" }

func (f *formatValue) Set(s string) error {
	if err := validateFormat(s, f.allowed); err != nil {
		return err
	}
	f.value = strings.ToLower(s)
	return nil
}

// addFormatFlag registers --format/-f on cmd and returns its value holder.
func addFormatFlag(cmd *cobra.Command, def string, allowed ...string) *formatValue {
	f := &formatValue{value: def, allowed: allowed}
	cmd.Flags().VarP(f, "format", "f", "output format ("+strings.Join(allowed, "|")+")")
	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return allowed, cobra.ShellCompDirectiveNoFileComp
	})
	return f
}

// validateFormat checks format against allowed and suggests the closest
// candidate by prefix.
func validateFormat(format string, allowed []string) error {
	lower := strings.ToLower(format)
	for _, a := range allowed {
		if lower == a {
			return nil
		}
	}
	for _, a := range allowed {
		if lower != "" && (strings.HasPrefix(a, lower) || strings.HasPrefix(lower, a)) {
			return fmt.Errorf("invalid format %q (did you mean %q?)", format, a)
		}
	}
	return fmt.Errorf("invalid format %q, must be one of: %s", format, strings.Join(allowed, ", "))
}

// addPipelineFlags registers the knobs shared by commands that run the
// analysis pipeline.
func addPipelineFlags(cmd *cobra.Command, withDebounce bool) {
	cmd.Flags().Int("workers", 0, "maximum concurrent analyses")
	if withDebounce {
		cmd.Flags().Duration("debounce", time.Duration(0), "quiet period before a changed file is analyzed")
	}
}
