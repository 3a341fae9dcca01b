package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/wasmscope/internal/version"
)

func newVersionCommand(a *app) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for wasmscope: version, git commit, build
time, Go version and target platform.

Examples:
  wasmscope version              # Multi-line summary
  wasmscope version --short      # Version and short commit only
  wasmscope version -f json      # Machine-readable`,
		Args: cobra.NoArgs,
	}
	format := addFormatFlag(cmd, "text", "text", "json", "yaml")
	cmd.Flags().BoolVar(&short, "short", false, "show the short version only")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		switch format.value {
		case "json":
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "yaml":
			return yaml.NewEncoder(a.out).Encode(info)
		}
		if short {
			_, err := fmt.Fprintln(a.out, info.Short())
			return err
		}
		_, err := fmt.Fprintln(a.out, info.String())
		return err
	}
	return cmd
}
