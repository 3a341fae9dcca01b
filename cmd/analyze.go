package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wasmscope/internal/analyzer"
	"github.com/conneroisu/wasmscope/internal/config"
)

func newAnalyzeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analyze <file>",
		Aliases: []string{"a"},
		Short:   "Decode one WebAssembly binary and print its interfaces",
		Long: `Decode a single core module or component and print its interface graph.
The registry and watch root are not involved.

Examples:
  wasmscope analyze app.wasm            # JSON interface graph
  wasmscope analyze app.wasm -f wit     # Interface-definition text
  wasmscope analyze app.wasm -f yaml`,
		Args: cobra.ExactArgs(1),
	}
	format := addFormatFlag(cmd, "json", "json", "yaml", "wit")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := a.loadViper(cmd)
		if err != nil {
			return err
		}
		cfg, err := config.Decode(v)
		if err != nil {
			return err
		}

		an := analyzer.New(analyzer.Options{
			MaxSize:  cfg.Analysis.MaxSize,
			Timeout:  cfg.Analysis.Timeout,
			MaxDepth: cfg.Analysis.MaxDepth,
		})
		graph, err := an.AnalyzeFile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("analyze %s: %w", args[0], err)
		}

		if format.value == "wit" {
			_, err := fmt.Fprintln(a.out, strings.TrimRight(graph.WIT, "\n"))
			return err
		}
		return writeStructured(a.out, format.value, graph)
	}
	return cmd
}
