package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/wasmscope/internal/services"
	"github.com/conneroisu/wasmscope/internal/types"
)

func newListCommand(a *app) *cobra.Command {
	var (
		state    string
		withDeps bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "Scan the watch root once and list components",
		Long: `Scan every matching binary under the watch root, analyze it and print
the resulting records.

Examples:
  wasmscope list                       # Table of all records
  wasmscope list -f json               # Full records as JSON
  wasmscope list --state analysis_failed
  wasmscope list --with-deps -f yaml`,
		Args: cobra.NoArgs,
	}
	format := addFormatFlag(cmd, "table", "table", "json", "yaml")
	cmd.Flags().StringVar(&state, "state", "", "only show records in this state")
	cmd.Flags().BoolVarP(&withDeps, "with-deps", "d", false, "include providers and dependents")
	addPipelineFlags(cmd, false)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := services.NewComponentService(cfg, services.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Scan(cmd.Context()); err != nil {
			return err
		}

		var records []*types.ComponentRecord
		for _, rec := range svc.Records() {
			if state == "" || string(rec.State) == state {
				records = append(records, rec)
			}
		}

		var deps map[string]*services.DependencyInfo
		if withDeps {
			deps = make(map[string]*services.DependencyInfo, len(records))
			for _, rec := range records {
				if info, err := svc.Dependencies(rec.Name); err == nil {
					deps[rec.Name] = info
				}
			}
		}

		switch format.value {
		case "json", "yaml":
			return writeStructured(a.out, format.value, listOutput(records, deps))
		default:
			return writeTable(a.out, svc.Root(), records, deps)
		}
	}
	return cmd
}

// listEntry is one record in structured list output.
type listEntry struct {
	types.ComponentRecord `yaml:",inline"`
	Providers             []string `json:"providers,omitempty" yaml:"providers,omitempty"`
	Dependents            []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
}

func listOutput(records []*types.ComponentRecord, deps map[string]*services.DependencyInfo) []listEntry {
	out := make([]listEntry, 0, len(records))
	for _, rec := range records {
		e := listEntry{ComponentRecord: *rec}
		if info, ok := deps[rec.Name]; ok {
			e.Providers = info.Providers
			e.Dependents = info.Dependents
		}
		out = append(out, e)
	}
	return out
}

func writeTable(w io.Writer, root string, records []*types.ComponentRecord, deps map[string]*services.DependencyInfo) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No components found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "NAME\tSTATE\tIMPORTS\tEXPORTS\tFUNCS\tPATH"
	if deps != nil {
		header += "\tPROVIDERS\tDEPENDENTS"
	}
	fmt.Fprintln(tw, header)

	for _, rec := range records {
		s := rec.Summary()
		path := s.Path
		if rel, err := filepath.Rel(root, path); err == nil {
			path = rel
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s", s.Name, s.State, s.Imports, s.Exports, s.Functions, path)
		if deps != nil {
			info := deps[rec.Name]
			var providers, dependents int
			if info != nil {
				providers, dependents = len(info.Providers), len(info.Dependents)
			}
			fmt.Fprintf(tw, "\t%d\t%d", providers, dependents)
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal: %d component(s)\n", len(records))
	return err
}

func writeStructured(w io.Writer, format string, v interface{}) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
