// Package cmd provides the command-line interface for wasmscope.
//
// Configuration is read from, highest priority first:
//  1. Command-line flags (--root, --log-level, --port, ...)
//  2. WASMSCOPE_<SECTION>_<KEY> environment variables
//  3. The config file: --config, WASMSCOPE_CONFIG_FILE, or .wasmscope.yml
//     in the working directory
//  4. Built-in defaults
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/wasmscope/internal/config"
	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
)

// app holds the state shared by one command tree.
type app struct {
	configFile string
	viper      *viper.Viper
	out        io.Writer
	errOut     io.Writer

	// bindings maps flag names to config keys.
	bindings map[string]string
}

// NewRootCommand builds the wasmscope command tree.
func NewRootCommand() *cobra.Command {
	a := &app{
		out:    os.Stdout,
		errOut: os.Stderr,
		bindings: map[string]string{
			"root":       "watch.root",
			"log-level":  "log.level",
			"log-format": "log.format",
			"host":       "server.host",
			"port":       "server.port",
			"workers":    "analysis.workers",
			"debounce":   "watch.debounce",
		},
	}

	root := &cobra.Command{
		Use:   "wasmscope",
		Short: "Watch WebAssembly components and report their interfaces",
		Long: `wasmscope watches a directory of WebAssembly binaries, decodes the
interfaces each one imports and exports, and keeps a live registry of them.

Quick Start:
  wasmscope list                  Scan once and list components
  wasmscope analyze app.wasm      Decode one binary
  wasmscope watch                 Print changes as they happen
  wasmscope serve                 Serve the HTTP API and change stream`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "",
		"config file (default is .wasmscope.yml, can also use WASMSCOPE_CONFIG_FILE)")
	root.PersistentFlags().String("root", "", "directory to watch")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (text, json)")

	root.AddCommand(
		newServeCommand(a),
		newWatchCommand(a),
		newListCommand(a),
		newAnalyzeCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the command tree with ctx and reports a failure on stderr.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error: "+errors.FormatErrorWithSuggestions(err))
	}
	return err
}

// loadViper reads configuration sources and binds the flags cmd carries.
func (a *app) loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	if a.viper != nil {
		return a.viper, nil
	}
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return nil, err
	}
	for name, key := range a.bindings {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, err
			}
		}
	}
	a.viper = v
	return v, nil
}

// loadConfig returns the validated configuration and a logger built from it.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	v, err := a.loadViper(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := a.newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range config.ValidateConfigWithDetails(cfg).Warnings {
		logger.Warn(cmd.Context(), nil, w.Message, "field", w.Field, "value", w.Value)
	}
	return cfg, logger, nil
}

func (a *app) newLogger(cfg config.LogConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: a.errOut,
	}), nil
}
