package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wasmscope/internal/bus"
	"github.com/conneroisu/wasmscope/internal/services"
	"github.com/conneroisu/wasmscope/internal/types"
)

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Run the pipeline and print change events",
		Long: `Watch the root directory, analyze binaries as they change and print one
line per change event until interrupted.

Examples:
  wasmscope watch                       # Human-readable lines
  wasmscope watch -f json               # One JSON message per line
  wasmscope watch --root ./build --debounce 100ms`,
		Args: cobra.NoArgs,
	}
	format := addFormatFlag(cmd, "text", "text", "json")
	addPipelineFlags(cmd, true)

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

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Subscribe first so the initial scan's events are printed.
		sub := svc.SubscribeChanges()
		if err := svc.Start(ctx); err != nil {
			return err
		}
		return printMessages(ctx, a.out, sub, format.value, svc.Close)
	}
	return cmd
}

// printMessages writes every message of sub until it ends. When ctx is done
// stop is called and the remaining messages are drained.
func printMessages(ctx context.Context, w io.Writer, sub *bus.Subscription, format string, stop func() error) error {
	stopped := false
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := printMessage(w, msg, format); err != nil {
				return err
			}
			if msg.Type == bus.MessageDisconnecting {
				return nil
			}
		case <-ctx.Done():
			if !stopped {
				stopped = true
				if err := stop(); err != nil {
					return err
				}
			}
			// sub.C ends after disconnecting; keep draining.
			ctx = context.Background()
		}
	}
}

func printMessage(w io.Writer, msg bus.Message, format string) error {
	if format == "json" {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := msg.Timestamp.Format(time.TimeOnly)
	var err error
	switch msg.Type {
	case bus.MessageChange:
		_, err = fmt.Fprintf(w, "%s %-15s %s%s\n", ts, msg.Event.Kind, msg.Event.Name, eventDetail(msg.Event))
	case bus.MessageGap:
		_, err = fmt.Fprintf(w, "%s %-15s %d event(s) dropped\n", ts, msg.Type, msg.Dropped)
	default:
		_, err = fmt.Fprintf(w, "%s %s\n", ts, msg.Type)
	}
	return err
}

func eventDetail(ev *types.ChangeEvent) string {
	rec := ev.Record
	if rec == nil {
		return ""
	}
	if rec.Error != nil {
		return fmt.Sprintf(" (%s: %s)", rec.Error.Kind, rec.Error.Message)
	}
	if ev.Kind == types.ChangeRemoved {
		return ""
	}
	s := rec.Summary()
	return fmt.Sprintf(" (%d imports, %d exports)", s.Imports, s.Exports)
}
