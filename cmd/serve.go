package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/wasmscope/internal/server"
	"github.com/conneroisu/wasmscope/internal/services"
	"github.com/conneroisu/wasmscope/internal/version"
)

// shutdownGrace is added to the drain timeout when stopping the server.
const shutdownGrace = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var analyzeRate int
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Serve the component API and change stream",
		Long: `Run the watch pipeline and serve it over HTTP:

  GET    /api/components            summaries (?state= filters)
  GET    /api/components/{name}     one record
  DELETE /api/components/{name}     evict a record
  GET    /api/dependencies[/{name}] provider and dependent links
  GET    /api/stats                 record counts
  POST   /api/analyze               {"path": "..."} one-shot analysis
  GET    /ws/changes                WebSocket change stream
  GET    /health                    health checks
  GET    /metrics                   Prometheus metrics

Examples:
  wasmscope serve
  wasmscope serve --port 9090 --root ./build
  wasmscope serve --analyze-rate 30`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String("host", "", "host to bind to")
	cmd.Flags().IntP("port", "p", 0, "port to serve on")
	cmd.Flags().IntVar(&analyzeRate, "analyze-rate", 60, "POST /api/analyze requests per minute per client (0 disables)")
	addPipelineFlags(cmd, true)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		svc, err := services.NewComponentService(cfg, services.Options{
			Logger:     logger,
			Registerer: reg,
			Version:    version.Get().Version,
		})
		if err != nil {
			return err
		}
		srv := server.New(cfg.Server, svc, server.Options{
			Logger:       logger,
			Gatherer:     reg,
			AnalyzeLimit: server.RateLimit{RequestsPerMinute: analyzeRate, BurstLimit: analyzeRate},
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return svc.Run(gctx) })
		g.Go(func() error { return srv.Start(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			logger.Info(context.Background(), "Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Analysis.DrainTimeout+shutdownGrace)
			defer cancel()
			// Closing the service sends disconnecting, which ends the streams.
			if err := svc.Close(); err != nil {
				logger.Warn(shutdownCtx, err, "Pipeline did not stop cleanly")
			}
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	}
	return cmd
}
