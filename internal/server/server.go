// Package server is the HTTP adapter over a ComponentService: a JSON API
// for records and one-shot analysis, a WebSocket change stream, health and
// Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/wasmscope/internal/config"
	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
	"github.com/conneroisu/wasmscope/internal/services"
	"github.com/conneroisu/wasmscope/internal/websocket"
)

// Request limits.
const (
	maxRequestBody    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger logging.Logger
	// Gatherer backs /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	// AnalyzeLimit throttles POST /api/analyze per client IP.
	AnalyzeLimit RateLimit
	// Stream overrides the WebSocket stream tuning. OriginPatterns and
	// Logger are filled from the server configuration when empty.
	Stream websocket.Options
}

// Server serves the API for one ComponentService.
type Server struct {
	config   config.ServerConfig
	service  *services.ComponentService
	streams  *websocket.StreamManager
	limiter  *RateLimiter
	gatherer prometheus.Gatherer
	logger   logging.Logger
	errors   *errors.ErrorHandler
	origins  []string
	handler  http.Handler

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener
}

// New builds a server. Nothing listens until Start.
func New(cfg config.ServerConfig, svc *services.ComponentService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	origins := OriginHosts(cfg.AllowedOrigins)
	streamOpts := opts.Stream
	if streamOpts.OriginPatterns == nil {
		streamOpts.OriginPatterns = origins
	}
	if streamOpts.Logger == nil {
		streamOpts.Logger = opts.Logger
	}

	s := &Server{
		config:   cfg,
		service:  svc,
		streams:  websocket.NewStreamManager(svc, streamOpts),
		limiter:  NewRateLimiter(opts.AnalyzeLimit),
		gatherer: opts.Gatherer,
		logger:   opts.Logger.WithComponent("server"),
		origins:  origins,
	}
	s.errors = errors.NewErrorHandler(s.logger)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/components", s.handleListComponents)
	mux.HandleFunc("GET /api/components/{name...}", s.handleGetComponent)
	mux.HandleFunc("DELETE /api/components/{name...}", s.handleDeleteComponent)
	mux.HandleFunc("GET /api/dependencies", s.handleDependencyGraph)
	mux.HandleFunc("GET /api/dependencies/{name...}", s.handleDependencies)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/changes", s.handleRecentChanges)
	mux.HandleFunc("GET /api/lookup", s.handleLookup)
	mux.Handle("POST /api/analyze", s.limiter.Middleware(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("GET /ws/changes", s.streams)
	mux.Handle("GET /health", s.service.Health().HTTPHandler())
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			ErrorLog: promLogger{s.logger},
		}))
	}

	return chain(mux,
		recovery(s.logger),
		requestLogger(s.logger),
		securityHeaders,
		originGuard(s.streams.IsAllowedOrigin, s.logger),
	)
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler { return s.handler }

// Streams returns the WebSocket stream manager.
func (s *Server) Streams() *websocket.StreamManager { return s.streams }

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, errors.ErrCodeListen, "cannot listen on "+addr)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.serverMutex.Lock()
	s.httpServer = srv
	s.listener = ln
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "HTTP server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.NewTransportError(errors.ErrCodeListen, "server error", err)
	}
	return nil
}

// Addr returns the bound address, or "" before Start has listened.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting streams, waits for open ones to end, then shuts
// the HTTP server down. Both steps share ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	streamErr := s.streams.Shutdown(ctx)

	s.serverMutex.RLock()
	srv := s.httpServer
	s.serverMutex.RUnlock()

	var httpErr error
	if srv != nil {
		httpErr = srv.Shutdown(ctx)
	}
	if streamErr != nil {
		s.logger.Warn(ctx, streamErr, "Change streams did not finish before shutdown deadline")
	}
	return errors.CombineErrors(streamErr, httpErr)
}

// promLogger adapts the logger to promhttp's error log.
type promLogger struct{ logger logging.Logger }

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error(context.Background(), nil, "Metrics handler error", "detail", fmt.Sprint(v...))
}
