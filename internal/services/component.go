// Package services exposes the analysis pipeline to the outer surfaces
// (CLI and HTTP) through a single ComponentService.
package services

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/wasmscope/internal/analyzer"
	"github.com/conneroisu/wasmscope/internal/bus"
	"github.com/conneroisu/wasmscope/internal/config"
	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
	"github.com/conneroisu/wasmscope/internal/monitoring"
	"github.com/conneroisu/wasmscope/internal/registry"
	"github.com/conneroisu/wasmscope/internal/types"
	"github.com/conneroisu/wasmscope/internal/watcher"
)

// heapSoftLimit is the heap size above which the memory check degrades.
const heapSoftLimit = 1 << 30

// Options carries the collaborators of a ComponentService.
type Options struct {
	Logger logging.Logger
	// Registerer receives the metric collectors. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Version is reported by the health endpoint.
	Version string
}

// ComponentService owns one pipeline: analyzer, registry, change bus,
// watcher and stale-record sweeper.
type ComponentService struct {
	config   *config.Config
	logger   logging.Logger
	analyzer *analyzer.Analyzer
	registry *registry.ComponentRegistry
	bus      *bus.Bus
	watcher  *watcher.ComponentWatcher
	sweeper  *registry.Sweeper
	deps     *registry.DependencyAnalyzer
	metrics  *monitoring.Metrics
	health   *monitoring.HealthMonitor

	mutex     sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	sweepDone chan struct{}
	lastScan  time.Time
}

// DependencyInfo lists the components linked to one component through its
// interfaces.
type DependencyInfo struct {
	Name string `json:"name" yaml:"name"`
	// Providers export interfaces this component imports.
	Providers []string `json:"providers" yaml:"providers"`
	// Dependents import interfaces this component exports.
	Dependents []string `json:"dependents" yaml:"dependents"`
}

// NewComponentService wires a pipeline from cfg. Construction fails with a
// config error when the watch root is unusable.
func NewComponentService(cfg *config.Config, opts Options) (*ComponentService, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	metrics, err := monitoring.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, errors.WrapInternal(err, errors.ErrCodeInternalError, "cannot register metrics")
	}

	an := analyzer.New(analyzer.Options{
		MaxSize:  cfg.Analysis.MaxSize,
		Timeout:  cfg.Analysis.Timeout,
		MaxDepth: cfg.Analysis.MaxDepth,
	})
	reg := registry.NewComponentRegistry()
	b := bus.New(bus.Options{
		QueueCapacity: cfg.Bus.QueueCapacity,
		History:       cfg.Bus.History,
		Logger:        opts.Logger,
		Metrics:       metrics,
	})

	w, err := watcher.New(watcher.Options{
		Root:         cfg.Watch.Root,
		Patterns:     cfg.Watch.Patterns,
		Ignore:       cfg.Watch.Ignore,
		Debounce:     cfg.Watch.Debounce,
		Workers:      cfg.Analysis.Workers,
		DrainTimeout: cfg.Analysis.DrainTimeout,
		Decoder:      an,
		Registry:     reg,
		Bus:          b,
		Logger:       opts.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	s := &ComponentService{
		config:   cfg,
		logger:   opts.Logger.WithComponent("component_service"),
		analyzer: an,
		registry: reg,
		bus:      b,
		watcher:  w,
		deps:     registry.NewDependencyAnalyzer(reg),
		metrics:  metrics,
		health:   monitoring.NewHealthMonitor(opts.Logger, opts.Version),
	}
	s.sweeper = registry.NewSweeper(reg, registry.EvictionPolicy{
		GracePeriod: cfg.Registry.GracePeriod,
		MaxStale:    cfg.Registry.MaxStale,
	}, cfg.Registry.SweepInterval, opts.Logger, func([]string) {
		metrics.RecordStates(reg.Stats())
	})

	s.health.RegisterCheck(monitoring.WatchRootHealthChecker(w.Root()))
	s.health.RegisterCheck(monitoring.PipelineHealthChecker(w.Running, func() int {
		return reg.Stats()[types.StateAnalysisFailed]
	}))
	s.health.RegisterCheck(monitoring.MemoryHealthChecker(heapSoftLimit))
	return s, nil
}

// Start begins watching the root and sweeping stale records. Analysis of
// the files already present is scheduled asynchronously.
func (s *ComponentService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return errors.ErrWatcherClosed()
	}
	if s.started {
		return nil
	}
	if err := s.watcher.Start(ctx); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.sweepDone = make(chan struct{})
	s.started = true
	s.lastScan = time.Now()
	go func() {
		defer close(s.sweepDone)
		s.sweeper.Run(sweepCtx)
	}()
	return nil
}

// Run starts the service, blocks until ctx is done and then closes it.
func (s *ComponentService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Scan synchronously analyzes every matching file once.
func (s *ComponentService) Scan(ctx context.Context) error {
	op := logging.StartOperation(s.logger, "scan")
	if err := s.watcher.Scan(ctx); err != nil {
		op.EndWithError(ctx, err, "root", s.Root())
		return err
	}
	s.mutex.Lock()
	s.lastScan = time.Now()
	s.mutex.Unlock()
	op.End(ctx, "root", s.Root(), "components", s.registry.Count())
	return nil
}

// LastScan returns when the root was last scanned, either by Start or by a
// completed Scan. It is zero before the first one.
func (s *ComponentService) LastScan() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastScan
}

// Close stops the watcher and the sweeper. Subscribers receive
// disconnecting and their streams end.
func (s *ComponentService) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.sweepDone
	s.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.watcher.Close()
}

// ListComponents returns a summary of every record, ordered by name.
func (s *ComponentService) ListComponents() []types.ComponentSummary {
	records := s.registry.List()
	out := make([]types.ComponentSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Summary())
	}
	return out
}

// Records returns full snapshots of every record, ordered by name.
func (s *ComponentService) Records() []*types.ComponentRecord {
	return s.registry.List()
}

// GetComponent returns the record for name or a not-found error.
func (s *ComponentService) GetComponent(name string) (*types.ComponentRecord, error) {
	return s.registry.Get(name)
}

// GetComponentByPath returns the record whose file is path. Relative paths
// are taken from the watch root.
func (s *ComponentService) GetComponentByPath(path string) (*types.ComponentRecord, error) {
	abs, err := s.ResolveInRoot(path)
	if err != nil {
		return nil, err
	}
	for _, rec := range s.registry.List() {
		if filepath.Clean(rec.Path) == abs {
			return rec, nil
		}
	}
	return nil, errors.ErrComponentNotFound(path).WithPath(abs)
}

// FindComponent looks name up leniently: an exact match wins, then the
// name with underscores and hyphens swapped, then any record whose name or
// last path segment matches once case, hyphens and underscores are ignored.
// Ties go to the first record by name.
func (s *ComponentService) FindComponent(name string) (*types.ComponentRecord, error) {
	for _, candidate := range []string{
		name,
		strings.ReplaceAll(name, "_", "-"),
		strings.ReplaceAll(name, "-", "_"),
	} {
		if rec, err := s.registry.Get(candidate); err == nil {
			return rec, nil
		}
	}

	want := foldName(name)
	var byBase *types.ComponentRecord
	for _, rec := range s.registry.List() {
		if foldName(rec.Name) == want {
			return rec, nil
		}
		base := rec.Name[strings.LastIndex(rec.Name, "/")+1:]
		if byBase == nil && foldName(base) == want {
			byBase = rec
		}
	}
	if byBase != nil {
		return byBase, nil
	}
	return nil, errors.ErrComponentNotFound(name)
}

// foldName drops hyphens and underscores and lowercases the rest.
func foldName(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
}

// Dependencies reports which components provide the imports of name and
// which import its exports.
func (s *ComponentService) Dependencies(name string) (*DependencyInfo, error) {
	providers, err := s.deps.GetProviders(name)
	if err != nil {
		return nil, err
	}
	dependents, err := s.deps.GetDependents(name)
	if err != nil {
		return nil, err
	}
	return &DependencyInfo{Name: name, Providers: providers, Dependents: dependents}, nil
}

// DependencyCycles returns every import cycle among live components.
func (s *ComponentService) DependencyCycles() [][]string {
	return s.deps.DetectCircularDependencies()
}

// AnalyzeFile decodes the binary at path without touching the registry.
// Relative paths are taken from the watch root.
func (s *ComponentService) AnalyzeFile(ctx context.Context, path string) (*analyzer.InterfaceGraph, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.watcher.Root(), path)
	}
	g, err := s.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, wrapDecodeError(path, err)
	}
	return g, nil
}

// ResolveInRoot returns the absolute form of path, which must lie inside
// the watch root both lexically and after symlinks are followed.
func (s *ComponentService) ResolveInRoot(path string) (string, error) {
	root := s.watcher.Root()
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	outside := errors.NewValidationError(errors.ErrCodePathOutsideRoot, "path is outside the watch root: "+path)
	if !within(root, abs) {
		return "", outside
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	if !within(realRoot, resolveExisting(abs)) {
		return "", outside
	}
	return abs, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting follows symlinks in the longest existing prefix of p and
// appends the missing remainder unchanged.
func resolveExisting(p string) string {
	var rest []string
	for cur := p; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{real}, rest...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// SubscribeChanges opens a change stream beginning with connected.
func (s *ComponentService) SubscribeChanges() *bus.Subscription {
	return s.bus.Subscribe()
}

// RecentChanges returns up to limit of the latest change events, oldest
// first. Streams opened later still start empty.
func (s *ComponentService) RecentChanges(limit int) []types.ChangeEvent {
	return s.bus.Recent(limit)
}

// Unsubscribe ends a stream opened by SubscribeChanges.
func (s *ComponentService) Unsubscribe(sub *bus.Subscription) {
	s.bus.Unsubscribe(sub)
}

// RemoveComponent evicts name from the registry. No event is published;
// the record reappears as added if its file is touched again.
func (s *ComponentService) RemoveComponent(name string) error {
	if err := s.registry.Remove(name); err != nil {
		return err
	}
	s.metrics.RecordStates(s.registry.Stats())
	s.logger.Info(context.Background(), "Component removed", "name", name)
	return nil
}

// Stats counts records per state.
func (s *ComponentService) Stats() map[types.ComponentState]int {
	return s.registry.Stats()
}

// Health returns the monitor backing the health endpoint.
func (s *ComponentService) Health() *monitoring.HealthMonitor { return s.health }

// Root returns the absolute watch root.
func (s *ComponentService) Root() string { return s.watcher.Root() }

// Running reports whether the watcher event loop is alive.
func (s *ComponentService) Running() bool { return s.watcher.Running() }

// SubscriberCount returns the number of open change streams.
func (s *ComponentService) SubscriberCount() int { return s.bus.SubscriberCount() }

func wrapDecodeError(path string, err error) error {
	var de *analyzer.DecodeError
	if !errors.As(err, &de) {
		return err
	}
	we := errors.NewAnalysisError(errors.ErrCodeDecodeFailed, de.Error(), de).
		WithPath(path).
		WithContext("kind", string(de.Kind))
	if de.Offset >= 0 {
		we = we.WithContext("offset", de.Offset)
	}
	return we
}
