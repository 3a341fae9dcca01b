package watcher

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/wasmscope/internal/analyzer"
	"github.com/conneroisu/wasmscope/internal/bus"
	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
	"github.com/conneroisu/wasmscope/internal/registry"
	"github.com/conneroisu/wasmscope/internal/types"
)

// Decoder reads and decodes binaries. *analyzer.Analyzer implements it.
type Decoder interface {
	ReadFile(path string) ([]byte, error)
	Analyze(ctx context.Context, data []byte) (*analyzer.InterfaceGraph, error)
}

// Metrics receives analysis activity.
type Metrics interface {
	AnalysisStarted()
	AnalysisFinished(errKind string, d time.Duration)
	RecordStates(stats map[types.ComponentState]int)
}

// NopMetrics discards all watcher metrics.
type NopMetrics struct{}

func (NopMetrics) AnalysisStarted()                          {}
func (NopMetrics) AnalysisFinished(string, time.Duration)    {}
func (NopMetrics) RecordStates(map[types.ComponentState]int) {}

// Defaults applied by New to zero-valued options.
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultDrainTimeout = 10 * time.Second
)

// DefaultWorkers returns min(NumCPU, 8).
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Options configures a ComponentWatcher.
type Options struct {
	Root     string
	Patterns []string
	Ignore   []string
	// Debounce is the quiet period a path needs before it is analyzed.
	Debounce time.Duration
	// Workers caps concurrent analyses.
	Workers int
	// DrainTimeout bounds how long Close waits for running analyses.
	DrainTimeout time.Duration

	Decoder  Decoder
	Registry *registry.ComponentRegistry
	Bus      *bus.Bus
	Logger   logging.Logger
	Metrics  Metrics
	// Now overrides the clock.
	Now func() time.Time
}

// ComponentWatcher observes a root directory and keeps the registry in
// step with the binaries under it, publishing a change event for every
// observable transition.
type ComponentWatcher struct {
	opts     Options
	filter   *PathFilter
	source   *FileWatcher
	decoder  Decoder
	registry *registry.ComponentRegistry
	bus      *bus.Bus
	logger   logging.Logger
	metrics  Metrics
	now      func() time.Time

	debouncer *Debouncer
	flights   *flightGroup

	mutex    sync.Mutex
	started  bool
	closed   bool
	running  atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New validates opts and creates a watcher. A missing or non-directory
// root is a configuration error.
func New(opts Options) (*ComponentWatcher, error) {
	if opts.Root == "" {
		return nil, errors.NewConfigError(errors.ErrCodeWatchRoot, "watch root is required", nil)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Decoder == nil {
		opts.Decoder = analyzer.New(analyzer.DefaultOptions())
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewComponentRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(bus.Options{Logger: opts.Logger})
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	filter, err := NewPathFilter(opts.Patterns, opts.Ignore)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error(), err)
	}
	fw, err := NewFileWatcher(opts.Root, filter, opts.Logger)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeWatchRoot,
			fmt.Sprintf("cannot watch root %s", opts.Root), err)
	}

	w := &ComponentWatcher{
		opts:     opts,
		filter:   filter,
		source:   fw,
		decoder:  opts.Decoder,
		registry: opts.Registry,
		bus:      opts.Bus,
		logger:   opts.Logger.WithComponent("watcher"),
		metrics:  opts.Metrics,
		now:      opts.Now,
		flights:  newFlightGroup(opts.Workers),
	}
	w.debouncer = NewDebouncer(opts.Debounce, w.settle)
	return w, nil
}

// Registry returns the registry the watcher writes to.
func (w *ComponentWatcher) Registry() *registry.ComponentRegistry { return w.registry }

// Bus returns the bus the watcher publishes on.
func (w *ComponentWatcher) Bus() *bus.Bus { return w.bus }

// Root returns the absolute watch root.
func (w *ComponentWatcher) Root() string { return w.source.Root() }

// Running reports whether the event loop is alive.
func (w *ComponentWatcher) Running() bool { return w.running.Load() }

// PendingSettles returns the number of paths waiting out their debounce.
func (w *ComponentWatcher) PendingSettles() int { return w.debouncer.Pending() }

// Start begins watching and schedules an initial analysis of every
// matching file. It returns once the watches are in place.
func (w *ComponentWatcher) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return errors.ErrWatcherClosed()
	}
	if w.started {
		return nil
	}

	files, err := w.source.AddRecursive(w.source.Root())
	if err != nil {
		return errors.NewConfigError(errors.ErrCodeWatchRoot, "cannot walk watch root", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	w.started = true
	w.running.Store(true)

	go func() {
		defer close(w.loopDone)
		defer w.running.Store(false)
		w.source.Run(loopCtx, w.handleEvent)
	}()

	// Records left over from an earlier scan are re-checked too.
	for _, rec := range w.registry.List() {
		if rec.FileExists {
			files = append(files, rec.Path)
		}
	}
	for _, f := range dedupe(files) {
		w.flights.Do(f, w.analyzePath)
	}

	w.logger.Info(ctx, "Watcher started",
		"root", w.source.Root(),
		"files", len(files),
		"workers", w.opts.Workers,
		"debounce", w.opts.Debounce.String())
	return nil
}

// Scan analyzes every matching file under the root, re-checks records whose
// file was present, and waits for the results. Work goes through the same
// single-flight group as settles, so a Scan next to a started watcher or
// another Scan never decodes a path twice at once. Cancelling ctx stops the
// wait; analyses already scheduled still finish or are drained by Close.
func (w *ComponentWatcher) Scan(ctx context.Context) error {
	files, err := w.matchingFiles()
	if err != nil {
		return errors.NewFileSystemError(w.source.Root(), err)
	}
	for _, rec := range w.registry.List() {
		if rec.FileExists {
			files = append(files, rec.Path)
		}
	}

	pending := make([]<-chan struct{}, 0, len(files))
	for _, f := range dedupe(files) {
		done, ok := w.flights.Submit(f, w.analyzePath)
		if !ok {
			return errors.ErrWatcherClosed()
		}
		pending = append(pending, done)
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the watcher: pending settles are cancelled, the event loop
// ends, running analyses get DrainTimeout to finish before their context
// is cancelled, and finally the bus is closed, which sends disconnecting
// to every subscriber.
func (w *ComponentWatcher) Close() error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	cancel, loopDone := w.cancel, w.loopDone
	w.mutex.Unlock()

	ctx := context.Background()
	w.debouncer.Stop()
	if cancel != nil {
		cancel()
	}
	err := w.source.Close()
	if loopDone != nil {
		<-loopDone
	}

	if !w.flights.Drain(w.opts.DrainTimeout) {
		w.logger.Warn(ctx, nil, "Analyses did not drain in time and were cancelled",
			"timeout", w.opts.DrainTimeout.String())
	}
	w.bus.Close()
	w.running.Store(false)
	w.logger.Info(ctx, "Watcher stopped")
	return err
}

func (w *ComponentWatcher) handleEvent(ev FileEvent) {
	if ev.Dir {
		// The directory vanished; settle every record that lived in it.
		prefix := ev.Path + string(filepath.Separator)
		for _, rec := range w.registry.List() {
			if strings.HasPrefix(rec.Path, prefix) {
				w.debouncer.Trigger(rec.Path)
			}
		}
		return
	}
	w.debouncer.Trigger(ev.Path)
}

// settle runs when a path has been quiet for the debounce window.
func (w *ComponentWatcher) settle(p string) {
	if !w.flights.Do(p, w.analyzePath) {
		w.logger.Debug(context.Background(), "Dropping settle after shutdown", "path", p)
	}
}

// analyzePath brings the record for the file at p up to date.
func (w *ComponentWatcher) analyzePath(ctx context.Context, p string) {
	rel, err := w.source.Rel(p)
	if err != nil {
		w.logger.Warn(ctx, err, "Ignoring path outside root", "path", p)
		return
	}
	name := LogicalName(rel)
	defer func() { w.metrics.RecordStates(w.registry.Stats()) }()

	info, err := os.Stat(p)
	switch {
	case err != nil && errors.Is(err, errors.ErrNotExist):
		w.markRemoved(ctx, name)
		return
	case err != nil:
		w.recordIOFailure(ctx, name, p, err)
		return
	case info.IsDir():
		return
	}

	if _, err := w.registry.MarkDiscovered(name, p, w.now()); err != nil {
		w.logger.Error(ctx, err, "Failed to mark component discovered", "name", name)
		return
	}

	data, err := w.decoder.ReadFile(p)
	if err != nil {
		if errors.Is(err, errors.ErrNotExist) {
			w.markRemoved(ctx, name)
			return
		}
		w.recordIOFailure(ctx, name, p, err)
		return
	}
	fileHash := fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))

	w.metrics.AnalysisStarted()
	start := time.Now()
	graph, err := w.decoder.Analyze(ctx, data)
	w.metrics.AnalysisFinished(string(analyzer.KindOf(err)), time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown cancelled the decode; the file is not at fault. A
			// first sighting that never finished was never announced.
			w.registry.DiscardPending(name)
			return
		}
		failure := types.AnalysisError{
			Kind:    string(analyzer.KindOf(err)),
			Message: err.Error(),
			At:      w.now(),
		}
		kind, rec, err := w.registry.MarkFailed(name, p, failure, fileHash, w.now())
		if err != nil {
			w.logger.Error(ctx, err, "Failed to record analysis failure", "name", name)
			return
		}
		w.logger.Warn(ctx, nil, "Analysis failed", "name", name, "kind", failure.Kind, "message", failure.Message)
		w.publish(kind, name, rec)
		return
	}

	kind, rec, err := w.registry.MarkAnalyzed(name, registry.Analysis{
		Path:          p,
		Description:   describe(name, graph),
		Interfaces:    graph.Interfaces,
		Dependencies:  graph.Dependencies,
		Metadata:      metadata(graph, int64(len(data)), fileHash),
		WIT:           graph.WIT,
		FileHash:      fileHash,
		ContentDigest: graph.Digest(),
		Size:          int64(len(data)),
		SeenAt:        w.now(),
	})
	if err != nil {
		w.logger.Error(ctx, err, "Failed to store analysis", "name", name)
		return
	}
	if kind != "" {
		imports, exports := graph.Counts()
		w.logger.Debug(ctx, "Component analyzed",
			"name", name, "change", string(kind), "imports", imports, "exports", exports)
	}
	w.publish(kind, name, rec)
}

func (w *ComponentWatcher) markRemoved(ctx context.Context, name string) {
	kind, rec, err := w.registry.MarkStale(name, w.now())
	if err != nil {
		w.logger.Error(ctx, err, "Failed to mark component stale", "name", name)
		return
	}
	if kind != "" {
		w.logger.Debug(ctx, "Component removed", "name", name)
	}
	w.publish(kind, name, rec)
}

func (w *ComponentWatcher) recordIOFailure(ctx context.Context, name, p string, cause error) {
	ioErr := errors.NewFileSystemError(p, cause)
	w.logger.Warn(ctx, ioErr, "Cannot read component", "name", name)
	failure := types.AnalysisError{
		Kind:    string(errors.ErrorTypeFileSystem),
		Message: errors.ExtractCause(ioErr).Error(),
		At:      w.now(),
	}
	kind, rec, err := w.registry.MarkFailed(name, p, failure, "", w.now())
	if err != nil {
		w.logger.Error(ctx, err, "Failed to record I/O failure", "name", name)
		return
	}
	w.publish(kind, name, rec)
}

func (w *ComponentWatcher) publish(kind types.ChangeKind, name string, rec *types.ComponentRecord) {
	if kind == "" {
		return
	}
	w.bus.Publish(types.ChangeEvent{
		Kind:      kind,
		Name:      name,
		Record:    rec,
		Timestamp: w.now(),
	})
}

// matchingFiles lists the files under the root accepted by the filter
// without adding any watches.
func (w *ComponentWatcher) matchingFiles() ([]string, error) {
	root := w.source.Root()
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		rel, relErr := w.source.Rel(p)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if w.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.filter.Match(rel) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// describe builds a one-line human description of a decoded binary.
func describe(name string, g *analyzer.InterfaceGraph) string {
	// Casers are stateful; one per call.
	titleCaser := cases.Title(language.English)
	words := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(path.Base(name))
	imports, exports := g.Counts()
	desc := fmt.Sprintf("%s %s with %d import(s) and %d export(s)",
		titleCaser.String(words), g.Kind, imports, exports)
	for _, p := range g.Producers {
		if p.Field == "language" {
			desc += ", written in " + titleCaser.String(p.Name)
			break
		}
	}
	return desc
}

// metadata flattens producers, custom sections and file facts.
func metadata(g *analyzer.InterfaceGraph, size int64, fileHash string) map[string]string {
	md := map[string]string{
		"kind":      string(g.Kind),
		"size":      strconv.FormatInt(size, 10),
		"file_hash": fileHash,
	}
	fields := map[string][]string{}
	var order []string
	for _, p := range g.Producers {
		if _, ok := fields[p.Field]; !ok {
			order = append(order, p.Field)
		}
		entry := p.Name
		if p.Version != "" {
			entry += " " + p.Version
		}
		fields[p.Field] = append(fields[p.Field], entry)
	}
	for _, f := range order {
		md["producers."+f] = strings.Join(fields[f], ", ")
	}
	if len(g.CustomSections) > 0 {
		md["custom_sections"] = strings.Join(g.CustomSections, ", ")
	}
	return md
}
