// Package analyzer decodes WebAssembly binaries into interface graphs.
//
// Both core modules and components are understood. For components the
// decoder walks the type, import, export, alias, instance and canon
// sections, tracking the type, function, instance and component index
// spaces, and resolves every reference into a resolved type graph. Nested
// components are decoded recursively. For core modules the import and
// export sections are read, along with any embedded component-type custom
// section describing the world the module was built against.
//
// Decoding is bounded: inputs larger than Options.MaxSize are rejected up
// front, nesting deeper than Options.MaxDepth is rejected as malformed, and
// the wall-clock budget Options.Timeout is polled while decoding, flattening
// and rendering. Flattened output is capped as well. Every
// failure is a *DecodeError carrying an ErrorKind; nothing is silently
// coerced into a partial result.
package analyzer

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/conneroisu/wasmscope/internal/errors"
)

// Options bounds the resources spent on a single binary.
type Options struct {
	// MaxSize is the largest accepted input in bytes; zero disables the check.
	MaxSize int64
	// Timeout is the wall-clock budget per decode; zero disables it.
	Timeout time.Duration
	// MaxDepth caps nesting of components and type declarations.
	MaxDepth int
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxSize:  64 << 20,
		Timeout:  5 * time.Second,
		MaxDepth: 32,
	}
}

// Analyzer decodes binaries under fixed limits. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	opts Options
}

// New creates an Analyzer. A non-positive MaxDepth falls back to the default.
func New(opts Options) *Analyzer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultOptions().MaxDepth
	}
	return &Analyzer{opts: opts}
}

// Options returns the limits this analyzer enforces.
func (a *Analyzer) Options() Options { return a.opts }

// Analyze decodes data into an InterfaceGraph. The same bytes always yield
// an identical graph.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*InterfaceGraph, error) {
	if a.opts.MaxSize > 0 && int64(len(data)) > a.opts.MaxSize {
		return nil, newError(KindOversized, -1, "binary is %d bytes, limit is %d", len(data), a.opts.MaxSize)
	}
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	b := &budget{ctx: ctx, maxDepth: a.opts.MaxDepth}
	r := newReader(data, b)
	if err := r.tick(); err != nil {
		return nil, err
	}
	kind, err := preamble(r)
	if err != nil {
		return nil, err
	}

	d := &decoder{budget: b}
	var g *InterfaceGraph
	switch kind {
	case KindModule:
		res, err := d.module(r, 0)
		if err != nil {
			return nil, err
		}
		if g, err = graphFromModule(res, b); err != nil {
			return nil, err
		}
	default:
		res, err := d.componentBody(r, nil, 0)
		if err != nil {
			return nil, err
		}
		if g, err = graphFromComponent(res, b); err != nil {
			return nil, err
		}
	}
	wit, err := renderWIT(g.Kind, g.Interfaces, b)
	if err != nil {
		return nil, err
	}
	g.WIT = wit
	return g, nil
}

// ReadFile reads at most MaxSize+1 bytes from path, enough for Analyze to
// tell an oversized file apart without loading all of it.
func (a *Analyzer) ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError(path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if a.opts.MaxSize > 0 {
		src = io.LimitReader(f, a.opts.MaxSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.NewFileSystemError(path, err)
	}
	return data, nil
}

// AnalyzeFile reads and decodes the binary at path.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*InterfaceGraph, error) {
	data, err := a.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, data)
}
