package watcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// flight is the state of one key's work.
type flight struct {
	started bool
	rerun   bool
	// done is closed once the key has no scheduled or running work left.
	done chan struct{}
}

// flightGroup runs at most one job per key and at most n jobs overall. A
// job requested while the same key is running is run again once, right
// after the current run finishes.
type flightGroup struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mutex  sync.Mutex
	calls  map[string]*flight
	closed bool
	wg     sync.WaitGroup
}

func newFlightGroup(n int) *flightGroup {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &flightGroup{
		sem:    semaphore.NewWeighted(int64(n)),
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[string]*flight),
	}
}

// Do schedules fn for key and reports whether it was accepted.
func (g *flightGroup) Do(key string, fn func(ctx context.Context, key string)) bool {
	_, ok := g.Submit(key, fn)
	return ok
}

// Submit is Do returning a channel that is closed when the key's work,
// including a run requested by this call, has finished.
func (g *flightGroup) Submit(key string, fn func(ctx context.Context, key string)) (<-chan struct{}, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.closed {
		return nil, false
	}
	if c, ok := g.calls[key]; ok {
		// A run still waiting for a slot will see the latest file anyway.
		if c.started {
			c.rerun = true
		}
		return c.done, true
	}

	c := &flight{done: make(chan struct{})}
	g.calls[key] = c
	g.wg.Add(1)
	go g.run(key, c, fn)
	return c.done, true
}

func (g *flightGroup) run(key string, c *flight, fn func(ctx context.Context, key string)) {
	defer g.wg.Done()
	for {
		if err := g.sem.Acquire(g.ctx, 1); err != nil {
			g.mutex.Lock()
			delete(g.calls, key)
			close(c.done)
			g.mutex.Unlock()
			return
		}
		g.mutex.Lock()
		c.started = true
		c.rerun = false
		g.mutex.Unlock()

		fn(g.ctx, key)
		g.sem.Release(1)

		g.mutex.Lock()
		if c.rerun && g.ctx.Err() == nil {
			g.mutex.Unlock()
			continue
		}
		delete(g.calls, key)
		close(c.done)
		g.mutex.Unlock()
		return
	}
}

// InFlight returns the number of keys with scheduled or running work.
func (g *flightGroup) InFlight() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.calls)
}

// Drain refuses new work and waits for running jobs. After timeout the
// jobs' context is cancelled and Drain waits for them to return. It
// reports whether everything finished before the timeout.
func (g *flightGroup) Drain(timeout time.Duration) bool {
	g.mutex.Lock()
	g.closed = true
	g.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	defer g.cancel()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		g.cancel()
		<-done
		return false
	}
}
