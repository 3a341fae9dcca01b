package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/testutils"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestPathFilter(t *testing.T) {
	filter, err := NewPathFilter(nil, []string{"target/**", "**/*.test.wasm"})
	require.NoError(t, err)

	testCases := []struct {
		rel      string
		expected bool
	}{
		{"a.wasm", true},
		{"components/a.wasm", true},
		{"components/nested/deep/a.wasm", true},
		{"components/a.wat", false},
		{"components/a.wasm.tmp", false},
		{"target/a.wasm", false},
		{"components/a.test.wasm", false},
	}
	for _, tc := range testCases {
		t.Run(tc.rel, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter.Match(tc.rel))
		})
	}

	assert.True(t, filter.SkipDir("target"))
	assert.True(t, filter.SkipDir("target/debug"))
	assert.False(t, filter.SkipDir("components"))
	assert.False(t, filter.SkipDir("."))
}

func TestPathFilterCustomPatterns(t *testing.T) {
	filter, err := NewPathFilter([]string{"dist/*.wasm"}, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("dist/app.wasm"))
	assert.False(t, filter.Match("dist/sub/app.wasm"))
	assert.False(t, filter.Match("app.wasm"))
}

func TestPathFilterRejectsInvalidPattern(t *testing.T) {
	_, err := NewPathFilter([]string{"[unclosed"}, nil)
	assert.Error(t, err)

	_, err = NewPathFilter(nil, []string{"{a,b"})
	assert.Error(t, err)
}

func TestLogicalName(t *testing.T) {
	assert.Equal(t, "components/geometry", LogicalName("components/geometry.wasm"))
	assert.Equal(t, "app", LogicalName("./app.wasm"))
	assert.Equal(t, "a/b", LogicalName("a\\b.wasm"))
	assert.Equal(t, "weird.wasm.bin", LogicalName("weird.wasm.bin"))
}

func TestFileWatcherRejectsBadRoot(t *testing.T) {
	filter, err := NewPathFilter(nil, nil)
	require.NoError(t, err)

	_, err = NewFileWatcher(filepath.Join(t.TempDir(), "missing"), filter, nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewFileWatcher(file, filter, nil)
	assert.Error(t, err)
}

func TestAddRecursive(t *testing.T) {
	root := testutils.CreateTempProject(t)
	testutils.WriteComponent(t, root, "components/a.wasm", testutils.GreeterComponent("a"))
	testutils.WriteComponent(t, root, "components/nested/b.wasm", testutils.GreeterComponent("b"))
	testutils.WriteComponent(t, root, "target/c.wasm", testutils.GreeterComponent("c"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "components", "notes.txt"), []byte("x"), 0o644))

	filter, err := NewPathFilter(nil, []string{"target/**"})
	require.NoError(t, err)
	fw, err := NewFileWatcher(root, filter, nil)
	require.NoError(t, err)
	defer fw.Close()

	files, err := fw.AddRecursive(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(fw.Root(), "components", "a.wasm"),
		filepath.Join(fw.Root(), "components", "nested", "b.wasm"),
	}, files)
	// root, components and components/nested; target is skipped
	assert.Equal(t, 3, fw.WatchedDirs())
}

func TestFileWatcherRel(t *testing.T) {
	root := t.TempDir()
	filter, err := NewPathFilter(nil, nil)
	require.NoError(t, err)
	fw, err := NewFileWatcher(root, filter, nil)
	require.NoError(t, err)
	defer fw.Close()

	rel, err := fw.Rel(filepath.Join(fw.Root(), "a", "b.wasm"))
	require.NoError(t, err)
	assert.Equal(t, "a/b.wasm", rel)

	_, err = fw.Rel(filepath.Join(fw.Root(), "..", "escape.wasm"))
	assert.Error(t, err)
	_, err = fw.Rel(filepath.Join(filepath.Dir(fw.Root()), "sibling", "x.wasm"))
	assert.Error(t, err)
}

func TestFileWatcherRunReportsEvents(t *testing.T) {
	root := testutils.CreateTempProject(t)
	filter, err := NewPathFilter(nil, nil)
	require.NoError(t, err)
	fw, err := NewFileWatcher(root, filter, nil)
	require.NoError(t, err)
	_, err = fw.AddRecursive(fw.Root())
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fw.Run(ctx, func(ev FileEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
	}()

	testutils.WriteComponent(t, root, "components/a.wasm", testutils.GreeterComponent("a"))
	// Files written into a brand new directory are reported as well.
	testutils.WriteComponent(t, root, "fresh/dir/b.wasm", testutils.GreeterComponent("b"))

	seen := func(rel string) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Rel == rel && !ev.Dir {
				return true
			}
		}
		return false
	}
	testutils.WaitFor(t, 2*time.Second, func() bool { return seen("components/a.wasm") })
	testutils.WaitFor(t, 2*time.Second, func() bool { return seen("fresh/dir/b.wasm") })

	cancel()
	<-done
	require.NoError(t, fw.Close())

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range events {
		assert.NotContains(t, ev.Rel, ".tmp", "temporary files are filtered out")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	d := NewDebouncer(40*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger("a")
		time.Sleep(5 * time.Millisecond)
	}
	d.Trigger("b")
	assert.Equal(t, 2, d.Pending())

	testutils.WaitFor(t, time.Second, func() bool { return d.Pending() == 0 })
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, fired)
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func(string) { fired.Add(1) })

	d.Trigger("a")
	d.Trigger("b")
	d.Stop()
	d.Trigger("c")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, d.Pending())
}

func TestFlightGroupBoundsConcurrency(t *testing.T) {
	g := newFlightGroup(2)
	var running, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		require.True(t, g.Do(key, func(ctx context.Context, key string) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.True(t, g.Drain(time.Second))
}

func TestFlightGroupRerunsOnce(t *testing.T) {
	g := newFlightGroup(1)
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32

	job := func(ctx context.Context, key string) {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
	}

	require.True(t, g.Do("k", job))
	<-started
	// Three requests while running collapse into a single re-run.
	g.Do("k", job)
	g.Do("k", job)
	g.Do("k", job)
	close(release)

	testutils.WaitFor(t, time.Second, func() bool { return g.InFlight() == 0 })
	assert.Equal(t, int32(2), runs.Load())
}

func TestFlightGroupDrainCancelsAfterTimeout(t *testing.T) {
	g := newFlightGroup(1)
	started := make(chan struct{})
	var cancelled atomic.Bool

	g.Do("slow", func(ctx context.Context, key string) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started

	assert.False(t, g.Drain(30*time.Millisecond))
	assert.True(t, cancelled.Load())
	assert.False(t, g.Do("late", func(context.Context, string) {}), "no work after drain")
}
