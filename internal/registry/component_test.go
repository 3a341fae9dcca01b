package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/testutils"
	"github.com/conneroisu/wasmscope/internal/types"
)

func analysis(digest string) Analysis {
	rec := testutils.SampleRecord("x")
	return Analysis{
		Path:          "/root/x.wasm",
		Description:   rec.Description,
		Interfaces:    rec.Interfaces,
		Dependencies:  rec.Dependencies,
		Metadata:      map[string]string{"kind": "component"},
		WIT:           "world root {\n}\n",
		FileHash:      "hash-" + digest,
		ContentDigest: digest,
		Size:          42,
		SeenAt:        time.Now(),
	}
}

func TestNewComponentRegistry(t *testing.T) {
	registry := NewComponentRegistry()

	assert.NotNil(t, registry)
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.List())
}

func TestComponentRegistry_UpsertAndGet(t *testing.T) {
	registry := NewComponentRegistry()
	rec := testutils.SampleRecord("calc")

	changed, err := registry.Upsert(rec)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := registry.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, rec.Interfaces, got.Interfaces)
	assert.Equal(t, 1, registry.Count())
}

func TestComponentRegistry_UpsertIsIdempotent(t *testing.T) {
	registry := NewComponentRegistry()
	rec := testutils.SampleRecord("calc")

	_, err := registry.Upsert(rec)
	require.NoError(t, err)

	again := testutils.SampleRecord("calc")
	again.LastSeen = time.Now().Add(time.Hour)
	changed, err := registry.Upsert(again)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := registry.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	again.Interfaces[0].Functions[0].Name = "get-environment"
	changed, err = registry.Upsert(again)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = registry.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "get-environment", got.Interfaces[0].Functions[0].Name)
}

func TestComponentRegistry_UpsertValidation(t *testing.T) {
	registry := NewComponentRegistry()

	_, err := registry.Upsert(nil)
	assert.Error(t, err)

	_, err = registry.Upsert(&types.ComponentRecord{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// A record must carry a state.
	_, err = registry.Upsert(&types.ComponentRecord{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition("x", "", ""))
	assert.Equal(t, 0, registry.Count())
}

func TestComponentRegistry_GetReturnsCopies(t *testing.T) {
	registry := NewComponentRegistry()
	_, err := registry.Upsert(testutils.SampleRecord("calc"))
	require.NoError(t, err)

	first, err := registry.Get("calc")
	require.NoError(t, err)
	first.Interfaces[0].Functions[0].Name = "mutated"
	first.Metadata["kind"] = "mutated"
	first.Dependencies[0] = "mutated"

	second, err := registry.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, "get-arguments", second.Interfaces[0].Functions[0].Name)
	assert.Equal(t, "component", second.Metadata["kind"])
	assert.Equal(t, "wasi:cli@0.2.0", second.Dependencies[0])
}

func TestComponentRegistry_GetMissing(t *testing.T) {
	registry := NewComponentRegistry()

	_, err := registry.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestComponentRegistry_ListOrdered(t *testing.T) {
	registry := NewComponentRegistry()
	for _, name := range []string{"zeta", "alpha", "nested/mid"} {
		_, err := registry.Upsert(testutils.SampleRecord(name))
		require.NoError(t, err)
	}

	var names []string
	for _, rec := range registry.List() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"alpha", "nested/mid", "zeta"}, names)
}

func TestComponentRegistry_Remove(t *testing.T) {
	registry := NewComponentRegistry()
	_, err := registry.Upsert(testutils.SampleRecord("calc"))
	require.NoError(t, err)

	require.NoError(t, registry.Remove("calc"))
	_, err = registry.Get("calc")
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, registry.Count())

	err = registry.Remove("calc")
	assert.True(t, errors.IsNotFound(err))
}

func TestComponentRegistry_UpdateNoopLeavesNoEntry(t *testing.T) {
	registry := NewComponentRegistry()

	rec, changed, err := registry.Update("ghost", func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		assert.Nil(t, cur)
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, rec)
	assert.Empty(t, registry.entries)
}

func TestComponentRegistry_InvalidTransition(t *testing.T) {
	registry := NewComponentRegistry()

	_, _, err := registry.Update("x", func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		return &types.ComponentRecord{State: types.StateStale}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRegistry))
	assert.Equal(t, 0, registry.Count())
}

func TestMarkAnalyzedLifecycle(t *testing.T) {
	registry := NewComponentRegistry()
	now := time.Now()

	rec, err := registry.MarkDiscovered("calc", "/root/calc.wasm", now)
	require.NoError(t, err)
	assert.Equal(t, types.StateDiscovered, rec.State)

	kind, rec, err := registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeAdded, kind)
	assert.Equal(t, types.StateAnalyzed, rec.State)
	assert.True(t, rec.FileExists)

	kind, _, err = registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind, "identical content must not be reported")

	kind, rec, err = registry.MarkAnalyzed("calc", analysis("d2"))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeModified, kind)
	assert.Equal(t, "d2", rec.ContentDigest)
}

func TestMarkAnalyzedSameDigestNewBytes(t *testing.T) {
	registry := NewComponentRegistry()
	_, _, err := registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)

	a := analysis("d1")
	a.FileHash = "other"
	kind, rec, err := registry.MarkAnalyzed("calc", a)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind)
	assert.Equal(t, "other", rec.FileHash)
	assert.Equal(t, uint64(2), rec.Version)
}

func TestMarkFailedKeepsInterfaces(t *testing.T) {
	registry := NewComponentRegistry()
	_, before, err := registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)

	failure := types.AnalysisError{Kind: "truncated_section", Message: "truncated_section at offset 8", At: time.Now()}
	kind, rec, err := registry.MarkFailed("calc", "/root/calc.wasm", failure, "h2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeAnalysisFailed, kind)
	assert.Equal(t, types.StateAnalysisFailed, rec.State)
	assert.Equal(t, before.Interfaces, rec.Interfaces)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "truncated_section", rec.Error.Kind)

	// Same error on the same bytes is reported once.
	failure.At = time.Now()
	kind, _, err = registry.MarkFailed("calc", "/root/calc.wasm", failure, "h2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind)

	// New bytes that fail the same way are reported again.
	kind, _, err = registry.MarkFailed("calc", "/root/calc.wasm", failure, "h3", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeAnalysisFailed, kind)

	kind, rec, err = registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeModified, kind, "recovering from failure is a modification")
	assert.Nil(t, rec.Error)
}

func TestMarkFailedNewRecord(t *testing.T) {
	registry := NewComponentRegistry()

	failure := types.AnalysisError{Kind: "invalid_magic", Message: "not wasm", At: time.Now()}
	kind, rec, err := registry.MarkFailed("junk", "/root/junk.wasm", failure, "h", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeAnalysisFailed, kind)
	assert.Empty(t, rec.Interfaces)
	assert.NotNil(t, rec.Interfaces)
}

func TestMarkStale(t *testing.T) {
	registry := NewComponentRegistry()
	now := time.Now()

	kind, _, err := registry.MarkStale("ghost", now)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind)
	assert.Equal(t, 0, registry.Count())

	_, _, err = registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)

	kind, rec, err := registry.MarkStale("calc", now)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeRemoved, kind)
	assert.Equal(t, types.StateStale, rec.State)
	assert.False(t, rec.FileExists)
	require.NotNil(t, rec.RemovedAt)
	assert.True(t, rec.RemovedAt.Equal(now))
	assert.NotEmpty(t, rec.Interfaces)

	kind, _, err = registry.MarkStale("calc", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind, "removal is reported once")

	// The file comes back.
	rec, err = registry.MarkDiscovered("calc", "/root/calc.wasm", now)
	require.NoError(t, err)
	assert.Equal(t, types.StateDiscovered, rec.State)
	assert.Nil(t, rec.RemovedAt)

	kind, _, err = registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)
	assert.Equal(t, types.ChangeAdded, kind)
}

func TestMarkStaleUnannounced(t *testing.T) {
	registry := NewComponentRegistry()
	_, err := registry.MarkDiscovered("calc", "/root/calc.wasm", time.Now())
	require.NoError(t, err)

	kind, rec, err := registry.MarkStale("calc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind)
	assert.Nil(t, rec)
	_, err = registry.Get("calc")
	assert.True(t, errors.IsNotFound(err), "an unannounced record leaves no tombstone")
	assert.Empty(t, registry.List())

	// A tombstone that was rediscovered but not yet analyzed goes too.
	_, _, err = registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)
	kind, _, err = registry.MarkStale("calc", time.Now())
	require.NoError(t, err)
	require.Equal(t, types.ChangeRemoved, kind)
	_, err = registry.MarkDiscovered("calc", "/root/calc.wasm", time.Now())
	require.NoError(t, err)
	kind, _, err = registry.MarkStale("calc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ChangeKind(""), kind)
	assert.Equal(t, 0, registry.Count())
}

func TestDiscardPending(t *testing.T) {
	registry := NewComponentRegistry()
	assert.False(t, registry.DiscardPending("ghost"))

	_, _, err := registry.MarkAnalyzed("live", analysis("d1"))
	require.NoError(t, err)
	assert.False(t, registry.DiscardPending("live"), "analyzed records are kept")

	_, err = registry.MarkDiscovered("new", "/root/new.wasm", time.Now())
	require.NoError(t, err)
	assert.True(t, registry.DiscardPending("new"))
	assert.Equal(t, 1, registry.Count())
}

func TestDiscoveredCannotGoStale(t *testing.T) {
	registry := NewComponentRegistry()
	_, err := registry.MarkDiscovered("calc", "/root/calc.wasm", time.Now())
	require.NoError(t, err)

	_, _, err = registry.Update("calc", func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		cur.State = types.StateStale
		return cur, nil
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeRegistry), "%v", err)
}

func TestMarkDiscoveredKeepsLiveRecord(t *testing.T) {
	registry := NewComponentRegistry()
	_, _, err := registry.MarkAnalyzed("calc", analysis("d1"))
	require.NoError(t, err)

	rec, err := registry.MarkDiscovered("calc", "/root/calc.wasm", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.StateAnalyzed, rec.State)
	assert.Equal(t, uint64(1), rec.Version)
}

func TestComponentRegistry_Stats(t *testing.T) {
	registry := NewComponentRegistry()
	_, _, _ = registry.MarkAnalyzed("a", analysis("d"))
	_, _, _ = registry.MarkAnalyzed("b", analysis("d"))
	_, _, _ = registry.MarkStale("b", time.Now())
	_, _ = registry.MarkDiscovered("c", "/c.wasm", time.Now())

	stats := registry.Stats()
	assert.Equal(t, 1, stats[types.StateAnalyzed])
	assert.Equal(t, 1, stats[types.StateStale])
	assert.Equal(t, 1, stats[types.StateDiscovered])
	assert.Equal(t, 0, stats[types.StateAnalysisFailed])
}

func TestComponentRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewComponentRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("component-%d", i%5)
			for j := 0; j < 50; j++ {
				_, _, err := registry.MarkAnalyzed(name, analysis(fmt.Sprintf("d%d", j%3)))
				assert.NoError(t, err)
				_, _ = registry.Get(name)
				_ = registry.List()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, registry.Count())
	for _, rec := range registry.List() {
		assert.Equal(t, types.StateAnalyzed, rec.State)
		assert.Greater(t, rec.Version, uint64(0))
	}
}

func TestComponentRegistry_SlowUpdateDoesNotBlockOthers(t *testing.T) {
	registry := NewComponentRegistry()
	_, err := registry.Upsert(testutils.SampleRecord("fast"))
	require.NoError(t, err)

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = registry.Update("slow", func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
			close(inside)
			<-release
			return nil, nil
		})
	}()
	<-inside

	got := make(chan error, 1)
	go func() {
		_, err := registry.Get("fast")
		got <- err
	}()
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read of an unrelated record waited on a slow update")
	}

	close(release)
	<-done
}
