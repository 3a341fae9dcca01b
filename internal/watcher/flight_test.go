package watcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlightGroupSubmitWaitsForRerun(t *testing.T) {
	g := newFlightGroup(2)
	defer g.Drain(time.Second)

	var runs atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	fn := func(ctx context.Context, key string) {
		runs.Add(1)
		entered <- struct{}{}
		<-release
	}

	first, ok := g.Submit("a", fn)
	require.True(t, ok)
	<-entered

	second, ok := g.Submit("a", fn)
	require.True(t, ok)
	assert.Equal(t, first, second, "a running key shares its completion")

	close(release)
	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("submit never completed")
	}
	assert.Equal(t, int32(2), runs.Load(), "the second submit reran the job")
	assert.Equal(t, 0, g.InFlight())
}

func TestFlightGroupRefusesAfterDrain(t *testing.T) {
	g := newFlightGroup(1)
	require.True(t, g.Drain(time.Second))

	done, ok := g.Submit("a", func(context.Context, string) {})
	assert.False(t, ok)
	assert.Nil(t, done)
	assert.False(t, g.Do("a", func(context.Context, string) {}))
}
