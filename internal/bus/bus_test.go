package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/types"
)

func event(name string) types.ChangeEvent {
	return types.ChangeEvent{Kind: types.ChangeModified, Name: name, Timestamp: time.Now()}
}

func next(t *testing.T, s *Subscription) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok, "stream ended early")
	return msg
}

func drain(t *testing.T, s *Subscription) []Message {
	t.Helper()
	var out []Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatal("stream did not end")
		}
	}
}

func TestSubscribeStartsWithConnected(t *testing.T) {
	b := New(Options{})
	b.Publish(event("before"))

	s := b.Subscribe()
	b.Publish(event("after"))

	assert.Equal(t, MessageConnected, next(t, s).Type)
	msg := next(t, s)
	assert.Equal(t, MessageChange, msg.Type)
	assert.Equal(t, "after", msg.Event.Name)
	assert.NotEmpty(t, s.ID())
}

func TestPublishPreservesOrder(t *testing.T) {
	b := New(Options{QueueCapacity: 1000})
	s := b.Subscribe()
	for i := 0; i < 500; i++ {
		b.Publish(event(fmt.Sprintf("e%d", i)))
	}
	b.Close()

	msgs := drain(t, s)
	require.Len(t, msgs, 502)
	assert.Equal(t, MessageConnected, msgs[0].Type)
	for i := 0; i < 500; i++ {
		assert.Equal(t, fmt.Sprintf("e%d", i), msgs[i+1].Event.Name)
	}
	assert.Equal(t, MessageDisconnecting, msgs[501].Type)
}

func TestOverflowDropsOldestWithSingleGap(t *testing.T) {
	b := New(Options{QueueCapacity: 3})
	// Nobody reads until Close, so the pump stays parked on connected.
	s := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.Publish(event(fmt.Sprintf("e%d", i)))
	}
	b.Close()

	msgs := drain(t, s)
	require.NotEmpty(t, msgs)
	assert.Equal(t, MessageDisconnecting, msgs[len(msgs)-1].Type)

	gaps := 0
	dropped := 0
	var names []string
	for _, m := range msgs[:len(msgs)-1] {
		switch m.Type {
		case MessageGap:
			gaps++
			dropped += m.Dropped
		case MessageChange:
			names = append(names, m.Event.Name)
		}
	}
	assert.Equal(t, MessageConnected, msgs[0].Type)
	assert.Equal(t, 1, gaps, "consecutive drops collapse into one gap")
	assert.Equal(t, 10, len(names)+dropped)
	assert.Len(t, names, 3)
	assert.Equal(t, s.Dropped(), dropped)
	// The newest events always survive.
	assert.Equal(t, "e9", names[len(names)-1])
	assert.Equal(t, "e8", names[len(names)-2])
}

func TestGapAfterDeliveryStartsNewGap(t *testing.T) {
	b := New(Options{QueueCapacity: 1})
	s := b.Subscribe()
	_ = next(t, s)

	var seen []Message
	for round := 0; round < 2; round++ {
		for i := 0; i < 4; i++ {
			b.Publish(event(fmt.Sprintf("r%d-%d", round, i)))
		}
		// Read until this round's newest event.
		for {
			m := next(t, s)
			seen = append(seen, m)
			if m.Type == MessageChange && m.Event.Name == fmt.Sprintf("r%d-3", round) {
				break
			}
		}
	}

	gaps := 0
	for _, m := range seen {
		if m.Type == MessageGap {
			gaps++
		}
	}
	assert.Equal(t, 2, gaps)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(Options{QueueCapacity: 2})
	_ = b.Subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(event("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCloseSendsDisconnecting(t *testing.T) {
	b := New(Options{})
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(event("a"))
	b.Close()
	b.Publish(event("ignored"))
	b.Close()

	for _, s := range []*Subscription{s1, s2} {
		msgs := drain(t, s)
		require.Len(t, msgs, 3)
		assert.Equal(t, MessageConnected, msgs[0].Type)
		assert.Equal(t, "a", msgs[1].Event.Name)
		assert.Equal(t, MessageDisconnecting, msgs[2].Type)
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New(Options{})
	b.Close()

	msgs := drain(t, b.Subscribe())
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageConnected, msgs[0].Type)
	assert.Equal(t, MessageDisconnecting, msgs[1].Type)
}

func TestUnsubscribe(t *testing.T) {
	b := New(Options{})
	s := b.Subscribe()
	other := b.Subscribe()
	s.Close()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(event("a"))
	_ = drain(t, s)

	assert.Equal(t, MessageConnected, next(t, other).Type)
	assert.Equal(t, "a", next(t, other).Event.Name)
}

func TestNextHonoursContext(t *testing.T) {
	b := New(Options{})
	s := b.Subscribe()
	_ = next(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok, err := s.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingMetrics struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

func (m *countingMetrics) EventPublished(types.ChangeKind) { m.published.Add(1) }
func (m *countingMetrics) EventDropped()                   { m.dropped.Add(1) }
func (m *countingMetrics) SubscribersChanged(n int)        { m.subscribers.Store(int64(n)) }

func TestMetrics(t *testing.T) {
	m := &countingMetrics{}
	b := New(Options{QueueCapacity: 1, Metrics: m})
	_ = b.Subscribe()
	s := b.Subscribe()
	assert.Equal(t, int64(2), m.subscribers.Load())

	for i := 0; i < 5; i++ {
		b.Publish(event("x"))
	}
	assert.Equal(t, int64(5), m.published.Load())
	assert.Greater(t, m.dropped.Load(), int64(0))

	s.Close()
	assert.Equal(t, int64(1), m.subscribers.Load())
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New(Options{QueueCapacity: 16})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(event("x"))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Subscribe()
			for j := 0; j < 10; j++ {
				select {
				case <-s.C():
				case <-time.After(10 * time.Millisecond):
				}
			}
			s.Close()
		}()
	}
	wg.Wait()
	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRecentKeepsNewestEvents(t *testing.T) {
	b := New(Options{History: 3})
	assert.Empty(t, b.Recent(0))

	for i := 0; i < 5; i++ {
		b.Publish(event(fmt.Sprintf("c%d", i)))
	}
	names := func(evs []types.ChangeEvent) []string {
		out := make([]string, 0, len(evs))
		for _, ev := range evs {
			out = append(out, ev.Name)
		}
		return out
	}
	assert.Equal(t, []string{"c2", "c3", "c4"}, names(b.Recent(0)))
	assert.Equal(t, []string{"c3", "c4"}, names(b.Recent(2)))
	assert.Equal(t, []string{"c2", "c3", "c4"}, names(b.Recent(10)))
}

func TestRecentIsNotReplayed(t *testing.T) {
	b := New(Options{History: 8})
	b.Publish(event("before"))

	s := b.Subscribe()
	b.Publish(event("after"))

	assert.Equal(t, MessageConnected, next(t, s).Type)
	assert.Equal(t, "after", next(t, s).Event.Name)
	assert.Len(t, b.Recent(0), 2)
}

func TestRecentDisabled(t *testing.T) {
	b := New(Options{})
	b.Publish(event("x"))
	assert.NotNil(t, b.Recent(5))
	assert.Empty(t, b.Recent(5))
}
