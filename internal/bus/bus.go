// Package bus fans change events out to any number of subscribers.
//
// Publish never blocks: each subscriber owns a bounded queue, and when a
// slow subscriber falls behind its oldest pending event is dropped and a
// single gap marker takes its place until the subscriber reads past it.
// Events reach every subscriber in publish order.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/wasmscope/internal/logging"
	"github.com/conneroisu/wasmscope/internal/types"
)

// MessageType identifies a stream message.
type MessageType string

const (
	// MessageConnected is always the first message of a subscription.
	MessageConnected MessageType = "connected"
	// MessageChange carries a change event.
	MessageChange MessageType = "change"
	// MessageGap marks that events were dropped at this point.
	MessageGap MessageType = "gap"
	// MessageDisconnecting is the last message before the stream ends.
	MessageDisconnecting MessageType = "disconnecting"
)

// Message is one element of a subscription stream.
type Message struct {
	Type      MessageType        `json:"type"`
	Event     *types.ChangeEvent `json:"event,omitempty"`
	Dropped   int                `json:"dropped,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Metrics receives bus activity.
type Metrics interface {
	EventPublished(kind types.ChangeKind)
	EventDropped()
	SubscribersChanged(n int)
}

// NopMetrics discards all bus metrics.
type NopMetrics struct{}

func (NopMetrics) EventPublished(types.ChangeKind) {}
func (NopMetrics) EventDropped()                   {}
func (NopMetrics) SubscribersChanged(int)          {}

// Options configures a Bus.
type Options struct {
	// QueueCapacity bounds the pending change events per subscriber.
	QueueCapacity int
	// History is how many recent events Recent can return. Zero keeps none.
	History       int
	Logger        logging.Logger
	Metrics       Metrics
}

// DefaultQueueCapacity is used when Options.QueueCapacity is not positive.
const DefaultQueueCapacity = 256

// Bus is a non-blocking publish/subscribe hub for change events.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	closed   bool
	capacity int
	logger   logging.Logger
	metrics  Metrics
	recent   *history
}

// New creates a Bus.
func New(opts Options) *Bus {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	return &Bus{
		subs:     make(map[string]*Subscription),
		capacity: opts.QueueCapacity,
		logger:   opts.Logger.WithComponent("bus"),
		metrics:  opts.Metrics,
		recent:   newHistory(opts.History),
	}
}

// Subscribe registers a new subscriber. Its stream starts with a connected
// message followed by every event published after this call returns. On a
// closed bus the stream holds connected and disconnecting only.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := newSubscription(b, b.capacity)
	s.enqueueControl(Message{Type: MessageConnected, Timestamp: time.Now()})
	if b.closed {
		s.shutdown()
		return s
	}
	b.subs[s.id] = s
	b.metrics.SubscribersChanged(len(b.subs))
	return s
}

// Publish delivers event to every current subscriber without blocking.
func (b *Bus) Publish(event types.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.metrics.EventPublished(event.Kind)
	b.recent.add(event)
	msg := Message{Type: MessageChange, Event: &event, Timestamp: time.Now()}
	for _, s := range b.subs {
		if s.enqueue(msg) {
			b.metrics.EventDropped()
		}
	}
}

// Recent returns up to limit of the most recently published events, oldest
// first; limit <= 0 returns all that are kept. New subscribers are never
// sent these.
func (b *Bus) Recent(limit int) []types.ChangeEvent {
	return b.recent.last(limit)
}

// Unsubscribe removes s; its stream ends without a disconnecting message.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		b.metrics.SubscribersChanged(len(b.subs))
	}
	b.mu.Unlock()
	s.cancel()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close sends disconnecting to every subscriber and ends their streams once
// they have read everything queued. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for id, s := range b.subs {
		s.shutdown()
		delete(b.subs, id)
	}
	b.metrics.SubscribersChanged(0)
	b.logger.Debug(context.Background(), "Bus closed")
}
