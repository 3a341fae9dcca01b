package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is one subscriber's ordered stream of messages.
type Subscription struct {
	id  string
	bus *Bus

	mu        sync.Mutex
	queue     []Message
	capacity  int
	pending   int // change messages in queue
	gapQueued bool
	dropped   int
	closed    bool

	signal chan struct{}
	out    chan Message
	done   chan struct{}
	once   sync.Once
}

func newSubscription(b *Bus, capacity int) *Subscription {
	s := &Subscription{
		id:       uuid.NewString(),
		bus:      b,
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		out:      make(chan Message),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// C returns the message stream. It is closed after disconnecting has been
// delivered, or when the subscription is cancelled.
func (s *Subscription) C() <-chan Message { return s.out }

// Dropped returns how many events this subscriber has lost to overflow.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next waits for the next message. ok is false when the stream has ended.
func (s *Subscription) Next(ctx context.Context) (msg Message, ok bool, err error) {
	select {
	case msg, ok = <-s.out:
		return msg, ok, nil
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	}
}

// Close unsubscribes from the bus.
func (s *Subscription) Close() {
	if s.bus != nil {
		s.bus.Unsubscribe(s)
		return
	}
	s.cancel()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// enqueue appends a change message, dropping the oldest pending change when
// the queue is full. It reports whether an event was dropped.
func (s *Subscription) enqueue(msg Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	dropped := false
	if s.pending >= s.capacity {
		for i, m := range s.queue {
			if m.Type != MessageChange {
				continue
			}
			s.dropped++
			dropped = true
			if s.gapQueued {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.bumpGap()
			} else {
				s.queue[i] = Message{Type: MessageGap, Dropped: 1, Timestamp: time.Now()}
				s.gapQueued = true
			}
			s.pending--
			break
		}
	}
	s.queue = append(s.queue, msg)
	s.pending++
	s.mu.Unlock()

	s.wake()
	return dropped
}

// bumpGap counts one more dropped event on the queued gap marker.
func (s *Subscription) bumpGap() {
	for i := range s.queue {
		if s.queue[i].Type == MessageGap {
			s.queue[i].Dropped++
			return
		}
	}
}

// enqueueControl appends a message that is never dropped.
func (s *Subscription) enqueueControl(msg Message) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, msg)
	}
	s.mu.Unlock()
	s.wake()
}

// shutdown queues disconnecting and ends the stream after it is delivered.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, Message{Type: MessageDisconnecting, Timestamp: time.Now()})
		s.closed = true
	}
	s.mu.Unlock()
	s.wake()
}

// cancel ends the stream immediately, discarding anything queued.
func (s *Subscription) cancel() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) pop() (Message, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false, s.closed
	}
	msg := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	switch msg.Type {
	case MessageChange:
		s.pending--
	case MessageGap:
		s.gapQueued = false
	}
	return msg, true, false
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		msg, ok, finished := s.pop()
		if finished {
			return
		}
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}
