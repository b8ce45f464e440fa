package streambus

import (
	"sync"
)

// MinBuffer is the smallest per-subscriber buffer the bus accepts
const MinBuffer = 16

// finishedCap bounds the tombstone set of closed executions. Ids
// evicted from it behave like executions that never ran.
const finishedCap = 1024

// Bus fans lifecycle events out to per-execution subscribers. Events
// for one execution are delivered to every subscriber in emission
// order. Safe for concurrent use across executions.
type Bus struct {
	mu            sync.RWMutex
	bufferSize    int
	topics        map[string]*topic
	finished      map[string]bool
	finishedOrder []string
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	done bool
}

// New creates a bus. Buffer sizes below MinBuffer are raised to it.
func New(bufferSize int) *Bus {
	if bufferSize < MinBuffer {
		bufferSize = MinBuffer
	}
	return &Bus{
		bufferSize: bufferSize,
		topics:     make(map[string]*topic),
		finished:   make(map[string]bool),
	}
}

// Subscribe attaches a subscriber to an execution's event stream.
// Subscribing to a recently finished execution yields an immediately
// closed stream. Callers must Close the subscription when done.
func (b *Bus) Subscribe(executionID string) *Subscription {
	sub := newSubscription(executionID, b.bufferSize)

	b.mu.Lock()
	if b.finished[executionID] {
		b.mu.Unlock()
		sub.finish()
		return sub
	}
	t, ok := b.topics[executionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[executionID] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		sub.finish()
		return sub
	}
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.detach = func() { b.drop(executionID, sub) }
	return sub
}

// Publish delivers an event to every subscriber of its execution.
// Publishing to an execution nobody subscribed to is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	t, ok := b.topics[ev.ExecutionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	for sub := range t.subs {
		sub.push(ev)
	}
}

// CloseExecution seals an execution's stream: queued events still
// drain to subscribers, then their channels close. Publishing after
// close is a no-op, and later subscribers get a closed stream.
func (b *Bus) CloseExecution(executionID string) {
	b.mu.Lock()
	t, ok := b.topics[executionID]
	if ok {
		delete(b.topics, executionID)
	}
	if !b.finished[executionID] {
		b.finished[executionID] = true
		b.finishedOrder = append(b.finishedOrder, executionID)
		for len(b.finishedOrder) > finishedCap {
			delete(b.finished, b.finishedOrder[0])
			b.finishedOrder = b.finishedOrder[1:]
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.done = true
	subs := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// SubscriberCount reports the live subscribers for an execution
func (b *Bus) SubscriberCount(executionID string) int {
	b.mu.RLock()
	t, ok := b.topics[executionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Bus) drop(executionID string, sub *Subscription) {
	b.mu.RLock()
	t, ok := b.topics[executionID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

// Subscription is one subscriber's view of an execution stream. Events
// arrive on Events() in emission order; the channel closes when the
// execution finishes or the subscription is closed.
type Subscription struct {
	executionID string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	max    int
	closed bool

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
	detach    func()
}

func newSubscription(executionID string, max int) *Subscription {
	s := &Subscription{
		executionID: executionID,
		max:         max,
		out:         make(chan Event),
		done:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// ExecutionID returns the execution this subscription follows
func (s *Subscription) ExecutionID() string {
	return s.executionID
}

// Events returns the delivery channel
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close detaches the subscription and releases its pump. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
}

// push enqueues an event. When the buffer is full the oldest progress
// event gives way; when nothing is droppable and the incoming event is
// progress, the incoming event is discarded instead. Lifecycle events
// are never dropped, so a pathological subscriber can exceed max by
// the number of lifecycle events still owed to it.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.max {
		dropped := false
		for i := range s.queue {
			if s.queue[i].Droppable() {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && ev.Droppable() {
			s.mu.Unlock()
			return
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// finish marks the stream complete; queued events still drain
func (s *Subscription) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
