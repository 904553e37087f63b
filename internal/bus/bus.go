// Package bus provides the process-wide event bus that binds the registry,
// the interceptor, the frame relay and the transports together.
//
// Events are a closed set of types identified by Kind. Consumers either
// Subscribe to a long-lived stream of selected kinds, or Handle a kind
// synchronously on the publisher's goroutine.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/heyglassy/flyspace/internal/domain"
)

// Kind identifies an event type.
type Kind string

const (
	KindStateChanged     Kind = "state_changed"
	KindFrameRelayed     Kind = "frame_relayed"
	KindTriggered        Kind = "triggered"
	KindRunSettled       Kind = "run_settled"
	KindReplayRequested  Kind = "replay_requested"
	KindAdvanceRequested Kind = "advance_requested"
)

// Event is implemented by every message carried on the bus.
type Event interface {
	Kind() Kind
}

// StateChanged is published after every registry mutation.
type StateChanged struct {
	Mutation domain.Mutation
	Snapshot domain.Snapshot
}

// FrameRelayed carries one acknowledged screencast frame.
type FrameRelayed struct {
	Frame domain.Frame
}

// Triggered is published when a script execution has been accepted.
type Triggered struct {
	File       string
	ExportName string
}

// RunSettled is published when a sandbox execution has finished either way.
type RunSettled struct {
	RunID  string
	Status domain.RunStatus
	Err    error
}

// ReplayRequested asks the suspended step to re-run with Prompt. The handler
// that accepts the command sends its outcome on Reply exactly once.
type ReplayRequested struct {
	Prompt string
	Reply  chan<- error
}

// AdvanceRequested asks the suspended step to finalize and resume the script.
// The handler that accepts the command sends its outcome on Reply exactly once.
type AdvanceRequested struct {
	Reply chan<- error
}

func (StateChanged) Kind() Kind     { return KindStateChanged }
func (FrameRelayed) Kind() Kind     { return KindFrameRelayed }
func (Triggered) Kind() Kind        { return KindTriggered }
func (RunSettled) Kind() Kind       { return KindRunSettled }
func (ReplayRequested) Kind() Kind  { return KindReplayRequested }
func (AdvanceRequested) Kind() Kind { return KindAdvanceRequested }

// HandlerFunc handles one event on the publisher's goroutine.
type HandlerFunc func(Event)

// DefaultBufferSize is the per-subscriber buffer used when none is given.
const DefaultBufferSize = 64

// Bus is an in-process publish/subscribe bus. It is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	handlers    map[Kind]map[uint64]HandlerFunc
	nextID      atomic.Uint64
	bufferSize  int
	dropped     atomic.Uint64
}

type subscription struct {
	kinds map[Kind]bool
	ch    chan Event
	mu    sync.Mutex
	done  bool
}

// New creates a bus whose subscribers buffer up to bufferSize events.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[uint64]*subscription),
		handlers:    make(map[Kind]map[uint64]HandlerFunc),
		bufferSize:  bufferSize,
	}
}

// Publish delivers ev to every handler and subscriber registered for its
// kind and returns the number of handlers that received it. It never blocks
// on a slow subscriber: when a subscriber's buffer is full its oldest
// buffered event is dropped to make room.
func (b *Bus) Publish(ev Event) int {
	kind := ev.Kind()

	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.handlers[kind]))
	for _, h := range b.handlers[kind] {
		handlers = append(handlers, h)
	}
	for _, sub := range b.subscribers {
		if sub.kinds[kind] {
			if sub.deliver(ev) {
				b.dropped.Add(1)
			}
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}

// Subscribe returns a stream of events of the given kinds. The channel is
// closed when ctx is cancelled. Events published before Subscribe returns are
// never delivered.
func (b *Bus) Subscribe(ctx context.Context, kinds ...Kind) <-chan Event {
	sub := &subscription{
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Event, b.bufferSize),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch
}

// Handle registers fn for events of kind. The returned function removes the
// registration.
func (b *Bus) Handle(kind Kind, fn HandlerFunc) (cancel func()) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]HandlerFunc)
	}
	b.handlers[kind][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[kind], id)
			b.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active stream subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many buffered events were discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// deliver enqueues ev, evicting the oldest buffered event when full. It
// reports whether an event was dropped.
func (s *subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}

	select {
	case s.ch <- ev:
		return false
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
	return true
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
}
