package dispatch

import (
	"sync"

	"github.com/goliatone/go-publisher/core"
)

const defaultSubscriberBuffer = 64

// EventBroker fans task state transitions out to subscribers. Publishing
// never blocks a task: a subscriber that stops draining loses events
// rather than stalling the publish path.
type EventBroker struct {
	mu          sync.Mutex
	buffer      int
	closed      bool
	subscribers map[int]chan core.TaskEvent
	nextID      int
}

func NewEventBroker(buffer int) *EventBroker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &EventBroker{
		buffer:      buffer,
		subscribers: map[int]chan core.TaskEvent{},
	}
}

// Subscribe returns a receive channel and its cancel function. The
// channel closes on cancel or broker close.
func (b *EventBroker) Subscribe() (<-chan core.TaskEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		closed := make(chan core.TaskEvent)
		close(closed)
		return closed, func() {}
	}

	id := b.nextID
	b.nextID++
	channel := make(chan core.TaskEvent, b.buffer)
	b.subscribers[id] = channel

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subscriber, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(subscriber)
		}
	}
	return channel, cancel
}

func (b *EventBroker) Publish(event core.TaskEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, subscriber := range b.subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
}

func (b *EventBroker) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, subscriber := range b.subscribers {
		delete(b.subscribers, id)
		close(subscriber)
	}
}

var _ core.EventSink = (*EventBroker)(nil)
