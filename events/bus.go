package events

import (
	"sync"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bus fans committed events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is logged.
type Bus struct {
	mu       sync.RWMutex
	sequence uint64
	nextID   uint64
	subs     map[uint64]chan Event
	logger   Logger
}

// NewBus creates an empty bus.
func NewBus(logger Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]chan Event),
		logger: logger,
	}
}

// Publish stamps the event with the next sequence number and delivers it.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence++
	e.Sequence = b.sequence
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber", "subscriber", id, "sequence", e.Sequence, "type", e.Type)
		}
	}
	return e
}

// Sequence returns the sequence number of the last published event.
func (b *Bus) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// Subscribe registers a subscriber with the given buffer. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}
