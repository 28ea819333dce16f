package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/defistate/defistate-clmm-go/differ"
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/events"
)

// Message types carried by the state stream.
const (
	MessageFull  = "full"
	MessageDiff  = "diff"
	MessageEvent = "event"
)

// Message is the envelope sent to stream subscribers.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	SentAt  int64  `json:"sentAt"`
}

// StateSource produces consistent snapshots and announces every change on its bus.
type StateSource interface {
	Snapshot() *engine.State
	Bus() *events.Bus
}

// StateDiffer computes the delta between two snapshots.
type StateDiffer interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

type StreamerConfig struct {
	Source StateSource
	Differ StateDiffer
	Logger Logger
	// Interval bounds how often diffs are published. Changes within one interval are
	// folded into a single diff.
	Interval time.Duration
	// Buffer is the per-subscriber queue length. A subscriber that falls this far
	// behind on diffs has its queue replaced by a fresh full state; events that do not
	// fit are dropped.
	Buffer int
}

func (c *StreamerConfig) validate() error {
	if c.Source == nil {
		return errors.New("config: Source cannot be nil")
	}
	if c.Differ == nil {
		return errors.New("config: Differ cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Interval <= 0 {
		return errors.New("config: Interval must be positive")
	}
	if c.Buffer < 1 {
		return errors.New("config: Buffer must be greater than 0")
	}
	return nil
}

// Streamer turns exchange events into a state stream: one full state per new
// subscriber, followed by diffs and the raw events.
type Streamer struct {
	source   StateSource
	differ   StateDiffer
	logger   Logger
	interval time.Duration
	buffer   int

	events      <-chan events.Event
	unsubscribe func()

	mu     sync.RWMutex
	last   *engine.State
	subs   map[uint64]chan Message
	nextID uint64
}

func NewStreamer(cfg StreamerConfig) (*Streamer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	// subscribe before the first snapshot so no change is missed between the two
	evCh, unsubscribe := cfg.Source.Bus().Subscribe(cfg.Buffer)
	return &Streamer{
		source:      cfg.Source,
		differ:      cfg.Differ,
		logger:      cfg.Logger,
		interval:    cfg.Interval,
		buffer:      cfg.Buffer,
		events:      evCh,
		unsubscribe: unsubscribe,
		last:        cfg.Source.Snapshot(),
		subs:        make(map[uint64]chan Message),
	}, nil
}

// Run forwards events and publishes diffs until ctx is cancelled. It must be called once.
func (s *Streamer) Run(ctx context.Context) error {
	defer s.unsubscribe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				s.closeAll()
				return errors.New("streamer: event bus closed")
			}
			dirty = true
			s.broadcast(Message{Type: MessageEvent, Payload: ev, SentAt: time.Now().UnixNano()})
		case <-ticker.C:
			if !dirty {
				continue
			}
			if err := s.publishDiff(); err != nil {
				s.logger.Error("failed to publish diff", "error", err)
				continue
			}
			dirty = false
		}
	}
}

// Flush publishes a diff for any pending changes immediately.
func (s *Streamer) Flush() error {
	return s.publishDiff()
}

func (s *Streamer) publishDiff() error {
	next := s.source.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if next.Sequence == s.last.Sequence {
		return nil
	}
	diff, err := s.differ.Diff(s.last, next)
	if err != nil {
		return err
	}
	s.last = next
	s.broadcastLocked(Message{Type: MessageDiff, Payload: diff, SentAt: time.Now().UnixNano()})
	s.logger.Debug("diff published", "from", diff.FromSequence, "to", diff.ToSequence, "subscribers", len(s.subs))
	return nil
}

// Subscribe registers a subscriber. The first message on the channel is the full
// state the following diffs apply to. The returned function unsubscribes; it is safe
// to call more than once.
func (s *Streamer) Subscribe() (<-chan Message, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	ch := make(chan Message, s.buffer)
	ch <- Message{Type: MessageFull, Payload: s.last, SentAt: time.Now().UnixNano()}
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dropLocked(id)
	}
}

// Latest returns the last published state.
func (s *Streamer) Latest() *engine.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Streamer) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(msg)
}

// broadcastLocked MUST be called with mu held.
func (s *Streamer) broadcastLocked(msg Message) {
	for id, ch := range s.subs {
		select {
		case ch <- msg:
		default:
			if msg.Type == MessageEvent {
				s.logger.Warn("dropping event for slow subscriber", "subscriber", id)
				continue
			}
			s.logger.Warn("resyncing slow subscriber", "subscriber", id, "sequence", s.last.Sequence)
			s.resyncLocked(ch)
		}
	}
}

// resyncLocked discards whatever the subscriber has not read yet and queues the
// latest full state in its place.
func (s *Streamer) resyncLocked(ch chan Message) {
drain:
	for {
		select {
		case <-ch:
		default:
			break drain
		}
	}
	ch <- Message{Type: MessageFull, Payload: s.last, SentAt: time.Now().UnixNano()}
}

func (s *Streamer) dropLocked(id uint64) {
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Streamer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.subs {
		s.dropLocked(id)
	}
}
