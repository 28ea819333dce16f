package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// RecorderConfig tunes batching and retries.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Buffer        int
}

func (c *RecorderConfig) withDefaults() RecorderConfig {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = time.Second
	}
	if out.Buffer <= 0 {
		out.Buffer = 1024
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 100 * time.Millisecond
	}
	return out
}

// Recorder drains a bus subscription into sinks in batches. A batch is flushed
// when it is full, when the flush interval elapses, and on shutdown.
type Recorder struct {
	cfg    RecorderConfig
	events <-chan Event
	cancel func()
	sinks  []Sink
	logger Logger

	last   uint64
	missed atomic.Uint64
}

// NewRecorder subscribes to the bus immediately so no event published after this
// call is missed.
func NewRecorder(bus *Bus, cfg RecorderConfig, logger Logger, sinks ...Sink) *Recorder {
	cfg = cfg.withDefaults()
	ch, cancel := bus.Subscribe(cfg.Buffer)
	return &Recorder{
		cfg:    cfg,
		events: ch,
		cancel: cancel,
		sinks:  sinks,
		logger: logger,
	}
}

// Run records until ctx is cancelled, then flushes what it holds and returns.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.cancel()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		r.write(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// drain with a fresh deadline so the final batch is not lost to the cancelled context
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		drain:
			for {
				select {
				case e, ok := <-r.events:
					if !ok {
						break drain
					}
					r.observe(e)
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flush(shutdownCtx)
			cancel()
			return nil
		case e, ok := <-r.events:
			if !ok {
				flush(ctx)
				return errors.New("event subscription closed")
			}
			r.observe(e)
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Missed returns how many sequence numbers never reached the recorder because the
// bus dropped them.
func (r *Recorder) Missed() uint64 {
	return r.missed.Load()
}

// observe checks that e directly follows the previous event. The bus drops events
// for a subscriber that falls behind, so a gap means the sinks will never see them.
func (r *Recorder) observe(e Event) {
	if r.last != 0 && e.Sequence > r.last+1 {
		missing := e.Sequence - r.last - 1
		r.missed.Add(missing)
		r.logger.Warn("event sequence gap",
			"after", r.last,
			"next", e.Sequence,
			"missing", missing,
		)
	}
	r.last = e.Sequence
}

func (r *Recorder) write(ctx context.Context, batch []Event) {
	for _, sink := range r.sinks {
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryDelay, func(ctx context.Context) error {
			return sink.Write(ctx, batch)
		})
		if err != nil {
			r.logger.Error("failed to record events",
				"error", err,
				"first", batch[0].Sequence,
				"last", batch[len(batch)-1].Sequence,
			)
		}
	}
}
