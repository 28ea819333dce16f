package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink persists batches of events.
type Sink interface {
	Write(ctx context.Context, batch []Event) error
}

// FileSink appends events to a JSON Lines file, one event per line.
type FileSink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return newFileSink(f), nil
}

func newFileSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w, enc: json.NewEncoder(w)}
}

func (s *FileSink) Write(ctx context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(e); err != nil {
			return fmt.Errorf("writing event %d: %w", e.Sequence, err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
