package server

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/defistate-clmm-go/differ"
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/exchange"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamer(t *testing.T, buffer int) (*exchange.Exchange, *Streamer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ex, _, err := exchange.New(exchange.Config{Logger: logger, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	ops, err := stateops.NewStateOps(logger, prometheus.NewRegistry())
	require.NoError(t, err)
	s, err := NewStreamer(StreamerConfig{Source: ex, Differ: ops, Logger: logger, Interval: time.Hour, Buffer: buffer})
	require.NoError(t, err)
	return ex, s
}

func createPool(t *testing.T, ex *exchange.Exchange, fee uint32) {
	t.Helper()
	_, err := ex.CreatePool(context.Background(), exchange.CreatePoolParams{
		AssetX:       assetX,
		AssetY:       assetY,
		FeeRate:      fee,
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
	})
	require.NoError(t, err)
}

func TestStreamerConfigValidation(t *testing.T) {
	_, err := NewStreamer(StreamerConfig{})
	require.Error(t, err)
}

func TestStreamerSubscribe(t *testing.T) {
	ex, s := newTestStreamer(t, 4)

	msgs, unsubscribe := s.Subscribe()
	first := <-msgs
	assert.Equal(t, MessageFull, first.Type)

	// nothing changed, nothing to publish
	require.NoError(t, s.Flush())
	assert.Empty(t, msgs)

	createPool(t, ex, 3000)
	require.NoError(t, s.Flush())
	msg := <-msgs
	require.Equal(t, MessageDiff, msg.Type)
	diff := msg.Payload.(*differ.StateDiff)
	assert.Equal(t, uint64(1), diff.ToSequence)
	assert.Equal(t, uint64(1), s.Latest().Sequence)

	// a late subscriber starts from the latest state
	late, unsubscribeLate := s.Subscribe()
	defer unsubscribeLate()
	assert.Equal(t, uint64(1), (<-late).Payload.(*engine.State).Sequence)

	unsubscribe()
	unsubscribe()
	_, open := <-msgs
	assert.False(t, open)
}

func TestStreamerResyncsSlowSubscribers(t *testing.T) {
	ex, s := newTestStreamer(t, 1)

	msgs, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// the buffer still holds the first full state, so the diff cannot be queued
	createPool(t, ex, 3000)
	require.NoError(t, s.Flush())

	msg := <-msgs
	require.Equal(t, MessageFull, msg.Type)
	assert.Equal(t, uint64(1), msg.Payload.(*engine.State).Sequence)

	// the subscriber stays connected
	createPool(t, ex, 500)
	require.NoError(t, s.Flush())
	msg = <-msgs
	require.Equal(t, MessageDiff, msg.Type)
	assert.Equal(t, uint64(1), msg.Payload.(*differ.StateDiff).FromSequence)
}

func TestStreamerRunStopsOnCancel(t *testing.T) {
	_, s := newTestStreamer(t, 4)
	msgs, _ := s.Subscribe()
	<-msgs

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("streamer did not stop")
	}
	_, open := <-msgs
	assert.False(t, open)
}
