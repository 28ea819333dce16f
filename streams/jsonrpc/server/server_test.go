package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/defistate-clmm-go/exchange"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/stateops"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	assetX   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetY   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000071e5")
)

type testEnv struct {
	exchange *exchange.Exchange
	streamer *Streamer
	server   *Server
	client   *rpc.Client
	receiver *exchange.AddressReceiver
}

func newTestEnv(t *testing.T, withAdmin bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	ex, authority, err := exchange.New(exchange.Config{Logger: logger, Registry: reg})
	require.NoError(t, err)
	ops, err := stateops.NewStateOps(logger, reg)
	require.NoError(t, err)

	streamer, err := NewStreamer(StreamerConfig{
		Source:   ex,
		Differ:   ops,
		Logger:   logger,
		Interval: time.Hour,
		Buffer:   64,
	})
	require.NoError(t, err)

	receiver := exchange.NewAddressReceiver(treasury)
	cfg := Config{
		Addr:   "127.0.0.1:0",
		Public: NewPublicAPI(ex, streamer, logger),
		Logger: logger,
	}
	if withAdmin {
		cfg.Admin = NewAdminAPI(ex, authority, receiver)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	client := rpc.DialInProc(srv.RPC())
	t.Cleanup(func() {
		client.Close()
		srv.RPC().Stop()
	})

	return &testEnv{exchange: ex, streamer: streamer, server: srv, client: client, receiver: receiver}
}

func (env *testEnv) seed(t *testing.T) (poolregistry.Pool, clmm.Position) {
	t.Helper()
	ctx := context.Background()

	var entry poolregistry.Pool
	require.NoError(t, env.client.CallContext(ctx, &entry, "clmm_createPool", exchange.CreatePoolParams{
		AssetX:       assetX,
		AssetY:       assetY,
		FeeRate:      3000,
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
	}))

	max := new(big.Int).Lsh(big.NewInt(1), 100)
	liquidity, _ := new(big.Int).SetString("1000000000000000000", 10)
	var added clmm.AddLiquidityResult
	require.NoError(t, env.client.CallContext(ctx, &added, "clmm_addLiquidity", exchange.AddLiquidityParams{
		PoolID: entry.ID,
		AddLiquidityParams: clmm.AddLiquidityParams{
			Owner:      alice,
			TickLower:  -600,
			TickUpper:  600,
			Liquidity:  liquidity,
			AmountXMax: max,
			AmountYMax: max,
		},
	}))
	return entry, added.Position
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
	_, err = NewServer(Config{Addr: ":0"})
	require.Error(t, err)
}

func TestPublicAPI(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	entry, position := env.seed(t)
	assert.Equal(t, uint64(1), entry.ID)
	assert.Equal(t, "1000000000000000000", position.Liquidity.String())

	t.Run("swap", func(t *testing.T) {
		var res clmm.SwapResult
		require.NoError(t, env.client.CallContext(ctx, &res, "clmm_swap", exchange.SwapParams{
			PoolID:   entry.ID,
			AmountIn: big.NewInt(1_000_000_000_000_000),
			XToY:     true,
		}))
		assert.Equal(t, "996006981039903", res.AmountOut.String())
		assert.Equal(t, int64(-20), res.Tick)
	})

	t.Run("pool views", func(t *testing.T) {
		var view clmm.PoolView
		require.NoError(t, env.client.CallContext(ctx, &view, "clmm_pool", entry.ID))
		assert.Equal(t, "79149250711305166342700278159", view.SqrtPriceX96.String())
		require.Len(t, view.Positions, 1)

		var views []clmm.PoolView
		require.NoError(t, env.client.CallContext(ctx, &views, "clmm_pools"))
		assert.Len(t, views, 1)
	})

	t.Run("pending fees", func(t *testing.T) {
		var fees PendingFees
		require.NoError(t, env.client.CallContext(ctx, &fees, "clmm_pendingFees", entry.ID, alice, position.ID))
		assert.Equal(t, "2399999999999", fees.AmountX.String())
	})

	t.Run("registry lookups", func(t *testing.T) {
		var found poolregistry.Pool
		require.NoError(t, env.client.CallContext(ctx, &found, "clmm_lookupPool", assetY, assetX, uint32(3000)))
		assert.Equal(t, entry, found)

		var ids []uint64
		require.NoError(t, env.client.CallContext(ctx, &ids, "clmm_poolsForAsset", assetX))
		assert.Equal(t, []uint64{1}, ids)

		err := env.client.CallContext(ctx, &found, "clmm_lookupPool", assetX, assetY, uint32(500))
		require.Error(t, err)
	})

	t.Run("spot price", func(t *testing.T) {
		var price string
		require.NoError(t, env.client.CallContext(ctx, &price, "clmm_spotPrice", entry.ID))
		assert.Contains(t, price, "0.998")
	})

	t.Run("errors surface to the caller", func(t *testing.T) {
		var res clmm.SwapResult
		err := env.client.CallContext(ctx, &res, "clmm_swap", exchange.SwapParams{PoolID: 9, AmountIn: big.NewInt(1), XToY: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), exchange.ErrPoolNotFound.Error())
	})
}

func TestAdminAPI(t *testing.T) {
	ctx := context.Background()

	t.Run("not served unless enabled", func(t *testing.T) {
		env := newTestEnv(t, false)
		entry, _ := env.seed(t)
		var res exchange.SweepResult
		err := env.client.CallContext(ctx, &res, "admin_sweepPlatformFees", entry.ID)
		require.Error(t, err)
	})

	t.Run("sweeps to the configured receiver", func(t *testing.T) {
		env := newTestEnv(t, true)
		entry, _ := env.seed(t)

		var swap clmm.SwapResult
		require.NoError(t, env.client.CallContext(ctx, &swap, "clmm_swap", exchange.SwapParams{
			PoolID:   entry.ID,
			AmountIn: big.NewInt(1_000_000_000_000_000),
			XToY:     true,
		}))

		var res exchange.SweepResult
		require.NoError(t, env.client.CallContext(ctx, &res, "admin_sweepPlatformFees", entry.ID))
		assert.Equal(t, "600000000000", res.AmountX.String())
		assert.Equal(t, "600000000000", env.receiver.Total(assetX).String())
	})
}

func TestStateStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env := newTestEnv(t, false)
	entry, _ := env.seed(t)

	go func() { _ = env.streamer.Run(ctx) }()

	raw := make(chan json.RawMessage, 16)
	sub, err := env.client.Subscribe(ctx, RpcNamespace, raw, StateStreamSubscription)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// next returns the next message of the wanted type, skipping events forwarded
	// from before the subscription.
	next := func(want string) json.RawMessage {
		for {
			select {
			case msg := <-raw:
				var envelope struct {
					Type    string          `json:"type"`
					Payload json.RawMessage `json:"payload"`
				}
				require.NoError(t, json.Unmarshal(msg, &envelope))
				if envelope.Type == want {
					return envelope.Payload
				}
				require.Equal(t, MessageEvent, envelope.Type, "unexpected %s message", envelope.Type)
			case err := <-sub.Err():
				t.Fatalf("subscription failed: %v", err)
			case <-ctx.Done():
				t.Fatalf("timed out waiting for a %s message", want)
			}
		}
	}

	var full struct {
		Sequence uint64 `json:"sequence"`
	}
	require.NoError(t, json.Unmarshal(next(MessageFull), &full))
	assert.Equal(t, uint64(0), full.Sequence, "the streamer snapshot predates the seed")

	require.NoError(t, env.streamer.Flush())
	var diff struct {
		FromSequence uint64 `json:"fromSequence"`
		ToSequence   uint64 `json:"toSequence"`
	}
	require.NoError(t, json.Unmarshal(next(MessageDiff), &diff))
	assert.Equal(t, uint64(0), diff.FromSequence)
	assert.Equal(t, uint64(2), diff.ToSequence)

	_, err = env.exchange.Swap(ctx, exchange.SwapParams{PoolID: entry.ID, AmountIn: big.NewInt(1_000_000), XToY: false})
	require.NoError(t, err)

	var ev struct {
		Sequence uint64 `json:"sequence"`
		Type     string `json:"type"`
	}
	for ev.Sequence != 3 {
		require.NoError(t, json.Unmarshal(next(MessageEvent), &ev))
	}
	assert.Equal(t, "swap", ev.Type)
}
