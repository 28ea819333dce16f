package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/events"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	assetX = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetY = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	assetZ = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	q96 = new(big.Int).Lsh(big.NewInt(1), 96)
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer literal " + s)
	}
	return v
}

func viewJSON(t *testing.T, v clmm.PoolView) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

// testClock advances one second per reading.
func testClock() func() time.Time {
	var n atomic.Int64
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func newTestExchange(t *testing.T) (*Exchange, *AuthorityCap, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	ex, authority, err := New(Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: reg,
		Now:      testClock(),
	})
	require.NoError(t, err)
	return ex, authority, reg
}

// seededPool creates a 0.3% X/Y pool at tick 0 holding 1e18 liquidity over [-600, 600).
func seededPool(t *testing.T, ex *Exchange) (uint64, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	entry, err := ex.CreatePool(ctx, CreatePoolParams{
		AssetX:       assetX,
		AssetY:       assetY,
		FeeRate:      3000,
		SqrtPriceX96: q96,
	})
	require.NoError(t, err)

	res, err := ex.AddLiquidity(ctx, AddLiquidityParams{
		PoolID: entry.ID,
		AddLiquidityParams: clmm.AddLiquidityParams{
			Owner:      alice,
			TickLower:  -600,
			TickUpper:  600,
			Liquidity:  bi("1000000000000000000"),
			AmountXMax: bi("29553010879137170"),
			AmountYMax: bi("29553010879137170"),
		},
	})
	require.NoError(t, err)
	return entry.ID, res.Position.ID
}

type failingReceiver struct{}

func (failingReceiver) Name() string { return "failing" }
func (failingReceiver) ReceivePlatformFees(context.Context, uint64, common.Address, common.Address, *big.Int, *big.Int) error {
	return errors.New("receiver offline")
}

func TestNew(t *testing.T) {
	_, _, err := New(Config{Registry: prometheus.NewRegistry()})
	require.Error(t, err)

	_, _, err = New(Config{Logger: slog.Default()})
	require.Error(t, err)
}

func TestCreatePool(t *testing.T) {
	ctx := context.Background()

	t.Run("registers with default spacing", func(t *testing.T) {
		ex, _, _ := newTestExchange(t)
		entry, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 500, SqrtPriceX96: q96})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), entry.ID)
		assert.Equal(t, int64(10), entry.TickSpacing)
		assert.Equal(t, poolregistry.NewPoolKey(assetX, assetY, 500).Address(), entry.Address)

		view, err := ex.Pool(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), view.Tick)

		found, ok := ex.Registry().Lookup(assetY, assetX, 500)
		require.True(t, ok)
		assert.Equal(t, entry, found)
	})

	t.Run("rejects duplicates in either order", func(t *testing.T) {
		ex, _, _ := newTestExchange(t)
		_, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, SqrtPriceX96: q96})
		require.NoError(t, err)
		_, err = ex.CreatePool(ctx, CreatePoolParams{AssetX: assetY, AssetY: assetX, FeeRate: 3000, SqrtPriceX96: q96})
		require.ErrorIs(t, err, poolregistry.ErrPoolAlreadyExists)

		// a different tier of the same pair is a different pool
		_, err = ex.CreatePool(ctx, CreatePoolParams{AssetX: assetY, AssetY: assetX, FeeRate: 10000, SqrtPriceX96: q96})
		require.NoError(t, err)
	})

	t.Run("validation failures leave no trace", func(t *testing.T) {
		ex, _, _ := newTestExchange(t)
		testCases := []struct {
			name    string
			params  CreatePoolParams
			wantErr error
		}{
			{"unsupported fee", CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 2500, TickSpacing: 50, SqrtPriceX96: q96}, clmm.ErrUnsupportedFeeTier},
			{"identical assets", CreatePoolParams{AssetX: assetX, AssetY: assetX, FeeRate: 3000, SqrtPriceX96: q96}, clmm.ErrIdenticalAssets},
			{"spacing too wide", CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, TickSpacing: 16385, SqrtPriceX96: q96}, clmm.ErrInvalidTickSpacing},
			{"missing price", CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000}, clmm.ErrInvalidSqrtPrice},
			{"zero price", CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, SqrtPriceX96: new(big.Int)}, clmm.ErrInvalidSqrtPrice},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := ex.CreatePool(ctx, tc.params)
				require.ErrorIs(t, err, tc.wantErr)
			})
		}

		assert.Empty(t, ex.Registry().View().Pools)
		assert.Equal(t, uint64(0), ex.Bus().Sequence())

		entry, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, SqrtPriceX96: q96})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), entry.ID)
	})

	t.Run("honours a cancelled context", func(t *testing.T) {
		ex, _, _ := newTestExchange(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ex.CreatePool(cctx, CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, SqrtPriceX96: q96})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	ex, _, reg := newTestExchange(t)
	sub, unsubscribe := ex.Bus().Subscribe(16)
	defer unsubscribe()

	poolID, positionID := seededPool(t, ex)

	res, err := ex.Swap(ctx, SwapParams{PoolID: poolID, Trader: bob, AmountIn: bi("1000000000000000"), XToY: true})
	require.NoError(t, err)
	assert.Equal(t, "996006981039903", res.AmountOut.String())
	assert.Equal(t, int64(-20), res.Tick)

	claimed, err := ex.ClaimFees(ctx, ClaimFeesParams{PoolID: poolID, Owner: alice, PositionID: positionID})
	require.NoError(t, err)
	assert.Equal(t, "2399999999999", claimed.AmountX.String())
	assert.Equal(t, "0", claimed.AmountY.String())

	removed, err := ex.RemoveLiquidity(ctx, RemoveLiquidityParams{
		PoolID:     poolID,
		Owner:      alice,
		PositionID: positionID,
		Liquidity:  bi("1000000000000000000"),
	})
	require.NoError(t, err)
	assert.True(t, removed.Closed)

	wantTypes := []events.Type{
		events.TypePoolCreated,
		events.TypeLiquidityAdded,
		events.TypeSwap,
		events.TypeFeesClaimed,
		events.TypeLiquidityRemoved,
	}
	received := make([]events.Event, 0, len(wantTypes))
	for i, want := range wantTypes {
		ev := <-sub
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, want, ev.Type)
		assert.Equal(t, poolID, ev.PoolID)
		received = append(received, ev)
	}

	var swap events.Swap
	require.NoError(t, received[2].Decode(&swap))
	assert.Equal(t, bob, swap.Trader)
	assert.Equal(t, "3000000000000", swap.Fee.String())
	assert.Equal(t, "600000000000", swap.PlatformFee.String())

	assert.Equal(t, float64(1), testutil.ToFloat64(ex.metrics.operations.WithLabelValues("swap", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ex.metrics.pools))
	_, err = reg.Gather()
	require.NoError(t, err)
}

func TestFailedOperationsCommitNothing(t *testing.T) {
	ctx := context.Background()
	ex, _, _ := newTestExchange(t)
	poolID, positionID := seededPool(t, ex)

	before, err := ex.Pool(poolID)
	require.NoError(t, err)
	sequence := ex.Bus().Sequence()

	testCases := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "slippage",
			run: func() error {
				_, err := ex.Swap(ctx, SwapParams{PoolID: poolID, AmountIn: bi("1000000000000000"), XToY: true, MinAmountOut: bi("996006981039904")})
				return err
			},
			wantErr: clmm.ErrSlippageExceeded,
		},
		{
			name: "insufficient liquidity",
			run: func() error {
				_, err := ex.Swap(ctx, SwapParams{PoolID: poolID, AmountIn: bi("1000000000000000000"), XToY: true})
				return err
			},
			wantErr: clmm.ErrInsufficientLiquidity,
		},
		{
			name: "foreign owner",
			run: func() error {
				_, err := ex.ClaimFees(ctx, ClaimFeesParams{PoolID: poolID, Owner: bob, PositionID: positionID})
				return err
			},
			wantErr: clmm.ErrNotPositionOwner,
		},
		{
			name: "over-withdrawal",
			run: func() error {
				_, err := ex.RemoveLiquidity(ctx, RemoveLiquidityParams{PoolID: poolID, Owner: alice, PositionID: positionID, Liquidity: bi("1000000000000000001")})
				return err
			},
			wantErr: clmm.ErrInsufficientLiquidity,
		},
		{
			name: "underfunded deposit",
			run: func() error {
				_, err := ex.AddLiquidity(ctx, AddLiquidityParams{PoolID: poolID, AddLiquidityParams: clmm.AddLiquidityParams{
					Owner:      bob,
					TickLower:  -600,
					TickUpper:  600,
					Liquidity:  bi("1000000000000000000"),
					AmountXMax: bi("29553010879137169"),
					AmountYMax: bi("29553010879137170"),
				}})
				return err
			},
			wantErr: clmm.ErrInsufficientFunds,
		},
		{
			name: "unknown pool",
			run: func() error {
				_, err := ex.Swap(ctx, SwapParams{PoolID: 99, AmountIn: big.NewInt(1000), XToY: true})
				return err
			},
			wantErr: ErrPoolNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.run(), tc.wantErr)

			after, err := ex.Pool(poolID)
			require.NoError(t, err)
			assert.JSONEq(t, viewJSON(t, before), viewJSON(t, after))
			assert.Equal(t, sequence, ex.Bus().Sequence())
		})
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(ex.metrics.operations.WithLabelValues("swap", "error")))
}

func TestQuote(t *testing.T) {
	ctx := context.Background()
	ex, _, _ := newTestExchange(t)
	poolID, _ := seededPool(t, ex)
	sequence := ex.Bus().Sequence()

	params := SwapParams{PoolID: poolID, AmountIn: big.NewInt(1_000_000), XToY: false}
	quote, err := ex.Quote(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "996999", quote.AmountOut.String())
	assert.Equal(t, sequence, ex.Bus().Sequence())

	res, err := ex.Swap(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, quote.AmountOut.String(), res.AmountOut.String())
	assert.Equal(t, quote.SqrtPriceX96.String(), res.SqrtPriceX96.String())
	assert.Equal(t, quote.Tick, res.Tick)
	assert.Equal(t, sequence+1, ex.Bus().Sequence())

	_, err = ex.Quote(ctx, SwapParams{PoolID: 7, AmountIn: big.NewInt(1)})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestSweepPlatformFees(t *testing.T) {
	ctx := context.Background()
	ex, authority, _ := newTestExchange(t)
	poolID, _ := seededPool(t, ex)

	_, err := ex.Swap(ctx, SwapParams{PoolID: poolID, AmountIn: bi("1000000000000000"), XToY: true})
	require.NoError(t, err)

	treasury := NewAddressReceiver(common.HexToAddress("0x00000000000000000000000000000000000071e5"))

	t.Run("forged capability", func(t *testing.T) {
		_, err := ex.SweepPlatformFees(ctx, &AuthorityCap{}, poolID, treasury)
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = ex.SweepPlatformFees(ctx, nil, poolID, treasury)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("capability from another exchange", func(t *testing.T) {
		_, other, _ := newTestExchange(t)
		_, err := ex.SweepPlatformFees(ctx, other, poolID, treasury)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("receiver refusal keeps the balances", func(t *testing.T) {
		_, err := ex.SweepPlatformFees(ctx, authority, poolID, failingReceiver{})
		require.Error(t, err)

		view, err := ex.Pool(poolID)
		require.NoError(t, err)
		assert.Equal(t, "600000000000", view.PlatformFeesX.String())
	})

	t.Run("sweeps to the receiver", func(t *testing.T) {
		res, err := ex.SweepPlatformFees(ctx, authority, poolID, treasury)
		require.NoError(t, err)
		assert.Equal(t, treasury.Name(), res.Receiver)
		assert.Equal(t, "600000000000", res.AmountX.String())
		assert.Equal(t, "0", res.AmountY.String())
		assert.Equal(t, "600000000000", treasury.Total(assetX).String())

		view, err := ex.Pool(poolID)
		require.NoError(t, err)
		assert.Equal(t, "0", view.PlatformFeesX.String())

		// a second sweep moves nothing
		res, err = ex.SweepPlatformFees(ctx, authority, poolID, treasury)
		require.NoError(t, err)
		assert.Equal(t, "0", res.AmountX.String())
		assert.Equal(t, "600000000000", treasury.Total(assetX).String())
	})
}

func TestSpotPrice(t *testing.T) {
	ctx := context.Background()
	ex, _, _ := newTestExchange(t)

	entry, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetY, FeeRate: 3000, SqrtPriceX96: q96})
	require.NoError(t, err)
	price, err := ex.SpotPrice(entry.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1)), price.String())

	// sqrt price 2 * 2^96 is a price of 4
	entry, err = ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetZ, FeeRate: 3000, SqrtPriceX96: new(big.Int).Lsh(q96, 1)})
	require.NoError(t, err)
	price, err = ex.SpotPrice(entry.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(4)), price.String())

	_, err = ex.SpotPrice(42)
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	ex, _, _ := newTestExchange(t)
	poolID, _ := seededPool(t, ex)
	_, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetZ, FeeRate: 500, SqrtPriceX96: q96})
	require.NoError(t, err)

	state := ex.Snapshot()
	assert.Equal(t, uint64(3), state.Sequence)
	assert.False(t, state.HasErrors())

	pools := state.Protocols[PoolsProtocolID]
	assert.Equal(t, engine.ProtocolSchema(clmm.Schema), pools.Schema)
	views := pools.Data.([]clmm.PoolView)
	require.Len(t, views, 2)
	assert.Equal(t, poolID, views[0].ID)
	assert.Len(t, views[0].Positions, 1)

	registry := state.Protocols[RegistryProtocolID].Data.(poolregistry.PoolRegistry)
	require.Len(t, registry.Pools, 2)
	assert.Equal(t, uint64(2), registry.Pools[1].ID)
}

func TestConcurrentSwaps(t *testing.T) {
	ctx := context.Background()
	ex, _, _ := newTestExchange(t)
	first, _ := seededPool(t, ex)

	second, err := ex.CreatePool(ctx, CreatePoolParams{AssetX: assetX, AssetY: assetZ, FeeRate: 3000, SqrtPriceX96: q96})
	require.NoError(t, err)
	_, err = ex.AddLiquidity(ctx, AddLiquidityParams{PoolID: second.ID, AddLiquidityParams: clmm.AddLiquidityParams{
		Owner:      bob,
		TickLower:  -600,
		TickUpper:  600,
		Liquidity:  bi("1000000000000000000"),
		AmountXMax: bi("29553010879137170"),
		AmountYMax: bi("29553010879137170"),
	}})
	require.NoError(t, err)
	startSequence := ex.Bus().Sequence()

	const workers, swapsPerWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			poolID := first
			if w%2 == 1 {
				poolID = second.ID
			}
			for i := 0; i < swapsPerWorker; i++ {
				_, err := ex.Swap(ctx, SwapParams{PoolID: poolID, AmountIn: big.NewInt(1_000_000_000), XToY: (i+w)%2 == 0})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, startSequence+workers*swapsPerWorker, ex.Bus().Sequence())
	for _, view := range ex.Pools() {
		_, err := clmm.FromView(view)
		require.NoError(t, err, "pool %d", view.ID)
	}
}

func TestUnencodableEventCommitsNothing(t *testing.T) {
	ex, _, _ := newTestExchange(t)
	poolID, _ := seededPool(t, ex)

	before, err := ex.Pool(poolID)
	require.NoError(t, err)
	sequence := ex.Bus().Sequence()

	res, err := execute(context.Background(), ex, "swap", poolID, func(p *clmm.Pool, now time.Time) (*clmm.SwapResult, pendingEvent, error) {
		res, err := p.Swap(clmm.SwapParams{AmountIn: big.NewInt(1000), XToY: true, Now: now})
		return res, pendingEvent{typ: events.TypeSwap, payload: make(chan int)}, err
	})
	require.ErrorContains(t, err, "encoding swap payload")
	assert.Nil(t, res)

	after, err := ex.Pool(poolID)
	require.NoError(t, err)
	assert.JSONEq(t, viewJSON(t, before), viewJSON(t, after))
	assert.Equal(t, sequence, ex.Bus().Sequence())
	assert.Equal(t, float64(1), testutil.ToFloat64(ex.metrics.operations.WithLabelValues("swap", "error")))
}
