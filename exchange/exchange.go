package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/events"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Protocol IDs under which Snapshot publishes the exchange's views.
const (
	PoolsProtocolID    engine.ProtocolID = "clmm"
	RegistryProtocolID engine.ProtocolID = "poolRegistry"
)

var (
	ErrPoolNotFound = errors.New("pool not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// spotPricePrecision is the number of decimal places SpotPrice rounds to.
const spotPricePrecision = 18

var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RegistryReader is the read-only side of the pool catalog.
type RegistryReader interface {
	Get(id uint64) (poolregistry.Pool, bool)
	Lookup(a, b common.Address, feeRate uint32) (poolregistry.Pool, bool)
	PoolsForAsset(asset common.Address) []uint64
	View() *poolregistry.PoolRegistry
}

type Config struct {
	Logger   Logger
	Registry prometheus.Registerer
	// Bus receives an event for every committed operation. A private bus is created
	// when nil.
	Bus *events.Bus
	// Now stamps operations. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

// poolSlot holds the live pool. The pointer is only replaced, never mutated in place:
// operations work on a clone and swap it in under mu once they succeed.
type poolSlot struct {
	mu   sync.Mutex
	pool atomic.Pointer[clmm.Pool]
}

// Exchange is the execution environment for every pool. Operations on one pool are
// linearized by that pool's lock; different pools proceed concurrently.
type Exchange struct {
	logger   Logger
	metrics  *Metrics
	bus      *events.Bus
	now      func() time.Time
	registry *poolregistry.System

	poolsMu sync.RWMutex
	pools   map[uint64]*poolSlot

	// commitMu orders pool replacement with event publication so a snapshot always
	// matches the sequence number it carries.
	commitMu sync.Mutex

	authority *AuthorityCap
}

// New creates an empty exchange together with its single AuthorityCap.
func New(cfg Config) (*Exchange, *AuthorityCap, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(cfg.Logger)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	authority := &AuthorityCap{id: uuid.New()}
	return &Exchange{
		logger:    cfg.Logger,
		metrics:   NewMetrics(cfg.Registry),
		bus:       bus,
		now:       now,
		registry:  poolregistry.NewSystem(),
		pools:     make(map[uint64]*poolSlot),
		authority: authority,
	}, authority, nil
}

// Bus returns the bus the exchange publishes to.
func (e *Exchange) Bus() *events.Bus {
	return e.bus
}

// Registry returns the read-only pool catalog.
func (e *Exchange) Registry() RegistryReader {
	return e.registry
}

type CreatePoolParams struct {
	AssetX  common.Address `json:"assetX"`
	AssetY  common.Address `json:"assetY"`
	FeeRate uint32         `json:"feeRate"`
	// TickSpacing defaults to the fee tier's conventional spacing when zero.
	TickSpacing  int64    `json:"tickSpacing"`
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
}

// CreatePool registers and initializes a pool. Creation is serialized through the registry.
func (e *Exchange) CreatePool(ctx context.Context, params CreatePoolParams) (entry poolregistry.Pool, err error) {
	const operation = "create_pool"
	defer e.track(operation, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return poolregistry.Pool{}, err
	}
	spacing := params.TickSpacing
	if spacing == 0 {
		spacing, _ = clmm.DefaultTickSpacing(params.FeeRate)
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	var (
		created *clmm.Pool
		ev      events.Event
	)
	entry, err = e.registry.Register(params.AssetX, params.AssetY, params.FeeRate, spacing, func(entry poolregistry.Pool) error {
		p, err := clmm.New(clmm.Config{
			ID:           entry.ID,
			AssetX:       entry.AssetX,
			AssetY:       entry.AssetY,
			FeeRate:      entry.FeeRate,
			TickSpacing:  entry.TickSpacing,
			SqrtPriceX96: params.SqrtPriceX96,
		})
		if err != nil {
			return err
		}
		ev, err = events.New(events.TypePoolCreated, entry.ID, e.now(), events.PoolCreated{
			Address:      entry.Address,
			AssetX:       entry.AssetX,
			AssetY:       entry.AssetY,
			FeeRate:      entry.FeeRate,
			TickSpacing:  entry.TickSpacing,
			SqrtPriceX96: p.SqrtPriceX96(),
			Tick:         p.Tick(),
		})
		created = p
		return err
	})
	if err != nil {
		return poolregistry.Pool{}, err
	}

	slot := &poolSlot{}
	slot.pool.Store(created)
	e.poolsMu.Lock()
	e.pools[entry.ID] = slot
	e.poolsMu.Unlock()
	e.metrics.pools.Inc()

	e.publishLocked(ev)
	e.logger.Info("pool created",
		"pool", entry.ID,
		"address", entry.Address.Hex(),
		"fee", entry.FeeRate,
		"spacing", entry.TickSpacing,
	)
	return entry, nil
}

type SwapParams struct {
	PoolID       uint64         `json:"poolId"`
	Trader       common.Address `json:"trader"`
	AmountIn     *big.Int       `json:"amountIn"`
	XToY         bool           `json:"xToY"`
	MinAmountOut *big.Int       `json:"minAmountOut"`
}

// Swap executes an exact-input trade.
func (e *Exchange) Swap(ctx context.Context, params SwapParams) (*clmm.SwapResult, error) {
	res, err := execute(ctx, e, "swap", params.PoolID, func(p *clmm.Pool, now time.Time) (*clmm.SwapResult, pendingEvent, error) {
		res, err := p.Swap(clmm.SwapParams{
			AmountIn:     params.AmountIn,
			XToY:         params.XToY,
			MinAmountOut: params.MinAmountOut,
			Now:          now,
		})
		if err != nil {
			return nil, pendingEvent{}, err
		}
		return res, pendingEvent{typ: events.TypeSwap, payload: events.Swap{
			Trader:       params.Trader,
			XToY:         params.XToY,
			AmountIn:     res.AmountIn,
			AmountOut:    res.AmountOut,
			Fee:          res.Fee,
			PlatformFee:  res.PlatformFee,
			SqrtPriceX96: res.SqrtPriceX96,
			Tick:         res.Tick,
			Liquidity:    res.Liquidity,
			TicksCrossed: res.TicksCrossed,
		}}, nil
	})
	if err == nil {
		e.metrics.ticksCrossed.Add(float64(res.TicksCrossed))
	}
	return res, err
}

// Quote prices a trade against the live pool without taking the pool lock or
// committing anything.
func (e *Exchange) Quote(ctx context.Context, params SwapParams) (res *clmm.SwapResult, err error) {
	const operation = "quote"
	defer e.track(operation, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.live(params.PoolID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if last := p.Window().LastUpdate; now.Before(last) {
		now = last
	}
	return p.Quote(clmm.SwapParams{
		AmountIn:     params.AmountIn,
		XToY:         params.XToY,
		MinAmountOut: params.MinAmountOut,
		Now:          now,
	})
}

type AddLiquidityParams struct {
	PoolID uint64 `json:"poolId"`
	clmm.AddLiquidityParams
}

// AddLiquidity opens a position or tops up an existing one.
func (e *Exchange) AddLiquidity(ctx context.Context, params AddLiquidityParams) (*clmm.AddLiquidityResult, error) {
	return execute(ctx, e, "add_liquidity", params.PoolID, func(p *clmm.Pool, _ time.Time) (*clmm.AddLiquidityResult, pendingEvent, error) {
		res, err := p.AddLiquidity(params.AddLiquidityParams)
		if err != nil {
			return nil, pendingEvent{}, err
		}
		return res, pendingEvent{typ: events.TypeLiquidityAdded, payload: events.LiquidityAdded{
			PositionID: res.Position.ID,
			Owner:      res.Position.Owner,
			TickLower:  res.Position.TickLower,
			TickUpper:  res.Position.TickUpper,
			Liquidity:  params.Liquidity,
			AmountX:    res.AmountX,
			AmountY:    res.AmountY,
		}}, nil
	})
}

type RemoveLiquidityParams struct {
	PoolID     uint64         `json:"poolId"`
	Owner      common.Address `json:"owner"`
	PositionID uuid.UUID      `json:"positionId"`
	Liquidity  *big.Int       `json:"liquidity"`
}

// RemoveLiquidity withdraws liquidity and pays out the position's owed fees.
func (e *Exchange) RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) (*clmm.RemoveLiquidityResult, error) {
	return execute(ctx, e, "remove_liquidity", params.PoolID, func(p *clmm.Pool, _ time.Time) (*clmm.RemoveLiquidityResult, pendingEvent, error) {
		res, err := p.RemoveLiquidity(params.Owner, params.PositionID, params.Liquidity)
		if err != nil {
			return nil, pendingEvent{}, err
		}
		return res, pendingEvent{typ: events.TypeLiquidityRemoved, payload: events.LiquidityRemoved{
			PositionID: params.PositionID,
			Owner:      params.Owner,
			Liquidity:  params.Liquidity,
			AmountX:    res.AmountX,
			AmountY:    res.AmountY,
			FeesX:      res.FeesX,
			FeesY:      res.FeesY,
			Closed:     res.Closed,
		}}, nil
	})
}

type ClaimFeesParams struct {
	PoolID     uint64         `json:"poolId"`
	Owner      common.Address `json:"owner"`
	PositionID uuid.UUID      `json:"positionId"`
}

type ClaimFeesResult struct {
	AmountX *big.Int `json:"amountX"`
	AmountY *big.Int `json:"amountY"`
}

// ClaimFees pays out everything a position is owed.
func (e *Exchange) ClaimFees(ctx context.Context, params ClaimFeesParams) (*ClaimFeesResult, error) {
	return execute(ctx, e, "claim_fees", params.PoolID, func(p *clmm.Pool, _ time.Time) (*ClaimFeesResult, pendingEvent, error) {
		x, y, err := p.ClaimFees(params.Owner, params.PositionID)
		if err != nil {
			return nil, pendingEvent{}, err
		}
		return &ClaimFeesResult{AmountX: x, AmountY: y}, pendingEvent{typ: events.TypeFeesClaimed, payload: events.FeesClaimed{
			PositionID: params.PositionID,
			Owner:      params.Owner,
			AmountX:    x,
			AmountY:    y,
		}}, nil
	})
}

type SweepResult struct {
	Receiver string   `json:"receiver"`
	AmountX  *big.Int `json:"amountX"`
	AmountY  *big.Int `json:"amountY"`
}

// SweepPlatformFees moves a pool's platform fee balances to the receiver. It requires
// the AuthorityCap issued by New. The balances are only zeroed if the receiver accepts them.
func (e *Exchange) SweepPlatformFees(ctx context.Context, authority *AuthorityCap, poolID uint64, receiver FeeReceiver) (*SweepResult, error) {
	if authority == nil || authority != e.authority {
		e.metrics.observe("sweep_platform_fees", ErrUnauthorized)
		return nil, ErrUnauthorized
	}
	if receiver == nil {
		err := errors.New("sweep: receiver cannot be nil")
		e.metrics.observe("sweep_platform_fees", err)
		return nil, err
	}
	return execute(ctx, e, "sweep_platform_fees", poolID, func(p *clmm.Pool, _ time.Time) (*SweepResult, pendingEvent, error) {
		x, y := p.CollectPlatformFees()
		if err := receiver.ReceivePlatformFees(ctx, poolID, p.AssetX(), p.AssetY(), x, y); err != nil {
			return nil, pendingEvent{}, fmt.Errorf("sweep: receiver %s: %w", receiver.Name(), err)
		}
		res := &SweepResult{Receiver: receiver.Name(), AmountX: x, AmountY: y}
		return res, pendingEvent{typ: events.TypePlatformFeesSwept, payload: events.PlatformFeesSwept{
			Receiver: res.Receiver,
			AmountX:  x,
			AmountY:  y,
		}}, nil
	})
}

// Pool returns a snapshot of one pool.
func (e *Exchange) Pool(id uint64) (clmm.PoolView, error) {
	p, err := e.live(id)
	if err != nil {
		return clmm.PoolView{}, err
	}
	return p.View(), nil
}

// Pools returns a snapshot of every pool, ordered by ID.
func (e *Exchange) Pools() []clmm.PoolView {
	pools := e.livePools()
	views := make([]clmm.PoolView, len(pools))
	for i, p := range pools {
		views[i] = p.View()
	}
	return views
}

// Position returns a copy of an open position.
func (e *Exchange) Position(poolID uint64, id uuid.UUID) (clmm.Position, error) {
	p, err := e.live(poolID)
	if err != nil {
		return clmm.Position{}, err
	}
	pos, ok := p.Position(id)
	if !ok {
		return clmm.Position{}, fmt.Errorf("%w: %s in pool %d", clmm.ErrPositionNotFound, id, poolID)
	}
	return pos, nil
}

// PendingFees reports what a position would receive if it claimed now.
func (e *Exchange) PendingFees(poolID uint64, owner common.Address, id uuid.UUID) (x, y *big.Int, err error) {
	p, err := e.live(poolID)
	if err != nil {
		return nil, nil, err
	}
	return p.PendingFees(owner, id)
}

// SpotPrice returns the price of asset X in units of asset Y, (sqrtPriceX96 / 2^96)^2.
func (e *Exchange) SpotPrice(id uint64) (decimal.Decimal, error) {
	p, err := e.live(id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	sqrtPrice := p.SqrtPriceX96()
	squared := decimal.NewFromBigInt(new(big.Int).Mul(sqrtPrice, sqrtPrice), 0)
	return squared.DivRound(q192, spotPricePrecision), nil
}

// Snapshot captures every pool and the registry as of the last published event.
func (e *Exchange) Snapshot() *engine.State {
	e.commitMu.Lock()
	sequence := e.bus.Sequence()
	pools := e.livePools()
	registry := e.registry.View()
	e.commitMu.Unlock()

	// committed pools are never mutated, so the views can be built outside the lock
	views := make([]clmm.PoolView, len(pools))
	for i, p := range pools {
		views[i] = p.View()
	}

	return &engine.State{
		Sequence:  sequence,
		Timestamp: uint64(e.now().UnixNano()),
		Protocols: map[engine.ProtocolID]engine.ProtocolState{
			PoolsProtocolID: {
				Meta:   engine.ProtocolMeta{Name: "clmm", Tags: []string{"dex"}},
				Schema: clmm.Schema,
				Data:   views,
			},
			RegistryProtocolID: {
				Meta:   engine.ProtocolMeta{Name: "pool registry", Tags: []string{"registry"}},
				Schema: poolregistry.Schema,
				Data:   *registry,
			},
		},
	}
}

func (e *Exchange) slot(id uint64) (*poolSlot, error) {
	e.poolsMu.RLock()
	defer e.poolsMu.RUnlock()
	slot, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return slot, nil
}

func (e *Exchange) live(id uint64) (*clmm.Pool, error) {
	slot, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	return slot.pool.Load(), nil
}

func (e *Exchange) livePools() []*clmm.Pool {
	e.poolsMu.RLock()
	pools := make([]*clmm.Pool, 0, len(e.pools))
	for _, slot := range e.pools {
		pools = append(pools, slot.pool.Load())
	}
	e.poolsMu.RUnlock()

	sort.Slice(pools, func(i, j int) bool { return pools[i].ID() < pools[j].ID() })
	return pools
}

type pendingEvent struct {
	typ     events.Type
	payload any
}

// execute runs fn against a clone of the pool under the pool's lock and commits the
// clone only if fn succeeds.
func execute[T any](ctx context.Context, e *Exchange, operation string, poolID uint64, fn func(p *clmm.Pool, now time.Time) (T, pendingEvent, error)) (res T, err error) {
	defer e.track(operation, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	slot, err := e.slot(poolID)
	if err != nil {
		return res, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	now := e.now()
	working := slot.pool.Load().Clone()
	res, pending, err := fn(working, now)
	if err != nil {
		e.logger.Debug("operation rejected", "operation", operation, "pool", poolID, "error", err)
		return res, err
	}
	// a committed change must always reach the bus, so the event is encoded first
	ev, err := events.New(pending.typ, poolID, now, pending.payload)
	if err != nil {
		e.logger.Error("operation aborted", "operation", operation, "pool", poolID, "error", err)
		var zero T
		return zero, err
	}

	e.commitMu.Lock()
	slot.pool.Store(working)
	e.publishLocked(ev)
	e.commitMu.Unlock()
	return res, nil
}

// publishLocked MUST be called with commitMu held.
func (e *Exchange) publishLocked(ev events.Event) {
	ev = e.bus.Publish(ev)
	e.logger.Debug("event published", "type", ev.Type, "pool", ev.PoolID, "sequence", ev.Sequence)
}

func (e *Exchange) track(operation string, start time.Time, err *error) {
	e.metrics.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	e.metrics.observe(operation, *err)
}
