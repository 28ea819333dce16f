package clmm

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/ticktable"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	// FeeDenominator is 100% expressed in parts per million.
	FeeDenominator = 1_000_000
	// PlatformFeePercent is the share of every swap fee kept by the platform.
	// The rest accrues to liquidity providers.
	PlatformFeePercent = 20
	// MaxTickSpacing bounds the tick spacing a pool may be created with.
	MaxTickSpacing = int64(16384)
)

var (
	// Q128 is the scale of the fee growth accumulators.
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	feeDenominator = big.NewInt(FeeDenominator)

	// feeTiers maps every allowed fee rate (ppm) to its default tick spacing.
	feeTiers = map[uint32]int64{
		100:   1,
		500:   10,
		3000:  60,
		10000: 200,
	}
)

// DefaultTickSpacing returns the conventional tick spacing for a fee tier.
func DefaultTickSpacing(feeRate uint32) (int64, bool) {
	spacing, ok := feeTiers[feeRate]
	return spacing, ok
}

// IsSupportedFeeTier reports whether pools may be created with the fee rate.
func IsSupportedFeeTier(feeRate uint32) bool {
	_, ok := feeTiers[feeRate]
	return ok
}

// Config describes a pool at creation time.
type Config struct {
	ID           uint64
	AssetX       common.Address
	AssetY       common.Address
	FeeRate      uint32
	TickSpacing  int64
	SqrtPriceX96 *big.Int
}

func (c *Config) validate() error {
	if c.AssetX == c.AssetY {
		return fmt.Errorf("%w: %s", ErrIdenticalAssets, c.AssetX.Hex())
	}
	if !IsSupportedFeeTier(c.FeeRate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedFeeTier, c.FeeRate)
	}
	if c.TickSpacing <= 0 || c.TickSpacing > MaxTickSpacing {
		return fmt.Errorf("%w: %d", ErrInvalidTickSpacing, c.TickSpacing)
	}
	if c.SqrtPriceX96 == nil || c.SqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidSqrtPrice)
	}
	if c.SqrtPriceX96.Cmp(pricemath.MinSqrtPrice) < 0 || c.SqrtPriceX96.Cmp(pricemath.MaxSqrtPrice) >= 0 {
		return fmt.Errorf("%w: %s outside [%s, %s)", ErrInvalidSqrtPrice, c.SqrtPriceX96, pricemath.MinSqrtPrice, pricemath.MaxSqrtPrice)
	}
	return nil
}

// Pool is a concentrated-liquidity pool for one asset pair and fee tier.
//
// A Pool is not safe for concurrent use. Every mutating method either commits all of
// its effects or returns an error with the pool unchanged.
type Pool struct {
	id          uint64
	assetX      common.Address
	assetY      common.Address
	feeRate     uint32
	tickSpacing int64

	tick         int64
	sqrtPriceX96 *big.Int
	liquidity    *big.Int

	feeGrowthGlobalX *big.Int
	feeGrowthGlobalY *big.Int

	reserveX      *big.Int
	reserveY      *big.Int
	lpFeesX       *big.Int
	lpFeesY       *big.Int
	platformFeesX *big.Int
	platformFeesY *big.Int

	window Window

	ticks     *ticktable.Table
	positions map[uuid.UUID]*Position
}

// New creates an empty pool trading at the configured price.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tick, err := pricemath.TickAtSqrtPrice(cfg.SqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSqrtPrice, err)
	}

	return &Pool{
		id:               cfg.ID,
		assetX:           cfg.AssetX,
		assetY:           cfg.AssetY,
		feeRate:          cfg.FeeRate,
		tickSpacing:      cfg.TickSpacing,
		tick:             tick,
		sqrtPriceX96:     new(big.Int).Set(cfg.SqrtPriceX96),
		liquidity:        new(big.Int),
		feeGrowthGlobalX: new(big.Int),
		feeGrowthGlobalY: new(big.Int),
		reserveX:         new(big.Int),
		reserveY:         new(big.Int),
		lpFeesX:          new(big.Int),
		lpFeesY:          new(big.Int),
		platformFeesX:    new(big.Int),
		platformFeesY:    new(big.Int),
		window:           newWindow(),
		ticks:            ticktable.New(),
		positions:        make(map[uuid.UUID]*Position),
	}, nil
}

func (p *Pool) ID() uint64 { return p.id }
func (p *Pool) AssetX() common.Address { return p.assetX }
func (p *Pool) AssetY() common.Address { return p.assetY }
func (p *Pool) FeeRate() uint32 { return p.feeRate }
func (p *Pool) TickSpacing() int64 { return p.tickSpacing }
func (p *Pool) Tick() int64 { return p.tick }
func (p *Pool) SqrtPriceX96() *big.Int { return new(big.Int).Set(p.sqrtPriceX96) }
func (p *Pool) Liquidity() *big.Int { return new(big.Int).Set(p.liquidity) }
func (p *Pool) Reserves() (x, y *big.Int) {
	return new(big.Int).Set(p.reserveX), new(big.Int).Set(p.reserveY)
}

// FeeGrowthGlobal returns the Q128 fee growth accumulators.
func (p *Pool) FeeGrowthGlobal() (x, y *big.Int) {
	return new(big.Int).Set(p.feeGrowthGlobalX), new(big.Int).Set(p.feeGrowthGlobalY)
}

// PlatformFees returns the platform fee balances awaiting a sweep.
func (p *Pool) PlatformFees() (x, y *big.Int) {
	return new(big.Int).Set(p.platformFeesX), new(big.Int).Set(p.platformFeesY)
}

// LPFees returns the fee balances held for liquidity providers.
func (p *Pool) LPFees() (x, y *big.Int) {
	return new(big.Int).Set(p.lpFeesX), new(big.Int).Set(p.lpFeesY)
}

// TickInfo returns a copy of the tick record, if the tick is initialized.
func (p *Pool) TickInfo(tick int64) (ticktable.Tick, bool) {
	rec, ok := p.ticks.Get(tick)
	if !ok || rec.LiquidityGross.Sign() == 0 {
		return ticktable.Tick{}, false
	}
	return rec.Copy(), true
}

// Position returns a copy of a position.
func (p *Pool) Position(id uuid.UUID) (Position, bool) {
	pos, ok := p.positions[id]
	if !ok {
		return Position{}, false
	}
	return pos.copy(), true
}

// CollectPlatformFees zeroes the platform fee balances and returns what they held.
func (p *Pool) CollectPlatformFees() (x, y *big.Int) {
	x, y = p.PlatformFees()
	p.platformFeesX.SetInt64(0)
	p.platformFeesY.SetInt64(0)
	return x, y
}

// Clone returns a deep copy of the pool. Mutating the clone never affects p.
func (p *Pool) Clone() *Pool {
	c := &Pool{
		id:               p.id,
		assetX:           p.assetX,
		assetY:           p.assetY,
		feeRate:          p.feeRate,
		tickSpacing:      p.tickSpacing,
		tick:             p.tick,
		sqrtPriceX96:     new(big.Int).Set(p.sqrtPriceX96),
		liquidity:        new(big.Int).Set(p.liquidity),
		feeGrowthGlobalX: new(big.Int).Set(p.feeGrowthGlobalX),
		feeGrowthGlobalY: new(big.Int).Set(p.feeGrowthGlobalY),
		reserveX:         new(big.Int).Set(p.reserveX),
		reserveY:         new(big.Int).Set(p.reserveY),
		lpFeesX:          new(big.Int).Set(p.lpFeesX),
		lpFeesY:          new(big.Int).Set(p.lpFeesY),
		platformFeesX:    new(big.Int).Set(p.platformFeesX),
		platformFeesY:    new(big.Int).Set(p.platformFeesY),
		window:           p.window.copy(),
		ticks:            p.ticks.Clone(),
		positions:        make(map[uuid.UUID]*Position, len(p.positions)),
	}
	for id, pos := range p.positions {
		cp := pos.copy()
		c.positions[id] = &cp
	}
	return c
}

func (p *Pool) checkTicks(lower, upper int64) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, lower, upper)
	}
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d) with spacing %d", ErrTickMisaligned, lower, upper, p.tickSpacing)
	}
	// MinTick is never crossed downwards, so it cannot bound a range from below.
	if lower <= pricemath.MinTick || upper > pricemath.MaxTick {
		return fmt.Errorf("%w: [%d, %d)", ErrTickOutOfBounds, lower, upper)
	}
	return nil
}
