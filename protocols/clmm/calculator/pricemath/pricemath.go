package pricemath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick a pool price may reach.
	MinTick = int64(-887272)
	// MaxTick is the highest tick a pool price may reach.
	MaxTick = int64(887272)
)

var (
	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	// Q96 is 1.0 in the Q64.96 sqrt price format.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// MinSqrtPrice is SqrtPriceAtTick(MinTick).
	MinSqrtPrice = mustSqrtPrice(MinTick)
	// MaxSqrtPrice is SqrtPriceAtTick(MaxTick).
	MaxSqrtPrice = mustSqrtPrice(MaxTick)

	one        = uint256.NewInt(1)
	q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	maxUint256 = new(uint256.Int).SetAllOne()
	lowMask    = uint256.NewInt(0xffffffff)

	// invSqrtBase is 1/sqrt(1.0001) in Q128.128. Every power of it stays below 2^128,
	// so products of two powers fit in 256 bits.
	invSqrtBase = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
)

type priceMath struct {
	ratio *uint256.Int
	base  *uint256.Int
	rem   *uint256.Int
	temp  *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &priceMath{
			ratio: new(uint256.Int),
			base:  new(uint256.Int),
			rem:   new(uint256.Int),
			temp:  new(big.Int),
		}
	},
}

// SqrtPriceAtTick writes sqrt(1.0001^tick) * 2^96 into dest.
//
// The power is computed by squaring 1/sqrt(1.0001) in Q128.128, truncating after
// every multiplication. Positive ticks take the reciprocal of the negative power.
// The result is rounded up when converted to Q64.96, so tick 0 maps to exactly 2^96.
func SqrtPriceAtTick(dest *big.Int, tick int64) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickOutOfBounds
	}

	pm := pool.Get().(*priceMath)
	defer pool.Put(pm)

	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	pm.ratio.Set(q128)
	pm.base.Set(invSqrtBase)
	for n := uint64(absTick); n > 0; n >>= 1 {
		if n&1 != 0 {
			pm.ratio.Mul(pm.ratio, pm.base).Rsh(pm.ratio, 128)
		}
		if n > 1 {
			pm.base.Mul(pm.base, pm.base).Rsh(pm.base, 128)
		}
	}

	if tick > 0 {
		pm.ratio.Div(maxUint256, pm.ratio)
	}

	pm.rem.And(pm.ratio, lowMask)
	pm.ratio.Rsh(pm.ratio, 32)
	if !pm.rem.IsZero() {
		pm.ratio.Add(pm.ratio, one)
	}

	pm.ratio.IntoBig(&dest)
	return nil
}

// TickAtSqrtPrice returns the greatest tick whose sqrt price is <= sqrtPriceX96.
func TickAtSqrtPrice(sqrtPriceX96 *big.Int) (int64, error) {
	if sqrtPriceX96.Cmp(MinSqrtPrice) < 0 || sqrtPriceX96.Cmp(MaxSqrtPrice) > 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	pm := pool.Get().(*priceMath)
	defer pool.Put(pm)
	atTick := pm.temp

	low, high := MinTick, MaxTick
	tick := MinTick
	for low <= high {
		mid := low + (high-low)/2
		if err := SqrtPriceAtTick(atTick, mid); err != nil {
			return 0, err
		}
		if atTick.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

func mustSqrtPrice(tick int64) *big.Int {
	p := new(big.Int)
	if err := SqrtPriceAtTick(p, tick); err != nil {
		panic(err)
	}
	return p
}
