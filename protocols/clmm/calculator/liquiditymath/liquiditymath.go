package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	// MaxLiquidity is the largest liquidity a pool or tick may hold (2^128 - 1).
	MaxLiquidity = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta writes x + y into dest, where y is a signed liquidity delta.
// A negative or oversized result is reported instead of wrapping; dest is left
// unchanged in that case.
func AddDelta(dest *big.Int, x *big.Int, y *big.Int) error {
	sum := new(big.Int).Add(x, y)
	if sum.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if sum.Cmp(MaxLiquidity) > 0 {
		return ErrLiquidityOverflow
	}
	dest.Set(sum)
	return nil
}
