package swapmath

import (
	"math/big"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/sqrtpricemath"
)

// SwapMath holds reusable big.Int values for one step computation.
// Instances are managed by a sync.Pool for safe concurrent use.
type SwapMath struct {
	sqrtRatioNextX96 *big.Int
	amountIn         *big.Int
	amountOut        *big.Int
}

var swapMathPool = sync.Pool{
	New: func() any {
		return &SwapMath{
			sqrtRatioNextX96: new(big.Int),
			amountIn:         new(big.Int),
			amountOut:        new(big.Int),
		}
	},
}

// ComputeSwapStep fills as much of amountRemaining as the segment between the current
// and target prices can absorb at the given liquidity. amountRemaining is already net of fees.
//
// If the remaining input covers the whole segment, the step ends exactly on the target
// and reached is true. Otherwise the step is a partial fill: the next price is derived
// from the remaining input and all of it is consumed.
// With zero liquidity the segment absorbs nothing and the step moves straight to the target.
func ComputeSwapStep(
	sqrtRatioNextX96 *big.Int,
	amountIn *big.Int,
	amountOut *big.Int,

	sqrtRatioCurrentX96 *big.Int,
	sqrtRatioTargetX96 *big.Int,
	liquidity *big.Int,
	amountRemaining *big.Int,
) (reached bool, err error) {
	s := swapMathPool.Get().(*SwapMath)
	defer swapMathPool.Put(s)

	reached, err = s.computeSwapStep(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining)
	if err != nil {
		return false, err
	}

	sqrtRatioNextX96.Set(s.sqrtRatioNextX96)
	amountIn.Set(s.amountIn)
	amountOut.Set(s.amountOut)
	return reached, nil
}

func (s *SwapMath) computeSwapStep(
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int,
) (bool, error) {
	xToY := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0

	s.amountIn.SetInt64(0)
	s.amountOut.SetInt64(0)

	if xToY {
		if err := sqrtpricemath.AmountXDelta(s.amountIn, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true); err != nil {
			return false, err
		}
	} else {
		sqrtpricemath.AmountYDelta(s.amountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
	}

	if amountRemaining.Cmp(s.amountIn) >= 0 {
		s.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
	} else {
		err := sqrtpricemath.NextSqrtPriceFromInput(s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, amountRemaining, xToY)
		if err != nil {
			return false, err
		}
	}

	reached := s.sqrtRatioNextX96.Cmp(sqrtRatioTargetX96) == 0
	if !reached {
		s.amountIn.Set(amountRemaining)
	}

	if xToY {
		sqrtpricemath.AmountYDelta(s.amountOut, s.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
	} else {
		if err := sqrtpricemath.AmountXDelta(s.amountOut, sqrtRatioCurrentX96, s.sqrtRatioNextX96, liquidity, false); err != nil {
			return false, err
		}
	}

	return reached, nil
}
