package sqrtpricemath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q96 is the Q64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Resolution is the number of fractional bits in the Q64.96 format.
	Resolution = uint(96)

	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")

	one = big.NewInt(1)
)

// SqrtPriceMath holds reusable big.Int scratch values.
// Instances are managed by a sync.Pool for safe concurrent use.
type SqrtPriceMath struct {
	product     *big.Int
	numerator1  *big.Int
	numerator2  *big.Int
	denominator *big.Int
	term        *big.Int
	rem         *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &SqrtPriceMath{
			product:     new(big.Int),
			numerator1:  new(big.Int),
			numerator2:  new(big.Int),
			denominator: new(big.Int),
			term:        new(big.Int),
			rem:         new(big.Int),
		}
	},
}

// mulDiv writes (a * b) / c into dest.
func (s *SqrtPriceMath) mulDiv(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
}

// mulDivRoundingUp writes ceil((a * b) / c) into dest.
func (s *SqrtPriceMath) mulDivRoundingUp(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
	if s.rem.Rem(s.product, c).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// divRoundingUp writes ceil(a / b) into dest.
func (s *SqrtPriceMath) divRoundingUp(dest, a, b *big.Int) {
	dest.Div(a, b)
	if s.rem.Rem(a, b).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// NextSqrtPriceFromInput writes the sqrt price reached after adding amountIn of the
// input asset at the given liquidity. Selling X moves the price down, selling Y moves it up.
// Rounding always favours the pool: the price never moves further than the input pays for.
func NextSqrtPriceFromInput(dest, sqrtPX96, liquidity, amountIn *big.Int, xToY bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}

	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)

	if amountIn.Sign() == 0 {
		dest.Set(sqrtPX96)
		return nil
	}

	if xToY {
		// ceil(L * Q96 * P / (L * Q96 + amount * P))
		s.numerator1.Lsh(liquidity, Resolution)
		s.term.Mul(amountIn, sqrtPX96)
		s.denominator.Add(s.numerator1, s.term)
		s.mulDivRoundingUp(dest, s.numerator1, sqrtPX96, s.denominator)
		return nil
	}

	// P + floor(amount * Q96 / L)
	s.mulDiv(s.term, amountIn, Q96, liquidity)
	dest.Add(sqrtPX96, s.term)
	return nil
}

// AmountXDelta writes L * (sqrtB - sqrtA) / (sqrtA * sqrtB) into dest, the amount of
// asset X spanned by the price range at the given liquidity.
func AmountXDelta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}

	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)

	s.numerator1.Lsh(liquidity, Resolution)
	s.numerator2.Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		s.mulDivRoundingUp(s.term, s.numerator1, s.numerator2, sqrtRatioBX96)
		s.divRoundingUp(dest, s.term, sqrtRatioAX96)
	} else {
		s.mulDiv(s.term, s.numerator1, s.numerator2, sqrtRatioBX96)
		dest.Div(s.term, sqrtRatioAX96)
	}
	return nil
}

// AmountYDelta writes L * (sqrtB - sqrtA) into dest, the amount of asset Y spanned
// by the price range at the given liquidity.
func AmountYDelta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)

	s.numerator1.Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		s.mulDivRoundingUp(dest, liquidity, s.numerator1, Q96)
	} else {
		s.mulDiv(dest, liquidity, s.numerator1, Q96)
	}
}

// AmountsForLiquidity writes the asset amounts backing liquidity over [sqrtLower, sqrtUpper)
// when the pool trades at sqrtCurrent. Below the range only X is needed, above it only Y,
// inside it both, split at the current price.
func AmountsForLiquidity(amountX, amountY, sqrtCurrent, sqrtLower, sqrtUpper, liquidity *big.Int, roundUp bool) error {
	amountX.SetInt64(0)
	amountY.SetInt64(0)

	switch {
	case sqrtCurrent.Cmp(sqrtLower) <= 0:
		return AmountXDelta(amountX, sqrtLower, sqrtUpper, liquidity, roundUp)
	case sqrtCurrent.Cmp(sqrtUpper) < 0:
		if err := AmountXDelta(amountX, sqrtCurrent, sqrtUpper, liquidity, roundUp); err != nil {
			return err
		}
		AmountYDelta(amountY, sqrtLower, sqrtCurrent, liquidity, roundUp)
		return nil
	default:
		AmountYDelta(amountY, sqrtLower, sqrtUpper, liquidity, roundUp)
		return nil
	}
}
