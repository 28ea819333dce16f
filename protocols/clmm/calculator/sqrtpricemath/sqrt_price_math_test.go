package sqrtpricemath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRandInt generates a random big.Int below 2^bits.
func newRandInt(bits int) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return n
}

func nonZero(n *big.Int) *big.Int {
	if n.Sign() == 0 {
		n.SetInt64(1)
	}
	return n
}

func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

var (
	// sqrt prices at ticks -600 and 600.
	sqrtAtMinus600 = fromString("76886731765546235930195592750")
	sqrtAt600      = fromString("81640896826356156310682304526")
)

func TestAmountXDelta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := nonZero(newRandInt(160))
		sqrtQ := nonZero(newRandInt(160))
		liquidity := newRandInt(128)

		down := new(big.Int)
		require.NoError(t, AmountXDelta(down, sqrtP, sqrtQ, liquidity, false))

		up := new(big.Int)
		require.NoError(t, AmountXDelta(up, sqrtP, sqrtQ, liquidity, true))

		assert.True(t, down.Cmp(up) <= 0)
		diff := new(big.Int).Sub(up, down)
		assert.True(t, diff.Cmp(big.NewInt(2)) < 0)
	}
}

func TestAmountYDelta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := nonZero(newRandInt(160))
		sqrtQ := nonZero(newRandInt(160))
		liquidity := newRandInt(128)

		down := new(big.Int)
		AmountYDelta(down, sqrtP, sqrtQ, liquidity, false)

		up := new(big.Int)
		AmountYDelta(up, sqrtP, sqrtQ, liquidity, true)

		assert.True(t, down.Cmp(up) <= 0)
		diff := new(big.Int).Sub(up, down)
		assert.True(t, diff.Cmp(big.NewInt(2)) < 0)
	}
}

func TestNextSqrtPriceFromInput(t *testing.T) {
	t.Run("rejects zero price and liquidity", func(t *testing.T) {
		err := NextSqrtPriceFromInput(new(big.Int), big.NewInt(0), big.NewInt(1), big.NewInt(1), true)
		assert.ErrorIs(t, err, ErrSqrtPriceZero)

		err = NextSqrtPriceFromInput(new(big.Int), Q96, big.NewInt(0), big.NewInt(1), true)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})

	t.Run("zero input keeps price", func(t *testing.T) {
		next := new(big.Int)
		require.NoError(t, NextSqrtPriceFromInput(next, Q96, big.NewInt(1_000_000), big.NewInt(0), false))
		assert.Zero(t, next.Cmp(Q96))
	})

	t.Run("input never pays for more than it covers", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			sqrtP := nonZero(newRandInt(160))
			liquidity := nonZero(newRandInt(128))
			amountIn := newRandInt(128)
			xToY := i%2 == 0

			next := new(big.Int)
			require.NoError(t, NextSqrtPriceFromInput(next, sqrtP, liquidity, amountIn, xToY))

			delta := new(big.Int)
			if xToY {
				assert.True(t, next.Cmp(sqrtP) <= 0)
				if next.Sign() > 0 {
					require.NoError(t, AmountXDelta(delta, next, sqrtP, liquidity, true))
					assert.True(t, amountIn.Cmp(delta) >= 0)
				}
			} else {
				assert.True(t, next.Cmp(sqrtP) >= 0)
				AmountYDelta(delta, sqrtP, next, liquidity, true)
				assert.True(t, amountIn.Cmp(delta) >= 0)
			}
		}
	})
}

func TestAmountsForLiquidity(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	cases := []struct {
		name         string
		current      *big.Int
		roundUp      bool
		wantX, wantY int64
	}{
		{"in range rounding up", Q96, true, 29554, 29554},
		{"in range rounding down", Q96, false, 29553, 29553},
		{"below range takes only X", fromString("74605362738342137564932442000"), true, 60006, 0},
		{"above range takes only Y", fromString("84138573093373478829838400000"), true, 0, 60006},
		{"at lower bound takes only X", sqrtAtMinus600, true, 60006, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := new(big.Int), new(big.Int)
			require.NoError(t, AmountsForLiquidity(x, y, tc.current, sqrtAtMinus600, sqrtAt600, liquidity, tc.roundUp))
			assert.Equal(t, tc.wantX, x.Int64())
			assert.Equal(t, tc.wantY, y.Int64())
		})
	}
}
