package clmm

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	assetX = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetY = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer literal " + s)
	}
	return v
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), bi("1000000000000000000"))
}

func sqrtPriceAt(t tb, tick int64) *big.Int {
	t.Helper()
	p := new(big.Int)
	require.NoError(t, pricemath.SqrtPriceAtTick(p, tick))
	return p
}

// newTestPool returns a 0.3% pool with spacing 60 trading at the given tick.
func newTestPool(t tb, tick int64) *Pool {
	t.Helper()
	p, err := New(Config{
		ID:           1,
		AssetX:       assetX,
		AssetY:       assetY,
		FeeRate:      3000,
		TickSpacing:  60,
		SqrtPriceX96: sqrtPriceAt(t, tick),
	})
	require.NoError(t, err)
	return p
}

// unlimited is a deposit allowance no test scenario comes close to.
func unlimited() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 200)
}

func mustAdd(t tb, p *Pool, owner common.Address, lower, upper int64, liquidity *big.Int) *AddLiquidityResult {
	t.Helper()
	res, err := p.AddLiquidity(AddLiquidityParams{
		Owner:      owner,
		TickLower:  lower,
		TickUpper:  upper,
		Liquidity:  liquidity,
		AmountXMax: unlimited(),
		AmountYMax: unlimited(),
	})
	require.NoError(t, err)
	return res
}

// viewJSON renders the full pool state for equality checks.
func viewJSON(t tb, p *Pool) string {
	t.Helper()
	b, err := json.Marshal(p.View())
	require.NoError(t, err)
	return string(b)
}
