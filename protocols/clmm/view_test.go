package clmm

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewRoundTrip(t *testing.T) {
	p := newTestPool(t, 0)
	mustAdd(t, p, alice, -600, 600, e18(1))
	mustAdd(t, p, bob, -1200, -600, e18(1))
	mustAdd(t, p, bob, 600, 1800, e18(2))
	_, err := p.Swap(SwapParams{AmountIn: big.NewInt(4e16), XToY: true, Now: t0})
	require.NoError(t, err)

	v := p.View()
	require.Len(t, v.Positions, 3)
	for i := 1; i < len(v.Positions); i++ {
		assert.Less(t, v.Positions[i-1].ID.String(), v.Positions[i].ID.String(), "positions are ordered by id")
	}
	for i := 1; i < len(v.Ticks); i++ {
		assert.Less(t, v.Ticks[i-1].Index, v.Ticks[i].Index)
	}

	t.Run("through JSON", func(t *testing.T) {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		var decoded PoolView
		require.NoError(t, json.Unmarshal(raw, &decoded))

		restored, err := FromView(decoded)
		require.NoError(t, err)
		assert.Equal(t, viewJSON(t, p), viewJSON(t, restored))

		// both pools continue identically
		params := SwapParams{AmountIn: big.NewInt(1e16), XToY: false, Now: t0}
		a, err := p.Clone().Swap(params)
		require.NoError(t, err)
		b, err := restored.Swap(params)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("rejects inconsistent state", func(t *testing.T) {
		broken := deepCopyView(v)
		broken.Liquidity.Add(broken.Liquidity, big.NewInt(1))
		_, err := FromView(broken)
		assert.ErrorIs(t, err, ErrInvariantViolated)
	})

	t.Run("does not alias the view", func(t *testing.T) {
		restored, err := FromView(v)
		require.NoError(t, err)
		v.Liquidity.SetInt64(0)
		assert.Equal(t, p.Liquidity(), restored.Liquidity())
	})
}
