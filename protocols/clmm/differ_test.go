package clmm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// viewWithID returns the view of a fresh pool carrying a single position.
func viewWithID(t *testing.T, id uint64) PoolView {
	t.Helper()
	p := newTestPool(t, 0)
	p.id = id
	mustAdd(t, p, alice, -600, 600, e18(1))
	return p.View()
}

func TestDiffer(t *testing.T) {
	pool1Old := viewWithID(t, 1)
	pool2Old := viewWithID(t, 2)
	pool3Old := viewWithID(t, 3)

	t.Run("should identify additions correctly", func(t *testing.T) {
		diff := Differ([]PoolView{pool1Old}, []PoolView{pool1Old, pool2Old})

		assert.Len(t, diff.Additions, 1)
		assert.Equal(t, pool2Old.ID, diff.Additions[0].ID)
		assert.Empty(t, diff.Updates)
		assert.Empty(t, diff.Deletions)
	})

	t.Run("should identify deletions correctly", func(t *testing.T) {
		diff := Differ([]PoolView{pool1Old, pool2Old}, []PoolView{pool1Old})

		assert.Empty(t, diff.Additions)
		assert.Empty(t, diff.Updates)
		require.Len(t, diff.Deletions, 1)
		assert.Equal(t, pool2Old.ID, diff.Deletions[0])
	})

	t.Run("should identify updates when a core field changes", func(t *testing.T) {
		updated := deepCopyView(pool1Old)
		updated.Liquidity.Add(updated.Liquidity, big.NewInt(1))

		diff := Differ([]PoolView{pool1Old}, []PoolView{updated})
		require.Len(t, diff.Updates, 1)
		assert.Equal(t, pool1Old.ID, diff.Updates[0].ID)
	})

	t.Run("should identify updates when fee balances change", func(t *testing.T) {
		updated := deepCopyView(pool1Old)
		updated.PlatformFeesY = big.NewInt(5)

		diff := Differ([]PoolView{pool1Old}, []PoolView{updated})
		assert.Len(t, diff.Updates, 1)
	})

	t.Run("should identify updates when a nested tick changes", func(t *testing.T) {
		updated := deepCopyView(pool1Old)
		updated.Ticks[0].FeeGrowthOutsideX.SetInt64(42)

		diff := Differ([]PoolView{pool1Old}, []PoolView{updated})
		assert.Len(t, diff.Updates, 1)
	})

	t.Run("should identify updates when a position changes", func(t *testing.T) {
		updated := deepCopyView(pool1Old)
		updated.Positions[0].FeesOwedY.SetInt64(7)

		diff := Differ([]PoolView{pool1Old}, []PoolView{updated})
		assert.Len(t, diff.Updates, 1)
	})

	t.Run("should ignore tick order", func(t *testing.T) {
		reordered := deepCopyView(pool1Old)
		reordered.Ticks[0], reordered.Ticks[1] = reordered.Ticks[1], reordered.Ticks[0]

		diff := Differ([]PoolView{pool1Old}, []PoolView{reordered})
		assert.True(t, diff.IsEmpty())
	})

	t.Run("should pick up a swap", func(t *testing.T) {
		p, err := FromView(pool1Old)
		require.NoError(t, err)
		_, err = p.Swap(SwapParams{AmountIn: big.NewInt(1e12), XToY: true, Now: t0})
		require.NoError(t, err)

		diff := Differ([]PoolView{pool1Old}, []PoolView{p.View()})
		require.Len(t, diff.Updates, 1)
		assert.Equal(t, p.SqrtPriceX96(), diff.Updates[0].SqrtPriceX96)
	})

	t.Run("should handle a mix of additions, updates, and deletions", func(t *testing.T) {
		pool1Updated := deepCopyView(pool1Old)
		pool1Updated.Tick = 1
		pool4New := viewWithID(t, 4)

		diff := Differ([]PoolView{pool1Old, pool2Old, pool3Old}, []PoolView{pool1Updated, pool2Old, pool4New})

		require.Len(t, diff.Additions, 1)
		assert.Equal(t, pool4New.ID, diff.Additions[0].ID)
		require.Len(t, diff.Updates, 1)
		assert.Equal(t, pool1Updated.ID, diff.Updates[0].ID)
		require.Len(t, diff.Deletions, 1)
		assert.Equal(t, pool3Old.ID, diff.Deletions[0])
	})

	t.Run("should produce an empty diff when there are no changes", func(t *testing.T) {
		diff := Differ([]PoolView{pool1Old, pool2Old}, []PoolView{deepCopyView(pool1Old), deepCopyView(pool2Old)})
		assert.True(t, diff.IsEmpty())
	})
}
