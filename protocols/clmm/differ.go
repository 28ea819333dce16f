package clmm

import (
	"math/big"
	"sort"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/ticktable"
	"github.com/google/uuid"
)

// SystemDiff is the change set between two snapshots of the CLMM pools.
type SystemDiff struct {
	Additions []PoolView `json:"additions,omitempty"`
	Updates   []PoolView `json:"updates,omitempty"`
	Deletions []uint64   `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func intsDiffer(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Cmp(b) != 0
}

func windowChanged(old, new Window) bool {
	return !old.Start.Equal(new.Start) ||
		!old.LastUpdate.Equal(new.LastUpdate) ||
		intsDiffer(old.VolumeX, new.VolumeX) ||
		intsDiffer(old.VolumeY, new.VolumeY) ||
		intsDiffer(old.FeesX, new.FeesX) ||
		intsDiffer(old.FeesY, new.FeesY)
}

func sortedTicks(ticks []ticktable.Tick) []ticktable.Tick {
	out := make([]ticktable.Tick, len(ticks))
	copy(out, ticks)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func poolChanged(old, new PoolView) bool {
	// 1. Scalars
	if old.Tick != new.Tick {
		return true
	}
	for _, pair := range [][2]*big.Int{
		{old.SqrtPriceX96, new.SqrtPriceX96},
		{old.Liquidity, new.Liquidity},
		{old.FeeGrowthGlobalX, new.FeeGrowthGlobalX},
		{old.FeeGrowthGlobalY, new.FeeGrowthGlobalY},
		{old.ReserveX, new.ReserveX},
		{old.ReserveY, new.ReserveY},
		{old.LPFeesX, new.LPFeesX},
		{old.LPFeesY, new.LPFeesY},
		{old.PlatformFeesX, new.PlatformFeesX},
		{old.PlatformFeesY, new.PlatformFeesY},
	} {
		if intsDiffer(pair[0], pair[1]) {
			return true
		}
	}
	if windowChanged(old.Window, new.Window) {
		return true
	}

	// 2. Ticks (order-insensitive)
	if len(old.Ticks) != len(new.Ticks) {
		return true
	}
	oldTicks, newTicks := sortedTicks(old.Ticks), sortedTicks(new.Ticks)
	for i := range oldTicks {
		o, n := oldTicks[i], newTicks[i]
		if o.Index != n.Index ||
			intsDiffer(o.LiquidityGross, n.LiquidityGross) ||
			intsDiffer(o.LiquidityNet, n.LiquidityNet) ||
			intsDiffer(o.FeeGrowthOutsideX, n.FeeGrowthOutsideX) ||
			intsDiffer(o.FeeGrowthOutsideY, n.FeeGrowthOutsideY) {
			return true
		}
	}

	// 3. Positions
	if len(old.Positions) != len(new.Positions) {
		return true
	}
	oldPositions := make(map[uuid.UUID]Position, len(old.Positions))
	for _, pos := range old.Positions {
		oldPositions[pos.ID] = pos
	}
	for _, n := range new.Positions {
		o, ok := oldPositions[n.ID]
		if !ok ||
			o.Owner != n.Owner ||
			o.TickLower != n.TickLower ||
			o.TickUpper != n.TickUpper ||
			intsDiffer(o.Liquidity, n.Liquidity) ||
			intsDiffer(o.FeeGrowthInsideLastX, n.FeeGrowthInsideLastX) ||
			intsDiffer(o.FeeGrowthInsideLastY, n.FeeGrowthInsideLastY) ||
			intsDiffer(o.FeesOwedX, n.FeesOwedX) ||
			intsDiffer(o.FeesOwedY, n.FeesOwedY) {
			return true
		}
	}

	return false
}

// Differ calculates the difference between two snapshots of CLMM pools, keyed by pool ID.
func Differ(old, new []PoolView) SystemDiff {
	oldPoolsMap := make(map[uint64]PoolView, len(old))
	for _, pool := range old {
		oldPoolsMap[pool.ID] = pool
	}

	newPoolsMap := make(map[uint64]PoolView, len(new))
	for _, pool := range new {
		newPoolsMap[pool.ID] = pool
	}

	var additions []PoolView
	var updates []PoolView
	var deletions []uint64

	for newID, newPool := range newPoolsMap {
		oldPool, exists := oldPoolsMap[newID]
		if !exists {
			additions = append(additions, newPool)
		} else if poolChanged(oldPool, newPool) {
			updates = append(updates, newPool)
		}
	}

	for oldID := range oldPoolsMap {
		if _, exists := newPoolsMap[oldID]; !exists {
			deletions = append(deletions, oldID)
		}
	}

	return SystemDiff{
		Additions: additions,
		Updates:   updates,
		Deletions: deletions,
	}
}
