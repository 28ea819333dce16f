package ticktable

import (
	"math/big"
	"sort"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
)

// Tick holds the per-tick liquidity and fee bookkeeping of a pool.
// A tick is initialized while LiquidityGross is non-zero.
type Tick struct {
	Index          int64    `json:"index"`
	LiquidityGross *big.Int `json:"liquidityGross"`
	// LiquidityNet is added to active liquidity when the price crosses the tick upwards
	// and subtracted when it crosses downwards.
	LiquidityNet *big.Int `json:"liquidityNet"`
	// FeeGrowthOutside is the fee growth per unit of liquidity on the side of the tick
	// away from the current price.
	FeeGrowthOutsideX *big.Int `json:"feeGrowthOutsideX"`
	FeeGrowthOutsideY *big.Int `json:"feeGrowthOutsideY"`
}

func newTick(index int64) *Tick {
	return &Tick{
		Index:             index,
		LiquidityGross:    new(big.Int),
		LiquidityNet:      new(big.Int),
		FeeGrowthOutsideX: new(big.Int),
		FeeGrowthOutsideY: new(big.Int),
	}
}

// Copy returns a deep copy of the tick.
func (t *Tick) Copy() Tick {
	return Tick{
		Index:             t.Index,
		LiquidityGross:    new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:      new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutsideX: new(big.Int).Set(t.FeeGrowthOutsideX),
		FeeGrowthOutsideY: new(big.Int).Set(t.FeeGrowthOutsideY),
	}
}

// Table is a sparse tick map owned by a single pool.
//
// Alongside the map it keeps a sorted index of initialized ticks so that the next
// initialized tick in either direction is found by binary search. Inserting or evicting
// a tick from the index is linear in the number of initialized ticks.
// Ticks whose gross liquidity returns to zero are evicted.
type Table struct {
	ticks       map[int64]*Tick
	initialized []int64
}

// New returns an empty table.
func New() *Table {
	return &Table{ticks: make(map[int64]*Tick)}
}

// Get returns the tick record, if one exists.
func (t *Table) Get(tick int64) (*Tick, bool) {
	rec, ok := t.ticks[tick]
	return rec, ok
}

// GetOrCreate returns the existing record or inserts a zeroed one.
func (t *Table) GetOrCreate(tick int64) *Tick {
	if rec, ok := t.ticks[tick]; ok {
		return rec
	}
	rec := newTick(tick)
	t.ticks[tick] = rec
	return rec
}

// IsInitialized reports whether the tick currently references any liquidity.
func (t *Table) IsInitialized(tick int64) bool {
	rec, ok := t.ticks[tick]
	return ok && rec.LiquidityGross.Sign() > 0
}

// Update applies a liquidity delta to a position boundary. The lower boundary of a
// range adds the delta to the net liquidity, the upper boundary subtracts it.
//
// When the tick goes from uninitialized to initialized, its outside fee growth is
// seeded with the global growth if the tick is at or below the current tick, and with
// zero otherwise. flipped reports whether the initialized state changed.
// On error the table is unchanged.
func (t *Table) Update(
	tick int64,
	currentTick int64,
	delta *big.Int,
	upper bool,
	feeGrowthGlobalX, feeGrowthGlobalY *big.Int,
) (flipped bool, err error) {
	_, existed := t.ticks[tick]
	rec := t.GetOrCreate(tick)

	grossBefore := rec.LiquidityGross.Sign() > 0
	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, rec.LiquidityGross, delta); err != nil {
		if !existed {
			delete(t.ticks, tick)
		}
		return false, err
	}

	if !grossBefore && grossAfter.Sign() > 0 && tick <= currentTick {
		rec.FeeGrowthOutsideX.Set(feeGrowthGlobalX)
		rec.FeeGrowthOutsideY.Set(feeGrowthGlobalY)
	}

	rec.LiquidityGross.Set(grossAfter)
	if upper {
		rec.LiquidityNet.Sub(rec.LiquidityNet, delta)
	} else {
		rec.LiquidityNet.Add(rec.LiquidityNet, delta)
	}

	flipped = grossBefore != (grossAfter.Sign() > 0)
	switch {
	case flipped && grossBefore:
		t.Clear(tick)
	case flipped:
		t.insertInitialized(tick)
	case grossAfter.Sign() == 0:
		// referenced but never initialized
		delete(t.ticks, tick)
	}
	return flipped, nil
}

// Cross flips the outside fee growth of a tick as the price moves through it and
// returns a copy of its net liquidity. Crossing an unknown tick returns zero.
func (t *Table) Cross(tick int64, feeGrowthGlobalX, feeGrowthGlobalY *big.Int) *big.Int {
	rec, ok := t.ticks[tick]
	if !ok {
		return new(big.Int)
	}
	rec.FeeGrowthOutsideX.Sub(feeGrowthGlobalX, rec.FeeGrowthOutsideX)
	rec.FeeGrowthOutsideY.Sub(feeGrowthGlobalY, rec.FeeGrowthOutsideY)
	return new(big.Int).Set(rec.LiquidityNet)
}

// Clear evicts a tick record.
func (t *Table) Clear(tick int64) {
	delete(t.ticks, tick)
	i := sort.Search(len(t.initialized), func(i int) bool {
		return t.initialized[i] >= tick
	})
	if i < len(t.initialized) && t.initialized[i] == tick {
		t.initialized = append(t.initialized[:i], t.initialized[i+1:]...)
	}
}

func (t *Table) insertInitialized(tick int64) {
	i := sort.Search(len(t.initialized), func(i int) bool {
		return t.initialized[i] >= tick
	})
	if i < len(t.initialized) && t.initialized[i] == tick {
		return
	}
	t.initialized = append(t.initialized, 0)
	copy(t.initialized[i+1:], t.initialized[i:])
	t.initialized[i] = tick
}

// NextInitialized finds the next initialized tick from tick in the given direction.
//
//   - lte true: the largest initialized tick less than or equal to tick.
//   - lte false: the smallest initialized tick strictly greater than tick.
//
// If there is none, the global tick bound in that direction is returned with
// initialized false.
func (t *Table) NextInitialized(tick int64, lte bool) (next int64, initialized bool) {
	ticks := t.initialized

	if lte {
		index := sort.Search(len(ticks), func(i int) bool {
			return ticks[i] > tick
		})
		if index == 0 {
			return pricemath.MinTick, false
		}
		return ticks[index-1], true
	}

	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] > tick
	})
	if index >= len(ticks) {
		return pricemath.MaxTick, false
	}
	return ticks[index], true
}

// FeeGrowthInside returns the fee growth per unit of liquidity accumulated inside
// [lower, upper) given the current tick and the global accumulators.
//
// The growth below the range is read from the lower tick and the growth above it from
// the upper tick, each flipped depending on which side of the tick the price sits.
// The result may be negative; only differences between two readings are meaningful.
func (t *Table) FeeGrowthInside(lower, upper, currentTick int64, feeGrowthGlobalX, feeGrowthGlobalY *big.Int) (insideX, insideY *big.Int) {
	lowerRec := t.outside(lower)
	upperRec := t.outside(upper)

	belowX, belowY := new(big.Int), new(big.Int)
	if currentTick >= lower {
		belowX.Set(lowerRec.FeeGrowthOutsideX)
		belowY.Set(lowerRec.FeeGrowthOutsideY)
	} else {
		belowX.Sub(feeGrowthGlobalX, lowerRec.FeeGrowthOutsideX)
		belowY.Sub(feeGrowthGlobalY, lowerRec.FeeGrowthOutsideY)
	}

	aboveX, aboveY := new(big.Int), new(big.Int)
	if currentTick < upper {
		aboveX.Set(upperRec.FeeGrowthOutsideX)
		aboveY.Set(upperRec.FeeGrowthOutsideY)
	} else {
		aboveX.Sub(feeGrowthGlobalX, upperRec.FeeGrowthOutsideX)
		aboveY.Sub(feeGrowthGlobalY, upperRec.FeeGrowthOutsideY)
	}

	insideX = new(big.Int).Sub(feeGrowthGlobalX, belowX)
	insideX.Sub(insideX, aboveX)
	insideY = new(big.Int).Sub(feeGrowthGlobalY, belowY)
	insideY.Sub(insideY, aboveY)
	return insideX, insideY
}

func (t *Table) outside(tick int64) *Tick {
	if rec, ok := t.ticks[tick]; ok {
		return rec
	}
	return newTick(tick)
}

// Ticks returns deep copies of all initialized ticks in ascending order.
func (t *Table) Ticks() []Tick {
	out := make([]Tick, 0, len(t.initialized))
	for _, index := range t.initialized {
		out = append(out, t.ticks[index].Copy())
	}
	return out
}

// Len returns the number of initialized ticks.
func (t *Table) Len() int {
	return len(t.initialized)
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		ticks:       make(map[int64]*Tick, len(t.ticks)),
		initialized: make([]int64, len(t.initialized)),
	}
	for index, rec := range t.ticks {
		cp := rec.Copy()
		c.ticks[index] = &cp
	}
	copy(c.initialized, t.initialized)
	return c
}

// FromTicks rebuilds a table from a tick snapshot. Ticks without gross liquidity are skipped.
func FromTicks(ticks []Tick) *Table {
	t := New()
	for i := range ticks {
		if ticks[i].LiquidityGross == nil || ticks[i].LiquidityGross.Sign() <= 0 {
			continue
		}
		cp := ticks[i].Copy()
		t.ticks[cp.Index] = &cp
		t.insertInitialized(cp.Index)
	}
	return t
}
