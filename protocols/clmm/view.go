package clmm

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/ticktable"
	"github.com/ethereum/go-ethereum/common"
)

// Schema identifies the PoolView data contract in published state.
const Schema = "defistate/clmm/poolView@v1"

// PoolViewMinimal is the scalar state of a pool.
type PoolViewMinimal struct {
	ID               uint64         `json:"id"`
	AssetX           common.Address `json:"assetX"`
	AssetY           common.Address `json:"assetY"`
	FeeRate          uint32         `json:"feeRate"`
	TickSpacing      int64          `json:"tickSpacing"`
	Tick             int64          `json:"tick"`
	SqrtPriceX96     *big.Int       `json:"sqrtPriceX96"`
	Liquidity        *big.Int       `json:"liquidity"`
	FeeGrowthGlobalX *big.Int       `json:"feeGrowthGlobalX"`
	FeeGrowthGlobalY *big.Int       `json:"feeGrowthGlobalY"`
	ReserveX         *big.Int       `json:"reserveX"`
	ReserveY         *big.Int       `json:"reserveY"`
	LPFeesX          *big.Int       `json:"lpFeesX"`
	LPFeesY          *big.Int       `json:"lpFeesY"`
	PlatformFeesX    *big.Int       `json:"platformFeesX"`
	PlatformFeesY    *big.Int       `json:"platformFeesY"`
	Window           Window         `json:"window"`
}

// PoolView is the full snapshot of a pool: scalar state, initialized ticks in
// ascending order and open positions ordered by ID.
type PoolView struct {
	PoolViewMinimal `json:",inline"`
	Ticks           []ticktable.Tick `json:"ticks"`
	Positions       []Position       `json:"positions"`
}

// View returns a deep copy of the pool state.
func (p *Pool) View() PoolView {
	positions := p.Positions()
	sort.Slice(positions, func(i, j int) bool {
		return bytes.Compare(positions[i].ID[:], positions[j].ID[:]) < 0
	})

	return PoolView{
		PoolViewMinimal: PoolViewMinimal{
			ID:               p.id,
			AssetX:           p.assetX,
			AssetY:           p.assetY,
			FeeRate:          p.feeRate,
			TickSpacing:      p.tickSpacing,
			Tick:             p.tick,
			SqrtPriceX96:     new(big.Int).Set(p.sqrtPriceX96),
			Liquidity:        new(big.Int).Set(p.liquidity),
			FeeGrowthGlobalX: new(big.Int).Set(p.feeGrowthGlobalX),
			FeeGrowthGlobalY: new(big.Int).Set(p.feeGrowthGlobalY),
			ReserveX:         new(big.Int).Set(p.reserveX),
			ReserveY:         new(big.Int).Set(p.reserveY),
			LPFeesX:          new(big.Int).Set(p.lpFeesX),
			LPFeesY:          new(big.Int).Set(p.lpFeesY),
			PlatformFeesX:    new(big.Int).Set(p.platformFeesX),
			PlatformFeesY:    new(big.Int).Set(p.platformFeesY),
			Window:           p.window.copy(),
		},
		Ticks:     p.ticks.Ticks(),
		Positions: positions,
	}
}

// deepCopyView gives a view its own memory for every pointer field.
func deepCopyView(v PoolView) PoolView {
	out := v
	out.SqrtPriceX96 = new(big.Int).Set(v.SqrtPriceX96)
	out.Liquidity = new(big.Int).Set(v.Liquidity)
	out.FeeGrowthGlobalX = new(big.Int).Set(v.FeeGrowthGlobalX)
	out.FeeGrowthGlobalY = new(big.Int).Set(v.FeeGrowthGlobalY)
	out.ReserveX = new(big.Int).Set(v.ReserveX)
	out.ReserveY = new(big.Int).Set(v.ReserveY)
	out.LPFeesX = new(big.Int).Set(v.LPFeesX)
	out.LPFeesY = new(big.Int).Set(v.LPFeesY)
	out.PlatformFeesX = new(big.Int).Set(v.PlatformFeesX)
	out.PlatformFeesY = new(big.Int).Set(v.PlatformFeesY)
	out.Window = v.Window.copy()

	if v.Ticks != nil {
		out.Ticks = make([]ticktable.Tick, len(v.Ticks))
		for i := range v.Ticks {
			out.Ticks[i] = v.Ticks[i].Copy()
		}
	}
	if v.Positions != nil {
		out.Positions = make([]Position, len(v.Positions))
		for i := range v.Positions {
			out.Positions[i] = v.Positions[i].copy()
		}
	}
	return out
}

// FromView restores a pool from a snapshot.
func FromView(v PoolView) (*Pool, error) {
	p, err := New(Config{
		ID:           v.ID,
		AssetX:       v.AssetX,
		AssetY:       v.AssetY,
		FeeRate:      v.FeeRate,
		TickSpacing:  v.TickSpacing,
		SqrtPriceX96: v.SqrtPriceX96,
	})
	if err != nil {
		return nil, err
	}
	c := deepCopyView(v)

	p.tick = c.Tick
	p.liquidity = c.Liquidity
	p.feeGrowthGlobalX = c.FeeGrowthGlobalX
	p.feeGrowthGlobalY = c.FeeGrowthGlobalY
	p.reserveX = c.ReserveX
	p.reserveY = c.ReserveY
	p.lpFeesX = c.LPFeesX
	p.lpFeesY = c.LPFeesY
	p.platformFeesX = c.PlatformFeesX
	p.platformFeesY = c.PlatformFeesY
	p.window = c.Window
	p.ticks = ticktable.FromTicks(c.Ticks)
	for i := range c.Positions {
		pos := c.Positions[i]
		p.positions[pos.ID] = &pos
	}

	if err := p.CheckInvariants(); err != nil {
		return nil, err
	}
	return p, nil
}
