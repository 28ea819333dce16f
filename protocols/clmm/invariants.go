package clmm

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
)

// CheckInvariants verifies the pool's internal bookkeeping and returns an error
// wrapping ErrInvariantViolated describing the first inconsistency found.
func (p *Pool) CheckInvariants() error {
	if p.tick < pricemath.MinTick || p.tick > pricemath.MaxTick {
		return fmt.Errorf("%w: tick %d out of bounds", ErrInvariantViolated, p.tick)
	}

	derived, err := pricemath.TickAtSqrtPrice(p.sqrtPriceX96)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
	if derived != p.tick {
		// A price sitting exactly on a tick reached from above belongs to the tick below.
		onTick := new(big.Int)
		if err := pricemath.SqrtPriceAtTick(onTick, p.tick+1); err != nil || derived != p.tick+1 || onTick.Cmp(p.sqrtPriceX96) != 0 {
			return fmt.Errorf("%w: tick %d inconsistent with sqrt price %s (tick %d)", ErrInvariantViolated, p.tick, p.sqrtPriceX96, derived)
		}
	}

	for name, v := range map[string]*big.Int{
		"reserve X": p.reserveX, "reserve Y": p.reserveY,
		"lp fees X": p.lpFeesX, "lp fees Y": p.lpFeesY,
		"platform fees X": p.platformFeesX, "platform fees Y": p.platformFeesY,
		"liquidity": p.liquidity,
	} {
		if v.Sign() < 0 {
			return fmt.Errorf("%w: negative %s %s", ErrInvariantViolated, name, v)
		}
	}

	netTotal := new(big.Int)
	netBelow := new(big.Int)
	for _, t := range p.ticks.Ticks() {
		netTotal.Add(netTotal, t.LiquidityNet)
		if t.Index <= p.tick {
			netBelow.Add(netBelow, t.LiquidityNet)
		}
	}
	if netTotal.Sign() != 0 {
		return fmt.Errorf("%w: liquidity net sums to %s", ErrInvariantViolated, netTotal)
	}
	if netBelow.Cmp(p.liquidity) != 0 {
		return fmt.Errorf("%w: active liquidity %s, ticks at or below %d sum to %s", ErrInvariantViolated, p.liquidity, p.tick, netBelow)
	}

	gross := make(map[int64]*big.Int)
	add := func(tick int64, l *big.Int) {
		if gross[tick] == nil {
			gross[tick] = new(big.Int)
		}
		gross[tick].Add(gross[tick], l)
	}
	for _, pos := range p.positions {
		if pos.Liquidity.Sign() <= 0 {
			return fmt.Errorf("%w: empty position %s", ErrInvariantViolated, pos.ID)
		}
		add(pos.TickLower, pos.Liquidity)
		add(pos.TickUpper, pos.Liquidity)
	}
	if len(gross) != p.ticks.Len() {
		return fmt.Errorf("%w: %d ticks referenced by positions, %d initialized", ErrInvariantViolated, len(gross), p.ticks.Len())
	}
	for tick, want := range gross {
		rec, ok := p.ticks.Get(tick)
		if !ok || rec.LiquidityGross.Cmp(want) != 0 {
			return fmt.Errorf("%w: gross liquidity at tick %d does not match positions (%s)", ErrInvariantViolated, tick, want)
		}
	}

	return nil
}
