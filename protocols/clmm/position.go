package clmm

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/sqrtpricemath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Position is a liquidity provider's claim on a tick range of one pool.
type Position struct {
	ID        uuid.UUID      `json:"id"`
	Owner     common.Address `json:"owner"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Liquidity *big.Int       `json:"liquidity"`

	FeeGrowthInsideLastX *big.Int `json:"feeGrowthInsideLastX"`
	FeeGrowthInsideLastY *big.Int `json:"feeGrowthInsideLastY"`
	FeesOwedX            *big.Int `json:"feesOwedX"`
	FeesOwedY            *big.Int `json:"feesOwedY"`
}

func (pos *Position) copy() Position {
	return Position{
		ID:                   pos.ID,
		Owner:                pos.Owner,
		TickLower:            pos.TickLower,
		TickUpper:            pos.TickUpper,
		Liquidity:            new(big.Int).Set(pos.Liquidity),
		FeeGrowthInsideLastX: new(big.Int).Set(pos.FeeGrowthInsideLastX),
		FeeGrowthInsideLastY: new(big.Int).Set(pos.FeeGrowthInsideLastY),
		FeesOwedX:            new(big.Int).Set(pos.FeesOwedX),
		FeesOwedY:            new(big.Int).Set(pos.FeesOwedY),
	}
}

// AddLiquidityParams describes a deposit. A zero PositionID opens a new position over
// [TickLower, TickUpper); otherwise liquidity is added to the existing position and the
// tick fields are ignored.
type AddLiquidityParams struct {
	Owner      common.Address
	PositionID uuid.UUID
	TickLower  int64
	TickUpper  int64
	Liquidity  *big.Int
	// AmountXMax and AmountYMax are the funds the depositor offers. The deposit fails
	// unless both required amounts fit.
	AmountXMax *big.Int
	AmountYMax *big.Int
}

type AddLiquidityResult struct {
	Position Position
	AmountX  *big.Int
	AmountY  *big.Int
}

type RemoveLiquidityResult struct {
	Position Position
	// AmountX and AmountY are the principal withdrawn.
	AmountX *big.Int
	AmountY *big.Int
	// FeesX and FeesY are the fees paid out alongside the principal.
	FeesX *big.Int
	FeesY *big.Int
	// Closed is true when the position was deleted.
	Closed bool
}

// settlement is the fee state of a position after accruing growth since its last snapshot.
type settlement struct {
	insideX, insideY *big.Int
	owedX, owedY     *big.Int
}

// settle computes a position's fee accrual against the current tick state without
// mutating anything. It must be evaluated before the position's liquidity changes.
func (p *Pool) settle(pos *Position) (settlement, error) {
	insideX, insideY := p.ticks.FeeGrowthInside(pos.TickLower, pos.TickUpper, p.tick, p.feeGrowthGlobalX, p.feeGrowthGlobalY)

	accruedX, err := accrue(pos.Liquidity, insideX, pos.FeeGrowthInsideLastX)
	if err != nil {
		return settlement{}, err
	}
	accruedY, err := accrue(pos.Liquidity, insideY, pos.FeeGrowthInsideLastY)
	if err != nil {
		return settlement{}, err
	}

	return settlement{
		insideX: insideX,
		insideY: insideY,
		owedX:   accruedX.Add(accruedX, pos.FeesOwedX),
		owedY:   accruedY.Add(accruedY, pos.FeesOwedY),
	}, nil
}

func (s settlement) apply(pos *Position) {
	pos.FeeGrowthInsideLastX.Set(s.insideX)
	pos.FeeGrowthInsideLastY.Set(s.insideY)
	pos.FeesOwedX.Set(s.owedX)
	pos.FeesOwedY.Set(s.owedY)
}

// accrue returns liquidity * (inside - last) / Q128.
func accrue(liquidity, inside, last *big.Int) (*big.Int, error) {
	delta := new(big.Int).Sub(inside, last)
	if delta.Sign() < 0 {
		return nil, fmt.Errorf("%w: fee growth inside decreased", ErrInvariantViolated)
	}
	delta.Mul(delta, liquidity)
	return delta.Rsh(delta, 128), nil
}

// PendingFees returns the fees a position could claim right now.
func (p *Pool) PendingFees(owner common.Address, id uuid.UUID) (x, y *big.Int, err error) {
	pos, err := p.ownedPosition(owner, id)
	if err != nil {
		return nil, nil, err
	}
	s, err := p.settle(pos)
	if err != nil {
		return nil, nil, err
	}
	return s.owedX, s.owedY, nil
}

func (p *Pool) ownedPosition(owner common.Address, id uuid.UUID) (*Position, error) {
	pos, ok := p.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if pos.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrNotPositionOwner, id)
	}
	return pos, nil
}

func (p *Pool) inRange(lower, upper int64) bool {
	return lower <= p.tick && p.tick < upper
}

func (p *Pool) amountsForLiquidity(lower, upper int64, liquidity *big.Int, roundUp bool) (x, y *big.Int, err error) {
	sqrtLower, sqrtUpper := new(big.Int), new(big.Int)
	if err := pricemath.SqrtPriceAtTick(sqrtLower, lower); err != nil {
		return nil, nil, err
	}
	if err := pricemath.SqrtPriceAtTick(sqrtUpper, upper); err != nil {
		return nil, nil, err
	}
	x, y = new(big.Int), new(big.Int)
	if err := sqrtpricemath.AmountsForLiquidity(x, y, p.sqrtPriceX96, sqrtLower, sqrtUpper, liquidity, roundUp); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// grossAfter returns the gross liquidity a tick would hold after applying delta.
func (p *Pool) grossAfter(tick int64, delta *big.Int) (*big.Int, error) {
	gross := new(big.Int)
	if rec, ok := p.ticks.Get(tick); ok {
		gross.Set(rec.LiquidityGross)
	}
	if err := liquiditymath.AddDelta(gross, gross, delta); err != nil {
		return nil, fmt.Errorf("tick %d: %w", tick, err)
	}
	return gross, nil
}

// AddLiquidity deposits liquidity into a new or existing position.
//
// Below the range only X is required, above it only Y, inside it both, split at the
// current price. Required amounts are rounded up and must fit the offered maxima.
func (p *Pool) AddLiquidity(params AddLiquidityParams) (*AddLiquidityResult, error) {
	if params.Liquidity == nil || params.Liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: liquidity must be positive", ErrInvalidAmount)
	}
	if params.AmountXMax == nil || params.AmountYMax == nil || params.AmountXMax.Sign() < 0 || params.AmountYMax.Sign() < 0 {
		return nil, fmt.Errorf("%w: maximum amounts must be non-negative", ErrInvalidAmount)
	}

	var existing *Position
	lower, upper := params.TickLower, params.TickUpper
	if params.PositionID != uuid.Nil {
		pos, err := p.ownedPosition(params.Owner, params.PositionID)
		if err != nil {
			return nil, err
		}
		existing = pos
		lower, upper = pos.TickLower, pos.TickUpper
	}
	if err := p.checkTicks(lower, upper); err != nil {
		return nil, err
	}

	amountX, amountY, err := p.amountsForLiquidity(lower, upper, params.Liquidity, true)
	if err != nil {
		return nil, err
	}
	if amountX.Cmp(params.AmountXMax) > 0 || amountY.Cmp(params.AmountYMax) > 0 {
		return nil, fmt.Errorf("%w: requires %s X and %s Y", ErrInsufficientFunds, amountX, amountY)
	}

	if _, err := p.grossAfter(lower, params.Liquidity); err != nil {
		return nil, err
	}
	if _, err := p.grossAfter(upper, params.Liquidity); err != nil {
		return nil, err
	}
	active := new(big.Int).Set(p.liquidity)
	if p.inRange(lower, upper) {
		if err := liquiditymath.AddDelta(active, active, params.Liquidity); err != nil {
			return nil, err
		}
	}

	var pending settlement
	if existing != nil {
		if pending, err = p.settle(existing); err != nil {
			return nil, err
		}
	}

	// validated; commit
	if _, err := p.ticks.Update(lower, p.tick, params.Liquidity, false, p.feeGrowthGlobalX, p.feeGrowthGlobalY); err != nil {
		return nil, err
	}
	if _, err := p.ticks.Update(upper, p.tick, params.Liquidity, true, p.feeGrowthGlobalX, p.feeGrowthGlobalY); err != nil {
		return nil, err
	}
	p.liquidity.Set(active)
	p.reserveX.Add(p.reserveX, amountX)
	p.reserveY.Add(p.reserveY, amountY)

	pos := existing
	if pos == nil {
		insideX, insideY := p.ticks.FeeGrowthInside(lower, upper, p.tick, p.feeGrowthGlobalX, p.feeGrowthGlobalY)
		pos = &Position{
			ID:                   uuid.New(),
			Owner:                params.Owner,
			TickLower:            lower,
			TickUpper:            upper,
			Liquidity:            new(big.Int),
			FeeGrowthInsideLastX: insideX,
			FeeGrowthInsideLastY: insideY,
			FeesOwedX:            new(big.Int),
			FeesOwedY:            new(big.Int),
		}
		p.positions[pos.ID] = pos
	} else {
		pending.apply(pos)
	}
	pos.Liquidity.Add(pos.Liquidity, params.Liquidity)

	return &AddLiquidityResult{
		Position: pos.copy(),
		AmountX:  amountX,
		AmountY:  amountY,
	}, nil
}

// RemoveLiquidity withdraws liquidity from a position. Owed fees are settled before the
// liquidity changes and paid out in full together with the principal, which is rounded
// down. The position is deleted once its liquidity reaches zero.
func (p *Pool) RemoveLiquidity(owner common.Address, id uuid.UUID, liquidity *big.Int) (*RemoveLiquidityResult, error) {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: liquidity must be positive", ErrInvalidAmount)
	}
	pos, err := p.ownedPosition(owner, id)
	if err != nil {
		return nil, err
	}
	if liquidity.Cmp(pos.Liquidity) > 0 {
		return nil, fmt.Errorf("%w: position holds %s, requested %s", ErrInsufficientLiquidity, pos.Liquidity, liquidity)
	}

	s, err := p.settle(pos)
	if err != nil {
		return nil, err
	}

	amountX, amountY, err := p.amountsForLiquidity(pos.TickLower, pos.TickUpper, liquidity, false)
	if err != nil {
		return nil, err
	}
	if amountX.Cmp(p.reserveX) > 0 || amountY.Cmp(p.reserveY) > 0 {
		return nil, fmt.Errorf("%w: withdrawal of %s X, %s Y", ErrInsufficientReserves, amountX, amountY)
	}
	if s.owedX.Cmp(p.lpFeesX) > 0 || s.owedY.Cmp(p.lpFeesY) > 0 {
		return nil, fmt.Errorf("%w: fee payout of %s X, %s Y", ErrInsufficientReserves, s.owedX, s.owedY)
	}

	negative := new(big.Int).Neg(liquidity)
	if _, err := p.grossAfter(pos.TickLower, negative); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
	if _, err := p.grossAfter(pos.TickUpper, negative); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
	active := new(big.Int).Set(p.liquidity)
	if p.inRange(pos.TickLower, pos.TickUpper) {
		if err := liquiditymath.AddDelta(active, active, negative); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLiquidityUnderflow, err)
		}
	}

	// validated; commit
	s.apply(pos)
	if _, err := p.ticks.Update(pos.TickLower, p.tick, negative, false, p.feeGrowthGlobalX, p.feeGrowthGlobalY); err != nil {
		return nil, err
	}
	if _, err := p.ticks.Update(pos.TickUpper, p.tick, negative, true, p.feeGrowthGlobalX, p.feeGrowthGlobalY); err != nil {
		return nil, err
	}
	p.liquidity.Set(active)
	p.reserveX.Sub(p.reserveX, amountX)
	p.reserveY.Sub(p.reserveY, amountY)

	feesX, feesY := p.payFees(pos)
	pos.Liquidity.Sub(pos.Liquidity, liquidity)

	closed := pos.Liquidity.Sign() == 0
	if closed {
		delete(p.positions, pos.ID)
	}

	return &RemoveLiquidityResult{
		Position: pos.copy(),
		AmountX:  amountX,
		AmountY:  amountY,
		FeesX:    feesX,
		FeesY:    feesY,
		Closed:   closed,
	}, nil
}

// ClaimFees settles a position and pays out everything it is owed.
func (p *Pool) ClaimFees(owner common.Address, id uuid.UUID) (x, y *big.Int, err error) {
	pos, err := p.ownedPosition(owner, id)
	if err != nil {
		return nil, nil, err
	}
	s, err := p.settle(pos)
	if err != nil {
		return nil, nil, err
	}
	if s.owedX.Cmp(p.lpFeesX) > 0 || s.owedY.Cmp(p.lpFeesY) > 0 {
		return nil, nil, fmt.Errorf("%w: fee payout of %s X, %s Y", ErrInsufficientReserves, s.owedX, s.owedY)
	}

	s.apply(pos)
	x, y = p.payFees(pos)
	return x, y, nil
}

func (p *Pool) payFees(pos *Position) (x, y *big.Int) {
	x = new(big.Int).Set(pos.FeesOwedX)
	y = new(big.Int).Set(pos.FeesOwedY)
	p.lpFeesX.Sub(p.lpFeesX, x)
	p.lpFeesY.Sub(p.lpFeesY, y)
	pos.FeesOwedX.SetInt64(0)
	pos.FeesOwedY.SetInt64(0)
	return x, y
}

// Positions returns copies of every open position.
func (p *Pool) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.copy())
	}
	return out
}
