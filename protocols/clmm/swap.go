package clmm

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/pricemath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/swapmath"
)

// SwapParams describes an exact-input trade.
type SwapParams struct {
	AmountIn *big.Int
	// XToY sells asset X for asset Y when true and Y for X otherwise.
	XToY bool
	// MinAmountOut is the slippage bound; nil means zero.
	MinAmountOut *big.Int
	// Now stamps the rolling volume window and must not go backwards.
	Now time.Time
}

// SwapResult is the outcome of a trade.
type SwapResult struct {
	AmountIn    *big.Int
	AmountOut   *big.Int
	Fee         *big.Int
	PlatformFee *big.Int
	LPFee       *big.Int

	SqrtPriceX96 *big.Int
	Tick         int64
	Liquidity    *big.Int
	TicksCrossed int
}

// crossing records a tick the trade moved through together with the global fee growth
// at that moment. The outside-growth flip is applied only when the trade commits.
type crossing struct {
	tick             int64
	feeGrowthGlobalX *big.Int
	feeGrowthGlobalY *big.Int
}

// swapState holds the working values of the stepping loop.
type swapState struct {
	remaining   *big.Int
	amountOut   *big.Int
	sqrtPrice   *big.Int
	tick        int64
	liquidity   *big.Int
	feeGrowth   *big.Int // global growth of the input asset
	lpAllocated *big.Int

	// per-step scratch
	target    *big.Int
	nextPrice *big.Int
	stepIn    *big.Int
	stepOut   *big.Int
	share     *big.Int
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			remaining:   new(big.Int),
			amountOut:   new(big.Int),
			sqrtPrice:   new(big.Int),
			liquidity:   new(big.Int),
			feeGrowth:   new(big.Int),
			lpAllocated: new(big.Int),
			target:      new(big.Int),
			nextPrice:   new(big.Int),
			stepIn:      new(big.Int),
			stepOut:     new(big.Int),
			share:       new(big.Int),
		}
	},
}

// swapOutcome is everything a trade would change, computed without touching the pool.
type swapOutcome struct {
	result    SwapResult
	netIn     *big.Int
	feeGrowth *big.Int
	crossings []crossing
}

// Quote runs the swap without committing anything. The slippage bound and reserve
// checks are applied exactly as Swap would.
func (p *Pool) Quote(params SwapParams) (*SwapResult, error) {
	out, err := p.simulate(params)
	if err != nil {
		return nil, err
	}
	return &out.result, nil
}

// Swap fills an exact-input trade against the pool.
//
// The fee is skimmed from the input first. The remaining input is then stepped through
// the price segments between initialized ticks until it is used up, crossing every tick
// that is fully traversed. Nothing is committed unless the whole input is absorbed, the
// output meets the slippage bound and the output reserve covers it.
func (p *Pool) Swap(params SwapParams) (*SwapResult, error) {
	out, err := p.simulate(params)
	if err != nil {
		return nil, err
	}
	p.commitSwap(params, out)
	return &out.result, nil
}

func (p *Pool) simulate(params SwapParams) (*swapOutcome, error) {
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in must be positive", ErrInvalidAmount)
	}
	minOut := params.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	if minOut.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative minimum output", ErrInvalidAmount)
	}
	if err := p.window.check(params.Now); err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(params.AmountIn, big.NewInt(int64(p.feeRate)))
	fee.Div(fee, feeDenominator)
	netIn := new(big.Int).Sub(params.AmountIn, fee)
	if netIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing left after the %s fee", ErrInvalidAmount, fee)
	}
	platformFee := new(big.Int).Mul(fee, big.NewInt(PlatformFeePercent))
	platformFee.Div(platformFee, big.NewInt(100))
	lpFee := new(big.Int).Sub(fee, platformFee)

	st := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(st)

	st.remaining.Set(netIn)
	st.amountOut.SetInt64(0)
	st.sqrtPrice.Set(p.sqrtPriceX96)
	st.tick = p.tick
	st.liquidity.Set(p.liquidity)
	st.lpAllocated.SetInt64(0)
	if params.XToY {
		st.feeGrowth.Set(p.feeGrowthGlobalX)
	} else {
		st.feeGrowth.Set(p.feeGrowthGlobalY)
	}

	var crossings []crossing
	for st.remaining.Sign() > 0 {
		if (params.XToY && st.sqrtPrice.Cmp(pricemath.MinSqrtPrice) <= 0) ||
			(!params.XToY && st.sqrtPrice.Cmp(pricemath.MaxSqrtPrice) >= 0) {
			break
		}

		next, initialized := p.ticks.NextInitialized(st.tick, params.XToY)
		if err := pricemath.SqrtPriceAtTick(st.target, next); err != nil {
			return nil, err
		}

		reached, err := swapmath.ComputeSwapStep(st.nextPrice, st.stepIn, st.stepOut, st.sqrtPrice, st.target, st.liquidity, st.remaining)
		if err != nil {
			return nil, err
		}
		st.remaining.Sub(st.remaining, st.stepIn)
		st.amountOut.Add(st.amountOut, st.stepOut)

		// The LP fee is attributed to the liquidity that absorbed each step, in
		// proportion to the input it absorbed. The last step takes the rounding remainder.
		if st.stepIn.Sign() > 0 && st.liquidity.Sign() > 0 {
			if st.remaining.Sign() == 0 {
				st.share.Sub(lpFee, st.lpAllocated)
			} else {
				st.share.Mul(lpFee, st.stepIn)
				st.share.Div(st.share, netIn)
			}
			st.lpAllocated.Add(st.lpAllocated, st.share)
			st.share.Lsh(st.share, 128)
			st.share.Div(st.share, st.liquidity)
			st.feeGrowth.Add(st.feeGrowth, st.share)
		}

		moved := st.nextPrice.Cmp(st.sqrtPrice) != 0
		st.sqrtPrice.Set(st.nextPrice)
		if !reached {
			// A price resting on a tick crossed from above keeps the tick below it;
			// only a step that moved the price may re-derive the tick.
			if moved {
				tick, err := pricemath.TickAtSqrtPrice(st.sqrtPrice)
				if err != nil {
					return nil, err
				}
				st.tick = tick
			}
			continue
		}

		if initialized {
			rec, _ := p.ticks.Get(next)
			delta := new(big.Int).Set(rec.LiquidityNet)
			if params.XToY {
				delta.Neg(delta)
			}
			if err := liquiditymath.AddDelta(st.liquidity, st.liquidity, delta); err != nil {
				return nil, fmt.Errorf("%w: crossing tick %d: %v", ErrLiquidityUnderflow, next, err)
			}

			c := crossing{tick: next}
			if params.XToY {
				c.feeGrowthGlobalX = new(big.Int).Set(st.feeGrowth)
				c.feeGrowthGlobalY = p.feeGrowthGlobalY
			} else {
				c.feeGrowthGlobalX = p.feeGrowthGlobalX
				c.feeGrowthGlobalY = new(big.Int).Set(st.feeGrowth)
			}
			crossings = append(crossings, c)
		}

		if params.XToY && next > pricemath.MinTick {
			// on the tick price coming from above, the pool sits in the tick below
			st.tick = next - 1
		} else {
			st.tick = next
		}
	}

	if st.remaining.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s of %s input left unfilled", ErrInsufficientLiquidity, st.remaining, netIn)
	}
	if st.amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, st.amountOut, minOut)
	}
	reserveOut := p.reserveY
	if !params.XToY {
		reserveOut = p.reserveX
	}
	if st.amountOut.Cmp(reserveOut) > 0 {
		return nil, fmt.Errorf("%w: output %s exceeds reserve %s", ErrInsufficientReserves, st.amountOut, reserveOut)
	}

	return &swapOutcome{
		result: SwapResult{
			AmountIn:     new(big.Int).Set(params.AmountIn),
			AmountOut:    new(big.Int).Set(st.amountOut),
			Fee:          fee,
			PlatformFee:  platformFee,
			LPFee:        lpFee,
			SqrtPriceX96: new(big.Int).Set(st.sqrtPrice),
			Tick:         st.tick,
			Liquidity:    new(big.Int).Set(st.liquidity),
			TicksCrossed: len(crossings),
		},
		netIn:     netIn,
		feeGrowth: new(big.Int).Set(st.feeGrowth),
		crossings: crossings,
	}, nil
}

func (p *Pool) commitSwap(params SwapParams, out *swapOutcome) {
	r := out.result

	p.sqrtPriceX96.Set(r.SqrtPriceX96)
	p.tick = r.Tick
	p.liquidity.Set(r.Liquidity)

	for _, c := range out.crossings {
		p.ticks.Cross(c.tick, c.feeGrowthGlobalX, c.feeGrowthGlobalY)
	}

	if params.XToY {
		p.feeGrowthGlobalX.Set(out.feeGrowth)
		p.reserveX.Add(p.reserveX, out.netIn)
		p.reserveY.Sub(p.reserveY, r.AmountOut)
		p.lpFeesX.Add(p.lpFeesX, r.LPFee)
		p.platformFeesX.Add(p.platformFeesX, r.PlatformFee)
	} else {
		p.feeGrowthGlobalY.Set(out.feeGrowth)
		p.reserveY.Add(p.reserveY, out.netIn)
		p.reserveX.Sub(p.reserveX, r.AmountOut)
		p.lpFeesY.Add(p.lpFeesY, r.LPFee)
		p.platformFeesY.Add(p.platformFeesY, r.PlatformFee)
	}

	p.window.record(params.Now, params.XToY, params.AmountIn, r.Fee)
}
