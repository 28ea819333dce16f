package clmm

import "errors"

// Validation failures. These are returned before any state is touched.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidTickRange   = errors.New("invalid tick range")
	ErrTickMisaligned     = errors.New("tick not aligned to tick spacing")
	ErrTickOutOfBounds    = errors.New("tick out of bounds")
	ErrUnsupportedFeeTier = errors.New("unsupported fee tier")
	ErrInvalidTickSpacing = errors.New("invalid tick spacing")
	ErrIdenticalAssets    = errors.New("identical assets")
	ErrInvalidSqrtPrice   = errors.New("invalid sqrt price")
)

// State failures. The operation is aborted and nothing is committed.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientReserves  = errors.New("insufficient reserves")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrSlippageExceeded      = errors.New("output below minimum")
	ErrNonMonotonicTime      = errors.New("timestamp earlier than last update")
	ErrLiquidityUnderflow    = errors.New("active liquidity underflow")
	ErrInvariantViolated     = errors.New("pool invariant violated")
)

// Lookup failures.
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrNotPositionOwner = errors.New("caller does not own position")
)
