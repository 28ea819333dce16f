package events

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type names an exchange event.
type Type string

const (
	TypePoolCreated       Type = "pool_created"
	TypeLiquidityAdded    Type = "liquidity_added"
	TypeLiquidityRemoved  Type = "liquidity_removed"
	TypeSwap              Type = "swap"
	TypeFeesClaimed       Type = "fees_claimed"
	TypePlatformFeesSwept Type = "platform_fees_swept"
)

// Event is the envelope every committed operation is published in. Sequence is
// assigned by the Bus and is strictly increasing.
type Event struct {
	Sequence  uint64          `json:"sequence"`
	Type      Type            `json:"type"`
	PoolID    uint64          `json:"poolId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New wraps a payload in an envelope.
func New(typ Type, poolID uint64, ts time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Event{Type: typ, PoolID: poolID, Timestamp: ts, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type PoolCreated struct {
	Address      common.Address `json:"address"`
	AssetX       common.Address `json:"assetX"`
	AssetY       common.Address `json:"assetY"`
	FeeRate      uint32         `json:"feeRate"`
	TickSpacing  int64          `json:"tickSpacing"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Tick         int64          `json:"tick"`
}

type LiquidityAdded struct {
	PositionID uuid.UUID      `json:"positionId"`
	Owner      common.Address `json:"owner"`
	TickLower  int64          `json:"tickLower"`
	TickUpper  int64          `json:"tickUpper"`
	Liquidity  *big.Int       `json:"liquidity"`
	AmountX    *big.Int       `json:"amountX"`
	AmountY    *big.Int       `json:"amountY"`
}

type LiquidityRemoved struct {
	PositionID uuid.UUID      `json:"positionId"`
	Owner      common.Address `json:"owner"`
	Liquidity  *big.Int       `json:"liquidity"`
	AmountX    *big.Int       `json:"amountX"`
	AmountY    *big.Int       `json:"amountY"`
	FeesX      *big.Int       `json:"feesX"`
	FeesY      *big.Int       `json:"feesY"`
	Closed     bool           `json:"closed"`
}

type Swap struct {
	Trader       common.Address `json:"trader"`
	XToY         bool           `json:"xToY"`
	AmountIn     *big.Int       `json:"amountIn"`
	AmountOut    *big.Int       `json:"amountOut"`
	Fee          *big.Int       `json:"fee"`
	PlatformFee  *big.Int       `json:"platformFee"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Tick         int64          `json:"tick"`
	Liquidity    *big.Int       `json:"liquidity"`
	TicksCrossed int            `json:"ticksCrossed"`
}

type FeesClaimed struct {
	PositionID uuid.UUID      `json:"positionId"`
	Owner      common.Address `json:"owner"`
	AmountX    *big.Int       `json:"amountX"`
	AmountY    *big.Int       `json:"amountY"`
}

type PlatformFeesSwept struct {
	Receiver string   `json:"receiver"`
	AmountX  *big.Int `json:"amountX"`
	AmountY  *big.Int `json:"amountY"`
}
