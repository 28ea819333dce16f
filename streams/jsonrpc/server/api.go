package server

import (
	"context"
	"math/big"

	"github.com/defistate/defistate-clmm-go/exchange"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchange is the operation surface served under the clmm namespace.
type Exchange interface {
	CreatePool(ctx context.Context, params exchange.CreatePoolParams) (poolregistry.Pool, error)
	Swap(ctx context.Context, params exchange.SwapParams) (*clmm.SwapResult, error)
	Quote(ctx context.Context, params exchange.SwapParams) (*clmm.SwapResult, error)
	AddLiquidity(ctx context.Context, params exchange.AddLiquidityParams) (*clmm.AddLiquidityResult, error)
	RemoveLiquidity(ctx context.Context, params exchange.RemoveLiquidityParams) (*clmm.RemoveLiquidityResult, error)
	ClaimFees(ctx context.Context, params exchange.ClaimFeesParams) (*exchange.ClaimFeesResult, error)
	Pool(id uint64) (clmm.PoolView, error)
	Pools() []clmm.PoolView
	Position(poolID uint64, id uuid.UUID) (clmm.Position, error)
	PendingFees(poolID uint64, owner common.Address, id uuid.UUID) (x, y *big.Int, err error)
	SpotPrice(id uint64) (decimal.Decimal, error)
	Registry() exchange.RegistryReader
}

// PublicAPI is registered under the "clmm" namespace.
type PublicAPI struct {
	exchange Exchange
	streamer *Streamer
	logger   Logger
}

func NewPublicAPI(ex Exchange, streamer *Streamer, logger Logger) *PublicAPI {
	return &PublicAPI{exchange: ex, streamer: streamer, logger: logger}
}

func (api *PublicAPI) CreatePool(ctx context.Context, params exchange.CreatePoolParams) (poolregistry.Pool, error) {
	return api.exchange.CreatePool(ctx, params)
}

func (api *PublicAPI) Swap(ctx context.Context, params exchange.SwapParams) (*clmm.SwapResult, error) {
	return api.exchange.Swap(ctx, params)
}

func (api *PublicAPI) Quote(ctx context.Context, params exchange.SwapParams) (*clmm.SwapResult, error) {
	return api.exchange.Quote(ctx, params)
}

func (api *PublicAPI) AddLiquidity(ctx context.Context, params exchange.AddLiquidityParams) (*clmm.AddLiquidityResult, error) {
	return api.exchange.AddLiquidity(ctx, params)
}

func (api *PublicAPI) RemoveLiquidity(ctx context.Context, params exchange.RemoveLiquidityParams) (*clmm.RemoveLiquidityResult, error) {
	return api.exchange.RemoveLiquidity(ctx, params)
}

func (api *PublicAPI) ClaimFees(ctx context.Context, params exchange.ClaimFeesParams) (*exchange.ClaimFeesResult, error) {
	return api.exchange.ClaimFees(ctx, params)
}

func (api *PublicAPI) Pool(id uint64) (clmm.PoolView, error) {
	return api.exchange.Pool(id)
}

func (api *PublicAPI) Pools() []clmm.PoolView {
	return api.exchange.Pools()
}

func (api *PublicAPI) Position(poolID uint64, id uuid.UUID) (clmm.Position, error) {
	return api.exchange.Position(poolID, id)
}

type PendingFees struct {
	AmountX *big.Int `json:"amountX"`
	AmountY *big.Int `json:"amountY"`
}

func (api *PublicAPI) PendingFees(poolID uint64, owner common.Address, id uuid.UUID) (*PendingFees, error) {
	x, y, err := api.exchange.PendingFees(poolID, owner, id)
	if err != nil {
		return nil, err
	}
	return &PendingFees{AmountX: x, AmountY: y}, nil
}

// SpotPrice returns the price of asset X in asset Y as a decimal string.
func (api *PublicAPI) SpotPrice(id uint64) (string, error) {
	price, err := api.exchange.SpotPrice(id)
	if err != nil {
		return "", err
	}
	return price.String(), nil
}

func (api *PublicAPI) Registry() *poolregistry.PoolRegistry {
	return api.exchange.Registry().View()
}

// LookupPool finds the pool for a pair and fee tier in either asset order.
func (api *PublicAPI) LookupPool(a, b common.Address, feeRate uint32) (*poolregistry.Pool, error) {
	entry, ok := api.exchange.Registry().Lookup(a, b, feeRate)
	if !ok {
		return nil, exchange.ErrPoolNotFound
	}
	return &entry, nil
}

func (api *PublicAPI) PoolsForAsset(asset common.Address) []uint64 {
	return api.exchange.Registry().PoolsForAsset(asset)
}

// StateStream is served as clmm_subscribe("stateStream").
func (api *PublicAPI) StateStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	msgs, unsubscribe := api.streamer.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					// streamer shutting down
					return
				}
				if err := notifier.Notify(rpcSub.ID, msg); err != nil {
					api.logger.Warn("failed to notify subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// AdminAPI is registered under the "admin" namespace when admin access is enabled.
type AdminAPI struct {
	exchange  *exchange.Exchange
	authority *exchange.AuthorityCap
	receiver  exchange.FeeReceiver
}

func NewAdminAPI(ex *exchange.Exchange, authority *exchange.AuthorityCap, receiver exchange.FeeReceiver) *AdminAPI {
	return &AdminAPI{exchange: ex, authority: authority, receiver: receiver}
}

// SweepPlatformFees moves a pool's platform fees to the configured receiver.
func (api *AdminAPI) SweepPlatformFees(ctx context.Context, poolID uint64) (*exchange.SweepResult, error) {
	return api.exchange.SweepPlatformFees(ctx, api.authority, poolID, api.receiver)
}
