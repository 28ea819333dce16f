package exchange

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AuthorityCap grants the right to sweep platform fees. Exactly one is issued, by New;
// a cap built any other way is rejected.
type AuthorityCap struct {
	id uuid.UUID
}

// FeeReceiver takes delivery of swept platform fees.
type FeeReceiver interface {
	// Name identifies the receiver in events and logs.
	Name() string
	// ReceivePlatformFees is called before the sweep commits. An error aborts the
	// sweep and the fees stay in the pool.
	ReceivePlatformFees(ctx context.Context, poolID uint64, assetX, assetY common.Address, amountX, amountY *big.Int) error
}

// AddressReceiver credits swept fees to a fixed treasury address and keeps running
// totals per asset.
type AddressReceiver struct {
	Address common.Address

	mu     sync.Mutex
	totals map[common.Address]*big.Int
}

func NewAddressReceiver(addr common.Address) *AddressReceiver {
	return &AddressReceiver{
		Address: addr,
		totals:  make(map[common.Address]*big.Int),
	}
}

func (r *AddressReceiver) Name() string {
	return r.Address.Hex()
}

func (r *AddressReceiver) ReceivePlatformFees(ctx context.Context, _ uint64, assetX, assetY common.Address, amountX, amountY *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credit(assetX, amountX)
	r.credit(assetY, amountY)
	return nil
}

func (r *AddressReceiver) credit(asset common.Address, amount *big.Int) {
	total, ok := r.totals[asset]
	if !ok {
		total = new(big.Int)
		r.totals[asset] = total
	}
	total.Add(total, amount)
}

// Total returns everything credited so far in the asset.
func (r *AddressReceiver) Total(asset common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total, ok := r.totals[asset]; ok {
		return new(big.Int).Set(total)
	}
	return new(big.Int)
}
