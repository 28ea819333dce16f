package poolregistry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// Schema identifies the PoolRegistry data contract in published state.
const Schema = "defistate/clmm/poolRegistry@v1"

var ErrPoolAlreadyExists = errors.New("pool already exists")

// PoolKey identifies a pool by its unordered asset pair and fee tier.
// Asset0 is always the lower address.
type PoolKey struct {
	Asset0  common.Address `json:"asset0"`
	Asset1  common.Address `json:"asset1"`
	FeeRate uint32         `json:"feeRate"`
}

// NewPoolKey builds the key for a pair in either order.
func NewPoolKey(a, b common.Address, feeRate uint32) PoolKey {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return PoolKey{Asset0: a, Asset1: b, FeeRate: feeRate}
}

// Address derives the pool's address: the last 20 bytes of
// blake3(asset0 || asset1 || feeRate as big-endian uint32).
func (k PoolKey) Address() common.Address {
	h := blake3.New()
	h.Write(k.Asset0.Bytes())
	h.Write(k.Asset1.Bytes())
	var fee [4]byte
	binary.BigEndian.PutUint32(fee[:], k.FeeRate)
	h.Write(fee[:])

	var sum [32]byte
	h.Digest().Read(sum[:])
	return common.BytesToAddress(sum[12:])
}

// Pool is one registry entry. AssetX and AssetY keep the orientation the pool
// was created with.
type Pool struct {
	ID          uint64         `json:"id"`
	Address     common.Address `json:"address"`
	AssetX      common.Address `json:"assetX"`
	AssetY      common.Address `json:"assetY"`
	FeeRate     uint32         `json:"feeRate"`
	TickSpacing int64          `json:"tickSpacing"`
}

// Key returns the pool's registry key.
func (p Pool) Key() PoolKey {
	return NewPoolKey(p.AssetX, p.AssetY, p.FeeRate)
}

// PoolRegistry represents the complete state of the registry, ordered by pool ID.
type PoolRegistry struct {
	Pools []Pool `json:"pools"`
}

// registry is the unsynchronized catalog behind System.
type registry struct {
	pools   map[uint64]Pool
	byKey   map[PoolKey]uint64
	byAsset map[common.Address][]uint64
	nextID  uint64
}

func newRegistry() *registry {
	return &registry{
		pools:   make(map[uint64]Pool),
		byKey:   make(map[PoolKey]uint64),
		byAsset: make(map[common.Address][]uint64),
		nextID:  1,
	}
}

func newRegistryFromView(view *PoolRegistry) *registry {
	r := newRegistry()
	if view == nil {
		return r
	}
	for _, p := range view.Pools {
		r.insert(p)
	}
	return r
}

// reserve validates a new entry and assigns the next ID without recording it.
func (r *registry) reserve(assetX, assetY common.Address, feeRate uint32, tickSpacing int64) (Pool, error) {
	key := NewPoolKey(assetX, assetY, feeRate)
	if id, exists := r.byKey[key]; exists {
		return Pool{}, fmt.Errorf("%w: pool %d trades %s/%s at fee %d", ErrPoolAlreadyExists, id, key.Asset0.Hex(), key.Asset1.Hex(), feeRate)
	}
	return Pool{
		ID:          r.nextID,
		Address:     key.Address(),
		AssetX:      assetX,
		AssetY:      assetY,
		FeeRate:     feeRate,
		TickSpacing: tickSpacing,
	}, nil
}

func (r *registry) insert(p Pool) {
	r.pools[p.ID] = p
	r.byKey[p.Key()] = p.ID
	r.byAsset[p.AssetX] = append(r.byAsset[p.AssetX], p.ID)
	r.byAsset[p.AssetY] = append(r.byAsset[p.AssetY], p.ID)
	if p.ID >= r.nextID {
		r.nextID = p.ID + 1
	}
}

func (r *registry) poolsForAsset(asset common.Address) []uint64 {
	ids := r.byAsset[asset]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

func (r *registry) view() *PoolRegistry {
	pools := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return &PoolRegistry{Pools: pools}
}
