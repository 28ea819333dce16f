package indexer

import (
	poolregistry "github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/common"
)

type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed pool registry from the full registry view.
func (i *Indexer) Index(view poolregistry.PoolRegistry) IndexedPoolRegistry {
	return NewIndexablePoolRegistry(view)
}

// IndexablePoolRegistry provides fast, indexed access to pool registry data.
type IndexablePoolRegistry struct {
	byID      map[uint64]poolregistry.Pool
	byAddress map[common.Address]poolregistry.Pool
	byKey     map[poolregistry.PoolKey]poolregistry.Pool
	byAsset   map[common.Address][]poolregistry.Pool
	all       []poolregistry.Pool
}

// NewIndexablePoolRegistry creates a new indexed pool registry from the view.
func NewIndexablePoolRegistry(view poolregistry.PoolRegistry) *IndexablePoolRegistry {
	pools := view.Pools
	byID := make(map[uint64]poolregistry.Pool, len(pools))
	byAddress := make(map[common.Address]poolregistry.Pool, len(pools))
	byKey := make(map[poolregistry.PoolKey]poolregistry.Pool, len(pools))
	byAsset := make(map[common.Address][]poolregistry.Pool)

	for _, p := range pools {
		byID[p.ID] = p
		byAddress[p.Address] = p
		byKey[p.Key()] = p
		byAsset[p.AssetX] = append(byAsset[p.AssetX], p)
		byAsset[p.AssetY] = append(byAsset[p.AssetY], p)
	}

	return &IndexablePoolRegistry{
		byID:      byID,
		byAddress: byAddress,
		byKey:     byKey,
		byAsset:   byAsset,
		all:       pools,
	}
}

// GetByID retrieves a pool by its unique ID.
func (ipr *IndexablePoolRegistry) GetByID(id uint64) (poolregistry.Pool, bool) {
	p, ok := ipr.byID[id]
	return p, ok
}

// GetByAddress retrieves a pool by its derived address.
func (ipr *IndexablePoolRegistry) GetByAddress(address common.Address) (poolregistry.Pool, bool) {
	p, ok := ipr.byAddress[address]
	return p, ok
}

// GetByPoolKey retrieves a pool by its pair and fee tier.
func (ipr *IndexablePoolRegistry) GetByPoolKey(key poolregistry.PoolKey) (poolregistry.Pool, bool) {
	p, ok := ipr.byKey[key]
	return p, ok
}

// PoolsForAsset returns a copy of the pools trading the asset.
func (ipr *IndexablePoolRegistry) PoolsForAsset(asset common.Address) []poolregistry.Pool {
	pools := ipr.byAsset[asset]
	out := make([]poolregistry.Pool, len(pools))
	copy(out, pools)
	return out
}

// All returns a copy of every pool, ordered by ID.
func (ipr *IndexablePoolRegistry) All() []poolregistry.Pool {
	allCopy := make([]poolregistry.Pool, len(ipr.all))
	copy(allCopy, ipr.all)
	return allCopy
}
