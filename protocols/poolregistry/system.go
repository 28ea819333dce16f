package poolregistry

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// System provides a concurrency-safe layer over the pool catalog.
// It uses a sync.RWMutex for writes and an atomic.Pointer for lock-free reads of the view.
type System struct {
	mu         sync.RWMutex
	registry   *registry
	cachedView atomic.Pointer[PoolRegistry]
}

// NewSystem creates an empty registry.
func NewSystem() *System {
	s := &System{registry: newRegistry()}
	s.cachedView.Store(s.registry.view())
	return s
}

// NewSystemFromView restores a registry from a snapshot. New IDs continue after the
// highest ID in the view.
func NewSystemFromView(view *PoolRegistry) *System {
	s := &System{registry: newRegistryFromView(view)}
	s.cachedView.Store(s.registry.view())
	return s
}

// updateCachedView MUST be called from within a write lock.
func (s *System) updateCachedView() {
	s.cachedView.Store(s.registry.view())
}

// Register adds a pool for the pair and fee tier, rejecting duplicates in either asset
// order. The entry, with its ID assigned, is handed to build while the write lock is
// held; it is recorded only if build succeeds, so pool construction and registration
// happen atomically.
func (s *System) Register(assetX, assetY common.Address, feeRate uint32, tickSpacing int64, build func(Pool) error) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.registry.reserve(assetX, assetY, feeRate, tickSpacing)
	if err != nil {
		return Pool{}, err
	}
	if build != nil {
		if err := build(entry); err != nil {
			return Pool{}, err
		}
	}
	s.registry.insert(entry)
	s.updateCachedView()
	return entry, nil
}

// Get returns the entry for a pool ID.
func (s *System) Get(id uint64) (Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.registry.pools[id]
	return p, ok
}

// Lookup finds the pool for a pair and fee tier, in either asset order.
func (s *System) Lookup(a, b common.Address, feeRate uint32) (Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.registry.byKey[NewPoolKey(a, b, feeRate)]
	if !ok {
		return Pool{}, false
	}
	return s.registry.pools[id], true
}

// PoolsForAsset returns the IDs of every pool trading the asset, in creation order.
func (s *System) PoolsForAsset(asset common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.poolsForAsset(asset)
}

// View returns a copy of the cached snapshot. It never blocks on writers.
func (s *System) View() *PoolRegistry {
	cached := s.cachedView.Load()
	if cached == nil {
		return &PoolRegistry{}
	}
	pools := make([]Pool, len(cached.Pools))
	copy(pools, cached.Pools)
	return &PoolRegistry{Pools: pools}
}
