package poolregistry

import (
	"fmt"
	"slices"
)

// Patcher constructs a new registry state by applying a diff to a previous state.
// Both the previous pools and the additions must be ordered by ID.
func Patcher(prevState PoolRegistry, diff PoolRegistryDiff) (PoolRegistry, error) {
	deleted := make(map[uint64]struct{}, len(diff.PoolDeletions))
	for _, id := range diff.PoolDeletions {
		deleted[id] = struct{}{}
	}

	pools := make([]Pool, 0, len(prevState.Pools)+len(diff.PoolAdditions))
	prev, added := prevState.Pools, diff.PoolAdditions
	for len(prev) > 0 || len(added) > 0 {
		if len(added) == 0 || (len(prev) > 0 && prev[0].ID < added[0].ID) {
			if _, gone := deleted[prev[0].ID]; !gone {
				pools = append(pools, prev[0])
			}
			prev = prev[1:]
			continue
		}
		if len(prev) > 0 && prev[0].ID == added[0].ID {
			if _, gone := deleted[prev[0].ID]; gone {
				prev = prev[1:]
				continue
			}
			return PoolRegistry{}, fmt.Errorf("pool %d is already registered", added[0].ID)
		}
		pools = append(pools, added[0])
		added = added[1:]
	}

	if !slices.IsSortedFunc(pools, func(a, b Pool) int { return compareID(a.ID, b.ID) }) {
		return PoolRegistry{}, fmt.Errorf("pool additions are not ordered by id")
	}
	return PoolRegistry{Pools: pools}, nil
}

func compareID(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
