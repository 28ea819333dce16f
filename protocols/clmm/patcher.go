package clmm

import "sort"

// Patcher builds the next snapshot of CLMM pools by applying a diff to the previous one.
// The result shares no memory with either input and is ordered by pool ID.
func Patcher(prevState []PoolView, diff SystemDiff) ([]PoolView, error) {
	newStateMap := make(map[uint64]PoolView, len(prevState))
	for _, pool := range prevState {
		newStateMap[pool.ID] = deepCopyView(pool)
	}

	for _, id := range diff.Deletions {
		delete(newStateMap, id)
	}

	for _, updated := range diff.Updates {
		newStateMap[updated.ID] = deepCopyView(updated)
	}

	for _, added := range diff.Additions {
		newStateMap[added.ID] = deepCopyView(added)
	}

	finalState := make([]PoolView, 0, len(newStateMap))
	for _, pool := range newStateMap {
		finalState = append(finalState, pool)
	}
	sort.Slice(finalState, func(i, j int) bool { return finalState[i].ID < finalState[j].ID })

	return finalState, nil
}
