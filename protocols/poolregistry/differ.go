package poolregistry

// PoolRegistryDiff represents the changes required to transition from one registry state to another.
// Entries are immutable once registered, so there are no updates.
type PoolRegistryDiff struct {
	PoolAdditions []Pool   `json:"poolAdditions,omitempty"`
	PoolDeletions []uint64 `json:"poolDeletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d PoolRegistryDiff) IsEmpty() bool {
	return len(d.PoolAdditions) == 0 && len(d.PoolDeletions) == 0
}

// Differ walks two registry views ordered by pool ID (Old -> New) and reports the
// entries only one side holds. The result is ordered by ID.
func Differ(old, new PoolRegistry) PoolRegistryDiff {
	var diff PoolRegistryDiff
	i, j := 0, 0
	for i < len(old.Pools) || j < len(new.Pools) {
		switch {
		case j == len(new.Pools):
			diff.PoolDeletions = append(diff.PoolDeletions, old.Pools[i].ID)
			i++
		case i == len(old.Pools):
			diff.PoolAdditions = append(diff.PoolAdditions, new.Pools[j])
			j++
		case old.Pools[i].ID < new.Pools[j].ID:
			diff.PoolDeletions = append(diff.PoolDeletions, old.Pools[i].ID)
			i++
		case old.Pools[i].ID > new.Pools[j].ID:
			diff.PoolAdditions = append(diff.PoolAdditions, new.Pools[j])
			j++
		default:
			i++
			j++
		}
	}
	return diff
}
