package identitytree

import (
	"sort"

	"github.com/eth2030/idtree-core/hash"
)

// UpdateKind distinguishes insertion from deletion within a LeafUpdates
// batch.
type UpdateKind int

const (
	// Insert writes the given value at each listed leaf index.
	Insert UpdateKind = iota
	// Delete zeroes each listed leaf index; the map's values are the
	// leaves' prior contents, used to drop them from the leaf-hash index.
	Delete
)

// LeafUpdates is a single batch of same-kind leaf writes, keyed by leaf
// index.
type LeafUpdates struct {
	Kind   UpdateKind
	Leaves map[uint64]hash.Hash
}

// valueFor returns the value update should write to the tree for leafIndex.
func (u LeafUpdates) valueFor(leafIndex uint64) hash.Hash {
	if u.Kind == Delete {
		return hash.Zero
	}
	return u.Leaves[leafIndex]
}

// LeafUpdate is a single resolved (leaf index, final value) pair, as
// produced by FlattenLeafUpdates.
type LeafUpdate struct {
	LeafIndex uint64
	Value     hash.Hash
}

// FlattenLeafUpdates collapses a chronological sequence of LeafUpdates
// batches into the final value each touched leaf should hold, applying
// last-writer-wins per leaf index (the last batch in updates takes
// precedence over earlier ones for any leaf both touch), and returns the
// result sorted ascending by leaf index.
func FlattenLeafUpdates(updates []LeafUpdates) []LeafUpdate {
	seen := make(map[uint64]hash.Hash)
	resolved := make(map[uint64]bool)
	for i := len(updates) - 1; i >= 0; i-- {
		batch := updates[i]
		for leafIndex := range batch.Leaves {
			if resolved[leafIndex] {
				continue
			}
			seen[leafIndex] = batch.valueFor(leafIndex)
			resolved[leafIndex] = true
		}
	}

	out := make([]LeafUpdate, 0, len(seen))
	for leafIndex, value := range seen {
		out = append(out, LeafUpdate{LeafIndex: leafIndex, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeafIndex < out[j].LeafIndex })
	return out
}
