package identitytree

import (
	"errors"
	"sync"
	"time"

	"github.com/eth2030/idtree-core/hash"
	"github.com/eth2030/idtree-core/merkletree"
	"github.com/eth2030/idtree-core/metrics"
)

// ErrLeafOutOfRange is returned when a LeafUpdates batch references a leaf
// index the tree has no capacity for.
var ErrLeafOutOfRange = errors.New("identitytree: leaf index out of range")

// ErrUnknownRoot is returned by InclusionProof and GetRootByHash when asked
// about a root that is neither canonical nor present in the overlay.
var ErrUnknownRoot = errors.New("identitytree: unknown root")

// ErrUnknownLeaf is returned by InclusionProof when asked to prove a leaf
// hash that is not active in the tree (never inserted, or since deleted).
var ErrUnknownLeaf = errors.New("identitytree: unknown leaf")

// ErrLeafIndexMismatch is returned by Insert when the supplied index is not
// the next free leaf slot.
var ErrLeafIndexMismatch = errors.New("identitytree: leaf index is not the next free slot")

// NodePatch is a sparse, self-contained snapshot of the tree nodes an
// overlay root's updates touched, keyed by flat storage index. Each patch
// carries forward every entry from the immediately preceding patch that it
// did not itself recompute, so any single patch can resolve a node lookup
// without walking the whole overlay chain.
type NodePatch map[uint64]hash.Hash

type overlayEntry struct {
	root  RootDescriptor
	patch NodePatch
}

// IdentityTree is the canonical Merkle tree plus its overlay of pending
// root transitions. A single mutex serializes both the canonical tree and
// the overlay, since promoting a root touches both.
type IdentityTree struct {
	mu            sync.RWMutex
	tree          *merkletree.DynamicTree
	canonicalRoot RootDescriptor
	overlay       []overlayEntry
	byHash        map[hash.Hash]int
	leaves        map[hash.Hash]uint64
}

// New creates an IdentityTree backed by an empty canonical tree of the
// given depth.
func New(depth int) *IdentityTree {
	t := merkletree.New(depth)
	return &IdentityTree{
		tree:          t,
		canonicalRoot: RootDescriptor{Hash: t.Root(), BlockNumber: 0},
		byHash:        make(map[hash.Hash]int),
		leaves:        make(map[hash.Hash]uint64),
	}
}

// Depth returns the tree's fixed depth.
func (it *IdentityTree) Depth() int {
	return it.tree.Depth()
}

// CanonicalRoot returns the tree's current canonical root descriptor.
func (it *IdentityTree) CanonicalRoot() RootDescriptor {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.canonicalRoot
}

// NumLeaves returns the number of active non-zero leaves, counting both
// canonical leaves and leaves staged in the latest overlay patch.
func (it *IdentityTree) NumLeaves() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.leaves)
}

// PendingRoots returns the number of overlay roots not yet promoted.
func (it *IdentityTree) PendingRoots() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.overlay)
}

// latestOverlayPatchLocked returns the most recently appended overlay
// patch, or an empty patch if there is none yet. Caller must hold it.mu.
func (it *IdentityTree) latestOverlayPatchLocked() NodePatch {
	if len(it.overlay) == 0 {
		return nil
	}
	return it.overlay[len(it.overlay)-1].patch
}

// lookupNodeLocked resolves a storage index's value with patch -> prev ->
// canonical tree precedence. Caller must hold it.mu.
func (it *IdentityTree) lookupNodeLocked(patch, prev NodePatch, storageIndex uint64) hash.Hash {
	if v, ok := patch[storageIndex]; ok {
		return v
	}
	if v, ok := prev[storageIndex]; ok {
		return v
	}
	return it.tree.GetNode(storageIndex)
}

// Insert writes value directly into the canonical tree at index, bypassing
// the overlay entirely. index must equal the next free leaf slot, where the
// tree always appends; any other index is rejected with
// ErrLeafIndexMismatch.
func (it *IdentityTree) Insert(index uint64, value hash.Hash) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if index != it.tree.NumLeaves() {
		return ErrLeafIndexMismatch
	}
	if _, err := it.tree.Push(value); err != nil {
		return err
	}
	it.leaves[value] = index
	it.canonicalRoot.Hash = it.tree.Root()
	metrics.LeavesInserted.Inc()
	metrics.TreeSize.Set(int64(len(it.leaves)))
	return nil
}

// Remove erases the leaf at index from the canonical tree, bypassing the
// overlay: the leaf's current value is looked up, dropped from the
// leaf-hash index, and the tree slot is zeroed.
func (it *IdentityTree) Remove(index uint64) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	h, err := it.tree.GetLeaf(index)
	if err != nil {
		return err
	}
	delete(it.leaves, h)
	metrics.LeavesDeleted.Inc()
	metrics.TreeSize.Set(int64(len(it.leaves)))
	if err := it.tree.SetLeaf(index, hash.Zero); err != nil {
		return err
	}
	it.canonicalRoot.Hash = it.tree.Root()
	return nil
}

// AppendUpdates computes the NodePatch for root's tentative state by
// applying updates on top of the latest overlay state (or the canonical
// tree if there is no overlay yet), appends it to the overlay, and returns
// it. Every node on the path from a changed leaf to the tree root is
// recomputed at most once: a node is marked the moment it is first
// enqueued, not when it is dequeued, so two changed leaves sharing an
// ancestor never cause that ancestor to be recomputed twice.
func (it *IdentityTree) AppendUpdates(root RootDescriptor, updates LeafUpdates) (NodePatch, error) {
	start := time.Now()
	it.mu.Lock()
	defer it.mu.Unlock()

	capacity := it.tree.Capacity()
	for leafIndex := range updates.Leaves {
		if leafIndex >= capacity {
			return nil, ErrLeafOutOfRange
		}
	}

	for leafIndex, value := range updates.Leaves {
		switch {
		case updates.Kind == Delete:
			delete(it.leaves, value)
		case !value.IsZero():
			it.leaves[value] = leafIndex
		}
	}

	prevPatch := it.latestOverlayPatchLocked()
	newPatch := make(NodePatch, len(prevPatch)+len(updates.Leaves))
	for k, v := range prevPatch {
		newPatch[k] = v
	}

	depth := it.tree.Depth()
	marked := make(map[uint64]bool)
	var queue []uint64

	enqueueParent := func(n uint64) {
		if n == 0 {
			return
		}
		p := merkletree.ParentOf(n)
		if !marked[p] {
			marked[p] = true
			queue = append(queue, p)
		}
	}

	for leafIndex := range updates.Leaves {
		s := merkletree.LeafToStorage(leafIndex, depth)
		newPatch[s] = updates.valueFor(leafIndex)
		enqueueParent(s)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		left := it.lookupNodeLocked(newPatch, prevPatch, merkletree.LeftChildOf(n))
		right := it.lookupNodeLocked(newPatch, prevPatch, merkletree.RightChildOf(n))
		newPatch[n] = hash.Compress(left, right)

		enqueueParent(n)
	}

	if idx, ok := it.byHash[root.Hash]; ok {
		it.overlay[idx] = overlayEntry{root: root, patch: newPatch}
	} else {
		it.overlay = append(it.overlay, overlayEntry{root: root, patch: newPatch})
		it.byHash[root.Hash] = len(it.overlay) - 1
	}

	metrics.OverlaySize.Set(int64(len(it.overlay)))
	metrics.TreeSize.Set(int64(len(it.leaves)))
	metrics.TreeUpdateTime.ObserveSince(start)
	return newPatch, nil
}

// ApplyUpdatesToRoot promotes the overlay root matching target's hash to
// canonical: every leaf-layer entry in its patch is written into the
// canonical tree at its own leaf index (zero values clear the leaf,
// non-zero values overwrite it), and every overlay entry at or before
// target's block number is discarded.
func (it *IdentityTree) ApplyUpdatesToRoot(target RootDescriptor) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	idx, ok := it.byHash[target.Hash]
	if !ok {
		return ErrUnknownRoot
	}
	patch := it.overlay[idx].patch
	depth := it.tree.Depth()

	for storageIndex, value := range patch {
		level, _ := merkletree.StorageToCoords(storageIndex)
		if level != depth {
			continue
		}
		leafIndex := merkletree.StorageToLeaf(storageIndex, depth)
		if err := it.tree.SetLeaf(leafIndex, value); err != nil {
			return err
		}
	}

	it.canonicalRoot = it.overlay[idx].root

	kept := it.overlay[:0]
	newByHash := make(map[hash.Hash]int, len(it.overlay))
	discarded := 0
	for _, entry := range it.overlay {
		if entry.root.BlockNumber <= it.canonicalRoot.BlockNumber {
			discarded++
			continue
		}
		kept = append(kept, entry)
	}
	it.overlay = kept
	for i, entry := range it.overlay {
		newByHash[entry.root.Hash] = i
	}
	it.byHash = newByHash

	metrics.RootsPromoted.Inc()
	metrics.RootsDiscarded.Add(uint64(discarded - 1))
	metrics.OverlaySize.Set(int64(len(it.overlay)))
	return nil
}

// GetRootByHash returns the RootDescriptor matching hash h, whether it is
// the canonical root or a pending overlay root. It exploits RootDescriptor's
// hash-only equality by probing the overlay index with a synthetic
// descriptor carrying only h.
func (it *IdentityTree) GetRootByHash(h hash.Hash) (RootDescriptor, error) {
	it.mu.RLock()
	defer it.mu.RUnlock()

	if it.canonicalRoot.SameHash(descriptorByHash(h)) {
		return it.canonicalRoot, nil
	}
	if idx, ok := it.byHash[h]; ok {
		return it.overlay[idx].root, nil
	}
	return RootDescriptor{}, ErrUnknownRoot
}

// InclusionProof returns a proof that leaf is included under the given root
// (which may be the canonical root, any still-pending overlay root, or the
// zero value to mean "the current canonical root"), together with the root
// hash the proof attests to. leaf is resolved to its leaf index via the
// active leaf-hash index; ErrUnknownLeaf is returned if leaf is not
// currently active (never inserted, or since deleted). Sibling lookups
// resolve with patch -> canonical-tree precedence for overlay roots, and
// directly against the canonical tree otherwise.
func (it *IdentityTree) InclusionProof(leaf hash.Hash, root RootDescriptor) (hash.InclusionProof, error) {
	it.mu.RLock()
	defer it.mu.RUnlock()

	leafIndex, ok := it.leaves[leaf]
	if !ok {
		metrics.ProofErrors.Inc()
		return hash.InclusionProof{}, ErrUnknownLeaf
	}

	if root == (RootDescriptor{}) || root.SameHash(it.canonicalRoot) {
		proof, err := it.tree.Proof(leafIndex)
		if err != nil {
			metrics.ProofErrors.Inc()
			return hash.InclusionProof{}, err
		}
		metrics.ProofsServed.Inc()
		return hash.InclusionProof{Root: it.tree.Root(), Proof: proof}, nil
	}

	idx, ok := it.byHash[root.Hash]
	if !ok {
		metrics.ProofErrors.Inc()
		return hash.InclusionProof{}, ErrUnknownRoot
	}
	patch := it.overlay[idx].patch
	depth := it.tree.Depth()

	n := merkletree.LeafToStorage(leafIndex, depth)
	proof := make(hash.Proof, 0, depth)
	for n != 0 {
		sib := merkletree.SiblingOf(n)
		side := hash.SideRight
		if !merkletree.IsLeftChild(n) {
			side = hash.SideLeft
		}
		proof = append(proof, hash.Branch{Side: side, Sibling: it.lookupNodeLocked(patch, nil, sib)})
		n = merkletree.ParentOf(n)
	}
	metrics.ProofsServed.Inc()
	return hash.InclusionProof{Root: it.overlay[idx].root.Hash, Proof: proof}, nil
}
