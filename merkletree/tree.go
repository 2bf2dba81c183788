package merkletree

import (
	"errors"
	"sync"

	"github.com/eth2030/idtree-core/hash"
)

// ErrIndexOutOfRange is returned when a leaf index exceeds the tree's
// capacity (2^depth).
var ErrIndexOutOfRange = errors.New("merkletree: leaf index out of range")

// ErrTreeFull is returned by Push when the tree has no remaining capacity.
var ErrTreeFull = errors.New("merkletree: tree is full")

// DynamicTree is a fixed-depth binary Merkle tree whose leaves can be
// appended (Push) or overwritten in place (SetLeaf). Unset nodes read as the
// precomputed empty-subtree hash for their level, so the tree never needs to
// materialize more than the non-empty path it has actually been given.
type DynamicTree struct {
	mu          sync.RWMutex
	depth       int
	nodes       map[uint64]hash.Hash
	emptyHashes []hash.Hash // emptyHashes[level], level 0 = root, level depth = leaf
	numLeaves   uint64
}

// New creates an empty DynamicTree of the given depth (2^depth leaves).
func New(depth int) *DynamicTree {
	empties := make([]hash.Hash, depth+1)
	empties[depth] = hash.Zero
	for level := depth - 1; level >= 0; level-- {
		empties[level] = hash.Compress(empties[level+1], empties[level+1])
	}
	return &DynamicTree{
		depth:       depth,
		nodes:       make(map[uint64]hash.Hash),
		emptyHashes: empties,
	}
}

// Depth returns the tree's fixed depth.
func (t *DynamicTree) Depth() int {
	return t.depth
}

// Capacity returns the maximum number of leaves the tree can hold.
func (t *DynamicTree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

// NumLeaves returns one past the highest leaf index ever written, i.e. the
// next index Push will use.
func (t *DynamicTree) NumLeaves() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numLeaves
}

// getNodeLocked returns the value at storageIndex, or the empty hash for its
// level if unset. Caller must hold t.mu.
func (t *DynamicTree) getNodeLocked(storageIndex uint64) hash.Hash {
	if v, ok := t.nodes[storageIndex]; ok {
		return v
	}
	level, _ := StorageToCoords(storageIndex)
	return t.emptyHashes[level]
}

// GetNode returns the value at the given flat storage index.
func (t *DynamicTree) GetNode(storageIndex uint64) hash.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getNodeLocked(storageIndex)
}

// GetLeaf returns the value of the leaf at leafIndex.
func (t *DynamicTree) GetLeaf(leafIndex uint64) (hash.Hash, error) {
	if leafIndex >= t.Capacity() {
		return hash.Zero, ErrIndexOutOfRange
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getNodeLocked(LeafToStorage(leafIndex, t.depth)), nil
}

// Root returns the tree's current root hash.
func (t *DynamicTree) Root() hash.Hash {
	return t.GetNode(0)
}

// SetLeaf writes value at leafIndex and recomputes every ancestor up to the
// root. It does not require leafIndex to already be occupied.
func (t *DynamicTree) SetLeaf(leafIndex uint64, value hash.Hash) error {
	if leafIndex >= t.Capacity() {
		return ErrIndexOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLeafLocked(leafIndex, value)
	if leafIndex+1 > t.numLeaves {
		t.numLeaves = leafIndex + 1
	}
	return nil
}

func (t *DynamicTree) setLeafLocked(leafIndex uint64, value hash.Hash) {
	n := LeafToStorage(leafIndex, t.depth)
	if value.Equal(t.emptyHashes[t.depth]) {
		delete(t.nodes, n)
	} else {
		t.nodes[n] = value
	}
	for n != 0 {
		parent := ParentOf(n)
		left := t.getNodeLocked(LeftChildOf(parent))
		right := t.getNodeLocked(RightChildOf(parent))
		parentValue := hash.Compress(left, right)
		level, _ := StorageToCoords(parent)
		if parentValue.Equal(t.emptyHashes[level]) {
			delete(t.nodes, parent)
		} else {
			t.nodes[parent] = parentValue
		}
		n = parent
	}
}

// Push appends value as the next leaf and returns its leaf index.
func (t *DynamicTree) Push(value hash.Hash) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.numLeaves >= t.Capacity() {
		return 0, ErrTreeFull
	}
	leafIndex := t.numLeaves
	t.setLeafLocked(leafIndex, value)
	t.numLeaves++
	return leafIndex, nil
}

// Proof returns an inclusion proof for the leaf at leafIndex against the
// tree's current root.
func (t *DynamicTree) Proof(leafIndex uint64) (hash.Proof, error) {
	if leafIndex >= t.Capacity() {
		return nil, ErrIndexOutOfRange
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := LeafToStorage(leafIndex, t.depth)
	proof := make(hash.Proof, 0, t.depth)
	for n != 0 {
		sib := SiblingOf(n)
		side := hash.SideRight
		if !IsLeftChild(n) {
			side = hash.SideLeft
		}
		proof = append(proof, hash.Branch{Side: side, Sibling: t.getNodeLocked(sib)})
		n = ParentOf(n)
	}
	return proof, nil
}
