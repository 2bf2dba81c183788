// Package identitytree implements the overlay of pending root transitions
// on top of a canonical Merkle tree: callers append batches of leaf updates
// against a tentative future root, can serve inclusion proofs against either
// the canonical root or any still-pending one, and eventually promote an
// overlay root to canonical.
package identitytree

import "github.com/eth2030/idtree-core/hash"

// RootDescriptor identifies a tree root and the chain block it was observed
// at. Its ordering and equality are deliberately asymmetric: two descriptors
// are compared for ordering purposes by BlockNumber alone (so overlay roots
// sort by arrival order), but are compared for identity purposes by Hash
// alone (so GetRootByHash can probe with a synthetic descriptor that only
// has its Hash field populated). Callers must never construct two live
// RootDescriptors that share a Hash but disagree on BlockNumber.
type RootDescriptor struct {
	Hash        hash.Hash
	BlockNumber uint64
}

// Before reports whether r occurred at an earlier block than other.
func (r RootDescriptor) Before(other RootDescriptor) bool {
	return r.BlockNumber < other.BlockNumber
}

// SameHash reports whether r and other carry the same root hash, ignoring
// block number.
func (r RootDescriptor) SameHash(other RootDescriptor) bool {
	return r.Hash.Equal(other.Hash)
}

// descriptorByHash builds a synthetic RootDescriptor usable only for Hash
// comparisons (its BlockNumber is meaningless), for probing the overlay's
// hash index.
func descriptorByHash(h hash.Hash) RootDescriptor {
	return RootDescriptor{Hash: h}
}
