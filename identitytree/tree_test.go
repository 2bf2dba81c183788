package identitytree

import (
	"testing"

	"github.com/eth2030/idtree-core/hash"
	"github.com/eth2030/idtree-core/merkletree"
)

func TestNewTreeCanonicalRootMatchesEmptyTree(t *testing.T) {
	it := New(4)
	if it.CanonicalRoot().BlockNumber != 0 {
		t.Fatalf("initial canonical root block number = %d, want 0", it.CanonicalRoot().BlockNumber)
	}
}

func TestInsertRecordsLeafAndAppends(t *testing.T) {
	it := New(4)
	a := hash.FromUint64(111)
	if err := it.Insert(0, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	leaf, err := it.tree.GetLeaf(0)
	if err != nil {
		t.Fatalf("GetLeaf: %v", err)
	}
	if !leaf.Equal(a) {
		t.Fatal("leaf 0 was not written")
	}
	proof, err := it.InclusionProof(a, RootDescriptor{})
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	if !proof.Root.Equal(it.CanonicalRoot().Hash) {
		t.Fatal("proof does not attest to the canonical root")
	}
	if !proof.Verify(a) {
		t.Fatal("proof for inserted leaf does not verify against the canonical root")
	}
}

func TestInsertRejectsNonNextIndex(t *testing.T) {
	it := New(4)
	if err := it.Insert(1, hash.FromUint64(1)); err != ErrLeafIndexMismatch {
		t.Fatalf("error = %v, want ErrLeafIndexMismatch", err)
	}
}

func TestRemoveErasesLeafIndex(t *testing.T) {
	it := New(4)
	a := hash.FromUint64(111)
	if err := it.Insert(0, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := it.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := it.InclusionProof(a, RootDescriptor{}); err != ErrUnknownLeaf {
		t.Fatalf("InclusionProof after Remove error = %v, want ErrUnknownLeaf", err)
	}
	leaf, err := it.tree.GetLeaf(0)
	if err != nil {
		t.Fatalf("GetLeaf: %v", err)
	}
	if !leaf.IsZero() {
		t.Fatal("removed leaf did not revert to zero")
	}
}

func TestAppendUpdatesThenApplyMovesCanonicalRoot(t *testing.T) {
	it := New(4)
	before := it.CanonicalRoot()

	leaves := map[uint64]hash.Hash{0: hash.FromUint64(111)}
	root := RootDescriptor{Hash: hash.FromUint64(999), BlockNumber: 10}
	patch, err := it.AppendUpdates(root, LeafUpdates{Kind: Insert, Leaves: leaves})
	if err != nil {
		t.Fatalf("AppendUpdates: %v", err)
	}
	if _, ok := patch[0]; !ok {
		t.Fatal("patch does not contain the new root at storage index 0")
	}

	if err := it.ApplyUpdatesToRoot(root); err != nil {
		t.Fatalf("ApplyUpdatesToRoot: %v", err)
	}

	after := it.CanonicalRoot()
	if after.BlockNumber != 10 {
		t.Fatalf("canonical root block number = %d, want 10", after.BlockNumber)
	}
	if before.Hash.Equal(after.Hash) {
		t.Fatal("canonical root hash did not change")
	}

	leaf, err := it.tree.GetLeaf(0)
	if err != nil {
		t.Fatalf("GetLeaf: %v", err)
	}
	if !leaf.Equal(hash.FromUint64(111)) {
		t.Fatal("promotion did not write the leaf at its own index")
	}
}

func TestApplyUpdatesToRootWritesAtLeafIndexNotAppend(t *testing.T) {
	// Regression test for the push-vs-set_leaf promotion bug: a leaf
	// update for leaf index 7 must land at leaf 7, not at whatever index
	// Push would have assigned next.
	it := New(4)
	leaves := map[uint64]hash.Hash{7: hash.FromUint64(42)}
	target := RootDescriptor{Hash: hash.FromUint64(1), BlockNumber: 1}
	if _, err := it.AppendUpdates(target, LeafUpdates{Kind: Insert, Leaves: leaves}); err != nil {
		t.Fatalf("AppendUpdates: %v", err)
	}
	if err := it.ApplyUpdatesToRoot(target); err != nil {
		t.Fatalf("ApplyUpdatesToRoot: %v", err)
	}
	got, err := it.tree.GetLeaf(7)
	if err != nil {
		t.Fatalf("GetLeaf(7): %v", err)
	}
	if !got.Equal(hash.FromUint64(42)) {
		t.Fatal("value did not land at leaf index 7")
	}
	other, err := it.tree.GetLeaf(0)
	if err != nil {
		t.Fatalf("GetLeaf(0): %v", err)
	}
	if !other.IsZero() {
		t.Fatal("promotion wrote to an unrelated leaf index")
	}
}

func TestApplyUpdatesDiscardsOlderOverlayEntries(t *testing.T) {
	it := New(4)
	r1 := RootDescriptor{Hash: hash.FromUint64(1), BlockNumber: 1}
	r2 := RootDescriptor{Hash: hash.FromUint64(2), BlockNumber: 2}

	if _, err := it.AppendUpdates(r1, LeafUpdates{Kind: Insert, Leaves: map[uint64]hash.Hash{0: hash.FromUint64(10)}}); err != nil {
		t.Fatalf("AppendUpdates r1: %v", err)
	}
	if _, err := it.AppendUpdates(r2, LeafUpdates{Kind: Insert, Leaves: map[uint64]hash.Hash{1: hash.FromUint64(20)}}); err != nil {
		t.Fatalf("AppendUpdates r2: %v", err)
	}

	if err := it.ApplyUpdatesToRoot(r2); err != nil {
		t.Fatalf("ApplyUpdatesToRoot: %v", err)
	}

	if _, err := it.GetRootByHash(r1.Hash); err != ErrUnknownRoot {
		t.Fatalf("GetRootByHash(r1) error = %v, want ErrUnknownRoot", err)
	}
	got, err := it.GetRootByHash(r2.Hash)
	if err != nil {
		t.Fatalf("GetRootByHash(r2): %v", err)
	}
	if !got.Hash.Equal(r2.Hash) {
		t.Fatal("GetRootByHash(r2) returned the wrong descriptor")
	}
}

func TestInclusionProofAgainstOverlayRoot(t *testing.T) {
	it := New(4)
	b := hash.FromUint64(55)
	// The overlay root must be the root the patch actually computes, so
	// build it from an independent tree holding b at leaf 3.
	expected := merkletree.New(4)
	if err := expected.SetLeaf(3, b); err != nil {
		t.Fatalf("SetLeaf: %v", err)
	}
	r := RootDescriptor{Hash: expected.Root(), BlockNumber: 5}
	leaves := map[uint64]hash.Hash{3: b}
	if _, err := it.AppendUpdates(r, LeafUpdates{Kind: Insert, Leaves: leaves}); err != nil {
		t.Fatalf("AppendUpdates: %v", err)
	}

	proof, err := it.InclusionProof(b, r)
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	if !proof.Root.Equal(r.Hash) {
		t.Fatal("proof does not attest to the overlay root")
	}
	if !proof.Verify(b) {
		t.Fatal("proof for overlay leaf does not verify against the overlay root")
	}
}

func TestInclusionProofUnknownLeaf(t *testing.T) {
	it := New(4)
	if _, err := it.InclusionProof(hash.FromUint64(404), RootDescriptor{}); err != ErrUnknownLeaf {
		t.Fatalf("InclusionProof error = %v, want ErrUnknownLeaf", err)
	}
}

func TestInclusionProofUnknownRoot(t *testing.T) {
	it := New(4)
	a := hash.FromUint64(1)
	if err := it.Insert(0, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	bogus := RootDescriptor{Hash: hash.FromUint64(12345), BlockNumber: 1}
	if _, err := it.InclusionProof(a, bogus); err != ErrUnknownRoot {
		t.Fatalf("InclusionProof error = %v, want ErrUnknownRoot", err)
	}
}

func TestInclusionProofZeroValueRootMeansCanonical(t *testing.T) {
	it := New(4)
	a := hash.FromUint64(1)
	if err := it.Insert(0, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	proof, err := it.InclusionProof(a, RootDescriptor{})
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	if !proof.Verify(a) {
		t.Fatal("proof for leaf 0 does not verify against the canonical root")
	}
}

func TestAppendUpdatesRejectsOutOfRangeLeaf(t *testing.T) {
	it := New(2)
	r := RootDescriptor{Hash: hash.FromUint64(1), BlockNumber: 1}
	_, err := it.AppendUpdates(r, LeafUpdates{Kind: Insert, Leaves: map[uint64]hash.Hash{99: hash.FromUint64(1)}})
	if err != ErrLeafOutOfRange {
		t.Fatalf("error = %v, want ErrLeafOutOfRange", err)
	}
}

func TestAppendUpdatesSharedAncestorComputedOnce(t *testing.T) {
	// Two sibling leaves share every ancestor on the path to the root.
	// Regression test for the dedup-check bug: the shared ancestors must
	// end up in the patch with values consistent with both leaves having
	// been applied, not just one.
	it := New(3)
	r := RootDescriptor{Hash: hash.FromUint64(1), BlockNumber: 1}
	leaves := map[uint64]hash.Hash{0: hash.FromUint64(10), 1: hash.FromUint64(20)}
	patch, err := it.AppendUpdates(r, LeafUpdates{Kind: Insert, Leaves: leaves})
	if err != nil {
		t.Fatalf("AppendUpdates: %v", err)
	}
	if err := it.ApplyUpdatesToRoot(r); err != nil {
		t.Fatalf("ApplyUpdatesToRoot: %v", err)
	}
	l0, _ := it.tree.GetLeaf(0)
	l1, _ := it.tree.GetLeaf(1)
	wantParent := hash.Compress(l0, l1)
	if !l0.Equal(hash.FromUint64(10)) || !l1.Equal(hash.FromUint64(20)) {
		t.Fatal("leaves not written correctly")
	}
	if patch[0].IsZero() {
		t.Fatal("root entry missing from patch")
	}
	// Leaves 0 and 1 sit at storage indices 7 and 8; their parent is 3.
	gotParent := patch[3]
	if !gotParent.Equal(wantParent) {
		t.Fatal("shared ancestor in patch does not reflect both leaves")
	}
}

func TestAppendUpdatesIdempotentPerRoot(t *testing.T) {
	it := New(4)
	r := RootDescriptor{Hash: hash.FromUint64(9), BlockNumber: 9}
	u := LeafUpdates{Kind: Insert, Leaves: map[uint64]hash.Hash{0: hash.FromUint64(3)}}

	first, err := it.AppendUpdates(r, u)
	if err != nil {
		t.Fatalf("AppendUpdates: %v", err)
	}
	second, err := it.AppendUpdates(r, u)
	if err != nil {
		t.Fatalf("AppendUpdates again: %v", err)
	}
	if it.PendingRoots() != 1 {
		t.Fatalf("PendingRoots() = %d after re-append, want 1", it.PendingRoots())
	}
	if len(first) != len(second) {
		t.Fatalf("patch sizes differ: %d vs %d", len(first), len(second))
	}
	for k, v := range first {
		if !second[k].Equal(v) {
			t.Fatalf("patch entry %d differs after re-append", k)
		}
	}
}

func TestDeleteRoundTripRemovesLeafFromOverlay(t *testing.T) {
	it := New(4)
	a := hash.FromUint64(5)
	if err := it.Insert(0, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r := RootDescriptor{Hash: hash.FromUint64(2), BlockNumber: 2}
	if _, err := it.AppendUpdates(r, LeafUpdates{Kind: Delete, Leaves: map[uint64]hash.Hash{0: a}}); err != nil {
		t.Fatalf("AppendUpdates delete: %v", err)
	}
	if _, err := it.InclusionProof(a, r); err != ErrUnknownLeaf {
		t.Fatalf("InclusionProof after delete error = %v, want ErrUnknownLeaf", err)
	}
}

func TestFlattenLeafUpdatesLastWriterWins(t *testing.T) {
	batches := []LeafUpdates{
		{Kind: Insert, Leaves: map[uint64]hash.Hash{0: hash.FromUint64(1), 1: hash.FromUint64(2)}},
		{Kind: Insert, Leaves: map[uint64]hash.Hash{1: hash.FromUint64(99)}},
		{Kind: Delete, Leaves: map[uint64]hash.Hash{0: hash.FromUint64(1)}},
	}
	out := FlattenLeafUpdates(batches)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].LeafIndex != 0 || !out[0].Value.Equal(hash.Zero) {
		t.Fatalf("leaf 0 = %+v, want deleted (zero)", out[0])
	}
	if out[1].LeafIndex != 1 || !out[1].Value.Equal(hash.FromUint64(99)) {
		t.Fatalf("leaf 1 = %+v, want last Insert value 99", out[1])
	}
}

func TestFlattenLeafUpdatesSortedAscending(t *testing.T) {
	batches := []LeafUpdates{
		{Kind: Insert, Leaves: map[uint64]hash.Hash{5: hash.FromUint64(5), 2: hash.FromUint64(2), 9: hash.FromUint64(9)}},
	}
	out := FlattenLeafUpdates(batches)
	for i := 1; i < len(out); i++ {
		if out[i-1].LeafIndex >= out[i].LeafIndex {
			t.Fatalf("not sorted ascending: %v", out)
		}
	}
}
