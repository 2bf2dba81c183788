package hash

import (
	"encoding/json"
	"errors"
)

// ErrInvalidBranch is returned when a Branch's JSON encoding has neither a
// "Left" nor a "Right" key, or has both.
var ErrInvalidBranch = errors.New("hash: branch must have exactly one of Left or Right")

// Side indicates which side of a branch point the sibling hash sits on.
type Side bool

const (
	// SideLeft means the sibling is the left child; the node being proved
	// is the right child.
	SideLeft Side = false
	// SideRight means the sibling is the right child; the node being
	// proved is the left child.
	SideRight Side = true
)

// Branch is one step of an inclusion proof: the hash of the node's sibling,
// and which side it sits on.
type Branch struct {
	Side    Side
	Sibling Hash
}

// MarshalJSON encodes a Branch as a single-key object, {"Left": "0x..."} or
// {"Right": "0x..."}.
func (b Branch) MarshalJSON() ([]byte, error) {
	key := "Right"
	if b.Side == SideLeft {
		key = "Left"
	}
	return json.Marshal(map[string]string{key: b.Sibling.Hex()})
}

// UnmarshalJSON decodes the {"Left": hash} / {"Right": hash} wire shape.
func (b *Branch) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return ErrInvalidBranch
	}
	if v, ok := m["Left"]; ok {
		h, err := HashFromHex(v)
		if err != nil {
			return err
		}
		*b = Branch{Side: SideLeft, Sibling: h}
		return nil
	}
	if v, ok := m["Right"]; ok {
		h, err := HashFromHex(v)
		if err != nil {
			return err
		}
		*b = Branch{Side: SideRight, Sibling: h}
		return nil
	}
	return ErrInvalidBranch
}

// Proof is an inclusion proof: a sequence of branches from a leaf up to a
// root, ordered leaf-first. It serializes as a bare JSON array of branches.
type Proof []Branch

// Root recomputes the root implied by proof when leaf sits at the proof's
// starting position.
func (p Proof) Root(leaf Hash) Hash {
	cur := leaf
	for _, b := range p {
		if b.Side == SideLeft {
			cur = Compress(b.Sibling, cur)
		} else {
			cur = Compress(cur, b.Sibling)
		}
	}
	return cur
}

// Verify reports whether proof proves leaf is included under root.
func (p Proof) Verify(leaf, root Hash) bool {
	return p.Root(leaf).Equal(root)
}

// InclusionProof is the wire shape a proof crosses the process boundary in:
// the root the proof attests to, and the branch path from the leaf up to it.
type InclusionProof struct {
	Root  Hash  `json:"root"`
	Proof Proof `json:"proof"`
}

// Verify reports whether ip proves leaf is included under ip.Root.
func (ip InclusionProof) Verify(leaf Hash) bool {
	return ip.Proof.Verify(leaf, ip.Root)
}
