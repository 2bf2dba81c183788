// Package hash provides the field element and Poseidon hash primitives the
// identity tree is built from: every leaf, sibling and root is a Hash value,
// and every interior node is produced by compressing its two children with
// Poseidon.
package hash

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ErrInvalidHex is returned by HashFromHex when the input is not a
// well-formed hex-encoded field element.
var ErrInvalidHex = errors.New("hash: invalid hex encoding")

// Hash is a single element of the BN254 scalar field (fr). It is the unit of
// value stored at every tree node: leaves are caller-supplied Hash values,
// interior nodes and roots are produced by Compress.
type Hash fr.Element

// Zero is the additive identity, used as the canonical empty-leaf value and
// the base case of the empty-subtree cache.
var Zero = Hash{}

// FromBigInt reduces v modulo the scalar field and returns the resulting
// Hash.
func FromBigInt(v *big.Int) Hash {
	var e fr.Element
	e.SetBigInt(v)
	return Hash(e)
}

// FromUint64 returns the Hash representing v.
func FromUint64(v uint64) Hash {
	var e fr.Element
	e.SetUint64(v)
	return Hash(e)
}

// HashFromHex parses a "0x"-prefixed (or bare) hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrInvalidHex
	}
	v := new(big.Int).SetBytes(b)
	return FromBigInt(v), nil
}

// BigInt returns h as a big.Int in [0, field).
func (h Hash) BigInt() *big.Int {
	e := fr.Element(h)
	var out big.Int
	e.BigInt(&out)
	return &out
}

// Equal reports whether h and other represent the same field element.
func (h Hash) Equal(other Hash) bool {
	e := fr.Element(h)
	o := fr.Element(other)
	return e.Equal(&o)
}

// IsZero reports whether h is the additive identity.
func (h Hash) IsZero() bool {
	e := fr.Element(h)
	return e.IsZero()
}

// Bytes returns the big-endian canonical 32-byte encoding of h.
func (h Hash) Bytes() [32]byte {
	e := fr.Element(h)
	return e.Bytes()
}

// String returns the decimal representation of h.
func (h Hash) String() string {
	e := fr.Element(h)
	return e.String()
}

// Hex returns the "0x"-prefixed hex representation of h.
func (h Hash) Hex() string {
	b := h.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

// MarshalJSON encodes h as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
