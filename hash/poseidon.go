package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
)

// Poseidon parameters for a width-3 permutation (t=3): rate 2, capacity 1,
// sized for 2-to-1 compression of BN254 scalar-field elements. These match
// the constants used by the Semaphore/World ID family of identity trees.
const (
	poseidonT             = 3
	poseidonFullRounds    = 8
	poseidonPartialRounds = 57
)

// bn254ScalarField is the BN254 scalar field modulus.
var bn254ScalarField, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// Params holds a full Poseidon parameter set: round count, round constants,
// MDS matrix and the field they operate over.
type Params struct {
	T              int
	FullRounds     int
	PartialRounds  int
	RoundConstants []*big.Int
	MDS            [][]*big.Int
	Field          *big.Int
}

var (
	defaultParams     *Params
	defaultParamsOnce sync.Once
)

// DefaultPoseidonParams returns the width-3, 8-full/57-partial-round
// parameter set used by the tree's Compress function. The parameters are
// generated once and cached.
func DefaultPoseidonParams() Params {
	defaultParamsOnce.Do(func() {
		totalRounds := poseidonFullRounds + poseidonPartialRounds
		defaultParams = &Params{
			T:              poseidonT,
			FullRounds:     poseidonFullRounds,
			PartialRounds:  poseidonPartialRounds,
			RoundConstants: generateRoundConstants(poseidonT, totalRounds, bn254ScalarField),
			MDS:            generateMDS(poseidonT, bn254ScalarField),
			Field:          bn254ScalarField,
		}
	})
	return *defaultParams
}

// SBox computes x^5 mod field, Poseidon's S-box over a field with gcd(5,
// field-1) = 1.
func SBox(x, field *big.Int) *big.Int {
	x2 := new(big.Int).Mul(x, x)
	x2.Mod(x2, field)
	x4 := new(big.Int).Mul(x2, x2)
	x4.Mod(x4, field)
	x5 := new(big.Int).Mul(x4, x)
	x5.Mod(x5, field)
	return x5
}

// MDSMul multiplies state by the MDS matrix, mod field.
func MDSMul(state []*big.Int, mds [][]*big.Int, field *big.Int) []*big.Int {
	t := len(state)
	out := make([]*big.Int, t)
	for i := 0; i < t; i++ {
		acc := new(big.Int)
		for j := 0; j < t; j++ {
			term := new(big.Int).Mul(mds[i][j], state[j])
			acc.Add(acc, term)
		}
		acc.Mod(acc, field)
		out[i] = acc
	}
	return out
}

// deterministicFieldElement derives a field element from a label and index
// via SHA256, for generating round constants and MDS entries without a
// trusted-setup ceremony.
func deterministicFieldElement(label string, i int, field *big.Int) *big.Int {
	h := sha256.New()
	h.Write([]byte(label))
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(i))
	h.Write(idx[:])
	digest := h.Sum(nil)
	v := new(big.Int).SetBytes(digest)
	v.Mod(v, field)
	return v
}

// generateRoundConstants deterministically derives t*totalRounds round
// constants in [0, field).
func generateRoundConstants(t, totalRounds int, field *big.Int) []*big.Int {
	n := t * totalRounds
	out := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		out[i] = deterministicFieldElement("poseidon-round-constant", i, field)
	}
	return out
}

// generateMDS deterministically derives a t*t maximum-distance-separable
// matrix via a Cauchy construction: M[i][j] = 1/(x_i + y_j), with x and y
// drawn from disjoint deterministic sequences so no entry's denominator is
// zero mod field.
func generateMDS(t int, field *big.Int) [][]*big.Int {
	xs := make([]*big.Int, t)
	ys := make([]*big.Int, t)
	for i := 0; i < t; i++ {
		xs[i] = deterministicFieldElement("poseidon-mds-x", i, field)
		ys[i] = deterministicFieldElement("poseidon-mds-y", i, field)
	}
	mds := make([][]*big.Int, t)
	for i := 0; i < t; i++ {
		mds[i] = make([]*big.Int, t)
		for j := 0; j < t; j++ {
			sum := new(big.Int).Add(xs[i], ys[j])
			sum.Mod(sum, field)
			mds[i][j] = new(big.Int).ModInverse(sum, field)
		}
	}
	return mds
}

// permute runs the full Poseidon permutation over state in place, returning
// the (possibly reallocated) state slice.
func permute(params *Params, state []*big.Int) []*big.Int {
	field := params.Field
	t := params.T
	half := params.FullRounds / 2
	round := 0

	addConstants := func() {
		for i := 0; i < t; i++ {
			state[i] = new(big.Int).Add(state[i], params.RoundConstants[round*t+i])
			state[i].Mod(state[i], field)
		}
	}

	for i := 0; i < half; i++ {
		addConstants()
		for i := 0; i < t; i++ {
			state[i] = SBox(state[i], field)
		}
		state = MDSMul(state, params.MDS, field)
		round++
	}
	for i := 0; i < params.PartialRounds; i++ {
		addConstants()
		state[0] = SBox(state[0], field)
		state = MDSMul(state, params.MDS, field)
		round++
	}
	for i := 0; i < half; i++ {
		addConstants()
		for i := 0; i < t; i++ {
			state[i] = SBox(state[i], field)
		}
		state = MDSMul(state, params.MDS, field)
		round++
	}
	return state
}

// Sponge is a Poseidon sponge over the given parameters, rate = T-1.
type Sponge struct {
	params *Params
	state  []*big.Int
	rate   int
}

// NewPoseidonSponge creates a Sponge. A nil params uses DefaultPoseidonParams.
func NewPoseidonSponge(params *Params) *Sponge {
	p := params
	if p == nil {
		d := DefaultPoseidonParams()
		p = &d
	}
	state := make([]*big.Int, p.T)
	for i := range state {
		state[i] = new(big.Int)
	}
	return &Sponge{params: p, state: state, rate: p.T - 1}
}

// Absorb reduces each input mod field and absorbs it into the sponge,
// permuting once per full rate-sized block (including a final partial
// block). Absorbing zero inputs still permutes once, over an all-zero
// block.
func (s *Sponge) Absorb(inputs ...*big.Int) {
	field := s.params.Field
	reduced := make([]*big.Int, len(inputs))
	for i, in := range inputs {
		reduced[i] = new(big.Int).Mod(in, field)
	}
	if len(reduced) == 0 {
		reduced = []*big.Int{new(big.Int)}
	}
	pos := 0
	for pos < len(reduced) {
		for i := 0; i < s.rate && pos < len(reduced); i++ {
			s.state[i] = new(big.Int).Add(s.state[i], reduced[pos])
			s.state[i].Mod(s.state[i], field)
			pos++
		}
		s.state = permute(s.params, s.state)
	}
}

// Squeeze returns n field elements produced by repeatedly reading the rate
// portion of the state and permuting between blocks.
func (s *Sponge) Squeeze(n int) []*big.Int {
	out := make([]*big.Int, 0, n)
	for len(out) < n {
		for i := 0; i < s.rate && len(out) < n; i++ {
			out = append(out, new(big.Int).Set(s.state[i]))
		}
		if len(out) < n {
			s.state = permute(s.params, s.state)
		}
	}
	return out
}

// PoseidonHash absorbs inputs and squeezes a single field element. A nil
// params uses DefaultPoseidonParams.
func PoseidonHash(params *Params, inputs ...*big.Int) *big.Int {
	s := NewPoseidonSponge(params)
	s.Absorb(inputs...)
	return s.Squeeze(1)[0]
}

// Compress is the tree's 2-to-1 hash: the parent of a node with children
// left and right.
func Compress(left, right Hash) Hash {
	out := PoseidonHash(nil, left.BigInt(), right.BigInt())
	return FromBigInt(out)
}
