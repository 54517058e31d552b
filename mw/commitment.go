package mw

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// CommitmentSize is the length of a serialized Pedersen commitment.
const CommitmentSize = 33

var (
	// ErrInvalidCommitment is returned when a serialized commitment can
	// not be parsed as a point on the curve.
	ErrInvalidCommitment = errors.New("invalid commitment encoding")

	// generatorH is the secondary curve generator used to bind output
	// values inside commitments. This is the same constant used by
	// libsecp256k1-zkp, with no known discrete log relative to G.
	generatorH *btcec.PublicKey
)

func init() {
	rawH, err := hex.DecodeString(
		"0250929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547" +
			"bfee9ace803ac0",
	)
	if err != nil {
		panic(fmt.Sprintf("unable to decode generator H: %v", err))
	}

	generatorH, err = btcec.ParsePubKey(rawH)
	if err != nil {
		panic(fmt.Sprintf("unable to parse generator H: %v", err))
	}
}

// BlindingFactor is a secret scalar hiding the value committed to within a
// Pedersen commitment.
type BlindingFactor = btcec.ModNScalar

// Commitment is a Pedersen commitment of the form r*G + v*H, hiding the
// value v under the blinding factor r. Commitments to the same generator
// pair are additively homomorphic, which is what ultimately lets a full
// transaction prove that no value was created or destroyed without ever
// revealing the individual amounts.
type Commitment struct {
	point btcec.JacobianPoint
}

// NewCommitment commits to the passed value under the given blinding factor.
func NewCommitment(blind *BlindingFactor, value uint64) *Commitment {
	var (
		blindPoint btcec.JacobianPoint
		valuePoint btcec.JacobianPoint
		c          Commitment
	)

	// r*G.
	btcec.ScalarBaseMultNonConst(blind, &blindPoint)

	// v*H.
	var valueScalar btcec.ModNScalar
	var valueBytes [8]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)
	valueScalar.SetByteSlice(valueBytes[:])

	var hPoint btcec.JacobianPoint
	generatorH.AsJacobian(&hPoint)
	btcec.ScalarMultNonConst(&valueScalar, &hPoint, &valuePoint)

	btcec.AddNonConst(&blindPoint, &valuePoint, &c.point)
	c.point.ToAffine()

	return &c
}

// ParseCommitment deserializes a commitment from its compressed encoding.
func ParseCommitment(encoded []byte) (*Commitment, error) {
	if len(encoded) != CommitmentSize {
		return nil, ErrInvalidCommitment
	}

	pub, err := btcec.ParsePubKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}

	var c Commitment
	pub.AsJacobian(&c.point)
	c.point.ToAffine()

	return &c, nil
}

// Bytes returns the compressed encoding of the commitment.
func (c *Commitment) Bytes() []byte {
	var affine btcec.JacobianPoint
	affine.Set(&c.point)
	affine.ToAffine()

	pub := btcec.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

// String returns the hex encoding of the commitment, primarily for logging.
func (c *Commitment) String() string {
	return hex.EncodeToString(c.Bytes())
}

// Equal reports whether both commitments encode the same curve point.
func (c *Commitment) Equal(other *Commitment) bool {
	var a, b btcec.JacobianPoint
	a.Set(&c.point)
	b.Set(&other.point)
	a.ToAffine()
	b.ToAffine()

	return a.X.Equals(&b.X) && a.Y.Equals(&b.Y)
}

// Add returns the homomorphic sum of the two commitments.
func (c *Commitment) Add(other *Commitment) *Commitment {
	var sum Commitment
	btcec.AddNonConst(&c.point, &other.point, &sum.point)
	sum.point.ToAffine()

	return &sum
}

// Sub returns the homomorphic difference c - other.
func (c *Commitment) Sub(other *Commitment) *Commitment {
	var negated btcec.JacobianPoint
	negated.Set(&other.point)
	negated.ToAffine()
	negated.Y.Negate(1).Normalize()

	var diff Commitment
	btcec.AddNonConst(&c.point, &negated, &diff.point)
	diff.point.ToAffine()

	return &diff
}

// CommitToValue returns a commitment to the passed value with a zero
// blinding factor, i.e. v*H. This is used to fold the explicit fee into the
// balance equation at verification time.
func CommitToValue(value uint64) *Commitment {
	var zero btcec.ModNScalar
	return NewCommitment(&zero, value)
}

// CommitToBlind returns a commitment to the zero value under the passed
// blinding factor, i.e. r*G. A transaction's kernel excess is exactly such
// a commitment: if the blinding factors and amounts of all inputs and
// outputs cancel out, what remains commits to no value at all.
func CommitToBlind(blind *BlindingFactor) *Commitment {
	return NewCommitment(blind, 0)
}

// CommitmentFromPubKey reinterprets a public key as a commitment to the
// zero value. This is how the aggregate public excess of a negotiation
// becomes the kernel excess commitment.
func CommitmentFromPubKey(pub *btcec.PublicKey) *Commitment {
	var c Commitment
	pub.AsJacobian(&c.point)
	c.point.ToAffine()

	return &c
}

// PubKey returns the commitment interpreted as a public key. Only
// commitments to the zero value are meaningful as keys; the kernel excess
// is verified as the aggregate public key of the signing parties.
func (c *Commitment) PubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(c.Bytes())
}

// SumCommitments computes sum(positive) - sum(negative) over the passed
// commitment sets.
func SumCommitments(positive, negative []*Commitment) (*Commitment, error) {
	if len(positive) == 0 {
		return nil, errors.New("no commitments to sum")
	}

	sum := positive[0]
	for _, c := range positive[1:] {
		sum = sum.Add(c)
	}
	for _, c := range negative {
		sum = sum.Sub(c)
	}

	return sum, nil
}
