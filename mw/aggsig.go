package mw

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// SignatureSize is the length of a serialized aggregate signature:
	// the compressed total nonce point followed by the scalar.
	SignatureSize = 65
)

var (
	// ErrInvalidPartialSig is returned when a counterparty's partial
	// signature does not verify against its claimed public contribution.
	ErrInvalidPartialSig = errors.New("invalid partial signature")

	// ErrInvalidAggSig is returned when the aggregated kernel signature
	// fails verification against the total excess.
	ErrInvalidAggSig = errors.New("invalid aggregate signature")
)

// SecNonce is a secret signing nonce. Nonces are single-use: signing twice
// with the same nonce over different messages leaks the secret key.
type SecNonce = btcec.ModNScalar

// PartialSig is one party's share of the final kernel signature. Both
// parties sign the same challenge, computed over the total public nonce and
// total public excess, so the shares can simply be summed.
type PartialSig struct {
	S btcec.ModNScalar
}

// AggSig is the final aggregated signature placed in the transaction
// kernel. It verifies as a standard Schnorr signature against the total
// public excess of the transaction.
type AggSig struct {
	// Nonce is the total public nonce point R.
	Nonce *btcec.PublicKey

	// S is the aggregated scalar.
	S btcec.ModNScalar
}

// GenSecNonce generates a fresh signing nonce from a cryptographically
// secure source.
func GenSecNonce() (*SecNonce, error) {
	var (
		nonce SecNonce
		buf   [32]byte
	)
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		overflow := nonce.SetBytes(&buf)
		if overflow == 0 && !nonce.IsZero() {
			return &nonce, nil
		}
	}
}

// NoncePubKey returns the public nonce point k*G for the passed secret
// nonce.
func NoncePubKey(nonce *SecNonce) *btcec.PublicKey {
	var point btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(nonce, &point)
	point.ToAffine()

	return btcec.NewPublicKey(&point.X, &point.Y)
}

// AddPubKeys returns the sum of the passed public keys as a single point.
func AddPubKeys(keys ...*btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(keys) == 0 {
		return nil, errors.New("no keys to aggregate")
	}

	var sum btcec.JacobianPoint
	keys[0].AsJacobian(&sum)
	for _, key := range keys[1:] {
		var point btcec.JacobianPoint
		key.AsJacobian(&point)
		btcec.AddNonConst(&sum, &point, &sum)
	}
	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y), nil
}

// computeChallenge derives the signature challenge e over the total public
// nonce, the total public excess and the kernel message. Binding both
// aggregate points into the challenge is what allows the partial scalars to
// be combined with plain addition.
func computeChallenge(totalNonce, totalExcess *btcec.PublicKey,
	msg [32]byte) btcec.ModNScalar {

	h := sha256.New()
	h.Write(totalNonce.SerializeCompressed())
	h.Write(totalExcess.SerializeCompressed())
	h.Write(msg[:])

	var e btcec.ModNScalar
	e.SetByteSlice(h.Sum(nil))

	return e
}

// SignPartial produces this party's share of the kernel signature:
// s = k + e*x, with the challenge e computed over the aggregate nonce and
// excess of all participants.
func SignPartial(secKey *btcec.ModNScalar, secNonce *SecNonce,
	totalNonce, totalExcess *btcec.PublicKey, msg [32]byte) *PartialSig {

	e := computeChallenge(totalNonce, totalExcess, msg)

	// s = k + e*x.
	var s btcec.ModNScalar
	s.Set(&e).Mul(secKey).Add(secNonce)

	return &PartialSig{S: s}
}

// VerifyPartial checks a single party's partial signature against its
// claimed public nonce and public excess: s*G == R_i + e*P_i, where e is
// derived from the aggregate values.
func VerifyPartial(sig *PartialSig, pubNonce, pubExcess,
	totalNonce, totalExcess *btcec.PublicKey, msg [32]byte) error {

	e := computeChallenge(totalNonce, totalExcess, msg)

	// Expected: R_i + e*P_i.
	var excessPoint, expected btcec.JacobianPoint
	pubExcess.AsJacobian(&excessPoint)
	btcec.ScalarMultNonConst(&e, &excessPoint, &expected)

	var noncePoint btcec.JacobianPoint
	pubNonce.AsJacobian(&noncePoint)
	btcec.AddNonConst(&expected, &noncePoint, &expected)
	expected.ToAffine()

	// Actual: s*G.
	var actual btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&sig.S, &actual)
	actual.ToAffine()

	if !actual.X.Equals(&expected.X) || !actual.Y.Equals(&expected.Y) {
		return ErrInvalidPartialSig
	}

	return nil
}

// AggregateSigs combines the partial signatures into the final kernel
// signature under the total public nonce.
func AggregateSigs(totalNonce *btcec.PublicKey,
	partials ...*PartialSig) (*AggSig, error) {

	if len(partials) == 0 {
		return nil, errors.New("no partial signatures to aggregate")
	}

	var s btcec.ModNScalar
	for _, partial := range partials {
		s.Add(&partial.S)
	}

	return &AggSig{Nonce: totalNonce, S: s}, nil
}

// VerifyAggSig checks the final signature against the total public excess:
// s*G == R + e*E.
func VerifyAggSig(sig *AggSig, totalExcess *btcec.PublicKey,
	msg [32]byte) error {

	e := computeChallenge(sig.Nonce, totalExcess, msg)

	var excessPoint, expected btcec.JacobianPoint
	totalExcess.AsJacobian(&excessPoint)
	btcec.ScalarMultNonConst(&e, &excessPoint, &expected)

	var noncePoint btcec.JacobianPoint
	sig.Nonce.AsJacobian(&noncePoint)
	btcec.AddNonConst(&expected, &noncePoint, &expected)
	expected.ToAffine()

	var actual btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&sig.S, &actual)
	actual.ToAffine()

	if !actual.X.Equals(&expected.X) || !actual.Y.Equals(&expected.Y) {
		return ErrInvalidAggSig
	}

	return nil
}

// Serialize encodes the aggregate signature as the compressed nonce point
// followed by the 32-byte scalar.
func (a *AggSig) Serialize() []byte {
	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, a.Nonce.SerializeCompressed()...)

	sBytes := a.S.Bytes()
	sig = append(sig, sBytes[:]...)

	return sig
}

// ParseAggSig decodes an aggregate signature produced by Serialize.
func ParseAggSig(encoded []byte) (*AggSig, error) {
	if len(encoded) != SignatureSize {
		return nil, fmt.Errorf("malformed signature: %d bytes",
			len(encoded))
	}

	nonce, err := btcec.ParsePubKey(encoded[:33])
	if err != nil {
		return nil, fmt.Errorf("malformed signature nonce: %w", err)
	}

	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(encoded[33:]); overflow {
		return nil, errors.New("malformed signature scalar")
	}

	return &AggSig{Nonce: nonce, S: s}, nil
}
