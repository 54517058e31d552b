// Package slate defines the negotiation record a sender and receiver pass
// back and forth to assemble a transaction together. A slate arriving from
// a counterparty is untrusted input: everything read out of one is
// validated structurally before use, and all cryptographic claims it
// carries are verified by the negotiation engine.
package slate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/mw"
)

// Phase is the position of a slate within the negotiation.
type Phase uint8

const (
	// PhaseCreated means the sender has contributed inputs, fee, change
	// and its public blinding data.
	PhaseCreated Phase = 0

	// PhaseReceived means the receiver has added its output, public
	// blinding data, and partial signature.
	PhaseReceived Phase = 1

	// PhaseFinalized means both partial signatures have been aggregated
	// into a complete transaction.
	PhaseFinalized Phase = 2
)

// String returns a human readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "Created"
	case PhaseReceived:
		return "Received"
	case PhaseFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Participant ids. The slate protocol is strictly two-party.
const (
	// SenderID identifies the initiating participant.
	SenderID = 0

	// ReceiverID identifies the responding participant.
	ReceiverID = 1
)

// ErrMalformed is returned when a slate fails structural validation.
var ErrMalformed = errors.New("malformed slate")

// ParticipantData is one party's public contribution to the negotiation.
type ParticipantData struct {
	// ID is the participant's role: SenderID or ReceiverID.
	ID uint8 `json:"id"`

	// PublicBlindExcess is the participant's blinding excess times G,
	// compressed.
	PublicBlindExcess []byte `json:"public_blind_excess"`

	// PublicNonce is the participant's signing nonce times G,
	// compressed.
	PublicNonce []byte `json:"public_nonce"`

	// PartialSig is the participant's partial signature scalar, if it
	// has signed yet.
	PartialSig []byte `json:"part_sig,omitempty"`

	// Message is an optional human-readable note.
	Message string `json:"message,omitempty"`
}

// Output is an output recorded in the slate's transaction skeleton.
type Output struct {
	// Features is the output class.
	Features uint8 `json:"features"`

	// Commitment is the compressed Pedersen commitment.
	Commitment []byte `json:"commit"`
}

// Slate is the shared negotiation state. The sender creates it, the
// receiver amends and returns it, and the sender consumes it to finalize.
// Its UUID is the transaction-unique handle used for replay detection on
// both sides.
type Slate struct {
	// ID uniquely identifies this negotiation.
	ID uuid.UUID `json:"id"`

	// Phase is the slate's position in the protocol.
	Phase Phase `json:"phase"`

	// Amount is the value being transferred to the receiver.
	Amount uint64 `json:"amount"`

	// Fee is the transaction fee the sender computed.
	Fee uint64 `json:"fee"`

	// LockHeight is the kernel lock height, zero for none.
	LockHeight uint64 `json:"lock_height"`

	// Inputs are the compressed commitments of the coins being spent.
	Inputs [][]byte `json:"inputs"`

	// Outputs are the outputs contributed so far: the sender's change,
	// then the receiver's output.
	Outputs []Output `json:"outputs"`

	// Participants holds each party's public contribution.
	Participants []ParticipantData `json:"participant_data"`
}

// Serialize writes the slate in its JSON transport encoding.
func (s *Slate) Serialize(w io.Writer) error {
	return json.NewEncoder(w).Encode(s)
}

// Deserialize reads a slate from its JSON transport encoding. The result
// is structurally unvalidated; callers must run Validate before trusting
// any field.
func Deserialize(r io.Reader) (*Slate, error) {
	var s Slate
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &s, nil
}

// Validate performs structural validation: parseable commitments and
// points, a usable id, and participant entries consistent with the phase.
// Cryptographic consistency (signatures, balance) is the negotiation
// engine's job.
func (s *Slate) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if s.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrMalformed)
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrMalformed)
	}

	// A freshly created slate may carry no outputs at all when the
	// selected coins cover amount plus fee exactly. From the receive
	// phase on, the receiver's output must be present.
	if s.Phase >= PhaseReceived && len(s.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs", ErrMalformed)
	}

	for _, input := range s.Inputs {
		if _, err := mw.ParseCommitment(input); err != nil {
			return fmt.Errorf("%w: bad input commitment",
				ErrMalformed)
		}
	}
	for _, output := range s.Outputs {
		if _, err := mw.ParseCommitment(output.Commitment); err != nil {
			return fmt.Errorf("%w: bad output commitment",
				ErrMalformed)
		}
	}

	wantParticipants := 1
	if s.Phase >= PhaseReceived {
		wantParticipants = 2
	}
	if len(s.Participants) < wantParticipants {
		return fmt.Errorf("%w: %d participant entries in phase %v",
			ErrMalformed, len(s.Participants), s.Phase)
	}

	seen := make(map[uint8]struct{})
	for _, p := range s.Participants {
		if p.ID != SenderID && p.ID != ReceiverID {
			return fmt.Errorf("%w: unknown participant id %d",
				ErrMalformed, p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: duplicate participant id %d",
				ErrMalformed, p.ID)
		}
		seen[p.ID] = struct{}{}

		if _, err := btcec.ParsePubKey(p.PublicBlindExcess); err != nil {
			return fmt.Errorf("%w: bad blind excess", ErrMalformed)
		}
		if _, err := btcec.ParsePubKey(p.PublicNonce); err != nil {
			return fmt.Errorf("%w: bad public nonce", ErrMalformed)
		}
		if len(p.PartialSig) != 0 && len(p.PartialSig) != 32 {
			return fmt.Errorf("%w: bad partial sig length",
				ErrMalformed)
		}
	}

	return nil
}

// Participant returns the entry for the given participant id, or nil.
func (s *Slate) Participant(id uint8) *ParticipantData {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}

	return nil
}

// TotalNonce aggregates all participants' public nonces.
func (s *Slate) TotalNonce() (*btcec.PublicKey, error) {
	return s.sumParticipantKeys(func(p *ParticipantData) []byte {
		return p.PublicNonce
	})
}

// TotalExcess aggregates all participants' public blinding excesses: the
// public key the final kernel signature must verify under.
func (s *Slate) TotalExcess() (*btcec.PublicKey, error) {
	return s.sumParticipantKeys(func(p *ParticipantData) []byte {
		return p.PublicBlindExcess
	})
}

func (s *Slate) sumParticipantKeys(
	extract func(*ParticipantData) []byte) (*btcec.PublicKey, error) {

	keys := make([]*btcec.PublicKey, 0, len(s.Participants))
	for i := range s.Participants {
		key, err := btcec.ParsePubKey(extract(&s.Participants[i]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		keys = append(keys, key)
	}

	return mw.AddPubKeys(keys...)
}

// KernelMessage returns the message both parties sign for this slate.
func (s *Slate) KernelMessage() [32]byte {
	features := mw.KernelPlain
	if s.LockHeight > 0 {
		features = mw.KernelHeightLocked
	}

	return mw.KernelMessage(features, s.Fee, s.LockHeight)
}

// KernelFeatures returns the kernel class implied by the slate.
func (s *Slate) KernelFeatures() mw.KernelFeatures {
	if s.LockHeight > 0 {
		return mw.KernelHeightLocked
	}

	return mw.KernelPlain
}

// Clone returns a deep copy of the slate. The negotiation engine mutates
// only clones of incoming slates until validation has fully passed, so a
// rejected slate leaves no trace.
func (s *Slate) Clone() *Slate {
	clone := *s

	clone.Inputs = make([][]byte, len(s.Inputs))
	for i, input := range s.Inputs {
		clone.Inputs[i] = append([]byte(nil), input...)
	}

	clone.Outputs = make([]Output, len(s.Outputs))
	for i, output := range s.Outputs {
		clone.Outputs[i] = Output{
			Features:   output.Features,
			Commitment: append([]byte(nil), output.Commitment...),
		}
	}

	clone.Participants = make([]ParticipantData, len(s.Participants))
	for i, p := range s.Participants {
		clone.Participants[i] = ParticipantData{
			ID:     p.ID,
			PublicBlindExcess: append(
				[]byte(nil), p.PublicBlindExcess...,
			),
			PublicNonce: append([]byte(nil), p.PublicNonce...),
			PartialSig:  append([]byte(nil), p.PartialSig...),
			Message:     p.Message,
		}
	}

	return &clone
}
