package slate

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mwcproject/mwcwallet/mw"
)

// testSlate returns a structurally valid slate in the created phase.
func testSlate(t *testing.T) *Slate {
	t.Helper()

	blind, err := mw.GenSecNonce()
	require.NoError(t, err)
	nonce, err := mw.GenSecNonce()
	require.NoError(t, err)

	input := mw.NewCommitment(blind, 50)
	change := mw.NewCommitment(nonce, 20)

	return &Slate{
		ID:     uuid.New(),
		Phase:  PhaseCreated,
		Amount: 25,
		Fee:    5,
		Inputs: [][]byte{input.Bytes()},
		Outputs: []Output{
			{Commitment: change.Bytes()},
		},
		Participants: []ParticipantData{
			{
				ID: SenderID,
				PublicBlindExcess: mw.NoncePubKey(
					blind,
				).SerializeCompressed(),
				PublicNonce: mw.NoncePubKey(
					nonce,
				).SerializeCompressed(),
			},
		},
	}
}

// TestSlateValidate exercises the structural checks a slate from an
// untrusted counterparty must pass.
func TestSlateValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testSlate(t).Validate())

	missingID := testSlate(t)
	missingID.ID = uuid.Nil
	require.ErrorIs(t, missingID.Validate(), ErrMalformed)

	zeroAmount := testSlate(t)
	zeroAmount.Amount = 0
	require.ErrorIs(t, zeroAmount.Validate(), ErrMalformed)

	badInput := testSlate(t)
	badInput.Inputs[0] = make([]byte, mw.CommitmentSize)
	require.ErrorIs(t, badInput.Validate(), ErrMalformed)

	badKey := testSlate(t)
	badKey.Participants[0].PublicNonce = []byte{0x01, 0x02}
	require.ErrorIs(t, badKey.Validate(), ErrMalformed)

	duplicate := testSlate(t)
	duplicate.Participants = append(
		duplicate.Participants, duplicate.Participants[0],
	)
	require.ErrorIs(t, duplicate.Validate(), ErrMalformed)

	// A received-phase slate with only one participant entry is
	// inconsistent.
	shortHanded := testSlate(t)
	shortHanded.Phase = PhaseReceived
	require.ErrorIs(t, shortHanded.Validate(), ErrMalformed)
}

// TestSlateSerializeRoundTrip asserts the transport encoding preserves
// the slate.
func TestSlateSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	s := testSlate(t)

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))

	decoded, err := Deserialize(&buf)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())
	require.Equal(t, s.ID, decoded.ID)
	require.Equal(t, s.Amount, decoded.Amount)
	require.Equal(t, s.Inputs, decoded.Inputs)

	_, err = Deserialize(bytes.NewReader([]byte("not json")))
	require.ErrorIs(t, err, ErrMalformed)
}

// TestSlateClone asserts mutations of a clone never reach the original.
func TestSlateClone(t *testing.T) {
	t.Parallel()

	s := testSlate(t)
	clone := s.Clone()

	clone.Inputs[0][0] ^= 0xff
	clone.Participants[0].Message = "changed"
	clone.Phase = PhaseReceived

	require.NoError(t, s.Validate())
	require.Equal(t, PhaseCreated, s.Phase)
	require.Empty(t, s.Participants[0].Message)
}
