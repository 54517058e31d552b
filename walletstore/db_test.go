package walletstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/vault"
)

// openTestDB opens a store in a per-test temp dir, closed on cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

// testEncryptedSeed produces a throwaway encrypted seed.
func testEncryptedSeed(t *testing.T) *vault.EncryptedSeed {
	t.Helper()

	seed, err := vault.GenerateSeed()
	require.NoError(t, err)

	enc, err := vault.EncryptWalletSeed(seed, []byte("test passphrase"))
	require.NoError(t, err)

	return enc
}

// testOutput builds an unspent output with a commitment derived from the
// passed tag byte.
func testOutput(tag byte, amount uint64) *outputs.OutputData {
	commit := make([]byte, 33)
	commit[0] = 0x08
	commit[1] = tag

	return &outputs.OutputData{
		Commitment:  commit,
		Amount:      amount,
		Status:      outputs.StatusUnspent,
		BlockHeight: 1,
	}
}

// TestCreateWallet asserts seed storage and the username collision rule.
func TestCreateWallet(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seed := testEncryptedSeed(t)

	require.NoError(t, db.CreateWallet("alice", seed))
	require.ErrorIs(t, db.CreateWallet("alice", seed), ErrWalletExists)

	stored, err := db.GetEncryptedSeed("alice")
	require.NoError(t, err)
	require.Equal(t, seed.Ciphertext, stored.Ciphertext)

	_, err = db.GetEncryptedSeed("mallory")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

// TestNextChildIndex asserts indices increment per user and never repeat.
func TestNextChildIndex(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	for want := uint32(0); want < 3; want++ {
		got, err := db.NextChildIndex("alice")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// A different user has an independent counter.
	got, err := db.NextChildIndex("bob")
	require.NoError(t, err)
	require.Zero(t, got)
}

// TestLockOutputsAndSaveSlate asserts locking is atomic: a conflicting
// coin rolls back the whole operation, including the slate record.
func TestLockOutputsAndSaveSlate(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	coinA := testOutput(1, 10)
	coinB := testOutput(2, 20)
	require.NoError(t, db.PutOutput("alice", coinA))
	require.NoError(t, db.PutOutput("alice", coinB))

	slateID := uuid.New()
	record := &SlateRecord{
		ID:        slateID,
		Role:      RoleSender,
		CreatedAt: time.Now(),
	}

	change := testOutput(3, 5)
	change.BlockHeight = 0
	change.CreatedBy = slateID

	err := db.LockOutputsAndSaveSlate(
		"alice", record,
		[][]byte{coinA.Commitment, coinB.Commitment},
		[]*outputs.OutputData{change},
	)
	require.NoError(t, err)

	coins, err := db.ListOutputs("alice")
	require.NoError(t, err)
	require.Len(t, coins, 3)
	for _, coin := range coins {
		if coin.CreatedBy == slateID {
			continue
		}
		require.Equal(t, outputs.StatusLocked, coin.Status)
		require.Equal(t, slateID, coin.LockedBy)
	}

	// Replaying the same slate id must fail.
	err = db.LockOutputsAndSaveSlate(
		"alice", record, nil, nil,
	)
	require.ErrorIs(t, err, ErrSlateExists)

	// A second slate touching an already locked coin must fail without
	// being recorded.
	second := &SlateRecord{
		ID:        uuid.New(),
		Role:      RoleSender,
		CreatedAt: time.Now(),
	}
	err = db.LockOutputsAndSaveSlate(
		"alice", second, [][]byte{coinA.Commitment}, nil,
	)
	require.ErrorIs(t, err, ErrOutputConflict)

	_, err = db.GetSlate("alice", second.ID)
	require.ErrorIs(t, err, ErrSlateNotFound)
}

// TestCancelSlate asserts cancellation reverts every ledger effect of the
// slate.
func TestCancelSlate(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	coin := testOutput(1, 30)
	require.NoError(t, db.PutOutput("alice", coin))

	slateID := uuid.New()
	change := testOutput(2, 4)
	change.CreatedBy = slateID

	record := &SlateRecord{
		ID:        slateID,
		Role:      RoleSender,
		CreatedAt: time.Now(),
	}
	err := db.LockOutputsAndSaveSlate(
		"alice", record, [][]byte{coin.Commitment},
		[]*outputs.OutputData{change},
	)
	require.NoError(t, err)

	require.NoError(t, db.CancelSlate("alice", slateID))

	coins, err := db.ListOutputs("alice")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, outputs.StatusUnspent, coins[0].Status)
	require.Equal(t, uuid.Nil, coins[0].LockedBy)

	_, err = db.GetSlate("alice", slateID)
	require.ErrorIs(t, err, ErrSlateNotFound)

	// Canceling twice is a miss, not a corruption.
	require.ErrorIs(t, db.CancelSlate("alice", slateID), ErrSlateNotFound)
}

// TestFinalizeSlate asserts finalization flips locked coins to spent,
// records the transaction, and refuses later cancellation.
func TestFinalizeSlate(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	coin := testOutput(1, 30)
	require.NoError(t, db.PutOutput("alice", coin))

	slateID := uuid.New()
	record := &SlateRecord{
		ID:        slateID,
		Role:      RoleSender,
		CreatedAt: time.Now(),
	}
	err := db.LockOutputsAndSaveSlate(
		"alice", record, [][]byte{coin.Commitment}, nil,
	)
	require.NoError(t, err)

	txBytes := []byte("serialized transaction")
	require.NoError(t, db.FinalizeSlate("alice", slateID, txBytes))

	stored, err := db.GetTransaction("alice", slateID)
	require.NoError(t, err)
	require.Equal(t, txBytes, stored)

	coins, err := db.ListOutputs("alice")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, outputs.StatusSpent, coins[0].Status)

	rec, err := db.GetSlate("alice", slateID)
	require.NoError(t, err)
	require.True(t, rec.Finalized)

	require.Error(t, db.CancelSlate("alice", slateID))
}
