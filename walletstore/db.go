package walletstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // bolt driver
	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/vault"
)

var (
	// walletBucket maps username -> encrypted seed JSON.
	walletBucket = []byte("wallets")

	// outputBucket holds one nested bucket per username, mapping
	// commitment -> output JSON.
	outputBucket = []byte("outputs")

	// slateBucket holds one nested bucket per username, mapping
	// slate id -> slate record JSON.
	slateBucket = []byte("slates")

	// txBucket holds one nested bucket per username, mapping slate id
	// -> serialized transaction.
	txBucket = []byte("transactions")

	// indexBucket maps username -> next key derivation index.
	indexBucket = []byte("keyindex")
)

// dbTimeout bounds how long opening the database may block on the file
// lock.
const dbTimeout = 10 * time.Second

// DB is the bolt-backed Store implementation.
type DB struct {
	db walletdb.DB
}

// A compile time check to ensure DB implements the Store interface.
var _ Store = (*DB)(nil)

// Open opens, or creates if absent, the wallet database at the passed
// path and provisions the top level buckets.
func Open(dbPath string) (*DB, error) {
	db, err := walletdb.Open("bdb", dbPath, true, dbTimeout)
	if err != nil {
		db, err = walletdb.Create("bdb", dbPath, true, dbTimeout)
		if err != nil {
			return nil, fmt.Errorf("unable to open wallet db: %w",
				err)
		}
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		buckets := [][]byte{
			walletBucket, outputBucket, slateBucket, txBucket,
			indexBucket,
		}
		for _, bucket := range buckets {
			_, err := tx.CreateTopLevelBucket(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("unable to provision "+
				"buckets: %v, close error: %v", err, closeErr)
		}
		return nil, err
	}

	log.Infof("Opened wallet database at %s", dbPath)

	return &DB{db: db}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// CreateWallet stores the encrypted seed for a new username.
func (d *DB) CreateWallet(username string, seed *vault.EncryptedSeed) error {
	encoded, err := json.Marshal(seed)
	if err != nil {
		return err
	}

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		wallets := tx.ReadWriteBucket(walletBucket)
		if wallets.Get([]byte(username)) != nil {
			return ErrWalletExists
		}

		return wallets.Put([]byte(username), encoded)
	})
}

// GetEncryptedSeed fetches a user's encrypted seed.
func (d *DB) GetEncryptedSeed(username string) (*vault.EncryptedSeed, error) {
	var seed vault.EncryptedSeed
	err := walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		encoded := tx.ReadBucket(walletBucket).Get([]byte(username))
		if encoded == nil {
			return ErrWalletNotFound
		}

		return json.Unmarshal(encoded, &seed)
	})
	if err != nil {
		return nil, err
	}

	return &seed, nil
}

// PutEncryptedSeed replaces a user's encrypted seed.
func (d *DB) PutEncryptedSeed(username string,
	seed *vault.EncryptedSeed) error {

	encoded, err := json.Marshal(seed)
	if err != nil {
		return err
	}

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		wallets := tx.ReadWriteBucket(walletBucket)
		if wallets.Get([]byte(username)) == nil {
			return ErrWalletNotFound
		}

		return wallets.Put([]byte(username), encoded)
	})
}

// userBucket fetches or creates the nested per-user bucket under the
// passed top level bucket.
func userBucket(tx walletdb.ReadWriteTx, top []byte,
	username string) (walletdb.ReadWriteBucket, error) {

	return tx.ReadWriteBucket(top).CreateBucketIfNotExists(
		[]byte(username),
	)
}

// putOutput writes one output into the user's output bucket.
func putOutput(bucket walletdb.ReadWriteBucket,
	output *outputs.OutputData) error {

	encoded, err := json.Marshal(output)
	if err != nil {
		return err
	}

	return bucket.Put(output.Commitment, encoded)
}

// PutOutput inserts or replaces one owned output.
func (d *DB) PutOutput(username string, output *outputs.OutputData) error {
	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		bucket, err := userBucket(tx, outputBucket, username)
		if err != nil {
			return err
		}

		return putOutput(bucket, output)
	})
}

// ListOutputs returns all outputs known for the user.
func (d *DB) ListOutputs(username string) ([]*outputs.OutputData, error) {
	var coins []*outputs.OutputData
	err := walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(outputBucket).NestedReadBucket(
			[]byte(username),
		)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			if v == nil {
				return nil
			}

			var output outputs.OutputData
			if err := json.Unmarshal(v, &output); err != nil {
				return err
			}
			coins = append(coins, &output)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return coins, nil
}

// NextChildIndex allocates the next key derivation index for the user.
func (d *DB) NextChildIndex(username string) (uint32, error) {
	var index uint32
	err := walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(indexBucket)

		var next uint32
		if raw := bucket.Get([]byte(username)); len(raw) == 4 {
			next = binary.BigEndian.Uint32(raw)
		}
		index = next

		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], next+1)

		return bucket.Put([]byte(username), raw[:])
	})
	if err != nil {
		return 0, err
	}

	return index, nil
}

// putSlateRecord writes a slate record, failing if the id already exists.
func putSlateRecord(bucket walletdb.ReadWriteBucket,
	record *SlateRecord) error {

	if bucket.Get(record.ID[:]) != nil {
		return ErrSlateExists
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return bucket.Put(record.ID[:], encoded)
}

// LockOutputsAndSaveSlate atomically locks the selected coins, stores any
// outputs the slate created, and records the slate.
func (d *DB) LockOutputsAndSaveSlate(username string, record *SlateRecord,
	lockCommits [][]byte, newOutputs []*outputs.OutputData) error {

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		slates, err := userBucket(tx, slateBucket, username)
		if err != nil {
			return err
		}
		if err := putSlateRecord(slates, record); err != nil {
			return err
		}

		coins, err := userBucket(tx, outputBucket, username)
		if err != nil {
			return err
		}

		for _, commit := range lockCommits {
			raw := coins.Get(commit)
			if raw == nil {
				return ErrOutputNotFound
			}

			var output outputs.OutputData
			if err := json.Unmarshal(raw, &output); err != nil {
				return err
			}
			if output.Status != outputs.StatusUnspent {
				return fmt.Errorf("%w: %s", ErrOutputConflict,
					output.CommitmentHex())
			}

			output.Status = outputs.StatusLocked
			output.LockedBy = record.ID
			if err := putOutput(coins, &output); err != nil {
				return err
			}
		}

		for _, output := range newOutputs {
			if err := putOutput(coins, output); err != nil {
				return err
			}
		}

		return nil
	})
}

// SaveReceivedSlate atomically records a receiver-side slate and the
// output it created.
func (d *DB) SaveReceivedSlate(username string, record *SlateRecord,
	newOutput *outputs.OutputData) error {

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		slates, err := userBucket(tx, slateBucket, username)
		if err != nil {
			return err
		}
		if err := putSlateRecord(slates, record); err != nil {
			return err
		}

		coins, err := userBucket(tx, outputBucket, username)
		if err != nil {
			return err
		}

		return putOutput(coins, newOutput)
	})
}

// GetSlate fetches a slate record by id.
func (d *DB) GetSlate(username string, id uuid.UUID) (*SlateRecord, error) {
	var record SlateRecord
	err := walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(slateBucket).NestedReadBucket(
			[]byte(username),
		)
		if bucket == nil {
			return ErrSlateNotFound
		}

		raw := bucket.Get(id[:])
		if raw == nil {
			return ErrSlateNotFound
		}

		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// ForEachSlate iterates all slate records for the user.
func (d *DB) ForEachSlate(username string,
	cb func(*SlateRecord) error) error {

	return walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(slateBucket).NestedReadBucket(
			[]byte(username),
		)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			if v == nil {
				return nil
			}

			var record SlateRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}

			return cb(&record)
		})
	})
}

// FinalizeSlate atomically marks the slate finalized, its inputs spent,
// and stores the finalized transaction.
func (d *DB) FinalizeSlate(username string, id uuid.UUID,
	txBytes []byte) error {

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		slates, err := userBucket(tx, slateBucket, username)
		if err != nil {
			return err
		}

		raw := slates.Get(id[:])
		if raw == nil {
			return ErrSlateNotFound
		}

		var record SlateRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		record.Finalized = true

		encoded, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		if err := slates.Put(id[:], encoded); err != nil {
			return err
		}

		// Inputs the slate had locked are now spent, pending
		// confirmation.
		coins, err := userBucket(tx, outputBucket, username)
		if err != nil {
			return err
		}
		var spent []*outputs.OutputData
		err = forEachUserOutput(coins, func(output *outputs.OutputData) error {
			if output.Status != outputs.StatusLocked ||
				output.LockedBy != id {

				return nil
			}

			output.Status = outputs.StatusSpent
			spent = append(spent, output)
			return nil
		})
		if err != nil {
			return err
		}
		for _, output := range spent {
			if err := putOutput(coins, output); err != nil {
				return err
			}
		}

		txs, err := userBucket(tx, txBucket, username)
		if err != nil {
			return err
		}

		return txs.Put(id[:], txBytes)
	})
}

// CancelSlate atomically reverts a negotiation's effects on the ledger.
func (d *DB) CancelSlate(username string, id uuid.UUID) error {
	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		slates, err := userBucket(tx, slateBucket, username)
		if err != nil {
			return err
		}

		raw := slates.Get(id[:])
		if raw == nil {
			return ErrSlateNotFound
		}

		var record SlateRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record.Finalized {
			return fmt.Errorf("cannot cancel finalized slate %v",
				id)
		}

		coins, err := userBucket(tx, outputBucket, username)
		if err != nil {
			return err
		}

		// Unlock inputs the slate reserved and drop outputs it
		// created; neither has ever been visible outside this wallet.
		var (
			toDelete [][]byte
			toUnlock []*outputs.OutputData
		)
		err = forEachUserOutput(coins, func(output *outputs.OutputData) error {
			switch {
			case output.CreatedBy == id:
				toDelete = append(toDelete, output.Commitment)

			case output.Status == outputs.StatusLocked &&
				output.LockedBy == id:

				output.Status = outputs.StatusUnspent
				output.LockedBy = uuid.Nil
				toUnlock = append(toUnlock, output)
			}

			return nil
		})
		if err != nil {
			return err
		}
		for _, output := range toUnlock {
			if err := putOutput(coins, output); err != nil {
				return err
			}
		}
		for _, commit := range toDelete {
			if err := coins.Delete(commit); err != nil {
				return err
			}
		}

		return slates.Delete(id[:])
	})
}

// GetTransaction fetches the finalized transaction for a slate id.
func (d *DB) GetTransaction(username string, id uuid.UUID) ([]byte, error) {
	var txBytes []byte
	err := walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(txBucket).NestedReadBucket(
			[]byte(username),
		)
		if bucket == nil {
			return ErrSlateNotFound
		}

		raw := bucket.Get(id[:])
		if raw == nil {
			return ErrSlateNotFound
		}

		txBytes = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return txBytes, nil
}

// ForEachUser iterates all usernames with a wallet.
func (d *DB) ForEachUser(cb func(username string) error) error {
	return walletdb.View(d.db, func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(walletBucket).ForEach(
			func(k, v []byte) error {
				if v == nil {
					return nil
				}

				return cb(string(k))
			},
		)
	})
}

// forEachUserOutput decodes and visits every output in the passed user
// bucket. Callers must not mutate the bucket from the callback; mutations
// are collected and applied once iteration has finished.
func forEachUserOutput(bucket walletdb.ReadWriteBucket,
	cb func(*outputs.OutputData) error) error {

	return bucket.ForEach(func(_, v []byte) error {
		if v == nil {
			return nil
		}

		var output outputs.OutputData
		if err := json.Unmarshal(v, &output); err != nil {
			return err
		}

		return cb(&output)
	})
}
