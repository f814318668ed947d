package offload

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/robocap/robocap/pkg/types"
)

var bucketTransactions = []byte("transactions")

// TransactionStore persists offload transactions so an interrupted
// session can resume polling or downloading without re-uploading.
type TransactionStore struct {
	db *bolt.DB
}

// OpenTransactionStore opens (or creates) the store under dataDir.
func OpenTransactionStore(dataDir string) (*TransactionStore, error) {
	dbPath := filepath.Join(dataDir, "offload.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open offload store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTransactions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &TransactionStore{db: db}, nil
}

// Put upserts a transaction keyed by repo id.
func (s *TransactionStore) Put(txn *types.OffloadTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(txn)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTransactions).Put([]byte(txn.RepoID), data)
	})
}

// Get returns the transaction for a repo id, or nil when absent.
func (s *TransactionStore) Get(repoID string) (*types.OffloadTransaction, error) {
	var txn *types.OffloadTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTransactions).Get([]byte(repoID))
		if data == nil {
			return nil
		}
		txn = &types.OffloadTransaction{}
		return json.Unmarshal(data, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// List returns all stored transactions.
func (s *TransactionStore) List() ([]*types.OffloadTransaction, error) {
	var out []*types.OffloadTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(_, v []byte) error {
			txn := &types.OffloadTransaction{}
			if err := json.Unmarshal(v, txn); err != nil {
				return err
			}
			out = append(out, txn)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying database.
func (s *TransactionStore) Close() error {
	return s.db.Close()
}
