package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoints = []byte("checkpoints")
	keyLastBlock      = []byte("last_block")
)

// CheckpointStore persists indexer progress in a local Bolt database so a
// restart resumes where the previous run stopped.
type CheckpointStore struct {
	db *bolt.DB
}

// OpenCheckpoints initialises (and migrates) the Bolt-backed checkpoint store.
func OpenCheckpoints(path string) (*CheckpointStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CheckpointStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *CheckpointStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save records the last fully indexed block.
func (s *CheckpointStore) Save(block uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("chain: checkpoint store not initialised")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, block)
		return tx.Bucket(bucketCheckpoints).Put(keyLastBlock, buf)
	})
}

// Load returns the last recorded block. ok is false when no checkpoint has
// been written yet.
func (s *CheckpointStore) Load() (uint64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("chain: checkpoint store not initialised")
	}
	var (
		block uint64
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCheckpoints).Get(keyLastBlock)
		if len(raw) == 8 {
			block = binary.BigEndian.Uint64(raw)
			ok = true
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return block, ok, nil
}
