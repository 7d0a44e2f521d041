package chainstate

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketState holds every state key.
var bucketState = []byte("state")

// Bolt is a bbolt-backed Backend.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) a bbolt database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get(key)
		if v == nil {
			return ErrNotFound
		}
		// bolt values are only valid for the life of the transaction
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *Bolt) Put(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(key, value)
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
