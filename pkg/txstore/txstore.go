// Package txstore provides persistent storage for processed transactions.
//
// Every transaction the node executes is journaled here, keyed by its
// signature, together with an address index so clients can page through the
// history of one account. Backed by bbolt; records are gob-encoded.
package txstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

var (
	// ErrTransactionNotFound is returned when a signature is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("txstore closed")
)

// Bucket names.
var (
	// bucketTransactions stores records keyed by signature.
	bucketTransactions = []byte("transactions")

	// bucketAddressIndex indexes signatures by address.
	// Key format: pubkey (32) + slot (8, big-endian for ordering) + signature (64).
	bucketAddressIndex = []byte("addr_index")
)

// TxRecord is the journaled form of one processed transaction.
type TxRecord struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64
	FeePayer  types.Pubkey

	// Err is the program error message, empty on success.
	Err string

	// Logs are the program log messages emitted during execution.
	Logs []string
}

// Succeeded reports whether the transaction committed.
func (r *TxRecord) Succeeded() bool {
	return r.Err == ""
}

// Config holds store configuration.
type Config struct {
	// Path is the bbolt database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool
}

// Store is the bbolt-backed transaction journal.
type Store struct {
	db     *bolt.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the journal at cfg.Path.
func Open(cfg Config) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open txstore: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTransactions, bucketAddressIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Put journals a record and indexes it under the given addresses.
func (s *Store) Put(record *TxRecord, addresses []types.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTransactions).Put(record.Signature[:], buf.Bytes()); err != nil {
			return err
		}

		index := tx.Bucket(bucketAddressIndex)
		for _, addr := range addresses {
			key := addressKey(addr, record.Slot, record.Signature)
			if err := index.Put(key, record.Signature[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the record for a signature.
func (s *Store) Get(signature types.Signature) (*TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var record TxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTransactions).Get(signature[:])
		if raw == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SignaturesForAddress returns up to limit signatures that touched an
// address, newest slot first.
func (s *Store) SignaturesForAddress(address types.Pubkey, limit int) ([]types.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 1000
	}

	var signatures []types.Signature
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressIndex).Cursor()

		// Slot is big-endian in the key, so a forward walk over the address
		// prefix is oldest-first; reverse afterwards for newest-first.
		prefix := address[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			sig, err := types.SignatureFromBytes(v)
			if err != nil {
				return err
			}
			signatures = append(signatures, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(signatures)-1; i < j; i, j = i+1, j-1 {
		signatures[i], signatures[j] = signatures[j], signatures[i]
	}
	if len(signatures) > limit {
		signatures = signatures[:limit]
	}
	return signatures, nil
}

// Count returns the number of journaled transactions.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var count uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		count = uint64(tx.Bucket(bucketTransactions).Stats().KeyN)
		return nil
	})
	return count, err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

// addressKey builds an address-index key: pubkey + slot (big-endian) + signature.
func addressKey(address types.Pubkey, slot uint64, signature types.Signature) []byte {
	key := make([]byte, 0, types.PubkeySize+8+types.SignatureSize)
	key = append(key, address[:]...)
	var slotBuf [8]byte
	binary.BigEndian.PutUint64(slotBuf[:], slot)
	key = append(key, slotBuf[:]...)
	return append(key, signature[:]...)
}
