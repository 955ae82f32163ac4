package ledger

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// Key prefixes for BadgerDB storage. Prefixes allow iterating one record
// type without touching the others.
var (
	// prefixAccount is the prefix for account records.
	// Key format: prefixAccount + pubkey (32 bytes).
	prefixAccount = []byte{0x01}

	// prefixMeta is the prefix for database metadata.
	prefixMeta = []byte{0x02}

	// metaSlot is the key for the current slot.
	metaSlot = append(prefixMeta, []byte("slot")...)

	// metaAccountsCount is the key for the accounts count.
	metaAccountsCount = append(prefixMeta, []byte("count")...)
)

// BadgerDBConfig contains configuration for the BadgerDB-backed store.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:       path,
		SyncWrites: false, // async for performance
	}
}

// BadgerDB is the BadgerDB-backed accounts database used by the daemon.
// Slot and count are cached in memory and persisted on Commit.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewBadgerDB opens a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return bdb, nil
}

// loadMeta restores the cached slot and count from disk.
func (b *BadgerDB) loadMeta() error {
	return b.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaSlot); err == nil {
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					b.slot.Store(binary.LittleEndian.Uint64(val))
				}
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if item, err := txn.Get(metaAccountsCount); err == nil {
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					b.accountsCount.Store(binary.LittleEndian.Uint64(val))
				}
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

// accountKey builds the storage key for a pubkey.
func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 0, len(prefixAccount)+types.PubkeySize)
	key = append(key, prefixAccount...)
	return append(key, pubkey[:]...)
}

// GetAccount retrieves an account.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account; zero accounts are deleted.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil {
		return err
	}

	if account.IsZero() {
		if exists {
			if err := b.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(accountKey(pubkey))
			}); err != nil {
				return err
			}
			b.accountsCount.Add(^uint64(0)) // decrement
		}
		return nil
	}

	data := account.Serialize()
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(pubkey), data)
	}); err != nil {
		return err
	}

	if !exists {
		b.accountsCount.Add(1)
	}
	return nil
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(pubkey))
	}); err != nil {
		return err
	}
	b.accountsCount.Add(^uint64(0)) // decrement
	return nil
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasAccountLocked(pubkey)
}

func (b *BadgerDB) hasAccountLocked(pubkey types.Pubkey) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot updates the current slot.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.slot.Store(slot)
	return nil
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// IterateAccounts visits all accounts in sorted pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefixAccount)+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[len(prefixAccount):])

			var account *Account
			if err := item.Value(func(val []byte) error {
				var err error
				account, err = DeserializeAccount(val)
				return err
			}); err != nil {
				return err
			}
			if err := fn(pubkey, account); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit persists the cached slot and count.
func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		slotBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(slotBuf, b.slot.Load())
		if err := txn.Set(metaSlot, slotBuf); err != nil {
			return err
		}

		countBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(countBuf, b.accountsCount.Load())
		return txn.Set(metaAccountsCount, countBuf)
	})
}

// Close commits and closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		slotBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(slotBuf, b.slot.Load())
		if err := txn.Set(metaSlot, slotBuf); err != nil {
			return err
		}
		countBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(countBuf, b.accountsCount.Load())
		return txn.Set(metaAccountsCount, countBuf)
	})
	if err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}
