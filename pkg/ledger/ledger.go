// Package ledger implements the accounts database backing the chat node.
//
// Every chat account, user wallet and program account lives here as a
// generic Account record keyed by pubkey. The runtime loads accounts from a
// DB, mutates staged copies during transaction execution and writes the
// results back; the chat program itself never touches this package.
//
// Two implementations are provided: MemoryDB for tests and BadgerDB for the
// daemon.
package ledger

import (
	"encoding/binary"
	"errors"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidData is returned when a stored account record is malformed.
	ErrInvalidData = errors.New("invalid account data")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")
)

// Rent model: flat price per byte-year, two years prepaid, with a fixed
// per-account overhead. Matches Solana's constants.
const (
	rentPerByteYear   = 3480
	rentExemptYears   = 2
	rentByteOverhead  = 128
)

// RentMinimum returns the rent-exempt minimum balance for an account holding
// dataLen bytes.
func RentMinimum(dataLen uint64) uint64 {
	return (dataLen + rentByteOverhead) * rentPerByteYear * rentExemptYears
}

// Account is a single ledger account.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data; for chat accounts this is the fixed-capacity
	// message buffer.
	Data []byte

	// Owner is the program that owns this account. Only the owner program
	// may modify Data.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the serialized record size.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account record for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8).
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	offset += copy(buf[offset:], a.Data)

	offset += copy(buf[offset:], a.Owner[:])

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account record.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // minimum: 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	offset := 0
	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	if dataLen > uint64(len(data)-offset-41) { // 32 (owner) + 1 (executable) + 8 (rent_epoch)
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	rentEpoch := binary.LittleEndian.Uint64(data[offset:])

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}, nil
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent read access.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no lamports and no data), it is deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account. Nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// IterateAccounts visits all accounts in sorted pubkey order.
	// Returning an error from the callback stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// Commit persists pending changes.
	Commit() error

	// Close closes the database.
	Close() error
}
