package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/program"
	"github.com/milanjovanovic/solana-chat/pkg/program/chatprog"
	"github.com/milanjovanovic/solana-chat/pkg/program/system"
)

var (
	// ErrUnknownProgram is returned when an instruction targets a program
	// this runtime does not host.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrUnauthorizedSigner is returned when a transaction marks an account
	// as signer without carrying its signature.
	ErrUnauthorizedSigner = errors.New("account marked signer without signature")
)

// Config holds executor configuration.
type Config struct {
	// ChatProgramID is the address the chat program is registered under.
	ChatProgramID types.Pubkey

	// Genesis seeds the blockhash chain.
	Genesis types.Hash
}

// DefaultConfig returns a configuration with the default chat program id.
func DefaultConfig() Config {
	return Config{
		ChatProgramID: chatprog.DefaultProgramID,
		Genesis:       types.ComputeHash([]byte("solana-chat-genesis")),
	}
}

// Result describes one processed transaction. ProgramErr is set when a
// program rejected the transaction; such transactions are still recorded,
// they just commit nothing.
type Result struct {
	Signature types.Signature
	Slot      uint64
	FeePayer  types.Pubkey
	ProgramErr error
	Logs      []string
}

// StoredMessages reports chat messages appended by a committed transaction.
type StoredMessages struct {
	Slot     uint64
	Account  types.Pubkey
	Messages []chat.Message
}

// Executor applies transactions to the accounts database one at a time.
//
// It is the serial-ordering mechanism the chat program relies on: the
// internal lock guarantees at most one transaction mutates the ledger at a
// time, so programs never need locking of their own. All account mutations
// of a transaction are staged on clones and committed only if every
// instruction succeeds.
type Executor struct {
	mu  sync.Mutex
	db  ledger.DB
	cfg Config

	chatProcessor   *chatprog.Processor
	systemProcessor *system.Processor

	// OnMessages, when set, is called after commit for every chat account
	// that gained messages.
	OnMessages func(StoredMessages)
}

// New creates an executor over the given accounts database.
func New(db ledger.DB, cfg Config) *Executor {
	return &Executor{
		db:              db,
		cfg:             cfg,
		chatProcessor:   chatprog.NewProcessor(),
		systemProcessor: system.NewProcessor(),
	}
}

// ChatProgramID returns the configured chat program address.
func (e *Executor) ChatProgramID() types.Pubkey {
	return e.cfg.ChatProgramID
}

// Slot returns the current slot.
func (e *Executor) Slot() uint64 {
	return e.db.GetSlot()
}

// RecentBlockhash returns the blockhash for the current slot:
// SHA256(genesis || slot). Carried in transactions for signature domain
// separation; the executor does not reject stale blockhashes.
func (e *Executor) RecentBlockhash() types.Hash {
	var buf [types.HashSize + 8]byte
	copy(buf[:], e.cfg.Genesis[:])
	binary.LittleEndian.PutUint64(buf[types.HashSize:], e.db.GetSlot())
	return types.ComputeHash(buf[:])
}

// Airdrop credits lamports to an account, creating it if needed. Test and
// local-cluster convenience, mirroring a faucet.
func (e *Executor) Airdrop(pubkey types.Pubkey, lamports uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	account, err := e.db.GetAccount(pubkey)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		account = &ledger.Account{Owner: types.SystemProgramAddr}
	} else if err != nil {
		return 0, err
	}
	account.Lamports += lamports
	if err := e.db.SetAccount(pubkey, account); err != nil {
		return 0, err
	}

	slot := e.db.GetSlot() + 1
	if err := e.db.SetSlot(slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// Execute verifies and applies one transaction.
//
// A non-nil error means the transaction was rejected outright (bad envelope
// or signature) and left no trace. A Result with ProgramErr set means a
// program failed: the transaction consumed a slot and is worth journaling,
// but no account changed.
func (e *Executor) Execute(tx *Transaction) (*Result, error) {
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	// Only the fee payer's signature travels with the envelope, so no other
	// account may claim signer privileges.
	for i := 1; i < len(tx.Message.Accounts); i++ {
		if tx.Message.Accounts[i].IsSigner {
			return nil, ErrUnauthorizedSigner
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	staged, err := e.loadAccounts(&tx.Message)
	if err != nil {
		return nil, err
	}

	cursors := e.chatCursors(staged)

	result := &Result{
		Signature: tx.Signature,
		FeePayer:  tx.FeePayer(),
	}

	ctx := &invokeContext{rentMinimum: ledger.RentMinimum, logs: &result.Logs}
	for i := range tx.Message.Instructions {
		in := &tx.Message.Instructions[i]
		if int(in.ProgramIndex) >= len(staged) {
			return nil, ErrTxMalformed
		}
		programID := staged[in.ProgramIndex].Key

		ctx.accounts = ctx.accounts[:0]
		for _, idx := range in.AccountIndices {
			if int(idx) >= len(staged) {
				return nil, ErrTxMalformed
			}
			ctx.accounts = append(ctx.accounts, staged[idx])
		}

		var processor program.Processor
		switch programID {
		case system.ProgramID:
			processor = e.systemProcessor
		case e.cfg.ChatProgramID:
			processor = e.chatProcessor
		default:
			result.ProgramErr = fmt.Errorf("%w: %s", ErrUnknownProgram, programID)
		}
		if result.ProgramErr == nil {
			result.ProgramErr = processor.Process(ctx, in.Data)
		}
		if result.ProgramErr != nil {
			result.Logs = append(result.Logs, fmt.Sprintf("instruction %d failed: %v", i, result.ProgramErr))
			break
		}
	}

	// Every processed transaction consumes a slot, committed or not.
	slot := e.db.GetSlot() + 1
	if err := e.db.SetSlot(slot); err != nil {
		return nil, err
	}
	result.Slot = slot

	if result.ProgramErr != nil {
		return result, nil
	}

	for i, info := range staged {
		if !tx.Message.Accounts[i].IsWritable {
			continue
		}
		account := &ledger.Account{
			Lamports:   info.Lamports,
			Data:       info.Data,
			Owner:      info.Owner,
			Executable: info.Executable,
			RentEpoch:  0,
		}
		if err := e.db.SetAccount(info.Key, account); err != nil {
			return nil, fmt.Errorf("commit account %s: %w", info.Key, err)
		}
	}

	e.reportStoredMessages(slot, staged, cursors)
	return result, nil
}

// loadAccounts stages clones of every account in the transaction table.
// Missing accounts start out empty and system-owned.
func (e *Executor) loadAccounts(msg *TxMessage) ([]*program.AccountInfo, error) {
	staged := make([]*program.AccountInfo, len(msg.Accounts))
	for i := range msg.Accounts {
		meta := &msg.Accounts[i]
		info := &program.AccountInfo{
			Key:        meta.Pubkey,
			Owner:      types.SystemProgramAddr,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
		account, err := e.db.GetAccount(meta.Pubkey)
		if err == nil {
			info.Owner = account.Owner
			info.Lamports = account.Lamports
			info.Data = account.Data // already a clone
			info.Executable = account.Executable
		} else if !errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, err
		}
		staged[i] = info
	}
	return staged, nil
}

// chatCursors snapshots the write cursor of every staged chat account so
// newly appended messages can be reported after commit.
func (e *Executor) chatCursors(staged []*program.AccountInfo) map[types.Pubkey]int {
	cursors := make(map[types.Pubkey]int)
	for _, info := range staged {
		if info.Owner != e.cfg.ChatProgramID || len(info.Data) == 0 {
			continue
		}
		var md chat.AccountMetadata
		if err := md.Decode(info.Data); err != nil || md.Initialized == 0 {
			// A not-yet-opened chat account's log starts at the header end.
			cursors[info.Key] = -1
			continue
		}
		cursors[info.Key] = int(md.NextFreeIndex)
	}
	return cursors
}

// reportStoredMessages decodes the region each chat account's cursor moved
// over and hands the new messages to the OnMessages callback.
func (e *Executor) reportStoredMessages(slot uint64, staged []*program.AccountInfo, cursors map[types.Pubkey]int) {
	if e.OnMessages == nil {
		return
	}
	for _, info := range staged {
		if info.Owner != e.cfg.ChatProgramID || len(info.Data) == 0 {
			continue
		}
		var md chat.AccountMetadata
		if err := md.Decode(info.Data); err != nil || md.Initialized == 0 {
			continue
		}
		before, seen := cursors[info.Key]
		if !seen || before < 0 {
			before = md.Size()
		}
		after := int(md.NextFreeIndex)
		if after <= before || after > len(info.Data) {
			continue
		}
		messages, err := chat.DecodeMessages(info.Data[before:after])
		if err != nil || len(messages) == 0 {
			continue
		}
		e.OnMessages(StoredMessages{Slot: slot, Account: info.Key, Messages: messages})
	}
}

// invokeContext is the runtime's program.InvokeContext implementation for
// one instruction.
type invokeContext struct {
	accounts    []*program.AccountInfo
	rentMinimum func(uint64) uint64
	logs        *[]string
}

func (c *invokeContext) GetAccount(index int) (*program.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, program.ErrNotEnoughAccountKeys
	}
	return c.accounts[index], nil
}

func (c *invokeContext) GetRentMinimum(dataLen uint64) uint64 {
	return c.rentMinimum(dataLen)
}

func (c *invokeContext) Log(msg string) {
	*c.logs = append(*c.logs, "Program log: "+msg)
}
