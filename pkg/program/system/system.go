// Package system implements the subset of the System Program the chat
// ledger needs: creating accounts (plain and seed-derived) and transferring
// lamports.
package system

import (
	"encoding/binary"
	"fmt"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/program"
)

// ProgramID is the System Program address (all zeros).
var ProgramID types.Pubkey

// Instruction discriminants, u32 little-endian. The numbering matches
// Solana's system program so client-built payloads stay portable.
const (
	InstructionCreateAccount         = 0
	InstructionTransfer              = 2
	InstructionCreateAccountWithSeed = 3
)

// MaxAccountDataSize caps account allocations.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes one System Program instruction.
func (p *Processor) Process(ctx program.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return program.ErrInvalidInstructionData
	}

	instruction := binary.LittleEndian.Uint32(data[:4])

	switch instruction {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionCreateAccountWithSeed:
		return p.processCreateAccountWithSeed(ctx, data[4:])
	default:
		return program.ErrInvalidInstructionData
	}
}

// CreateAccountParams for the CreateAccount instruction.
type CreateAccountParams struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// EncodeCreateAccount builds CreateAccount instruction data.
func EncodeCreateAccount(params CreateAccountParams) []byte {
	buf := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(buf[0:4], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(buf[4:12], params.Lamports)
	binary.LittleEndian.PutUint64(buf[12:20], params.Space)
	copy(buf[20:52], params.Owner[:])
	return buf
}

func (p *Processor) processCreateAccount(ctx program.InvokeContext, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) < 48 {
		return program.ErrInvalidInstructionData
	}

	params := CreateAccountParams{
		Lamports: binary.LittleEndian.Uint64(data[0:8]),
		Space:    binary.LittleEndian.Uint64(data[8:16]),
	}
	copy(params.Owner[:], data[16:48])

	if params.Space > MaxAccountDataSize {
		return program.ErrAccountDataTooLarge
	}

	funder, err := ctx.GetAccount(0)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return program.ErrMissingRequiredSignature
	}

	return createAccount(ctx, funder, newAccount, params.Lamports, params.Space, params.Owner)
}

// CreateAccountWithSeedParams for the CreateAccountWithSeed instruction.
type CreateAccountWithSeedParams struct {
	Base     types.Pubkey
	Seed     string
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// EncodeCreateAccountWithSeed builds CreateAccountWithSeed instruction data.
// Layout: base (32) + seed_len (8) + seed + lamports (8) + space (8) + owner (32).
func EncodeCreateAccountWithSeed(params CreateAccountWithSeedParams) []byte {
	buf := make([]byte, 4+32+8+len(params.Seed)+8+8+32)
	binary.LittleEndian.PutUint32(buf[0:4], InstructionCreateAccountWithSeed)
	copy(buf[4:36], params.Base[:])
	binary.LittleEndian.PutUint64(buf[36:44], uint64(len(params.Seed)))
	offset := 44 + copy(buf[44:], params.Seed)
	binary.LittleEndian.PutUint64(buf[offset:offset+8], params.Lamports)
	binary.LittleEndian.PutUint64(buf[offset+8:offset+16], params.Space)
	copy(buf[offset+16:offset+48], params.Owner[:])
	return buf
}

func (p *Processor) processCreateAccountWithSeed(ctx program.InvokeContext, data []byte) error {
	// base (32) + seed_len (8) + seed + lamports (8) + space (8) + owner (32)
	if len(data) < 40 {
		return program.ErrInvalidInstructionData
	}

	var base types.Pubkey
	copy(base[:], data[0:32])

	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > types.MaxSeedLen || uint64(len(data)) < 40+seedLen+48 {
		return program.ErrInvalidSeed
	}

	seed := string(data[40 : 40+seedLen])
	offset := 40 + seedLen

	lamports := binary.LittleEndian.Uint64(data[offset : offset+8])
	space := binary.LittleEndian.Uint64(data[offset+8 : offset+16])
	var owner types.Pubkey
	copy(owner[:], data[offset+16:offset+48])

	if space > MaxAccountDataSize {
		return program.ErrAccountDataTooLarge
	}

	funder, err := ctx.GetAccount(0)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner {
		return program.ErrMissingRequiredSignature
	}

	expected, err := types.CreateWithSeed(base, seed, owner)
	if err != nil {
		return program.ErrInvalidSeed
	}
	if expected != newAccount.Key {
		return fmt.Errorf("%w: derived address mismatch", program.ErrInvalidSeed)
	}

	return createAccount(ctx, funder, newAccount, lamports, space, owner)
}

// createAccount funds, allocates and assigns a fresh account.
func createAccount(ctx program.InvokeContext, funder, newAccount *program.AccountInfo, lamports, space uint64, owner types.Pubkey) error {
	if funder.Lamports < lamports {
		return program.ErrInsufficientFunds
	}
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return program.ErrAccountAlreadyInUse
	}
	if lamports < ctx.GetRentMinimum(space) {
		return program.ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: success")
	return nil
}

// EncodeTransfer builds Transfer instruction data.
func EncodeTransfer(lamports uint64) []byte {
	buf := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(buf[0:4], InstructionTransfer)
	binary.LittleEndian.PutUint64(buf[4:12], lamports)
	return buf
}

func (p *Processor) processTransfer(ctx program.InvokeContext, data []byte) error {
	// lamports (8)
	if len(data) < 8 {
		return program.ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[0:8])

	from, err := ctx.GetAccount(0)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return program.ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return program.ErrAccountNotWritable
	}
	if from.Lamports < lamports {
		return program.ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return fmt.Errorf("%w: lamport overflow", program.ErrInvalidInstructionData)
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}
