// Package program defines the types shared by native program processors:
// the per-instruction account view, the invocation context supplied by the
// runtime, and the error conditions common to all programs.
package program

import (
	"errors"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// Errors shared by native programs.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrInvalidSeed              = errors.New("invalid seed")
)

// AccountInfo holds one account's state during instruction execution. The
// runtime hands programs staged copies; mutations become visible only when
// the whole transaction commits.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// InvokeContext provides the runtime services available to a program during
// one instruction.
type InvokeContext interface {
	// GetAccount returns the staged account at the given instruction index.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for a data size.
	GetRentMinimum(dataLen uint64) uint64

	// Log records a program log message.
	Log(msg string)
}

// Processor is implemented by every native program.
type Processor interface {
	// Process executes one instruction against the accounts in ctx.
	Process(ctx InvokeContext, data []byte) error
}
