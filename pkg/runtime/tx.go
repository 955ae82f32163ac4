// Package runtime executes signed transactions against the accounts
// database, dispatching instructions to the native programs.
//
// The transaction envelope is this ledger's own compact format (both ends of
// the wire live in this repository); the instruction payloads inside it are
// byte-compatible with the original on-chain chat program.
package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// Transaction size limits.
const (
	MaxTxAccounts     = 64
	MaxTxInstructions = 16
	MaxInstructionLen = 8 * 1024
)

var (
	// ErrTxMalformed is returned when a transaction fails to decode.
	ErrTxMalformed = errors.New("malformed transaction")

	// ErrTxTooLarge is returned when a transaction exceeds the size limits.
	ErrTxTooLarge = errors.New("transaction too large")

	// ErrSignatureVerification is returned when the fee payer signature does
	// not verify against the message bytes.
	ErrSignatureVerification = errors.New("transaction signature verification failed")
)

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation before compilation: the target
// program, the accounts it touches and its opaque data payload.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction references accounts by index into the transaction's
// account table.
type CompiledInstruction struct {
	ProgramIndex   uint8
	AccountIndices []uint8
	Data           []byte
}

// TxMessage is the signed portion of a transaction.
type TxMessage struct {
	// RecentBlockhash ties the signature to a ledger state and keeps
	// identical payloads from producing identical signatures.
	RecentBlockhash types.Hash

	// Accounts is the deduplicated account table. Accounts[0] is the fee
	// payer and the transaction's sole required signer.
	Accounts []AccountMeta

	// Instructions are executed in order; all succeed or none commit.
	Instructions []CompiledInstruction
}

// account flag bits on the wire.
const (
	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// Serialize encodes the message. Layout, all little-endian:
// blockhash (32) | n_accounts (1) | per account: pubkey (32) + flags (1) |
// n_instructions (1) | per instruction: program_index (1) + n_indices (1) +
// indices + data_len (4) + data.
func (m *TxMessage) Serialize() ([]byte, error) {
	if len(m.Accounts) > MaxTxAccounts || len(m.Instructions) > MaxTxInstructions {
		return nil, ErrTxTooLarge
	}

	size := types.HashSize + 1 + len(m.Accounts)*(types.PubkeySize+1) + 1
	for i := range m.Instructions {
		in := &m.Instructions[i]
		if len(in.Data) > MaxInstructionLen || len(in.AccountIndices) > MaxTxAccounts {
			return nil, ErrTxTooLarge
		}
		size += 1 + 1 + len(in.AccountIndices) + 4 + len(in.Data)
	}

	buf := make([]byte, size)
	offset := copy(buf, m.RecentBlockhash[:])

	buf[offset] = uint8(len(m.Accounts))
	offset++
	for i := range m.Accounts {
		acc := &m.Accounts[i]
		offset += copy(buf[offset:], acc.Pubkey[:])
		var flags byte
		if acc.IsSigner {
			flags |= flagSigner
		}
		if acc.IsWritable {
			flags |= flagWritable
		}
		buf[offset] = flags
		offset++
	}

	buf[offset] = uint8(len(m.Instructions))
	offset++
	for i := range m.Instructions {
		in := &m.Instructions[i]
		buf[offset] = in.ProgramIndex
		buf[offset+1] = uint8(len(in.AccountIndices))
		offset += 2
		offset += copy(buf[offset:], in.AccountIndices)
		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(in.Data)))
		offset += 4
		offset += copy(buf[offset:], in.Data)
	}

	return buf, nil
}

// DecodeTxMessage decodes a serialized message.
func DecodeTxMessage(data []byte) (TxMessage, error) {
	var m TxMessage
	if len(data) < types.HashSize+2 {
		return m, ErrTxMalformed
	}
	offset := copy(m.RecentBlockhash[:], data)

	numAccounts := int(data[offset])
	offset++
	if numAccounts > MaxTxAccounts || len(data) < offset+numAccounts*(types.PubkeySize+1)+1 {
		return m, ErrTxMalformed
	}
	m.Accounts = make([]AccountMeta, numAccounts)
	for i := 0; i < numAccounts; i++ {
		copy(m.Accounts[i].Pubkey[:], data[offset:])
		offset += types.PubkeySize
		flags := data[offset]
		offset++
		m.Accounts[i].IsSigner = flags&flagSigner != 0
		m.Accounts[i].IsWritable = flags&flagWritable != 0
	}

	numInstructions := int(data[offset])
	offset++
	if numInstructions > MaxTxInstructions {
		return m, ErrTxMalformed
	}
	m.Instructions = make([]CompiledInstruction, numInstructions)
	for i := 0; i < numInstructions; i++ {
		if len(data) < offset+2 {
			return m, ErrTxMalformed
		}
		in := &m.Instructions[i]
		in.ProgramIndex = data[offset]
		numIndices := int(data[offset+1])
		offset += 2
		if len(data) < offset+numIndices+4 {
			return m, ErrTxMalformed
		}
		in.AccountIndices = make([]uint8, numIndices)
		copy(in.AccountIndices, data[offset:offset+numIndices])
		offset += numIndices

		dataLen := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if dataLen > MaxInstructionLen || len(data) < offset+dataLen {
			return m, ErrTxMalformed
		}
		in.Data = make([]byte, dataLen)
		copy(in.Data, data[offset:offset+dataLen])
		offset += dataLen
	}

	if offset != len(data) {
		return m, ErrTxMalformed
	}
	return m, nil
}

// Transaction is a signed message. The signature is the fee payer's Ed25519
// signature over the serialized message bytes.
type Transaction struct {
	Signature types.Signature
	Message   TxMessage
}

// NewTransaction compiles instructions into a message and signs it with the
// fee payer's keypair. The fee payer becomes Accounts[0].
func NewTransaction(blockhash types.Hash, instructions []Instruction, feePayer *types.Keypair) (*Transaction, error) {
	msg, err := compileMessage(blockhash, instructions, feePayer.Pubkey())
	if err != nil {
		return nil, err
	}
	raw, err := msg.Serialize()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signature: feePayer.Sign(raw),
		Message:   msg,
	}, nil
}

// compileMessage builds the deduplicated account table (fee payer first,
// then referenced accounts, then programs) and rewrites instructions to use
// indices.
func compileMessage(blockhash types.Hash, instructions []Instruction, feePayer types.Pubkey) (TxMessage, error) {
	msg := TxMessage{RecentBlockhash: blockhash}

	index := make(map[types.Pubkey]int)
	add := func(meta AccountMeta) int {
		if i, ok := index[meta.Pubkey]; ok {
			// Merge flags: any signer/writable reference wins.
			if meta.IsSigner {
				msg.Accounts[i].IsSigner = true
			}
			if meta.IsWritable {
				msg.Accounts[i].IsWritable = true
			}
			return i
		}
		index[meta.Pubkey] = len(msg.Accounts)
		msg.Accounts = append(msg.Accounts, meta)
		return len(msg.Accounts) - 1
	}

	add(AccountMeta{Pubkey: feePayer, IsSigner: true, IsWritable: true})
	for i := range instructions {
		for _, meta := range instructions[i].Accounts {
			add(meta)
		}
	}
	for i := range instructions {
		add(AccountMeta{Pubkey: instructions[i].ProgramID})
	}

	if len(msg.Accounts) > MaxTxAccounts {
		return TxMessage{}, ErrTxTooLarge
	}

	for i := range instructions {
		in := &instructions[i]
		compiled := CompiledInstruction{
			ProgramIndex: uint8(index[in.ProgramID]),
			Data:         in.Data,
		}
		for _, meta := range in.Accounts {
			compiled.AccountIndices = append(compiled.AccountIndices, uint8(index[meta.Pubkey]))
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}

	return msg, nil
}

// Serialize encodes the transaction: signature (64) | message.
func (t *Transaction) Serialize() ([]byte, error) {
	msg, err := t.Message.Serialize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, types.SignatureSize+len(msg))
	copy(buf, t.Signature[:])
	copy(buf[types.SignatureSize:], msg)
	return buf, nil
}

// DecodeTransaction decodes a serialized transaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	if len(data) < types.SignatureSize {
		return nil, ErrTxMalformed
	}
	var t Transaction
	copy(t.Signature[:], data[:types.SignatureSize])
	msg, err := DecodeTxMessage(data[types.SignatureSize:])
	if err != nil {
		return nil, err
	}
	t.Message = msg
	return &t, nil
}

// Verify checks the fee payer signature against the message bytes.
func (t *Transaction) Verify() error {
	if len(t.Message.Accounts) == 0 {
		return ErrTxMalformed
	}
	if !t.Message.Accounts[0].IsSigner {
		return fmt.Errorf("%w: fee payer must sign", ErrTxMalformed)
	}
	raw, err := t.Message.Serialize()
	if err != nil {
		return err
	}
	if !t.Signature.Verify(t.Message.Accounts[0].Pubkey, raw) {
		return ErrSignatureVerification
	}
	return nil
}

// FeePayer returns the transaction's fee payer pubkey.
func (t *Transaction) FeePayer() types.Pubkey {
	if len(t.Message.Accounts) == 0 {
		return types.Pubkey{}
	}
	return t.Message.Accounts[0].Pubkey
}
