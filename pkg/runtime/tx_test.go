package runtime

import (
	"bytes"
	"errors"
	"testing"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

func testPubkey(b byte) types.Pubkey {
	var pk types.Pubkey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func mustKeypair(t *testing.T) *types.Keypair {
	t.Helper()
	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	return kp
}

func TestTransactionRoundTrip(t *testing.T) {
	payer := mustKeypair(t)
	blockhash := types.ComputeHash([]byte("bh"))

	instructions := []Instruction{
		{
			ProgramID: testPubkey(9),
			Accounts: []AccountMeta{
				{Pubkey: payer.Pubkey(), IsSigner: true, IsWritable: true},
				{Pubkey: testPubkey(2), IsWritable: true},
			},
			Data: []byte{1, 2, 3},
		},
	}

	tx, err := NewTransaction(blockhash, instructions, payer)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if tx.FeePayer() != payer.Pubkey() {
		t.Errorf("FeePayer = %s, want %s", tx.FeePayer(), payer.Pubkey())
	}

	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	decoded, err := DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("DecodeTransaction failed: %v", err)
	}
	if decoded.Signature != tx.Signature {
		t.Error("signature changed in round trip")
	}
	if decoded.Message.RecentBlockhash != blockhash {
		t.Error("blockhash changed in round trip")
	}
	if err := decoded.Verify(); err != nil {
		t.Errorf("decoded transaction does not verify: %v", err)
	}
	if len(decoded.Message.Instructions) != 1 ||
		!bytes.Equal(decoded.Message.Instructions[0].Data, []byte{1, 2, 3}) {
		t.Errorf("instructions = %+v", decoded.Message.Instructions)
	}
}

func TestCompileMessageDeduplicates(t *testing.T) {
	payer := mustKeypair(t)
	shared := testPubkey(5)
	programID := testPubkey(9)

	instructions := []Instruction{
		{
			ProgramID: programID,
			Accounts: []AccountMeta{
				{Pubkey: shared, IsWritable: true},
			},
		},
		{
			ProgramID: programID,
			Accounts: []AccountMeta{
				{Pubkey: shared}, // read-only reference to the same account
				{Pubkey: payer.Pubkey(), IsSigner: true},
			},
		},
	}

	tx, err := NewTransaction(types.Hash{}, instructions, payer)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	// payer, shared, program: three distinct entries.
	if len(tx.Message.Accounts) != 3 {
		t.Fatalf("account table size = %d, want 3", len(tx.Message.Accounts))
	}
	if tx.Message.Accounts[0].Pubkey != payer.Pubkey() {
		t.Error("fee payer is not Accounts[0]")
	}
	// The writable reference wins over the read-only one.
	if !tx.Message.Accounts[1].IsWritable {
		t.Error("merged account lost its writable flag")
	}
	// Both instructions reference the same table slot.
	if tx.Message.Instructions[0].AccountIndices[0] != tx.Message.Instructions[1].AccountIndices[0] {
		t.Error("shared account compiled to different indices")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	payer := mustKeypair(t)
	tx, err := NewTransaction(types.Hash{}, []Instruction{
		{ProgramID: testPubkey(9), Data: []byte{1}},
	}, payer)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	tx.Message.RecentBlockhash = types.ComputeHash([]byte("other"))
	if err := tx.Verify(); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("got %v, want ErrSignatureVerification", err)
	}
}

func TestVerifyRejectsUnsignedFeePayer(t *testing.T) {
	payer := mustKeypair(t)
	tx, err := NewTransaction(types.Hash{}, []Instruction{
		{ProgramID: testPubkey(9)},
	}, payer)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	tx.Message.Accounts[0].IsSigner = false
	if err := tx.Verify(); !errors.Is(err, ErrTxMalformed) {
		t.Errorf("got %v, want ErrTxMalformed", err)
	}
}

func TestDecodeTransactionMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"signature only":  make([]byte, types.SignatureSize),
		"truncated table": append(make([]byte, types.SignatureSize+types.HashSize), 5, 0),
	}
	for name, raw := range cases {
		if _, err := DecodeTransaction(raw); !errors.Is(err, ErrTxMalformed) {
			t.Errorf("%s: got %v, want ErrTxMalformed", name, err)
		}
	}

	// Trailing garbage after a valid message is rejected.
	payer := mustKeypair(t)
	tx, err := NewTransaction(types.Hash{}, []Instruction{{ProgramID: testPubkey(9)}}, payer)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if _, err := DecodeTransaction(append(raw, 0)); !errors.Is(err, ErrTxMalformed) {
		t.Errorf("trailing byte: got %v, want ErrTxMalformed", err)
	}
}

func TestSerializeLimits(t *testing.T) {
	msg := TxMessage{
		Accounts: make([]AccountMeta, MaxTxAccounts+1),
	}
	if _, err := msg.Serialize(); !errors.Is(err, ErrTxTooLarge) {
		t.Errorf("too many accounts: got %v, want ErrTxTooLarge", err)
	}

	msg = TxMessage{
		Accounts: []AccountMeta{{Pubkey: testPubkey(1), IsSigner: true}},
		Instructions: []CompiledInstruction{
			{Data: make([]byte, MaxInstructionLen+1)},
		},
	}
	if _, err := msg.Serialize(); !errors.Is(err, ErrTxTooLarge) {
		t.Errorf("oversized instruction: got %v, want ErrTxTooLarge", err)
	}
}
