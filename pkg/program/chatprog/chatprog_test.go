package chatprog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
	"github.com/milanjovanovic/solana-chat/pkg/program"
)

// invokeContext is a minimal test double for program.InvokeContext.
type invokeContext struct {
	accounts []*program.AccountInfo
	logs     []string
}

func (c *invokeContext) GetAccount(index int) (*program.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, program.ErrNotEnoughAccountKeys
	}
	return c.accounts[index], nil
}

func (c *invokeContext) GetRentMinimum(dataLen uint64) uint64 { return 0 }

func (c *invokeContext) Log(msg string) { c.logs = append(c.logs, msg) }

func testPubkey(b byte) types.Pubkey {
	var pk types.Pubkey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

// newChatContext builds a signer + writable storage account pair with a
// buffer of the given size.
func newChatContext(bufferSize int) *invokeContext {
	return &invokeContext{
		accounts: []*program.AccountInfo{
			{Key: testPubkey(1), IsSigner: true},
			{Key: testPubkey(2), IsWritable: true, Data: make([]byte, bufferSize)},
		},
	}
}

func mustEncode(t *testing.T, in chat.Instruction) []byte {
	t.Helper()
	raw, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return raw
}

func openTestAccount(t *testing.T, ctx *invokeContext, name string) {
	t.Helper()
	p := NewProcessor()
	raw := mustEncode(t, chat.OpenAccount(chat.NewAccountMetadata(name)))
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
}

func TestOpenAccount(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")

	var md chat.AccountMetadata
	if err := md.Decode(ctx.accounts[1].Data); err != nil {
		t.Fatalf("metadata did not decode: %v", err)
	}
	if md.Initialized != 1 {
		t.Errorf("Initialized = %d, want 1", md.Initialized)
	}
	if want := uint32(chat.MetadataBaseSize + 5); md.NextFreeIndex != want {
		t.Errorf("NextFreeIndex = %d, want %d", md.NextFreeIndex, want)
	}
	if md.LastMessageID != 0 {
		t.Errorf("LastMessageID = %d, want 0", md.LastMessageID)
	}
	if md.AccountName != "alice" {
		t.Errorf("AccountName = %q, want %q", md.AccountName, "alice")
	}
}

func TestOpenAccountIgnoresSubmittedCursor(t *testing.T) {
	// A hostile submitter cannot plant a cursor past the header.
	ctx := newChatContext(chat.AccountSize)
	md := chat.NewAccountMetadata("bob")
	md.NextFreeIndex = 4000
	md.Initialized = 0

	p := NewProcessor()
	if err := p.Process(ctx, mustEncode(t, chat.OpenAccount(md))); err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}

	var got chat.AccountMetadata
	if err := got.Decode(ctx.accounts[1].Data); err != nil {
		t.Fatalf("metadata did not decode: %v", err)
	}
	if want := uint32(got.Size()); got.NextFreeIndex != want {
		t.Errorf("NextFreeIndex = %d, want %d", got.NextFreeIndex, want)
	}
	if got.Initialized != 1 {
		t.Errorf("Initialized = %d, want 1", got.Initialized)
	}
}

func TestReopenRejectedBufferUnchanged(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")

	before := make([]byte, chat.AccountSize)
	copy(before, ctx.accounts[1].Data)

	p := NewProcessor()
	err := p.Process(ctx, mustEncode(t, chat.OpenAccount(chat.NewAccountMetadata("mallory"))))
	if !errors.Is(err, ErrAccountAlreadyOpen) {
		t.Fatalf("got %v, want ErrAccountAlreadyOpen", err)
	}
	if !bytes.Equal(before, ctx.accounts[1].Data) {
		t.Error("rejected reopen modified the buffer")
	}
}

func TestSendMessagesSequencing(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")
	p := NewProcessor()

	from := testPubkey(1)
	batch := chat.SendMessages(
		chat.NewMessage(from, "a"),
		chat.NewMessage(from, "b"),
	)
	if err := p.Process(ctx, mustEncode(t, batch)); err != nil {
		t.Fatalf("first send failed: %v", err)
	}

	if err := p.Process(ctx, mustEncode(t, chat.SendMessages(chat.NewMessage(from, "c")))); err != nil {
		t.Fatalf("second send failed: %v", err)
	}

	_, messages, err := chat.DecodeAccountData(ctx.accounts[1].Data)
	if err != nil {
		t.Fatalf("DecodeAccountData failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	for i, want := range []uint32{0, 1, 2} {
		if messages[i].ID != want {
			t.Errorf("message %d id = %d, want %d", i, messages[i].ID, want)
		}
	}
}

func TestSendMessagesEmptyBatch(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")

	before := make([]byte, chat.AccountSize)
	copy(before, ctx.accounts[1].Data)

	p := NewProcessor()
	if err := p.Process(ctx, mustEncode(t, chat.SendMessages())); err != nil {
		t.Fatalf("empty send failed: %v", err)
	}
	if !bytes.Equal(before, ctx.accounts[1].Data) {
		t.Error("empty send modified the buffer")
	}
}

func TestSendMessagesEndToEnd(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")
	p := NewProcessor()

	from := testPubkey(7)
	if err := p.Process(ctx, mustEncode(t, chat.SendMessages(chat.NewMessage(from, "hi")))); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	md, messages, err := chat.DecodeAccountData(ctx.accounts[1].Data)
	if err != nil {
		t.Fatalf("DecodeAccountData failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].ID != 0 || messages[0].From != from || messages[0].Msg != "hi" {
		t.Errorf("got %+v", messages[0])
	}
	// header 18 + message 4+32+4+2
	if want := uint32(18 + 42); md.NextFreeIndex != want {
		t.Errorf("NextFreeIndex = %d, want %d", md.NextFreeIndex, want)
	}
	if md.LastMessageID != 1 {
		t.Errorf("LastMessageID = %d, want 1", md.LastMessageID)
	}
}

func TestSendMessagesCapacity(t *testing.T) {
	// Buffer sized so exactly one "hi" message fits after the header.
	bufferSize := 18 + 42
	ctx := newChatContext(bufferSize)
	openTestAccount(t, ctx, "alice")
	p := NewProcessor()

	from := testPubkey(3)
	if err := p.Process(ctx, mustEncode(t, chat.SendMessages(chat.NewMessage(from, "hi")))); err != nil {
		t.Fatalf("send into exact fit failed: %v", err)
	}

	before := make([]byte, bufferSize)
	copy(before, ctx.accounts[1].Data)

	err := p.Process(ctx, mustEncode(t, chat.SendMessages(chat.NewMessage(from, "x"))))
	if !errors.Is(err, ErrAccountFull) {
		t.Fatalf("got %v, want ErrAccountFull", err)
	}
	if !bytes.Equal(before, ctx.accounts[1].Data) {
		t.Error("rejected send modified the buffer")
	}
}

func TestSendMessagesBatchAtomicity(t *testing.T) {
	// A batch that does not fit as a whole is rejected entirely, even though
	// its first message alone would fit.
	bufferSize := 18 + 42 + 10
	ctx := newChatContext(bufferSize)
	openTestAccount(t, ctx, "alice")
	p := NewProcessor()

	before := make([]byte, bufferSize)
	copy(before, ctx.accounts[1].Data)

	from := testPubkey(3)
	batch := chat.SendMessages(
		chat.NewMessage(from, "hi"),
		chat.NewMessage(from, "hi"),
	)
	if err := p.Process(ctx, mustEncode(t, batch)); !errors.Is(err, ErrAccountFull) {
		t.Fatalf("got %v, want ErrAccountFull", err)
	}
	if !bytes.Equal(before, ctx.accounts[1].Data) {
		t.Error("rejected batch modified the buffer")
	}
}

func TestDeleteMessagesUnsupported(t *testing.T) {
	ctx := newChatContext(chat.AccountSize)
	openTestAccount(t, ctx, "alice")
	p := NewProcessor()

	if err := p.Process(ctx, mustEncode(t, chat.DeleteMessages(0))); !errors.Is(err, ErrDeleteUnsupported) {
		t.Errorf("got %v, want ErrDeleteUnsupported", err)
	}
}

func TestProcessAccountChecks(t *testing.T) {
	p := NewProcessor()
	raw := mustEncode(t, chat.SendMessages(chat.NewMessage(testPubkey(1), "hi")))

	t.Run("missing accounts", func(t *testing.T) {
		ctx := &invokeContext{}
		if err := p.Process(ctx, raw); !errors.Is(err, program.ErrNotEnoughAccountKeys) {
			t.Errorf("got %v, want ErrNotEnoughAccountKeys", err)
		}
	})

	t.Run("unsigned sender", func(t *testing.T) {
		ctx := newChatContext(chat.AccountSize)
		ctx.accounts[0].IsSigner = false
		if err := p.Process(ctx, raw); !errors.Is(err, program.ErrMissingRequiredSignature) {
			t.Errorf("got %v, want ErrMissingRequiredSignature", err)
		}
	})

	t.Run("read-only storage", func(t *testing.T) {
		ctx := newChatContext(chat.AccountSize)
		ctx.accounts[1].IsWritable = false
		if err := p.Process(ctx, raw); !errors.Is(err, program.ErrAccountNotWritable) {
			t.Errorf("got %v, want ErrAccountNotWritable", err)
		}
	})

	t.Run("garbage instruction", func(t *testing.T) {
		ctx := newChatContext(chat.AccountSize)
		if err := p.Process(ctx, []byte{99, 1, 2, 3}); !errors.Is(err, program.ErrInvalidInstructionData) {
			t.Errorf("got %v, want ErrInvalidInstructionData", err)
		}
	})
}
