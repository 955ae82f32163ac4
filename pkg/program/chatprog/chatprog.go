// Package chatprog implements the chat program: an append-only message log
// stored inside a fixed-capacity account buffer.
//
// The program accepts three instructions (see pkg/chat for the wire format):
//
//   - OpenAccount writes the metadata header into a zeroed buffer, moving
//     the account from Uninitialized to Open. Reopening fails and leaves the
//     buffer untouched.
//   - SendMessages appends a batch of messages at the header's write cursor,
//     assigning sequence ids, then rewrites the header.
//   - DeleteMessages is declared in the wire format but not supported; it
//     fails explicitly so callers never believe a deletion occurred.
//
// Each invocation is a pure function of (buffer bytes, instruction bytes).
// An instruction either fully applies or is rejected before any byte of the
// buffer changes; serialization of concurrent invocations is the runtime's
// job, not the program's.
package chatprog

import (
	"errors"
	"fmt"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
	"github.com/milanjovanovic/solana-chat/pkg/program"
)

// Program errors.
var (
	// ErrAccountAlreadyOpen is returned when OpenAccount targets an
	// initialized account.
	ErrAccountAlreadyOpen = errors.New("chat account already open")

	// ErrAccountFull is returned when a message batch would not fit in the
	// account buffer.
	ErrAccountFull = errors.New("chat account full")

	// ErrDeleteUnsupported is returned for DeleteMessages. Deletion is part
	// of the wire format but has never been implemented.
	ErrDeleteUnsupported = errors.New("message deletion not supported")
)

// DefaultProgramID is the chat program address used when none is configured.
var DefaultProgramID = func() types.Pubkey {
	id, _ := types.CreateWithSeed(types.SystemProgramAddr, "chat-program", types.SystemProgramAddr)
	return id
}()

// Accounts expected by every chat instruction.
const (
	idxSender  = 0 // message sender / account opener, must sign
	idxStorage = 1 // chat account buffer, must be writable
)

// Processor executes chat program instructions.
type Processor struct{}

// NewProcessor creates a chat program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes one chat instruction.
//
// The storage account's current metadata must decode before anything else is
// attempted; a buffer that does not even parse as metadata is fatal for the
// whole call. Any codec failure surfaces as ErrInvalidInstructionData.
func (p *Processor) Process(ctx program.InvokeContext, data []byte) error {
	sender, err := ctx.GetAccount(idxSender)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}
	if !sender.IsSigner {
		return program.ErrMissingRequiredSignature
	}

	storage, err := ctx.GetAccount(idxStorage)
	if err != nil {
		return program.ErrNotEnoughAccountKeys
	}
	if !storage.IsWritable {
		return program.ErrAccountNotWritable
	}

	var metadata chat.AccountMetadata
	if err := metadata.Decode(storage.Data); err != nil {
		return fmt.Errorf("%w: account metadata: %v", program.ErrInvalidInstructionData, err)
	}

	instruction, err := chat.DecodeInstruction(data)
	if err != nil {
		return fmt.Errorf("%w: %v", program.ErrInvalidInstructionData, err)
	}

	switch instruction.Tag {
	case chat.TagSendMessages:
		ctx.Log("SendMessages")
		return appendMessages(storage.Data, &metadata, instruction.Messages)

	case chat.TagDeleteMessages:
		ctx.Log("DeleteMessages")
		return ErrDeleteUnsupported

	case chat.TagOpenAccount:
		ctx.Log(fmt.Sprintf("OpenAccount: %q", instruction.Metadata.AccountName))
		if metadata.Initialized != 0 {
			return ErrAccountAlreadyOpen
		}
		return openAccount(storage.Data, instruction.Metadata)

	default:
		return program.ErrInvalidInstructionData
	}
}

// openAccount writes the supplied metadata into the buffer's leading region.
// The write cursor is forced to the header's own size regardless of what the
// submitter put on the wire, so the log always begins right after the header.
func openAccount(buffer []byte, metadata chat.AccountMetadata) error {
	metadata.Initialized = 1
	metadata.NextFreeIndex = uint32(metadata.Size())
	if metadata.Size() > len(buffer) {
		return ErrAccountFull
	}
	return metadata.Serialize(buffer[:metadata.Size()])
}

// appendMessages assigns sequence ids to the batch, writes the messages at
// the current cursor and rewrites the header.
//
// Ids start at the account's current LastMessageID: the first message of a
// batch receives exactly LastMessageID, so an account's very first message
// carries id 0.
//
// The messages and the updated header are staged off-buffer first. After the
// bounds check, the only remaining buffer operations are plain copies, so a
// failed batch can never be observed as partially-applied bytes.
func appendMessages(buffer []byte, metadata *chat.AccountMetadata, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	nextID := metadata.LastMessageID
	total := 0
	for i := range messages {
		messages[i].ID = nextID
		nextID++
		total += messages[i].Size()
	}

	start := int(metadata.NextFreeIndex)
	if start < metadata.Size() || start+total > len(buffer) {
		return ErrAccountFull
	}

	staged := make([]byte, total)
	if err := chat.SerializeMessages(messages, staged); err != nil {
		return fmt.Errorf("%w: %v", program.ErrInvalidInstructionData, err)
	}

	// Despite its name, LastMessageID holds the id the NEXT message will
	// receive. Stored logs depend on this numbering.
	header := *metadata
	header.NextFreeIndex = uint32(start + total)
	header.LastMessageID = nextID
	stagedHeader := make([]byte, header.Size())
	if err := header.Serialize(stagedHeader); err != nil {
		return fmt.Errorf("%w: %v", program.ErrInvalidInstructionData, err)
	}

	copy(buffer[start:start+total], staged)
	copy(buffer[:len(stagedHeader)], stagedHeader)
	*metadata = header
	return nil
}
