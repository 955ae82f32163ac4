// Package chat implements the wire format of the on-chain chat program.
//
// A chat account is a fixed-capacity byte buffer with an AccountMetadata
// header at offset 0 followed by a contiguous append-only log of Messages.
// Instructions submitted to the program are a one-byte discriminant followed
// by the variant payload. All integers are little-endian and fixed width;
// strings are length-prefixed raw UTF-8.
//
// The codec is the shared contract between the client that builds
// instruction bytes and the program that applies them; any change to field
// order or width breaks existing stored accounts.
package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// Instruction discriminants.
const (
	TagSendMessages   = 0
	TagDeleteMessages = 1
	TagOpenAccount    = 2
)

// Wire-size constants.
const (
	u8Size  = 1
	u32Size = 4

	// MessageHeaderSize is the fixed part of a serialized Message:
	// id (4) + from (32) + msg_len (4).
	MessageHeaderSize = u32Size + types.PubkeySize + u32Size

	// MetadataBaseSize is the fixed part of a serialized AccountMetadata:
	// initialized (1) + next_free_index (4) + last_message_id (4) + name_len (4).
	MetadataBaseSize = u8Size + 3*u32Size

	// AccountSize is the fixed capacity of a chat account buffer.
	AccountSize = 5 * 1024
)

// ErrDecode is the root of all codec failures. Every error returned by this
// package matches errors.Is(err, ErrDecode).
var ErrDecode = errors.New("chat: decode failed")

var (
	// ErrSizeMismatch is returned by Serialize when the destination slice
	// length does not equal the value's Size().
	ErrSizeMismatch = fmt.Errorf("%w: destination size mismatch", ErrDecode)

	// ErrTruncated is returned when a length-prefixed field would read past
	// the end of the input.
	ErrTruncated = fmt.Errorf("%w: truncated input", ErrDecode)

	// ErrUnknownTag is returned for an unrecognized instruction discriminant.
	ErrUnknownTag = fmt.Errorf("%w: unknown instruction tag", ErrDecode)
)

// lossyUTF8 converts raw bytes to a string, replacing invalid sequences with
// U+FFFD. Round trips are byte-exact only for data produced by this codec.
func lossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// Message is one chat entry. The id is assigned by the program when the
// message is stored, never by the submitter.
type Message struct {
	ID   uint32
	From types.Pubkey
	Msg  string
}

// NewMessage builds a message with a zero id, ready for submission.
func NewMessage(from types.Pubkey, msg string) Message {
	return Message{From: from, Msg: msg}
}

// Size returns the exact serialized length.
func (m *Message) Size() int {
	return MessageHeaderSize + len(m.Msg)
}

// Serialize encodes the message into dst, which must be exactly Size() bytes.
func (m *Message) Serialize(dst []byte) error {
	if len(dst) != m.Size() {
		return ErrSizeMismatch
	}
	binary.LittleEndian.PutUint32(dst[0:4], m.ID)
	copy(dst[4:36], m.From[:])
	binary.LittleEndian.PutUint32(dst[36:40], uint32(len(m.Msg)))
	copy(dst[40:], m.Msg)
	return nil
}

// Decode reads one message from the front of src. Trailing bytes beyond the
// message's own size are ignored, which is what allows messages to be parsed
// back-to-back out of the account log.
func (m *Message) Decode(src []byte) error {
	if len(src) < MessageHeaderSize {
		return ErrTruncated
	}
	msgLen := binary.LittleEndian.Uint32(src[36:40])
	end := MessageHeaderSize + int(msgLen)
	if end > len(src) {
		return ErrTruncated
	}
	m.ID = binary.LittleEndian.Uint32(src[0:4])
	copy(m.From[:], src[4:36])
	m.Msg = lossyUTF8(src[MessageHeaderSize:end])
	return nil
}

// DecodeMessages parses a contiguous message log front to back. There is no
// count field; the slice bounds are the terminating condition. An empty
// slice yields an empty log, and a message that would cross the end of the
// slice fails the whole decode.
func DecodeMessages(data []byte) ([]Message, error) {
	var messages []Message
	for offset := 0; offset < len(data); {
		var m Message
		if err := m.Decode(data[offset:]); err != nil {
			return nil, err
		}
		messages = append(messages, m)
		offset += m.Size()
	}
	return messages, nil
}

// SerializeMessages encodes messages back-to-back into dst, which must hold
// exactly the sum of their sizes.
func SerializeMessages(messages []Message, dst []byte) error {
	offset := 0
	for i := range messages {
		size := messages[i].Size()
		if offset+size > len(dst) {
			return ErrSizeMismatch
		}
		if err := messages[i].Serialize(dst[offset : offset+size]); err != nil {
			return err
		}
		offset += size
	}
	if offset != len(dst) {
		return ErrSizeMismatch
	}
	return nil
}

// AccountMetadata is the header at offset 0 of every chat account.
// NextFreeIndex is the exclusive end offset of the message log and the write
// cursor for the next append; on a freshly opened account it equals Size().
type AccountMetadata struct {
	Initialized   uint8
	NextFreeIndex uint32
	LastMessageID uint32
	AccountName   string
}

// NewAccountMetadata builds the header for a freshly opened account.
func NewAccountMetadata(name string) AccountMetadata {
	md := AccountMetadata{
		Initialized: 1,
		AccountName: name,
	}
	md.NextFreeIndex = uint32(md.Size())
	return md
}

// Size returns the exact serialized length: 13 + len(name).
func (md *AccountMetadata) Size() int {
	return MetadataBaseSize + len(md.AccountName)
}

// Serialize encodes the header into dst, which must be exactly Size() bytes.
func (md *AccountMetadata) Serialize(dst []byte) error {
	if len(dst) != md.Size() {
		return ErrSizeMismatch
	}
	dst[0] = md.Initialized
	binary.LittleEndian.PutUint32(dst[1:5], md.NextFreeIndex)
	binary.LittleEndian.PutUint32(dst[5:9], md.LastMessageID)
	binary.LittleEndian.PutUint32(dst[9:13], uint32(len(md.AccountName)))
	copy(dst[13:], md.AccountName)
	return nil
}

// Decode reads a header from the front of src. Trailing bytes are ignored so
// the header can be decoded directly out of a full account buffer.
func (md *AccountMetadata) Decode(src []byte) error {
	if len(src) < MetadataBaseSize {
		return ErrTruncated
	}
	nameLen := binary.LittleEndian.Uint32(src[9:13])
	end := MetadataBaseSize + int(nameLen)
	if end > len(src) {
		return ErrTruncated
	}
	md.Initialized = src[0]
	md.NextFreeIndex = binary.LittleEndian.Uint32(src[1:5])
	md.LastMessageID = binary.LittleEndian.Uint32(src[5:9])
	md.AccountName = lossyUTF8(src[MetadataBaseSize:end])
	return nil
}

// Instruction is the tagged union submitted to the chat program. Exactly one
// variant field is meaningful, selected by Tag.
type Instruction struct {
	Tag uint8

	// Messages is the SendMessages payload.
	Messages []Message

	// DeleteID is the DeleteMessages payload.
	DeleteID uint32

	// Metadata is the OpenAccount payload.
	Metadata AccountMetadata
}

// SendMessages builds a SendMessages instruction.
func SendMessages(messages ...Message) Instruction {
	return Instruction{Tag: TagSendMessages, Messages: messages}
}

// DeleteMessages builds a DeleteMessages instruction.
func DeleteMessages(id uint32) Instruction {
	return Instruction{Tag: TagDeleteMessages, DeleteID: id}
}

// OpenAccount builds an OpenAccount instruction.
func OpenAccount(metadata AccountMetadata) Instruction {
	return Instruction{Tag: TagOpenAccount, Metadata: metadata}
}

// Size returns the exact serialized length: one tag byte plus the variant's
// own encoding.
func (in *Instruction) Size() int {
	size := u8Size
	switch in.Tag {
	case TagSendMessages:
		for i := range in.Messages {
			size += in.Messages[i].Size()
		}
	case TagDeleteMessages:
		size += u32Size
	case TagOpenAccount:
		size += in.Metadata.Size()
	}
	return size
}

// Serialize encodes the instruction into dst, which must be exactly Size()
// bytes.
func (in *Instruction) Serialize(dst []byte) error {
	if len(dst) != in.Size() {
		return ErrSizeMismatch
	}
	dst[0] = in.Tag
	switch in.Tag {
	case TagSendMessages:
		return SerializeMessages(in.Messages, dst[1:])
	case TagDeleteMessages:
		binary.LittleEndian.PutUint32(dst[1:], in.DeleteID)
		return nil
	case TagOpenAccount:
		return in.Metadata.Serialize(dst[1:])
	default:
		return ErrUnknownTag
	}
}

// Encode is a convenience wrapper that allocates and serializes in one step.
func (in *Instruction) Encode() ([]byte, error) {
	buf := make([]byte, in.Size())
	if err := in.Serialize(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeInstruction parses an instruction payload. Unknown discriminants and
// truncated payloads fail.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) < u8Size {
		return Instruction{}, ErrTruncated
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case TagSendMessages:
		messages, err := DecodeMessages(rest)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: TagSendMessages, Messages: messages}, nil
	case TagDeleteMessages:
		if len(rest) < u32Size {
			return Instruction{}, ErrTruncated
		}
		return Instruction{
			Tag:      TagDeleteMessages,
			DeleteID: binary.LittleEndian.Uint32(rest),
		}, nil
	case TagOpenAccount:
		var md AccountMetadata
		if err := md.Decode(rest); err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: TagOpenAccount, Metadata: md}, nil
	default:
		return Instruction{}, ErrUnknownTag
	}
}

// DecodeAccountData decodes a full chat account buffer: the metadata header
// followed by the message log in [header.Size(), NextFreeIndex). A header
// whose NextFreeIndex lies outside the buffer or before its own end fails
// rather than reading out of bounds.
func DecodeAccountData(data []byte) (AccountMetadata, []Message, error) {
	var md AccountMetadata
	if err := md.Decode(data); err != nil {
		return AccountMetadata{}, nil, err
	}
	logStart := md.Size()
	logEnd := int(md.NextFreeIndex)
	if logEnd <= logStart {
		return md, nil, nil
	}
	if logEnd > len(data) {
		return AccountMetadata{}, nil, ErrTruncated
	}
	messages, err := DecodeMessages(data[logStart:logEnd])
	if err != nil {
		return AccountMetadata{}, nil, err
	}
	return md, messages, nil
}
