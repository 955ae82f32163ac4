// Package feed streams newly stored chat messages to subscribers over gRPC.
//
// The service is a single server-streaming method. Frames on the wire use
// the same little-endian message layout the chat accounts use, so both ends
// share one codec and no generated proto code is needed.
package feed

import (
	"encoding/binary"
	"errors"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
)

// Frame errors.
var (
	// ErrFrameTruncated is returned when a frame is shorter than its header.
	ErrFrameTruncated = errors.New("feed frame truncated")
)

// Update is one batch of messages appended to a chat account.
type Update struct {
	// Slot is the slot the messages were committed in.
	Slot uint64

	// Account is the chat account the messages were stored in.
	Account types.Pubkey

	// Messages are the appended messages, in storage order.
	Messages []chat.Message
}

// updateHeaderSize is the fixed prefix of an update frame:
// slot (8) + account (32).
const updateHeaderSize = 8 + types.PubkeySize

// EncodeUpdate serializes an update frame: slot (8, LE) | account (32) |
// serialized messages.
func EncodeUpdate(u *Update) ([]byte, error) {
	payloadSize := 0
	for i := range u.Messages {
		payloadSize += u.Messages[i].Size()
	}

	buf := make([]byte, updateHeaderSize+payloadSize)
	binary.LittleEndian.PutUint64(buf[:8], u.Slot)
	copy(buf[8:], u.Account[:])
	if err := chat.SerializeMessages(u.Messages, buf[updateHeaderSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeUpdate deserializes an update frame.
func DecodeUpdate(data []byte) (*Update, error) {
	if len(data) < updateHeaderSize {
		return nil, ErrFrameTruncated
	}

	u := &Update{
		Slot: binary.LittleEndian.Uint64(data[:8]),
	}
	copy(u.Account[:], data[8:updateHeaderSize])

	messages, err := chat.DecodeMessages(data[updateHeaderSize:])
	if err != nil {
		return nil, err
	}
	u.Messages = messages
	return u, nil
}

// SubscribeRequest filters the stream. A zero Account subscribes to every
// chat account.
type SubscribeRequest struct {
	Account types.Pubkey
}

// EncodeSubscribeRequest serializes a subscribe request: account (32).
func EncodeSubscribeRequest(req *SubscribeRequest) []byte {
	buf := make([]byte, types.PubkeySize)
	copy(buf, req.Account[:])
	return buf
}

// DecodeSubscribeRequest deserializes a subscribe request.
func DecodeSubscribeRequest(data []byte) (*SubscribeRequest, error) {
	if len(data) < types.PubkeySize {
		return nil, ErrFrameTruncated
	}
	var req SubscribeRequest
	copy(req.Account[:], data)
	return &req, nil
}

// Matches reports whether an update passes the request filter.
func (r *SubscribeRequest) Matches(u *Update) bool {
	return r.Account.IsZero() || r.Account.Equals(u.Account)
}
