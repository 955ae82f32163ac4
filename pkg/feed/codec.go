package feed

import (
	"fmt"
)

// rawMessage is the unit both sides of the stream exchange: an opaque frame
// the feed package encodes and decodes itself.
type rawMessage struct {
	data []byte
}

// rawCodec is a gRPC codec that passes frames through untouched. It replaces
// the proto codec on the feed streams, which carry this package's own binary
// frames instead of generated messages.
type rawCodec struct{}

// Marshal returns the frame bytes.
func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("feed codec: unexpected message type %T", v)
	}
	return msg.data, nil
}

// Unmarshal stores the frame bytes.
func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("feed codec: unexpected message type %T", v)
	}
	msg.data = data
	return nil
}

// Name identifies the codec in gRPC content subtype negotiation.
func (rawCodec) Name() string {
	return "chat-raw"
}
