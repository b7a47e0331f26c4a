package rpc

import (
	"fmt"

	"burstfs/internal/fserrors"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodePayload unmarshals an Envelope's Payload into v; a nil/empty
// payload leaves v untouched. Handlers use this to decode tag-specific
// request bodies.
func DecodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decode request: %v", fserrors.Invalid, err)
	}
	return nil
}

// EncodeReply marshals v into a successful Reply's Payload.
func EncodeReply(v any) (*Reply, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode response: %v", fserrors.IO, err)
	}
	return &Reply{Payload: payload}, nil
}

// ErrorReply builds a Reply carrying a domain error for the client side
// to reconstruct via errors.Is, instead of returning err from a Handler
// (which would be read as a transport-level failure).
func ErrorReply(err error) *Reply {
	return &Reply{Err: EncodeApplicationError(err)}
}
