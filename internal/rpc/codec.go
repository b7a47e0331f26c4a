// Package rpc is the transport wrapper (spec §4.7): a single generic gRPC
// service dispatching by RPC tag, instead of one generated method per RPC.
// Messages are encoded with msgpack via a custom grpc/encoding.Codec rather
// than protobuf, so the wire format needs no code generation step; the
// daemon's real ancestor (GekkoFS) makes the same choice for its own RPC
// payloads (see common/msgpack_util.hpp).
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc/encoding and selected per-call via
// grpc.CallContentSubtype / grpc.ForceCodec.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string { return CodecName }
