package rpc

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// bulkCompressionThreshold is the minimum Bulk size worth paying zstd's
// framing overhead for. Below it frames pass through unmodified.
const bulkCompressionThreshold = 8 << 10

// zstdMagic prefixes a compressed Bulk frame so the receiving side can
// tell a zstd frame from a raw passthrough one without a side channel.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd} // zstd's own frame magic

var (
	bulkEncoder *zstd.Encoder
	bulkDecoder *zstd.Decoder
)

func init() {
	var err error
	bulkEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("rpc: init zstd encoder: %v", err))
	}
	bulkDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("rpc: init zstd decoder: %v", err))
	}
}

// compressBulk opportunistically zstd-compresses large bulk payloads,
// applied to in-flight PUSH/PULL bulk regions rather than at-rest chunk
// files.
func compressBulk(b []byte) []byte {
	if len(b) < bulkCompressionThreshold {
		return b
	}
	compressed := bulkEncoder.EncodeAll(b, nil)
	if len(compressed) >= len(b) {
		return b
	}
	return compressed
}

// decompressBulk reverses compressBulk, recognizing a zstd frame by its
// magic number and passing anything else through untouched.
func decompressBulk(b []byte) ([]byte, error) {
	if len(b) < len(zstdMagic) || !bytes.Equal(b[:len(zstdMagic)], zstdMagic) {
		return b, nil
	}
	out, err := bulkDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress bulk: %w", err)
	}
	return out, nil
}
