package wire

import (
	"bytes"
	"io"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/klauspost/compress/zlib"
)

// CompressThreshold is the minimum payload size at which encoders should
// apply zlib compression, per spec.md §4.1.
const CompressThreshold = 256

// CompressPayload zlib-compresses data using klauspost/compress's drop-in
// zlib implementation. Callers set Packet.Compressed when they use this.
func CompressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "zlib compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "zlib compress close", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "zlib reader", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "zlib decompress", err)
	}
	return out, nil
}

// ShouldCompress reports whether a payload of this size should be
// compressed before encoding, per spec.md §4.1.
func ShouldCompress(payloadLen int) bool {
	return payloadLen >= CompressThreshold
}
