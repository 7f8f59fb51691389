package wire

import "github.com/bitchat-mesh/bitchat/ids"

// blockSizes are the PKCS#7-style fixed block sizes padding rounds up to,
// per spec.md §4.1. Anything over the largest fixed size rounds up to the
// next multiple of it instead.
var blockSizes = []int{256, 512, 1024, 2048}

const maxBlockSize = 2048

// targetSize picks the smallest block size >= n from blockSizes, or the
// next multiple of maxBlockSize if n exceeds all fixed sizes.
func targetSize(n int) int {
	for _, b := range blockSizes {
		if n <= b {
			return b
		}
	}
	if n%maxBlockSize == 0 {
		return n
	}
	return ((n / maxBlockSize) + 1) * maxBlockSize
}

// Pad appends PKCS#7-style padding to data so its length reaches the next
// block boundary. Data more than 255 bytes short of that boundary is
// returned unpadded, since one trailing byte cannot express the pad
// length. Padding is applied outside the encoded packet and is not
// cryptographically authenticated; it exists purely for length obfuscation.
func Pad(data []byte) []byte {
	target := targetSize(len(data) + 1)
	padLen := target - len(data)
	if padLen <= 0 || padLen > 255 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, target)
	copy(out, data)
	for i := len(data); i < target; i++ {
		out[i] = byte(padLen)
	}
	return out
}

// Unpad inspects the final byte of data. A value of 0, or one exceeding the
// remaining length, means "no padding" and data is returned unchanged.
// Otherwise all padLen trailing bytes must equal padLen; if they do, they
// are stripped, else the padding is rejected as corrupt.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return data, nil
	}
	start := len(data) - padLen
	for i := start; i < len(data); i++ {
		if data[i] != byte(padLen) {
			return nil, ids.New(ids.KindInvalidPacket, "invalid padding bytes")
		}
	}
	return data[:start], nil
}
