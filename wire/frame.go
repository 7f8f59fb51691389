package wire

import (
	"encoding/binary"

	"github.com/bitchat-mesh/bitchat/ids"
)

// SessionFrameHeaderSize is the size of the session_id+nonce prefix on a
// NoiseEncrypted packet's payload, per spec.md §6.
const SessionFrameHeaderSize = 8 + 8

// EncodeSessionFrame builds the NoiseEncrypted payload layout:
// session_id(8) || nonce(8 BE) || ciphertext.
func EncodeSessionFrame(sessionID [8]byte, nonce uint64, ciphertext []byte) []byte {
	out := make([]byte, SessionFrameHeaderSize+len(ciphertext))
	copy(out[:8], sessionID[:])
	binary.BigEndian.PutUint64(out[8:16], nonce)
	copy(out[16:], ciphertext)
	return out
}

// DecodeSessionFrame reverses EncodeSessionFrame.
func DecodeSessionFrame(data []byte) (sessionID [8]byte, nonce uint64, ciphertext []byte, err error) {
	if len(data) < SessionFrameHeaderSize {
		return sessionID, 0, nil, ids.New(ids.KindInvalidPacket, "truncated session frame")
	}
	copy(sessionID[:], data[:8])
	nonce = binary.BigEndian.Uint64(data[8:16])
	ciphertext = data[16:]
	return sessionID, nonce, ciphertext, nil
}

// FragmentHeaderSize is the size of a fragment sub-header, per spec.md §6.
const FragmentHeaderSize = 8 + 2 + 2 + 1

// FragmentHeader is the 13-byte header carried at the start of every
// Fragment BitchatPacket's payload.
type FragmentHeader struct {
	FragmentID     uint64
	FragmentIndex  uint16
	TotalFragments uint16
	OriginalType   MessageType
}

// EncodeFragment serializes a fragment header followed by its data slice.
func EncodeFragment(h FragmentHeader, data []byte) []byte {
	out := make([]byte, FragmentHeaderSize+len(data))
	binary.BigEndian.PutUint64(out[0:8], h.FragmentID)
	binary.BigEndian.PutUint16(out[8:10], h.FragmentIndex)
	binary.BigEndian.PutUint16(out[10:12], h.TotalFragments)
	out[12] = uint8(h.OriginalType)
	copy(out[FragmentHeaderSize:], data)
	return out
}

// DecodeFragment reverses EncodeFragment.
func DecodeFragment(payload []byte) (FragmentHeader, []byte, error) {
	if len(payload) < FragmentHeaderSize {
		return FragmentHeader{}, nil, ids.New(ids.KindInvalidPacket, "truncated fragment header")
	}
	h := FragmentHeader{
		FragmentID:     binary.BigEndian.Uint64(payload[0:8]),
		FragmentIndex:  binary.BigEndian.Uint16(payload[8:10]),
		TotalFragments: binary.BigEndian.Uint16(payload[10:12]),
		OriginalType:   MessageType(payload[12]),
	}
	return h, payload[FragmentHeaderSize:], nil
}
