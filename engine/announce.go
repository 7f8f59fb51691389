package engine

import (
	"encoding/binary"

	"github.com/bitchat-mesh/bitchat/ids"
)

// announcePayload is the plaintext body of a MessageAnnounce packet: a
// peer's long-term identity keys plus its self-chosen nickname,
// broadcast unencrypted so other nodes can address it by Fingerprint
// (and thus call session.Manager.Initiate/Respond) before any Noise
// handshake exists. spec.md's bit-exact §6 wire section does not fix
// this layout (it only names the MessageAnnounce type), so this framing
// is this engine's own choice: a fixed 64-byte key prefix, a one-byte
// signing-key presence flag, then a nickname prefixed by its 2-byte
// big-endian length.
type announcePayload struct {
	StaticPublicKey  [32]byte
	SigningPublicKey [32]byte
	HasSigningKey    bool
	Nickname         string
}

func encodeAnnounce(a announcePayload) []byte {
	nick := []byte(a.Nickname)
	out := make([]byte, 0, 32+32+1+2+len(nick))
	out = append(out, a.StaticPublicKey[:]...)
	out = append(out, a.SigningPublicKey[:]...)
	if a.HasSigningKey {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var nlen [2]byte
	binary.BigEndian.PutUint16(nlen[:], uint16(len(nick)))
	out = append(out, nlen[:]...)
	out = append(out, nick...)
	return out
}

func decodeAnnounce(data []byte) (announcePayload, error) {
	var a announcePayload
	if len(data) < 32+32+1+2 {
		return a, ids.New(ids.KindInvalidPacket, "truncated announce payload")
	}
	copy(a.StaticPublicKey[:], data[0:32])
	copy(a.SigningPublicKey[:], data[32:64])
	a.HasSigningKey = data[64] != 0
	nlen := int(binary.BigEndian.Uint16(data[65:67]))
	if len(data) < 67+nlen {
		return a, ids.New(ids.KindInvalidPacket, "truncated announce nickname")
	}
	a.Nickname = string(data[67 : 67+nlen])
	return a, nil
}
