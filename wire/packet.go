// Package wire implements the BitChat binary wire format: packet header
// encode/decode for protocol v1 (13-byte header, <=255-byte payload) and v2
// (16-byte header, <=4GiB payload), canonical signing bytes, optional zlib
// compression, and PKCS#7-style fixed-block padding.
package wire

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"

	"github.com/bitchat-mesh/bitchat/ids"
)

// MessageType identifies the payload carried by a BitchatPacket.
type MessageType uint8

const (
	MessageAnnounce       MessageType = 0x01
	MessageMessage        MessageType = 0x02
	MessageLeave          MessageType = 0x03
	MessageNoiseHandshake MessageType = 0x10
	MessageNoiseEncrypted MessageType = 0x11
	MessageFragment       MessageType = 0x20
	MessageRequestSync    MessageType = 0x21
	MessageFileTransfer   MessageType = 0x22
	MessageVersionHello   MessageType = 0x30
	MessageVersionAck     MessageType = 0x31
)

// Flag bits within the packet header flag byte.
const (
	FlagHasRecipient uint8 = 0x01
	FlagHasSignature uint8 = 0x02
	FlagIsCompressed uint8 = 0x04
	FlagHasRoute     uint8 = 0x08
)

// Version identifies the header layout in use.
type Version uint8

const (
	Version1 Version = 1
	Version2 Version = 2
)

const (
	headerSizeV1  = 13
	headerSizeV2  = 16
	signatureSize = ed25519.SignatureSize
)

// MaxPayloadV1 is the largest payload a v1 header can describe.
const MaxPayloadV1 = 255

// Packet is the wire unit: a BitchatPacket.
type Packet struct {
	Version     Version
	Type        MessageType
	TTL         ids.TTL
	Timestamp   ids.Timestamp
	Sender      ids.PeerID
	Recipient   ids.PeerID // valid only if HasRecipient
	HasRecipient bool
	Route       []byte // valid only if HasRoute
	HasRoute    bool
	Compressed  bool
	Payload     []byte
	Signature   []byte // 64 bytes if present
}

func (p *Packet) flags() uint8 {
	var f uint8
	if p.HasRecipient {
		f |= FlagHasRecipient
	}
	if len(p.Signature) > 0 {
		f |= FlagHasSignature
	}
	if p.Compressed {
		f |= FlagIsCompressed
	}
	if p.HasRoute {
		f |= FlagHasRoute
	}
	return f
}

// Encode serializes p to wire bytes. It does not apply compression or
// padding; callers that want those call CompressPayload/Pad explicitly
// around Encode, per spec.md §4.1.
func Encode(p *Packet) ([]byte, error) {
	if p.Version != Version1 && p.Version != Version2 {
		return nil, ids.Newf(ids.KindInvalidPacket, "unknown protocol version %d", p.Version)
	}
	if p.Version == Version1 && len(p.Payload) > MaxPayloadV1 {
		return nil, ids.Newf(ids.KindInvalidPacket, "v1 payload %d exceeds %d bytes", len(p.Payload), MaxPayloadV1)
	}
	if p.HasRoute && len(p.Route) > 0xFFFF {
		return nil, ids.Newf(ids.KindInvalidPacket, "route length %d exceeds uint16 range", len(p.Route))
	}
	if len(p.Signature) != 0 && len(p.Signature) != signatureSize {
		return nil, ids.Newf(ids.KindInvalidPacket, "signature must be %d bytes, got %d", signatureSize, len(p.Signature))
	}

	headerSize := headerSizeV1
	if p.Version == Version2 {
		headerSize = headerSizeV2
	}

	size := headerSize + ids.PeerIDSize
	if p.HasRecipient {
		size += ids.PeerIDSize
	}
	if p.HasRoute {
		size += 2 + len(p.Route)
	}
	size += len(p.Payload)
	if len(p.Signature) > 0 {
		size += signatureSize
	}

	buf := make([]byte, size)
	off := 0

	buf[off] = uint8(p.Version)
	off++
	buf[off] = uint8(p.Type)
	off++
	buf[off] = uint8(p.TTL)
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(p.Timestamp))
	off += 8
	buf[off] = p.flags()
	off++
	if p.Version == Version1 {
		buf[off] = uint8(len(p.Payload))
		off++
	} else {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Payload)))
		off += 4
	}

	copy(buf[off:], p.Sender[:])
	off += ids.PeerIDSize

	if p.HasRecipient {
		copy(buf[off:], p.Recipient[:])
		off += ids.PeerIDSize
	}
	if p.HasRoute {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(p.Route)))
		off += 2
		copy(buf[off:], p.Route)
		off += len(p.Route)
	}

	copy(buf[off:], p.Payload)
	off += len(p.Payload)

	if len(p.Signature) > 0 {
		copy(buf[off:], p.Signature)
		off += signatureSize
	}

	return buf, nil
}

// Decode parses wire bytes into a Packet, rejecting any structural
// inconsistency per spec.md §4.1.
func Decode(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ids.New(ids.KindInvalidPacket, "empty packet")
	}
	version := Version(data[0])
	var headerSize int
	switch version {
	case Version1:
		headerSize = headerSizeV1
	case Version2:
		headerSize = headerSizeV2
	default:
		return nil, ids.Newf(ids.KindInvalidPacket, "unknown protocol version %d", data[0])
	}
	if len(data) < headerSize {
		return nil, ids.Newf(ids.KindInvalidPacket, "truncated header: have %d bytes, need %d", len(data), headerSize)
	}

	p := &Packet{Version: version}
	off := 1
	p.Type = MessageType(data[off])
	off++
	p.TTL = ids.TTL(data[off])
	off++
	p.Timestamp = ids.Timestamp(binary.BigEndian.Uint64(data[off:]))
	off += 8
	flags := data[off]
	off++

	var payloadLen int
	if version == Version1 {
		payloadLen = int(data[off])
		off++
		if payloadLen > MaxPayloadV1 {
			return nil, ids.Newf(ids.KindInvalidPacket, "v1 payload length %d exceeds %d", payloadLen, MaxPayloadV1)
		}
	} else {
		payloadLen = int(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}

	p.HasRecipient = flags&FlagHasRecipient != 0
	p.HasRoute = flags&FlagHasRoute != 0
	p.Compressed = flags&FlagIsCompressed != 0
	hasSignature := flags&FlagHasSignature != 0

	need := off + ids.PeerIDSize
	if p.HasRecipient {
		need += ids.PeerIDSize
	}
	if need > len(data) {
		return nil, ids.New(ids.KindInvalidPacket, "truncated before sender/recipient")
	}
	copy(p.Sender[:], data[off:off+ids.PeerIDSize])
	off += ids.PeerIDSize

	if p.HasRecipient {
		copy(p.Recipient[:], data[off:off+ids.PeerIDSize])
		off += ids.PeerIDSize
	}

	if p.HasRoute {
		if off+2 > len(data) {
			return nil, ids.New(ids.KindInvalidPacket, "truncated route length")
		}
		routeLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if off+routeLen > len(data) {
			return nil, ids.New(ids.KindInvalidPacket, "truncated route")
		}
		p.Route = append([]byte(nil), data[off:off+routeLen]...)
		off += routeLen
	}

	if off+payloadLen > len(data) {
		return nil, ids.New(ids.KindInvalidPacket, "truncated payload")
	}
	p.Payload = append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen

	if hasSignature {
		if off+signatureSize > len(data) {
			return nil, ids.New(ids.KindInvalidPacket, "truncated signature")
		}
		p.Signature = append([]byte(nil), data[off:off+signatureSize]...)
		off += signatureSize
	}

	if off != len(data) {
		return nil, ids.Newf(ids.KindInvalidPacket, "trailing bytes: %d unconsumed", len(data)-off)
	}

	return p, nil
}

const canonicalDomain = "bitchat-packet-v1"

// CanonicalBytes builds the message that is signed/verified with Ed25519,
// excluding TTL and the signature itself so relays may decrement TTL
// without invalidating signatures, per spec.md §4.1.
func CanonicalBytes(p *Packet) []byte {
	h := sha256.New()
	h.Write([]byte(canonicalDomain))
	h.Write([]byte{uint8(p.Version), uint8(p.Type)})
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(p.Timestamp))
	h.Write(tsBuf[:])
	h.Write(p.Sender[:])
	if p.HasRecipient {
		h.Write(p.Recipient[:])
	}
	h.Write(p.Payload)
	return h.Sum(nil)
}

// Sign computes p.Signature over CanonicalBytes(p) using priv.
func Sign(p *Packet, priv ed25519.PrivateKey) {
	p.Signature = ed25519.Sign(priv, CanonicalBytes(p))
}

// Verify reports whether p.Signature is a valid Ed25519 signature over
// CanonicalBytes(p) by pub.
func Verify(p *Packet, pub ed25519.PublicKey) bool {
	if len(p.Signature) != signatureSize {
		return false
	}
	return ed25519.Verify(pub, CanonicalBytes(p), p.Signature)
}
