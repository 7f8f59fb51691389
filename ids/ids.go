// Package ids defines the fixed-size identifiers and monotonic values shared
// across the engine: PeerID, Fingerprint, Timestamp and TTL.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// PeerIDSize is the length in bytes of a PeerID.
const PeerIDSize = 8

// FingerprintSize is the length in bytes of a Fingerprint.
const FingerprintSize = 32

// PeerID uniquely identifies a peer within a session epoch.
type PeerID [PeerIDSize]byte

// ZeroPeerID is reserved and never a valid peer.
var ZeroPeerID PeerID

// BroadcastPeerID is reserved to mean "all peers."
var BroadcastPeerID = func() PeerID {
	var id PeerID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}()

// Valid reports whether id is neither the reserved zero nor broadcast ID.
func (id PeerID) Valid() bool {
	return id != ZeroPeerID && id != BroadcastPeerID
}

// IsBroadcast reports whether id is the reserved broadcast ID.
func (id PeerID) IsBroadcast() bool {
	return id == BroadcastPeerID
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// PeerIDFromStaticKey derives a PeerID as the first 8 bytes of SHA-256 over
// a peer's static Noise public key.
func PeerIDFromStaticKey(staticPublicKey []byte) PeerID {
	sum := sha256.Sum256(staticPublicKey)
	var id PeerID
	copy(id[:], sum[:PeerIDSize])
	return id
}

// PeerIDFromGeohash derives a location-scoped PeerID for a geohash-binding
// identity: PeerId = HKDF(identity_key, geohash || epoch), per spec.md §3.
// epoch is the caller's rotation bucket (e.g. hours since the Unix epoch);
// advancing it yields an unlinkable PeerID for the same identity key and
// geohash cell, so a peer can't be tracked across buckets by PeerId alone.
func PeerIDFromGeohash(identityKey []byte, geohash string, epoch uint64) PeerID {
	info := make([]byte, len(geohash)+8)
	copy(info, geohash)
	binary.BigEndian.PutUint64(info[len(geohash):], epoch)

	r := hkdf.New(sha256.New, identityKey, nil, info)
	var id PeerID
	// Only 8 bytes are ever read from an HKDF-SHA256 stream (max output is
	// 255*32 bytes), so this cannot fail.
	_, _ = io.ReadFull(r, id[:])
	return id
}

// Fingerprint is the SHA-256 of a peer's static Noise public key. It is
// stable across PeerID rotations and is the canonical identity handle
// presented to the user.
type Fingerprint [FingerprintSize]byte

// FingerprintFromStaticKey computes the Fingerprint of a static public key.
func FingerprintFromStaticKey(staticPublicKey []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(staticPublicKey))
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Timestamp is unsigned milliseconds since the Unix epoch, monotonic per
// session.
type Timestamp uint64

// TTL is a hop-count bound carried on every wire packet.
type TTL uint8

// TimestampFromTime converts a time.Time to a wire Timestamp.
func TimestampFromTime(t interface{ UnixMilli() int64 }) Timestamp {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return Timestamp(ms)
}
