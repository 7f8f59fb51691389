// Package nostr implements the relay-plane payload layer described in
// spec.md §6/§9(d): Nostr event construction and BIP-340 Schnorr signing
// over secp256k1, bitchat1: content embedding, and NIP-04/NIP-17-style
// gift-wrapping for private messages sent over the Nostr transport. It
// never dials a relay itself; wire I/O lives behind
// transport/nostrtransport. Grounded in original_source's bitchat-nostr
// crate and in the pack's general use of
// github.com/decred/dcrd/dcrec/secp256k1/v4 for secp256k1/Schnorr
// signing.
package nostr

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/bitchat-mesh/bitchat/ids"
)

// KeyPair is a Nostr relay-plane identity: a secp256k1 keypair distinct
// from the Noise static key and Ed25519 signing key used elsewhere in the
// protocol (an Open Question resolution — see DESIGN.md — since
// spec.md's distillation doesn't name this key but producing valid Nostr
// events requires one, per original_source's bitchat-nostr crate).
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeyPair creates a fresh Nostr identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "generate nostr keypair", err)
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// XOnlyPubKey returns the 32-byte x-only public key encoding Nostr event
// pubkeys use, per NIP-01.
func (k *KeyPair) XOnlyPubKey() [32]byte {
	return xOnly(k.Public)
}

func xOnly(pub *secp256k1.PublicKey) [32]byte {
	compressed := pub.SerializeCompressed()
	var out [32]byte
	copy(out[:], compressed[1:])
	return out
}

// FullPubKeyFromXOnly reconstructs a full secp256k1 point from a 32-byte
// x-only Nostr pubkey, assuming even Y per the BIP-340 convention.
// GenerateKeyPair does not force even Y on its own keys; Schnorr
// verification and the x-coordinate ECDH secret do not depend on it.
func FullPubKeyFromXOnly(x [32]byte) (*secp256k1.PublicKey, error) {
	compressed := make([]byte, 33)
	compressed[0] = 0x02
	copy(compressed[1:], x[:])
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "parse x-only nostr pubkey", err)
	}
	return pub, nil
}

// HexPubKey returns the lowercase hex encoding of an x-only pubkey, the
// form Nostr tags and JSON fields use.
func HexPubKey(x [32]byte) string {
	return hex.EncodeToString(x[:])
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "read random bytes", err)
	}
	return b, nil
}
