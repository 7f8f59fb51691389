// Package verify implements pairwise QR identity verification, per
// spec.md §4.10: each side presents a signed VerificationQR out-of-band,
// then runs a nonce challenge-response over the existing session to
// confirm the signing key actually controls the scanned identity. It is
// grounded on wire.Sign/wire.Verify (crypto/ed25519 over a canonical byte
// encoding) for the signature scheme, and on identity's encoding/gob
// choice for the QR payload, wrapped here in unpadded base64url.
package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/gob"
	"fmt"

	"github.com/bitchat-mesh/bitchat/ids"
)

const (
	// QRVersion is the only VerificationQR wire version this package
	// produces or accepts.
	QRVersion    uint8 = 1
	qrURIScheme        = "bitchat://verify"
	qrURIQueryKey      = "data"
)

// VerificationQR is the out-of-band payload one peer shows the other, per
// spec.md §4.10.
type VerificationQR struct {
	Version          uint8
	NoisePublicKey   [32]byte
	SigningPublicKey [32]byte
	Nickname         string
	HasNickname      bool
	Timestamp        ids.Timestamp
	Nonce            [32]byte
	Signature        []byte
}

// signingPayload returns the canonical bytes the self-signature covers:
// every field preceding Signature, in struct order, except that the
// HasNickname byte is written before the nickname bytes.
func (q VerificationQR) signingPayload() []byte {
	var buf bytes.Buffer
	buf.WriteByte(q.Version)
	buf.Write(q.NoisePublicKey[:])
	buf.Write(q.SigningPublicKey[:])
	if q.HasNickname {
		buf.WriteByte(1)
		buf.WriteString(q.Nickname)
	} else {
		buf.WriteByte(0)
	}
	var tsBuf [8]byte
	for i := 0; i < 8; i++ {
		tsBuf[i] = byte(q.Timestamp >> (56 - 8*i))
	}
	buf.Write(tsBuf[:])
	buf.Write(q.Nonce[:])
	return buf.Bytes()
}

// NewVerificationQR builds and self-signs a VerificationQR using signKey,
// which must correspond to noisePub/signPub's owner.
func NewVerificationQR(noisePub [32]byte, signPub [32]byte, nickname string, hasNickname bool, timestamp ids.Timestamp, nonce [32]byte, signKey ed25519.PrivateKey) VerificationQR {
	q := VerificationQR{
		Version:          QRVersion,
		NoisePublicKey:   noisePub,
		SigningPublicKey: signPub,
		Nickname:         nickname,
		HasNickname:      hasNickname,
		Timestamp:        timestamp,
		Nonce:            nonce,
	}
	q.Signature = ed25519.Sign(signKey, q.signingPayload())
	return q
}

// VerifySignature checks the QR's self-signature against its own embedded
// signing public key.
func (q VerificationQR) VerifySignature() bool {
	if q.Version != QRVersion || len(q.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(q.SigningPublicKey[:], q.signingPayload(), q.Signature)
}

// Fingerprint derives the Fingerprint this QR claims, from its embedded
// Noise static public key.
func (q VerificationQR) Fingerprint() ids.Fingerprint {
	return ids.FingerprintFromStaticKey(q.NoisePublicKey[:])
}

// Encode serializes q via gob and wraps it in the bitchat://verify URI,
// per spec.md §4.10.
func Encode(q VerificationQR) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(q); err != nil {
		return "", ids.Wrap(ids.KindSerialization, "encode verification qr", err)
	}
	data := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return fmt.Sprintf("%s?%s=%s", qrURIScheme, qrURIQueryKey, data), nil
}

// Decode parses a bitchat://verify?data=... URI back into a
// VerificationQR. It does not check the signature; call VerifySignature
// separately.
func Decode(uri string) (VerificationQR, error) {
	prefix := qrURIScheme + "?" + qrURIQueryKey + "="
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return VerificationQR{}, ids.New(ids.KindInvalidPacket, "not a bitchat verification uri")
	}
	raw, err := base64.RawURLEncoding.DecodeString(uri[len(prefix):])
	if err != nil {
		return VerificationQR{}, ids.Wrap(ids.KindSerialization, "decode verification qr base64", err)
	}
	var q VerificationQR
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&q); err != nil {
		return VerificationQR{}, ids.Wrap(ids.KindSerialization, "decode verification qr gob", err)
	}
	return q, nil
}
