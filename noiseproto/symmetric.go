package noiseproto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/bitchat-mesh/bitchat/ids"
	"golang.org/x/crypto/chacha20poly1305"
)

// cipherAEAD is the cipher.AEAD implementation used for both the handshake
// transcript cipher and the post-handshake transport CipherState.
type cipherAEAD = cipher.AEAD

const (
	hashLen          = sha256.Size
	protocolName     = "Noise_XX_25519_ChaChaPoly_SHA256"
	cipherKeySize    = chacha20poly1305.KeySize
	cipherNonceBytes = chacha20poly1305.NonceSize
)

// cipherState is a keyed AEAD engine. Unlike a transport-layer CipherState,
// this one is internal to the handshake transcript and always advances its
// own nonce by one per call, matching Noise's EncryptAndHash/DecryptAndHash.
type cipherState struct {
	key    [cipherKeySize]byte
	hasKey bool
	nonce  uint64
}

// aeadNonce encodes an 8-byte counter into Noise's ChaChaPoly nonce format:
// 32 bits of zeros followed by a little-endian 64-bit counter.
func aeadNonce(n uint64) [cipherNonceBytes]byte {
	var nonce [cipherNonceBytes]byte
	binary.LittleEndian.PutUint64(nonce[4:], n)
	return nonce
}

func (cs *cipherState) encryptAndHash(ss *symmetricState, plaintext []byte) ([]byte, error) {
	var out []byte
	if !cs.hasKey {
		out = append([]byte(nil), plaintext...)
	} else {
		aead, err := chacha20poly1305.New(cs.key[:])
		if err != nil {
			return nil, ids.Wrap(ids.KindCrypto, "init chachapoly", err)
		}
		nonce := aeadNonce(cs.nonce)
		out = aead.Seal(nil, nonce[:], plaintext, ss.h[:])
		cs.nonce++
	}
	ss.mixHash(out)
	return out, nil
}

func (cs *cipherState) decryptAndHash(ss *symmetricState, data []byte) ([]byte, error) {
	var out []byte
	if !cs.hasKey {
		out = append([]byte(nil), data...)
	} else {
		aead, err := chacha20poly1305.New(cs.key[:])
		if err != nil {
			return nil, ids.Wrap(ids.KindCrypto, "init chachapoly", err)
		}
		nonce := aeadNonce(cs.nonce)
		plain, err := aead.Open(nil, nonce[:], data, ss.h[:])
		if err != nil {
			return nil, ids.Wrap(ids.KindNoise, "decrypt handshake message", err)
		}
		cs.nonce++
		out = plain
	}
	ss.mixHash(data)
	return out, nil
}

// symmetricState tracks the running chaining key and transcript hash of a
// Noise handshake, per the formal Noise Protocol Framework algorithm.
type symmetricState struct {
	ck [hashLen]byte
	h  [hashLen]byte
	cs cipherState
}

func newSymmetricState() *symmetricState {
	ss := &symmetricState{}
	h := sha256.Sum256([]byte(protocolName))
	ss.ck = h
	ss.h = h // no prologue: MixHash(prologue) is a no-op when prologue is empty
	return ss
}

func (ss *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(ss.h[:])
	h.Write(data)
	copy(ss.h[:], h.Sum(nil))
}

// hkdf2 implements the simplified two-output HKDF construction the Noise
// spec defines for MixKey: temp = HMAC(chaining_key, ikm);
// out1 = HMAC(temp, 0x01); out2 = HMAC(temp, out1 || 0x02).
func hkdf2(chainingKey [hashLen]byte, ikm []byte) (out1, out2 [hashLen]byte) {
	temp := hmacSum(chainingKey[:], ikm)
	out1 = hmacSum(temp[:], []byte{0x01})
	out2 = hmacSum(temp[:], append(append([]byte(nil), out1[:]...), 0x02))
	return out1, out2
}

func hmacSum(key, data []byte) [hashLen]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [hashLen]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func newAEAD(key [cipherKeySize]byte) (cipherAEAD, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "init chachapoly", err)
	}
	return aead, nil
}

func (ss *symmetricState) mixKey(ikm []byte) {
	newCK, newKey := hkdf2(ss.ck, ikm)
	ss.ck = newCK
	ss.cs = cipherState{key: newKey, hasKey: true, nonce: 0}
}

// split derives the two transport cipher keys from the final chaining key.
func (ss *symmetricState) split() (c1, c2 [cipherKeySize]byte) {
	return hkdf2(ss.ck, nil)
}
