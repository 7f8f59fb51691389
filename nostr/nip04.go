package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/bitchat-mesh/bitchat/ids"
)

// sharedSecret derives the NIP-04 ECDH shared key between ourPriv and
// theirPub.
func sharedSecret(ourPriv *secp256k1.PrivateKey, theirPub *secp256k1.PublicKey) []byte {
	return secp256k1.GenerateSharedSecret(ourPriv, theirPub)
}

// nip04Encrypt implements NIP-04: AES-256-CBC with PKCS#7 padding over an
// ECDH-derived key, output formatted as "<base64 ciphertext>?iv=<base64
// iv>".
func nip04Encrypt(ourPriv *secp256k1.PrivateKey, theirPub *secp256k1.PublicKey, plaintext []byte) (string, error) {
	key := sharedSecret(ourPriv, theirPub)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ids.Wrap(ids.KindCrypto, "init nip-04 aes cipher", err)
	}

	iv, err := randomBytes(aes.BlockSize)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// nip04Decrypt reverses nip04Encrypt.
func nip04Decrypt(ourPriv *secp256k1.PrivateKey, theirPub *secp256k1.PublicKey, payload string) ([]byte, error) {
	parts := strings.SplitN(payload, "?iv=", 2)
	if len(parts) != 2 {
		return nil, ids.New(ids.KindSerialization, "malformed nip-04 payload")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "decode nip-04 ciphertext", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "decode nip-04 iv", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ids.New(ids.KindCrypto, "nip-04 ciphertext not block-aligned")
	}

	key := sharedSecret(ourPriv, theirPub)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "init nip-04 aes cipher", err)
	}

	padded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ids.New(ids.KindCrypto, "empty nip-04 plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, ids.New(ids.KindCrypto, "invalid nip-04 padding")
	}
	return data[:len(data)-padLen], nil
}
