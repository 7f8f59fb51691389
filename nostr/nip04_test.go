package nostr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNip04EncryptDecryptRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("a secret direct message")
	ciphertext, err := nip04Encrypt(alice.Private, bob.Public, plaintext)
	require.NoError(t, err)
	require.Contains(t, ciphertext, "?iv=")

	decrypted, err := nip04Decrypt(bob.Private, alice.Public, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestNip04SharedSecretIsSymmetric(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	require.Equal(t, sharedSecret(alice.Private, bob.Public), sharedSecret(bob.Private, alice.Public))
}

func TestNip04DecryptWithWrongKeyFails(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	mallory, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := nip04Encrypt(alice.Private, bob.Public, []byte("top secret"))
	require.NoError(t, err)

	_, err = nip04Decrypt(mallory.Private, alice.Public, ciphertext)
	require.Error(t, err)
}

func TestPkcs7PadUnpadRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		require.Equal(t, 0, len(padded)%16)
		unpadded, err := pkcs7Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, data, unpadded)
	}
}
