package verify

import (
	"crypto/ed25519"
	"testing"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func mustSigningKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestVerificationQRSignAndVerify(t *testing.T) {
	pub, priv := mustSigningKey(t)
	var signPub [32]byte
	copy(signPub[:], pub)
	var noisePub [32]byte
	noisePub[0] = 0x02
	var nonce [32]byte
	nonce[0] = 0xAA

	qr := NewVerificationQR(noisePub, signPub, "bob", true, ids.Timestamp(1_700_000_000_000), nonce, priv)
	require.True(t, qr.VerifySignature())
}

func TestVerificationQRTamperedSignatureFails(t *testing.T) {
	pub, priv := mustSigningKey(t)
	var signPub [32]byte
	copy(signPub[:], pub)
	var noisePub [32]byte
	var nonce [32]byte

	qr := NewVerificationQR(noisePub, signPub, "", false, ids.Timestamp(0), nonce, priv)
	qr.Nickname = "mallory"
	qr.HasNickname = true
	require.False(t, qr.VerifySignature())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv := mustSigningKey(t)
	var signPub [32]byte
	copy(signPub[:], pub)
	var noisePub [32]byte
	noisePub[0] = 0x03
	var nonce [32]byte
	nonce[1] = 0x05

	qr := NewVerificationQR(noisePub, signPub, "carol", true, ids.Timestamp(42), nonce, priv)
	uri, err := Encode(qr)
	require.NoError(t, err)
	require.Contains(t, uri, "bitchat://verify?data=")

	decoded, err := Decode(uri)
	require.NoError(t, err)
	require.Equal(t, qr, decoded)
	require.True(t, decoded.VerifySignature())
}

func TestDecodeRejectsWrongScheme(t *testing.T) {
	_, err := Decode("https://example.com?data=xxx")
	require.Error(t, err)
}

func TestFingerprintDerivation(t *testing.T) {
	var noisePub [32]byte
	noisePub[0] = 0x01
	qr := VerificationQR{NoisePublicKey: noisePub}
	require.Equal(t, ids.FingerprintFromStaticKey(noisePub[:]), qr.Fingerprint())
}
