package wire

import (
	"crypto/ed25519"
	"testing"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func samplePacket() *Packet {
	var sender ids.PeerID
	copy(sender[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	return &Packet{
		Version:   Version1,
		Type:      MessageMessage,
		TTL:       7,
		Timestamp: 1_700_000_000_000,
		Sender:    sender,
		Payload:   []byte("hello"),
	}
}

func TestRoundTripV1(t *testing.T) {
	p := samplePacket()
	encoded, err := Encode(p)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, p.Version, decoded.Version)
	require.Equal(t, p.Type, decoded.Type)
	require.Equal(t, p.TTL, decoded.TTL)
	require.Equal(t, p.Timestamp, decoded.Timestamp)
	require.Equal(t, p.Sender, decoded.Sender)
	require.Equal(t, p.Payload, decoded.Payload)
}

func TestRoundTripV2WithRecipientRouteAndSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	p := samplePacket()
	p.Version = Version2
	p.HasRecipient = true
	copy(p.Recipient[:], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	p.HasRoute = true
	p.Route = []byte("relay-a,relay-b")
	Sign(p, priv)

	encoded, err := Encode(p)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, p.Recipient, decoded.Recipient)
	require.Equal(t, p.Route, decoded.Route)
	require.True(t, Verify(decoded, pub))
}

func TestV1RejectsOversizedPayload(t *testing.T) {
	p := samplePacket()
	p.Payload = make([]byte, MaxPayloadV1+1)
	_, err := Encode(p)
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	p := samplePacket()
	encoded, err := Encode(p)
	require.NoError(t, err)
	_, err = Decode(append(encoded, 0xFF))
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	p := samplePacket()
	encoded, err := Encode(p)
	require.NoError(t, err)
	encoded[0] = 99
	_, err = Decode(encoded)
	require.Error(t, err)
}

func TestSignatureExcludesTTL(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	p := samplePacket()
	Sign(p, priv)
	p.TTL-- // relays decrement TTL in transit
	require.True(t, Verify(p, pub), "decrementing TTL must not invalidate the signature")
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for _, n := range []int{1, 100, 255, 1000} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := Pad(data)
		require.True(t, len(padded) >= len(data))
		require.Zero(t, len(padded)%256)
		unpadded, err := Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, data, unpadded)
	}
	// These sizes are more than 255 bytes short of their next block, which
	// one trailing pad-length byte cannot express, so Pad leaves them as is.
	for _, n := range []int{0, 256, 2048, 4097} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		require.Equal(t, data, Pad(data))
	}
}

func TestUnpadNoPaddingMarker(t *testing.T) {
	data := []byte{1, 2, 3, 0}
	out, err := Unpad(data)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestCompressRoundTrip(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 7)
	}
	compressed, err := CompressPayload(data)
	require.NoError(t, err)
	require.True(t, len(compressed) < len(data))
	decompressed, err := DecompressPayload(compressed)
	require.NoError(t, err)
	require.Equal(t, data, decompressed)
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := FragmentHeader{FragmentID: 42, FragmentIndex: 3, TotalFragments: 18, OriginalType: MessageMessage}
	encoded := EncodeFragment(h, []byte("chunk"))
	decodedHeader, data, err := DecodeFragment(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decodedHeader)
	require.Equal(t, []byte("chunk"), data)
}

func TestSessionFrameRoundTrip(t *testing.T) {
	var sid [8]byte
	copy(sid[:], []byte("sessid01"))
	encoded := EncodeSessionFrame(sid, 12345, []byte("ct"))
	gotSID, nonce, ct, err := DecodeSessionFrame(encoded)
	require.NoError(t, err)
	require.Equal(t, sid, gotSID)
	require.Equal(t, uint64(12345), nonce)
	require.Equal(t, []byte("ct"), ct)
}
