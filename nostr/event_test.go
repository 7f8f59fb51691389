package nostr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildEventSignsAndVerifies(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ev, err := BuildEvent(KindMeshRelay, time.Unix(1_700_000_000, 0).Unix(), nil, "hello mesh", kp)
	require.NoError(t, err)
	require.True(t, ev.HasSig)

	ok, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTamperedContentFailsVerification(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ev, err := BuildEvent(KindMeshRelay, 1_700_000_000, nil, "hello mesh", kp)
	require.NoError(t, err)

	ev.Content = "hello mesh (tampered)"
	ok, err := ev.Verify()
	require.NoError(t, err)
	require.False(t, ok, "tampering content without recomputing id must fail verification")
}

func TestTamperedIDWithStaleSignatureFails(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ev, err := BuildEvent(KindMeshRelay, 1_700_000_000, nil, "hello mesh", kp)
	require.NoError(t, err)

	otherKP, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := BuildEvent(KindMeshRelay, 1_700_000_000, nil, "hello mesh", otherKP)
	require.NoError(t, err)

	ev.Sig = other.Sig
	ok, err := ev.Verify()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	ev, err := BuildEvent(KindMeshRelay, 1_700_000_000, [][]string{{"p", "abcd"}}, "hello", kp)
	require.NoError(t, err)

	data, err := ev.MarshalJSON()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, ev.ID, decoded.ID)
	require.Equal(t, ev.PubKey, decoded.PubKey)
	require.Equal(t, ev.Sig, decoded.Sig)

	ok, err := decoded.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEmbedAndExtractPacket(t *testing.T) {
	packet := []byte{0x01, 0x02, 0x03, 0xFF}
	content := EmbedPacket(packet)
	require.Contains(t, content, "bitchat1:")

	extracted, ok := ExtractPacket(content)
	require.True(t, ok)
	require.Equal(t, packet, extracted)
}

func TestExtractPacketRejectsWrongPrefix(t *testing.T) {
	_, ok := ExtractPacket("not-a-bitchat-payload")
	require.False(t, ok)
}
