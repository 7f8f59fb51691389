package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnnouncePayloadRoundTrip(t *testing.T) {
	in := announcePayload{Nickname: "alice"}
	in.StaticPublicKey[0] = 0xAA
	in.SigningPublicKey[0] = 0xBB
	in.HasSigningKey = true

	out, err := decodeAnnounce(encodeAnnounce(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeAnnounceRejectsTruncatedPayload(t *testing.T) {
	_, err := decodeAnnounce([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDecodeAnnounceRejectsTruncatedNickname(t *testing.T) {
	full := encodeAnnounce(announcePayload{Nickname: "alice"})
	_, err := decodeAnnounce(full[:len(full)-3])
	require.Error(t, err)
}
