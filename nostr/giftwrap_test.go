package nostr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGiftWrapRoundTrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	packet := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	now := time.Unix(1_700_000_000, 0)

	wrap, err := GiftWrap(packet, sender, recipient.XOnlyPubKey(), now)
	require.NoError(t, err)
	require.Equal(t, KindGiftWrap, wrap.Kind)

	ok, err := wrap.Verify()
	require.NoError(t, err)
	require.True(t, ok)

	tag, found := wrap.TagValue("p")
	require.True(t, found)
	require.Equal(t, HexPubKey(recipient.XOnlyPubKey()), tag)

	recovered, err := UnwrapGift(wrap, recipient, sender.XOnlyPubKey())
	require.NoError(t, err)
	require.Equal(t, packet, recovered)
}

func TestGiftWrapSignerIsOneTimeKeyNotSender(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	wrap, err := GiftWrap([]byte("hi"), sender, recipient.XOnlyPubKey(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	require.NotEqual(t, sender.XOnlyPubKey(), wrap.PubKey, "gift-wrap must be signed by a one-time key, not the real sender")
}

func TestGiftWrapCreatedAtIsJittered(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	wrap, err := GiftWrap([]byte("hi"), sender, recipient.XOnlyPubKey(), now)
	require.NoError(t, err)

	delta := wrap.CreatedAt - now.Unix()
	require.LessOrEqual(t, delta, int64((48*time.Hour)/time.Second))
	require.GreaterOrEqual(t, delta, -int64((48*time.Hour)/time.Second))
}

func TestUnwrapGiftRejectsWrongSenderKey(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)
	impostor, err := GenerateKeyPair()
	require.NoError(t, err)

	wrap, err := GiftWrap([]byte("hi"), sender, recipient.XOnlyPubKey(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	_, err = UnwrapGift(wrap, recipient, impostor.XOnlyPubKey())
	require.Error(t, err)
}
