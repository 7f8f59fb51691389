package store

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func TestComputeMessageIDMatchesWorkedScenario(t *testing.T) {
	var aStatic, bStatic [32]byte
	for i := range aStatic {
		aStatic[i] = 0x01
		bStatic[i] = 0x02
	}
	aSum := sha256.Sum256(aStatic[:])
	bSum := sha256.Sum256(bStatic[:])
	var aPeer, bPeer ids.PeerID
	copy(aPeer[:], aSum[:ids.PeerIDSize])
	copy(bPeer[:], bSum[:ids.PeerIDSize])

	const timestamp ids.Timestamp = 1_700_000_000_000
	const sequence uint64 = 1

	got := ComputeMessageID(aPeer, bPeer, true, "hello", timestamp, sequence)

	h := sha256.New()
	h.Write(aPeer[:])
	h.Write(bPeer[:])
	h.Write([]byte("hello"))
	var tsBuf, seqBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	binary.BigEndian.PutUint64(seqBuf[:], sequence)
	h.Write(tsBuf[:])
	h.Write(seqBuf[:])
	var want MessageID
	copy(want[:], h.Sum(nil))

	require.Equal(t, want, got)
}

func TestMessageVerifyDetectsTampering(t *testing.T) {
	var sender, recipient ids.PeerID
	sender[0] = 1
	recipient[0] = 2
	msg := &Message{
		Sender:       sender,
		Recipient:    recipient,
		HasRecipient: true,
		Content:      "hi",
		Timestamp:    1000,
		Sequence:     1,
	}
	msg.ID = ComputeMessageID(sender, recipient, true, "hi", 1000, 1)
	require.True(t, msg.Verify())

	msg.Content = "tampered"
	require.False(t, msg.Verify())
}

func TestDirectConversationIsCanonical(t *testing.T) {
	var a, b ids.PeerID
	a[0], b[0] = 0x01, 0x02
	c1 := DirectConversation(a, b)
	c2 := DirectConversation(b, a)
	require.Equal(t, c1, c2)
	require.False(t, c1.IsBroadcast())

	x, y := c1.Peers()
	require.Equal(t, a, x)
	require.Equal(t, b, y)
}
