package noiseproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeXXEstablishesSharedKeys(t *testing.T) {
	initiatorStatic, err := GenerateKeypair()
	require.NoError(t, err)
	responderStatic, err := GenerateKeypair()
	require.NoError(t, err)

	initiator := NewHandshakeState(Initiator, initiatorStatic)
	responder := NewHandshakeState(Responder, responderStatic)

	msg1, _, _, err := initiator.WriteMessage()
	require.NoError(t, err)
	_, _, err2 := responder.ReadMessage(msg1)
	require.NoError(t, err2)

	msg2, _, _, err := responder.WriteMessage()
	require.NoError(t, err)
	_, _, err = initiator.ReadMessage(msg2)
	require.NoError(t, err)

	msg3, initSend, initRecv, err := initiator.WriteMessage()
	require.NoError(t, err)
	respSend, respRecv, err := responder.ReadMessage(msg3)
	require.NoError(t, err)

	require.True(t, initiator.Done())
	require.True(t, responder.Done())

	rs, ok := responder.RemoteStatic()
	require.True(t, ok)
	require.Equal(t, initiatorStatic.Public, rs)

	is, ok := initiator.RemoteStatic()
	require.True(t, ok)
	require.Equal(t, responderStatic.Public, is)

	plaintext := []byte("hello across the session")
	ct, err := initSend.Encrypt(0, nil, plaintext)
	require.NoError(t, err)
	pt, err := respRecv.Decrypt(0, nil, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)

	reply := []byte("hi back")
	ct2, err := respSend.Encrypt(0, nil, reply)
	require.NoError(t, err)
	pt2, err := initRecv.Decrypt(0, nil, ct2)
	require.NoError(t, err)
	require.Equal(t, reply, pt2)
}

func TestHandshakeRejectsTamperedCiphertext(t *testing.T) {
	aStatic, _ := GenerateKeypair()
	bStatic, _ := GenerateKeypair()
	a := NewHandshakeState(Initiator, aStatic)
	b := NewHandshakeState(Responder, bStatic)

	msg1, _, _, _ := a.WriteMessage()
	_, _, _ = b.ReadMessage(msg1)
	msg2, _, _, _ := b.WriteMessage()
	msg2[len(msg2)-1] ^= 0xFF
	_, _, err := a.ReadMessage(msg2)
	require.Error(t, err)
}

func TestCipherStateRejectsWrongNonce(t *testing.T) {
	aStatic, _ := GenerateKeypair()
	bStatic, _ := GenerateKeypair()
	a := NewHandshakeState(Initiator, aStatic)
	b := NewHandshakeState(Responder, bStatic)
	msg1, _, _, _ := a.WriteMessage()
	b.ReadMessage(msg1)
	msg2, _, _, _ := b.WriteMessage()
	a.ReadMessage(msg2)
	msg3, send, recv, _ := a.WriteMessage()
	send2, recv2, _ := b.ReadMessage(msg3)
	_ = recv

	ct, err := send.Encrypt(5, nil, []byte("x"))
	require.NoError(t, err)
	_, err = recv2.Decrypt(0, nil, ct)
	require.Error(t, err, "decrypting with the wrong nonce must fail")
	_, err = recv2.Decrypt(5, nil, ct)
	require.NoError(t, err)
	_ = send2
}
