package noiseproto

import "github.com/bitchat-mesh/bitchat/ids"

// Role is which side of the Noise XX pattern a handshake plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

// CipherState is a transport-phase AEAD engine produced by Split(). Unlike
// the handshake's internal cipherState, the nonce is supplied by the
// caller on every call (the session manager tracks send/receive nonces
// itself, per spec.md §4.2/§4.3, so replay windows and rekey thresholds
// can reason about them directly).
type CipherState struct {
	key [cipherKeySize]byte
}

// Encrypt seals plaintext under nonce and associated data ad.
func (c *CipherState) Encrypt(nonce uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(c.key)
	if err != nil {
		return nil, err
	}
	n := aeadNonce(nonce)
	return aead.Seal(nil, n[:], plaintext, ad), nil
}

// Decrypt opens ciphertext sealed under nonce and associated data ad.
func (c *CipherState) Decrypt(nonce uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(c.key)
	if err != nil {
		return nil, err
	}
	n := aeadNonce(nonce)
	plain, err := aead.Open(nil, n[:], ciphertext, ad)
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "AEAD tag verification failed", err)
	}
	return plain, nil
}

// HandshakeState drives one side of a Noise XX handshake to completion
// across its three messages.
type HandshakeState struct {
	ss       *symmetricState
	role     Role
	local    Keypair // static
	localE   Keypair // ephemeral
	remoteS  [DHLen]byte
	remoteE  [DHLen]byte
	haveRS   bool
	haveRE   bool
	msgIndex int
	done     bool
}

// NewHandshakeState begins a Noise XX handshake as either Initiator or
// Responder, using localStatic as this side's long-term identity key pair.
func NewHandshakeState(role Role, localStatic Keypair) *HandshakeState {
	return &HandshakeState{
		ss:    newSymmetricState(),
		role:  role,
		local: localStatic,
	}
}

func (hs *HandshakeState) expectWriter(role Role, step int) error {
	if hs.role != role {
		return ids.Newf(ids.KindNoise, "wrong role for handshake step %d", step)
	}
	if hs.msgIndex != step {
		return ids.Newf(ids.KindNoise, "handshake message out of order: at step %d, expected %d", hs.msgIndex, step)
	}
	return nil
}

// WriteMessage produces the next outbound handshake message. When the
// handshake completes (after message 3), it also returns the derived
// send/receive CipherStates.
func (hs *HandshakeState) WriteMessage() (msg []byte, send, recv *CipherState, err error) {
	if hs.done {
		return nil, nil, nil, ids.New(ids.KindNoise, "handshake already complete")
	}
	switch hs.msgIndex {
	case 0: // -> e
		if err := hs.expectWriter(Initiator, 0); err != nil {
			return nil, nil, nil, err
		}
		e, err := GenerateKeypair()
		if err != nil {
			return nil, nil, nil, err
		}
		hs.localE = e
		hs.ss.mixHash(e.Public[:])
		ct, err := hs.ss.cs.encryptAndHash(hs.ss, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.msgIndex++
		return append(append([]byte(nil), e.Public[:]...), ct...), nil, nil, nil

	case 1: // <- e, ee, s, es
		if err := hs.expectWriter(Responder, 1); err != nil {
			return nil, nil, nil, err
		}
		if !hs.haveRE {
			return nil, nil, nil, ids.New(ids.KindNoise, "message 1 not yet consumed")
		}
		e, err := GenerateKeypair()
		if err != nil {
			return nil, nil, nil, err
		}
		hs.localE = e
		hs.ss.mixHash(e.Public[:])

		ee, err := dh(e.Private, hs.remoteE)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.ss.mixKey(ee[:])

		encS, err := hs.ss.cs.encryptAndHash(hs.ss, hs.local.Public[:])
		if err != nil {
			return nil, nil, nil, err
		}

		es, err := dh(hs.local.Private, hs.remoteE)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.ss.mixKey(es[:])

		ct, err := hs.ss.cs.encryptAndHash(hs.ss, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.msgIndex++
		out := append(append([]byte(nil), e.Public[:]...), encS...)
		out = append(out, ct...)
		return out, nil, nil, nil

	case 2: // -> s, se
		if err := hs.expectWriter(Initiator, 2); err != nil {
			return nil, nil, nil, err
		}
		if !hs.haveRS {
			return nil, nil, nil, ids.New(ids.KindNoise, "message 2 not yet consumed")
		}
		encS, err := hs.ss.cs.encryptAndHash(hs.ss, hs.local.Public[:])
		if err != nil {
			return nil, nil, nil, err
		}
		se, err := dh(hs.local.Private, hs.remoteE)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.ss.mixKey(se[:])
		ct, err := hs.ss.cs.encryptAndHash(hs.ss, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		hs.done = true
		hs.msgIndex++
		c1, c2 := hs.ss.split()
		send = &CipherState{key: c1}
		recv = &CipherState{key: c2}
		if hs.role == Responder {
			send, recv = recv, send
		}
		out := append(append([]byte(nil), encS...), ct...)
		return out, send, recv, nil

	default:
		return nil, nil, nil, ids.New(ids.KindNoise, "handshake already complete")
	}
}

// ReadMessage consumes an inbound handshake message. When the handshake
// completes, it also returns the derived send/receive CipherStates.
func (hs *HandshakeState) ReadMessage(msg []byte) (send, recv *CipherState, err error) {
	if hs.done {
		return nil, nil, ids.New(ids.KindNoise, "handshake already complete")
	}
	switch hs.msgIndex {
	case 0: // -> e
		if hs.role != Responder || hs.msgIndex != 0 {
			return nil, nil, ids.New(ids.KindNoise, "unexpected message 1")
		}
		if len(msg) < DHLen {
			return nil, nil, ids.New(ids.KindInvalidPacket, "handshake message 1 truncated")
		}
		copy(hs.remoteE[:], msg[:DHLen])
		hs.haveRE = true
		hs.ss.mixHash(hs.remoteE[:])
		if _, err := hs.ss.cs.decryptAndHash(hs.ss, msg[DHLen:]); err != nil {
			return nil, nil, err
		}
		hs.msgIndex++
		return nil, nil, nil

	case 1: // <- e, ee, s, es
		if hs.role != Initiator || hs.msgIndex != 1 {
			return nil, nil, ids.New(ids.KindNoise, "unexpected message 2")
		}
		if len(msg) < DHLen {
			return nil, nil, ids.New(ids.KindInvalidPacket, "handshake message 2 truncated")
		}
		copy(hs.remoteE[:], msg[:DHLen])
		hs.haveRE = true
		hs.ss.mixHash(hs.remoteE[:])

		ee, err := dh(hs.localE.Private, hs.remoteE)
		if err != nil {
			return nil, nil, err
		}
		hs.ss.mixKey(ee[:])

		rest := msg[DHLen:]
		encSLen := DHLen + 16
		if len(rest) < encSLen {
			return nil, nil, ids.New(ids.KindInvalidPacket, "handshake message 2 truncated static key")
		}
		rs, err := hs.ss.cs.decryptAndHash(hs.ss, rest[:encSLen])
		if err != nil {
			return nil, nil, ids.Wrap(ids.KindNoise, "decrypt remote static key", err)
		}
		copy(hs.remoteS[:], rs)
		hs.haveRS = true

		es, err := dh(hs.localE.Private, hs.remoteS)
		if err != nil {
			return nil, nil, err
		}
		hs.ss.mixKey(es[:])

		if _, err := hs.ss.cs.decryptAndHash(hs.ss, rest[encSLen:]); err != nil {
			return nil, nil, err
		}
		hs.msgIndex++
		return nil, nil, nil

	case 2: // -> s, se
		if hs.role != Responder || hs.msgIndex != 2 {
			return nil, nil, ids.New(ids.KindNoise, "unexpected message 3")
		}
		encSLen := DHLen + 16
		if len(msg) < encSLen {
			return nil, nil, ids.New(ids.KindInvalidPacket, "handshake message 3 truncated static key")
		}
		rs, err := hs.ss.cs.decryptAndHash(hs.ss, msg[:encSLen])
		if err != nil {
			return nil, nil, ids.Wrap(ids.KindNoise, "decrypt remote static key", err)
		}
		copy(hs.remoteS[:], rs)
		hs.haveRS = true

		se, err := dh(hs.localE.Private, hs.remoteS)
		if err != nil {
			return nil, nil, err
		}
		hs.ss.mixKey(se[:])

		if _, err := hs.ss.cs.decryptAndHash(hs.ss, msg[encSLen:]); err != nil {
			return nil, nil, err
		}
		hs.done = true
		hs.msgIndex++

		c1, c2 := hs.ss.split()
		send = &CipherState{key: c1}
		recv = &CipherState{key: c2}
		if hs.role == Responder {
			send, recv = recv, send
		}
		return send, recv, nil

	default:
		return nil, nil, ids.New(ids.KindNoise, "handshake already complete")
	}
}

// RemoteStatic returns the verified remote static public key once it has
// been received (after message 2 for an initiator, message 3 for a
// responder).
func (hs *HandshakeState) RemoteStatic() ([DHLen]byte, bool) {
	return hs.remoteS, hs.haveRS
}

// ChannelBinding returns the running transcript hash. Both sides of a
// completed handshake fold in the same three messages in the same order,
// so the value is identical on both ends once Done reports true — the
// session manager uses it to agree on a session frame id without a
// separate negotiation round trip.
func (hs *HandshakeState) ChannelBinding() [hashLen]byte {
	return hs.ss.h
}

// Done reports whether the handshake has produced transport keys.
func (hs *HandshakeState) Done() bool {
	return hs.done
}
