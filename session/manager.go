// Package session implements the per-peer Noise XX session state machine:
// handshake orchestration, transcript encryption, replay detection, and
// rekeying, per spec.md §4.3. It is modeled on the way the teacher's
// device.Device owns its peers.keyMap and each Peer's handshake/keypairs
// under per-peer locking (_examples/WireGuard-wireguard-go/device/peer.go,
// device/noise-protocol_test.go), generalized from WireGuard's single
// long-lived IK session per peer to the spec's Handshaking/Active/
// Rekeying/Failed/Expired lifecycle with an in-band rekey handshake.
package session

import (
	"bytes"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/noiseproto"
	"github.com/rs/zerolog"
)

// Manager owns every peer's session state. Callers reach it only through
// fingerprint-addressed operations; it is the sole owner of session state
// per spec.md §3.
type Manager struct {
	mu      sync.Mutex
	records map[ids.Fingerprint]*Record

	staticKey       noiseproto.Keypair
	localFingerprint ids.Fingerprint

	clock clock.Clock
	log   zerolog.Logger

	sessionIdleTTL time.Duration
}

// NewManager constructs a session Manager bound to a long-term static key
// pair. clk lets callers run the engine under deterministic simulation.
func NewManager(staticKey noiseproto.Keypair, clk clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		records:          make(map[ids.Fingerprint]*Record),
		staticKey:        staticKey,
		localFingerprint: ids.FingerprintFromStaticKey(staticKey.Public[:]),
		clock:            clk,
		log:              log.With().Str("component", "session").Logger(),
		sessionIdleTTL:   24 * time.Hour,
	}
}

// SessionIDOf returns the current session frame id for a peer, if active.
func (m *Manager) SessionIDOf(peer ids.Fingerprint) ([8]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[peer]
	if !ok {
		return [8]byte{}, false
	}
	return r.sessionID, r.State == StateActive || r.State == StateRekeying
}

// Initiate creates a session in Handshaking state and produces the first
// Noise message (-> e) as an outgoing NoiseHandshake packet payload.
func (m *Manager) Initiate(peer ids.Fingerprint) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[peer]; ok && existing.State != StateFailed && existing.State != StateExpired {
		return nil, ids.WithVariant(ids.KindSession, ids.SessionHandshakeFailed, "session already in progress")
	}

	r := newRecord(peer, m.clock.Now())
	r.role = noiseproto.Initiator
	r.handshake = noiseproto.NewHandshakeState(noiseproto.Initiator, m.staticKey)
	msg, _, _, err := r.handshake.WriteMessage()
	if err != nil {
		return nil, ids.Wrap(ids.KindNoise, "write handshake message 1", err)
	}
	m.records[peer] = r
	return msg, nil
}

// Respond consumes an inbound message 1 and, unless a crossed-initiation
// tie-break defers to our own in-flight Initiate, produces message 2.
func (m *Manager) Respond(peer ids.Fingerprint, firstMessage []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[peer]; ok && existing.State == StateHandshaking && existing.role == noiseproto.Initiator {
		// Crossed initiation: both sides called Initiate concurrently.
		// The side with the lexicographically smaller fingerprint (a
		// function of its static key) keeps its initiator role; see
		// DESIGN.md for why fingerprint, not the raw static key, is
		// compared here.
		if bytes.Compare(m.localFingerprint[:], peer[:]) < 0 {
			m.log.Debug().Str("peer", peer.String()).Msg("crossed initiation: keeping local initiator role")
			return nil, nil
		}
		m.log.Debug().Str("peer", peer.String()).Msg("crossed initiation: yielding initiator role")
		delete(m.records, peer)
	}

	r := newRecord(peer, m.clock.Now())
	r.role = noiseproto.Responder
	r.handshake = noiseproto.NewHandshakeState(noiseproto.Responder, m.staticKey)
	if _, _, err := r.handshake.ReadMessage(firstMessage); err != nil {
		return nil, ids.Wrap(ids.KindNoise, "read handshake message 1", err)
	}
	msg2, _, _, err := r.handshake.WriteMessage()
	if err != nil {
		return nil, ids.Wrap(ids.KindNoise, "write handshake message 2", err)
	}
	m.records[peer] = r
	return msg2, nil
}

// ProcessHandshake advances an in-progress handshake. It returns the next
// outbound handshake bytes when there are more to send, and reports the
// peer's verified static key once the handshake completes.
func (m *Manager) ProcessHandshake(peer ids.Fingerprint, msg []byte) (next []byte, remoteStatic [noiseproto.DHLen]byte, completed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return nil, remoteStatic, false, ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no handshake in progress")
	}
	if r.HandshakeExpired(m.clock.Now()) {
		r.State = StateFailed
		r.FailReason = "HandshakeTimeout"
		return nil, remoteStatic, false, ids.WithVariant(ids.KindSession, ids.SessionHandshakeTimeout, "handshake exceeded 30s")
	}

	hs := r.handshake
	if r.State == StateRekeying {
		hs = r.pendingRekey
	}

	switch r.role {
	case noiseproto.Initiator:
		send, recv, rerr := hs.ReadMessage(msg)
		_ = send
		_ = recv
		if rerr != nil {
			r.State = StateFailed
			r.FailReason = rerr.Error()
			return nil, remoteStatic, false, ids.Wrap(ids.KindNoise, "process handshake message 2", rerr)
		}
		msg3, sendCS, recvCS, werr := hs.WriteMessage()
		if werr != nil {
			r.State = StateFailed
			r.FailReason = werr.Error()
			return nil, remoteStatic, false, ids.Wrap(ids.KindNoise, "write handshake message 3", werr)
		}
		rs, _ := hs.RemoteStatic()
		if r.State == StateRekeying {
			// Message 3 must still go out wrapped under the pre-rekey
			// session; stash the new materials and let FinalizeRekey
			// apply them once the caller has actually sent it.
			r.pendingComplete = &pendingCompletion{send: sendCS, recv: recvCS, remoteStatic: rs, binding: hs.ChannelBinding()}
			return msg3, rs, true, nil
		}
		m.completeHandshake(r, sendCS, recvCS, rs, hs.ChannelBinding())
		return msg3, rs, true, nil

	case noiseproto.Responder:
		sendCS, recvCS, rerr := hs.ReadMessage(msg)
		if rerr != nil {
			r.State = StateFailed
			r.FailReason = rerr.Error()
			return nil, remoteStatic, false, ids.Wrap(ids.KindNoise, "process handshake message 3", rerr)
		}
		rs, _ := hs.RemoteStatic()
		m.completeHandshake(r, sendCS, recvCS, rs, hs.ChannelBinding())
		return nil, rs, true, nil
	}
	return nil, remoteStatic, false, ids.New(ids.KindNoise, "unreachable handshake role")
}

// RespondRekey consumes an inbound in-session rekey message 1 on an Active
// session: it starts a fresh Responder HandshakeState (the original one is
// done and rejects further messages), produces message 2, and moves the
// session to Rekeying. The current send/recv CipherStates are left
// untouched so ordinary traffic keeps flowing until message 3 completes
// the exchange, per spec.md §4.2/§4.3.
func (m *Manager) RespondRekey(peer ids.Fingerprint, firstMessage []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return nil, ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no session")
	}
	if r.State != StateActive {
		return nil, ids.WithVariant(ids.KindSession, ids.SessionHandshakeFailed, "session not active for rekey")
	}

	hs := noiseproto.NewHandshakeState(noiseproto.Responder, m.staticKey)
	if _, _, err := hs.ReadMessage(firstMessage); err != nil {
		return nil, ids.Wrap(ids.KindNoise, "read rekey message 1", err)
	}
	msg2, _, _, err := hs.WriteMessage()
	if err != nil {
		return nil, ids.Wrap(ids.KindNoise, "write rekey message 2", err)
	}
	r.pendingRekey = hs
	r.role = noiseproto.Responder
	r.State = StateRekeying
	return msg2, nil
}

// FinalizeRekey applies a rekey's initiator-side completion once the
// caller has sent message 3 under the pre-rekey session. It is a no-op
// when there is nothing pending (every other completion path applies
// immediately within ProcessHandshake).
func (m *Manager) FinalizeRekey(peer ids.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no session")
	}
	if r.pendingComplete == nil {
		return nil
	}
	pc := r.pendingComplete
	r.pendingComplete = nil
	m.completeHandshake(r, pc.send, pc.recv, pc.remoteStatic, pc.binding)
	return nil
}

func (m *Manager) completeHandshake(r *Record, send, recv *noiseproto.CipherState, remoteStatic [noiseproto.DHLen]byte, binding [32]byte) {
	var sid [8]byte
	copy(sid[:], binding[:8])
	wasRekey := r.State == StateRekeying
	r.send = send
	r.recv = recv
	r.remoteStatic = remoteStatic
	r.haveRemoteStatic = true
	r.sessionID = sid
	r.sendNonce = 0
	r.recvFilt = replayFilter{}
	r.State = StateActive
	r.lastHandshakeAt = m.clock.Now()
	r.lastActivity = m.clock.Now()
	r.pendingRekey = nil
	if wasRekey {
		m.log.Info().Str("peer", r.Fingerprint.String()).Msg("rekey completed")
	}
}

// Encrypt requires an Active session; it increments the send nonce and
// returns the session-framed ciphertext (session_id || nonce || ct).
func (m *Manager) Encrypt(peer ids.Fingerprint, plaintext []byte) ([8]byte, uint64, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return [8]byte{}, 0, nil, ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no session")
	}
	if r.State != StateActive && r.State != StateRekeying {
		return [8]byte{}, 0, nil, ids.WithVariant(ids.KindSession, ids.SessionHandshakeFailed, "session not active")
	}
	nonce := r.sendNonce
	ct, err := r.send.Encrypt(nonce, r.sessionID[:], plaintext)
	if err != nil {
		return [8]byte{}, 0, nil, ids.Wrap(ids.KindCrypto, "encrypt", err)
	}
	r.sendNonce++
	r.messagesSent++
	r.lastActivity = m.clock.Now()
	return r.sessionID, nonce, ct, nil
}

// Decrypt checks the replay window, decrypts, and on success updates
// last_activity.
func (m *Manager) Decrypt(peer ids.Fingerprint, sessionID [8]byte, nonce uint64, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return nil, ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no session")
	}
	if r.State != StateActive && r.State != StateRekeying {
		return nil, ids.WithVariant(ids.KindSession, ids.SessionHandshakeFailed, "session not active")
	}
	if sessionID != r.sessionID {
		return nil, ids.New(ids.KindCrypto, "session id mismatch")
	}
	if !r.recvFilt.accept(nonce) {
		return nil, ids.New(ids.KindCrypto, "replayed or stale nonce")
	}
	plain, err := r.recv.Decrypt(nonce, sessionID[:], ciphertext)
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "decrypt", err)
	}
	r.messagesRecv++
	r.lastActivity = m.clock.Now()
	return plain, nil
}

// MaybeRekey evaluates the rekey triggers of spec.md §4.2 and, if met,
// transitions to Rekeying and returns a new handshake message 1 — still
// transport-encrypted under the current session by the caller, since the
// rekey handshake travels as a NoisePayload inside an ordinary
// NoiseEncrypted packet rather than a bare NoiseHandshake one.
func (m *Manager) MaybeRekey(peer ids.Fingerprint) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[peer]
	if !ok {
		return nil, false, ids.WithVariant(ids.KindSession, ids.SessionNotFound, "no session")
	}
	if !r.NeedsRekey(m.clock.Now()) {
		return nil, false, nil
	}

	r.pendingRekey = noiseproto.NewHandshakeState(noiseproto.Initiator, m.staticKey)
	msg, _, _, err := r.pendingRekey.WriteMessage()
	if err != nil {
		r.pendingRekey = nil
		return nil, false, ids.Wrap(ids.KindNoise, "write rekey message 1", err)
	}
	r.role = noiseproto.Initiator
	r.State = StateRekeying
	return msg, true, nil
}

// CleanupExpired drops sessions idle beyond the session TTL and returns
// the fingerprints that were dropped.
func (m *Manager) CleanupExpired() []ids.Fingerprint {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var dropped []ids.Fingerprint
	for fp, r := range m.records {
		if r.HandshakeExpired(now) {
			r.State = StateFailed
			r.FailReason = "HandshakeTimeout"
		}
		expired := r.State == StateExpired ||
			r.State == StateFailed ||
			((r.State == StateActive || r.State == StateRekeying) && now.Sub(r.lastActivity) >= m.sessionIdleTTL)
		if expired {
			dropped = append(dropped, fp)
			delete(m.records, fp)
		}
	}
	return dropped
}

// StateOf reports a peer's current session state, for query/report paths.
func (m *Manager) StateOf(peer ids.Fingerprint) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[peer]
	if !ok {
		return 0, false
	}
	return r.State, true
}

// FailReasonOf reports the recorded failure reason for a Failed session.
func (m *Manager) FailReasonOf(peer ids.Fingerprint) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[peer]
	if !ok {
		return "", false
	}
	return r.FailReason, r.State == StateFailed
}
