package session

import (
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/noiseproto"
)

// State is the session lifecycle state, per spec.md §4.3.
type State int

const (
	StateHandshaking State = iota
	StateActive
	StateRekeying
	StateFailed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateRekeying:
		return "Rekeying"
	case StateFailed:
		return "Failed"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// rekeyNonceCeiling is 90% of the 10^9 pre-exhaustion horizon, per
// spec.md §4.2.
const rekeyNonceCeiling = 900_000_000

// rekeyMaxAge is the maximum time since the last handshake completion
// before a session must rekey, per spec.md §4.2.
const rekeyMaxAge = 86_400 * time.Second

// handshakeTimeout bounds how long a handshake may remain incomplete,
// per spec.md §4.3.
const handshakeTimeout = 30 * time.Second

// Record is one peer's session state. The session manager is its sole
// owner (spec.md §3 "Ownership"); callers never hold a Record directly —
// they operate on fingerprints through the Manager.
type Record struct {
	Fingerprint ids.Fingerprint
	State       State
	FailReason  string

	handshake *noiseproto.HandshakeState
	role      noiseproto.Role

	send *noiseproto.CipherState
	recv *noiseproto.CipherState

	sendNonce uint64
	recvFilt  replayFilter

	remoteStatic    [noiseproto.DHLen]byte
	haveRemoteStatic bool

	createdAt       time.Time
	lastActivity    time.Time
	lastHandshakeAt time.Time
	messagesSent    uint64
	messagesRecv    uint64

	// pendingRekey holds the new handshake state while a Rekeying session
	// is mid-flight so the old CipherStates keep serving traffic until the
	// new ones are confirmed, per spec.md §4.2.
	pendingRekey *noiseproto.HandshakeState

	// pendingComplete holds the initiator's derived rekey materials between
	// the moment message 3 is produced and the moment it is actually sent:
	// message 3 must still go out wrapped under the *old* CipherState (the
	// far side can't read anything under the new one until it processes
	// that same message), so completion is finalized a step later than the
	// handshake state machine itself completes. See Manager.FinalizeRekey.
	pendingComplete *pendingCompletion
}

type pendingCompletion struct {
	send, recv   *noiseproto.CipherState
	remoteStatic [noiseproto.DHLen]byte
	binding      [32]byte
}

func newRecord(fp ids.Fingerprint, now time.Time) *Record {
	return &Record{
		Fingerprint: fp,
		State:       StateHandshaking,
		createdAt:   now,
		lastActivity: now,
	}
}

// NeedsRekey evaluates the rekey triggers of spec.md §4.2.
func (r *Record) NeedsRekey(now time.Time) bool {
	if r.State != StateActive {
		return false
	}
	if r.sendNonce >= rekeyNonceCeiling {
		return true
	}
	return now.Sub(r.lastHandshakeAt) >= rekeyMaxAge
}

// HandshakeExpired reports whether a Handshaking session has outlived the
// handshake timeout.
func (r *Record) HandshakeExpired(now time.Time) bool {
	return r.State == StateHandshaking && now.Sub(r.createdAt) >= handshakeTimeout
}
