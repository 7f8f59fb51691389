// Package connstate implements the per-peer connection state machine of
// spec.md §4.7: a tagged union over Disconnected/Discovering/Connecting/
// Connected/Failed, each carrying only the data its valid transitions
// require, advanced by a linear Apply(state, event) that takes the prior
// state by value so illegal states cannot be constructed from legal ones.
// It generalizes the teacher's looser atomic-bool/channel-driven Peer
// lifecycle (device/peer.go's Start/Stop/ExpireCurrentKeypairs) into an
// explicit closed set of variants — stronger than the teacher's own
// lifecycle, since the spec requires illegal states to not compile.
package connstate

import (
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
)

// TransportKind names a concrete transport a connection may use.
type TransportKind int

const (
	TransportBle TransportKind = iota
	TransportNostr
)

func (k TransportKind) String() string {
	switch k {
	case TransportBle:
		return "Ble"
	case TransportNostr:
		return "Nostr"
	default:
		return "Unknown"
	}
}

// State is the sealed tagged union of connection states. Only the
// variant types defined in this package implement it.
type State interface {
	isState()
	PeerID() ids.PeerID
}

// Disconnected is the initial/resting state.
type Disconnected struct {
	Peer           ids.PeerID
	LastSeen       time.Time
	FailedAttempts int
}

// Discovering is searching for a reachable transport to this peer.
type Discovering struct {
	Peer                 ids.PeerID
	Started              time.Time
	DiscoveredTransports []TransportKind
	Timeout              time.Duration
	FailedAttempts       int
}

// SessionParams carries the handshake-in-progress bookkeeping a
// Connecting state needs; it is opaque to connstate itself.
type SessionParams struct {
	InitiatedByUs bool
}

// Connecting is mid-handshake on a chosen transport.
type Connecting struct {
	Peer           ids.PeerID
	Transport      TransportKind
	Started        time.Time
	Timeout        time.Duration
	SessionParams  SessionParams
	FailedAttempts int
}

// Connected is an active, healthy session.
type Connected struct {
	Peer         ids.PeerID
	Transport    TransportKind
	Since        time.Time
	SessionID    [8]byte
	LastActivity time.Time
	MessageCount uint64
}

// Failed records why the last attempt or session ended, and when a retry
// may next be attempted.
type Failed struct {
	Peer          ids.PeerID
	Transport     TransportKind
	HasTransport  bool
	FailedAt      time.Time
	Reason        string
	RetryAfter    time.Time
	HasRetryAfter bool
	FailedAttempts int
}

func (Disconnected) isState() {}
func (Discovering) isState()  {}
func (Connecting) isState()   {}
func (Connected) isState()    {}
func (Failed) isState()       {}

func (s Disconnected) PeerID() ids.PeerID { return s.Peer }
func (s Discovering) PeerID() ids.PeerID  { return s.Peer }
func (s Connecting) PeerID() ids.PeerID   { return s.Peer }
func (s Connected) PeerID() ids.PeerID    { return s.Peer }
func (s Failed) PeerID() ids.PeerID       { return s.Peer }

// QualityScore is the heuristic of spec.md §4.7, in [0,100], consumed by
// the transport router to pick among reachable peers.
func QualityScore(s State, now time.Time) int {
	switch st := s.(type) {
	case Connected:
		idle := now.Sub(st.LastActivity)
		switch {
		case idle < 10*time.Second:
			return 100
		case idle < 60*time.Second:
			return 80
		default:
			return 60
		}
	case Connecting:
		return 30
	case Discovering:
		return 20
	default:
		return 0
	}
}
