package connstate

import "time"

// EventKind tags which of the ten events of spec.md §4.7 occurred.
type EventKind int

const (
	EventStartDiscovery EventKind = iota
	EventPeerDiscovered
	EventInitiateConnection
	EventConnectionEstablished
	EventConnectionFailed
	EventConnectionLost
	EventActivityDetected
	EventTimeout
	EventDisconnect
	EventRetry
)

// Event is the input to Apply. Only the fields relevant to EventKind are
// read.
type Event struct {
	Kind          EventKind
	Transport     TransportKind
	SessionParams SessionParams
	SessionID     [8]byte
	Reason        string
}

// EffectKind tags a side effect Apply asks the caller to perform.
type EffectKind int

const (
	EffectStartTransportDiscovery EffectKind = iota
	EffectInitiateConnection
)

// Effect is a possibly-empty instruction emitted alongside a transition,
// per spec.md §4.7.
type Effect struct {
	Kind      EffectKind
	Transport TransportKind
}

// AuditEntry is the (from, to, event, effect count, timestamp) record
// spec.md §4.7 requires for every transition attempt, successful or not.
type AuditEntry struct {
	From       State
	To         State
	Event      EventKind
	EffectCount int
	Timestamp  time.Time
}

const (
	discoveryTimeout  = 30 * time.Second
	connectingTimeout = 30 * time.Second
	failedRetryAfter  = 10 * time.Second
)
