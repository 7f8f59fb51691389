// Package engine implements the single-ingress event loop of spec.md
// §4.11/§5: four bounded channel types — Command (UI -> engine), Event
// (transports -> engine), Effect (engine -> transports, broadcast
// fan-out), AppEvent (engine -> UI) — serialized through one ingress
// task that owns every other component and emits zero or more effects
// and app-events per input. It is modeled on the teacher's single
// sequential per-peer receiver/sender goroutines (device/receive.go's
// RoutineSequentialReceiver, device/send.go's RoutineSequentialSender),
// generalized from "one sequential queue per peer" to "one sequential
// queue for the whole engine."
package engine

import (
	"time"

	"github.com/bitchat-mesh/bitchat/connstate"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Command is the sealed union of UI -> engine requests, per spec.md
// §4.11. IsQuery distinguishes the query commands that backpressure
// eviction must never discard (spec.md §4.11: "drops the oldest
// non-query command").
type Command interface {
	isCommand()
	IsQuery() bool
}

// SendMessage asks the engine to deliver content to Recipient (or
// broadcast, if HasRecipient is false).
type SendMessage struct {
	Recipient    ids.PeerID
	HasRecipient bool
	Content      string
}

// ConnectToPeer asks the engine to begin (or retry) a handshake with
// peer, once its Fingerprint is already known (e.g. from a prior
// Announce).
type ConnectToPeer struct {
	Peer ids.PeerID
}

// StartDiscovery asks every registered transport to begin discovering
// peers.
type StartDiscovery struct{}

// Shutdown asks the engine to stop: Run flushes the identity cache,
// publishes StopListening for every transport kind, and returns.
// Commands still queued behind it are not processed.
type Shutdown struct{}

// QueryConnectionState asks for peer's current connstate.State. Reply is
// sent exactly once; the engine never blocks waiting for it to be read,
// so callers must give Reply a buffer of at least 1.
type QueryConnectionState struct {
	Peer  ids.PeerID
	Reply chan ConnectionStateReport
}

// ConnectionStateReport is the answer to QueryConnectionState.
type ConnectionStateReport struct {
	Peer  ids.PeerID
	State connstate.State
	Known bool
}

func (SendMessage) isCommand()          {}
func (ConnectToPeer) isCommand()        {}
func (StartDiscovery) isCommand()       {}
func (Shutdown) isCommand()             {}
func (QueryConnectionState) isCommand() {}

func (SendMessage) IsQuery() bool          { return false }
func (ConnectToPeer) IsQuery() bool        { return false }
func (StartDiscovery) IsQuery() bool       { return false }
func (Shutdown) IsQuery() bool             { return false }
func (QueryConnectionState) IsQuery() bool { return true }

// Event is the sealed union of transport -> engine inputs, per spec.md
// §4.11.
type Event interface{ isEngineEvent() }

// PeerDiscovered reports a transport saw peer nearby.
type PeerDiscovered struct {
	Peer      ids.PeerID
	Transport transport.Kind
}

// ConnectionEstablished reports a transport-level link to peer is up;
// the Noise handshake is driven separately via BitchatPacketReceived.
type ConnectionEstablished struct {
	Peer          ids.PeerID
	Transport     transport.Kind
	InitiatedByUs bool
}

// ConnectionLost reports a transport-level link to peer dropped.
type ConnectionLost struct {
	Peer      ids.PeerID
	Transport transport.Kind
	Reason    string
}

// BitchatPacketReceived carries one wire-decoded packet from a
// transport, before any session/fragmentation processing.
type BitchatPacketReceived struct {
	Peer      ids.PeerID
	Transport transport.Kind
	Packet    *wire.Packet
}

// MessageReceived carries one fully reassembled logical message: either
// a BitchatPacketReceived whose type needed no reassembly, or the
// product of a completed fragment set. Kept as a distinct Event variant
// (rather than folded into BitchatPacketReceived) so a completed
// reassembly re-enters the same dispatch the transports use, per
// spec.md §4.11's naming of both as separate Event variants.
type MessageReceived struct {
	Peer      ids.PeerID
	Transport transport.Kind
	Type      wire.MessageType
	Payload   []byte
}

// TransportError reports a transport-level failure not tied to one
// peer (e.g. the underlying radio/relay connection dropped).
type TransportError struct {
	Transport transport.Kind
	Err       error
}

func (PeerDiscovered) isEngineEvent()         {}
func (ConnectionEstablished) isEngineEvent()  {}
func (ConnectionLost) isEngineEvent()         {}
func (BitchatPacketReceived) isEngineEvent()  {}
func (MessageReceived) isEngineEvent()        {}
func (TransportError) isEngineEvent()         {}

// Effect is the sealed union of engine -> transport outputs, fanned out
// by broadcast so every subscribed transport sees every effect, per
// spec.md §4.11.
type Effect interface{ isEffect() }

// SendPacket asks the transport named by Transport to deliver Data to
// Peer.
type SendPacket struct {
	Transport transport.Kind
	Peer      ids.PeerID
	Data      []byte
}

// BroadcastPacket asks the transport named by Transport to broadcast
// Data to every reachable peer.
type BroadcastPacket struct {
	Transport transport.Kind
	Data      []byte
}

// InitiateConnection asks a transport to open a link to Peer before any
// packet is ready to send (e.g. BLE GATT connect).
type InitiateConnection struct {
	Transport transport.Kind
	Peer      ids.PeerID
}

// StartListening asks a transport to begin accepting inbound traffic.
type StartListening struct{ Transport transport.Kind }

// StopListening asks a transport to stop accepting inbound traffic.
type StopListening struct{ Transport transport.Kind }

// StartTransportDiscovery asks a transport to begin discovering peers.
type StartTransportDiscovery struct{ Transport transport.Kind }

// StopTransportDiscovery asks a transport to stop discovering peers.
type StopTransportDiscovery struct{ Transport transport.Kind }

// Pause asks a transport to suspend activity without tearing down its
// state (e.g. the host app moved to the background).
type Pause struct{ Transport transport.Kind }

// Resume asks a transport to resume after Pause.
type Resume struct{ Transport transport.Kind }

func (SendPacket) isEffect()               {}
func (BroadcastPacket) isEffect()          {}
func (InitiateConnection) isEffect()       {}
func (StartListening) isEffect()           {}
func (StopListening) isEffect()            {}
func (StartTransportDiscovery) isEffect()  {}
func (StopTransportDiscovery) isEffect()   {}
func (Pause) isEffect()                    {}
func (Resume) isEffect()                   {}

// AppEvent is the sealed union of engine -> UI outputs, per spec.md
// §4.11.
type AppEvent interface{ isAppEvent() }

// MessageSent reports a delivery status change for a message this node
// authored: "sent" once it is handed to the router, "delivered" or
// "read" on a matching acknowledgment, and the tracker's Failed or
// Expired status once maintenance sweeps the entry.
type MessageSent struct {
	MessageID store.MessageID
	Status    string
}

// MessageReceivedApp reports a complete, decrypted message arrived for
// the UI to display. Named distinctly from engine.MessageReceived
// (which is an inbound Event, pre-dispatch) to avoid a name collision
// between the two sealed unions.
type MessageReceivedApp struct {
	MessageID store.MessageID
	Sender    ids.PeerID
	Content   string
	Timestamp ids.Timestamp
}

// PeerStatusChanged reports peer's connstate transitioned.
type PeerStatusChanged struct {
	Peer  ids.PeerID
	State connstate.State
}

// TransportStatusChanged reports a transport's health record changed.
type TransportStatusChanged struct {
	Transport transport.Kind
	Status    transport.Status
}

// Error reports a non-peer-scoped failure the UI should surface, per
// spec.md §7 ("AppEvent::Error{message}").
type Error struct {
	Message string
	At      time.Time
}

func (MessageSent) isAppEvent()            {}
func (MessageReceivedApp) isAppEvent()      {}
func (PeerStatusChanged) isAppEvent()       {}
func (TransportStatusChanged) isAppEvent()  {}
func (Error) isAppEvent()                  {}
