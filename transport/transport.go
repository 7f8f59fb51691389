// Package transport abstracts away how many concrete transports exist
// and which one reaches a given peer right now, per spec.md §4.8. It is
// modeled on the teacher's conn.Bind interface (conn/conn.go), generalized
// from a single UDP socket abstraction bound to one local port, to a
// peer-addressed, multi-transport contract with independent health
// tracking per transport.
package transport

import (
	"context"

	"github.com/bitchat-mesh/bitchat/connstate"
	"github.com/bitchat-mesh/bitchat/ids"
)

// Kind is the set of concrete transport types, shared with connstate
// since connection states carry which transport they're using.
type Kind = connstate.TransportKind

const (
	Ble   = connstate.TransportBle
	Nostr = connstate.TransportNostr
)

// Inbound is one message arriving on a transport.
type Inbound struct {
	From ids.PeerID
	Data []byte
}

// Transport is the contract every concrete transport implements: send to
// one peer, broadcast to all, start/stop the underlying link, and expose
// inbound-message and peer-discovery streams. Mirrors conn.Bind's
// Open/Close/Send/receiveFn shape, generalized to a peer-addressed API
// (conn.Bind has no peer concept; it binds one local endpoint).
type Transport interface {
	Kind() Kind
	Start(ctx context.Context) error
	Stop() error
	SendTo(ctx context.Context, peer ids.PeerID, data []byte) error
	Broadcast(ctx context.Context, data []byte) error
	Inbound() <-chan Inbound
	Discovery() <-chan ids.PeerID
}
