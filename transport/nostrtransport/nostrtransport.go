// Package nostrtransport implements the Nostr transport.Transport
// adapter of spec.md §4.8/§6 (TransportType Nostr): it embeds BitChat
// packets in Nostr events via package nostr and drives them through a
// caller-supplied publish/subscribe function, per SPEC_FULL.md §12 — this
// package is the payload-over-relay glue, not a relay WebSocket client;
// actual relay I/O is out of scope and belongs to whatever the caller
// wires in (a real client would use a library like
// github.com/nbd-wtf/go-nostr, which this package deliberately does not
// import so relay transport stays pluggable).
package nostrtransport

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/nostr"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/rs/zerolog"
)

// Publisher sends a signed event to the relay network; Subscriber
// streams events matching whatever filter the caller configured
// out-of-band.
type Publisher func(ctx context.Context, ev *nostr.Event) error
type Subscriber func(ctx context.Context) (<-chan *nostr.Event, error)

// PeerKeys resolves a BitChat peer to the Nostr pubkey it publishes
// under.
type PeerKeys interface {
	NostrPubKeyOf(peer ids.PeerID) ([32]byte, bool)
	PeerIDOfNostrPubKey(pub [32]byte) (ids.PeerID, bool)
	AllNostrPubKeys() [][32]byte
}

// Adapter implements transport.Transport by embedding packets in Nostr
// events, per spec.md §6.
type Adapter struct {
	self      *nostr.KeyPair
	keys      PeerKeys
	publish   Publisher
	subscribe Subscriber
	clk       clock.Clock
	log       zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	inbound chan transport.Inbound
}

// New constructs a Nostr transport.Transport. self is this node's Nostr
// relay-plane identity; keys resolves peer<->pubkey mappings.
func New(self *nostr.KeyPair, keys PeerKeys, publish Publisher, subscribe Subscriber, clk clock.Clock, log zerolog.Logger) *Adapter {
	return &Adapter{
		self:      self,
		keys:      keys,
		publish:   publish,
		subscribe: subscribe,
		clk:       clk,
		log:       log.With().Str("component", "transport.nostr").Logger(),
		inbound:   make(chan transport.Inbound, 256),
	}
}

func (a *Adapter) Kind() transport.Kind { return transport.Nostr }

// Start begins consuming the subscription and routing decoded inbound
// packets.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	events, err := a.subscribe(ctx)
	if err != nil {
		cancel()
		return ids.Wrap(ids.KindTransport, "nostr subscribe", err)
	}
	go a.pump(ctx, events)
	return nil
}

func (a *Adapter) pump(ctx context.Context, events <-chan *nostr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, ev *nostr.Event) {
	switch ev.Kind {
	case nostr.KindMeshRelay:
		packet, ok := nostr.ExtractPacket(ev.Content)
		if !ok {
			return
		}
		from, ok := a.keys.PeerIDOfNostrPubKey(ev.PubKey)
		if !ok {
			return
		}
		a.deliver(ctx, from, packet)
	case nostr.KindGiftWrap:
		a.handleGiftWrap(ctx, ev)
	}
}

func (a *Adapter) handleGiftWrap(ctx context.Context, wrap *nostr.Event) {
	tag, ok := wrap.TagValue("p")
	if !ok || tag != nostr.HexPubKey(a.self.XOnlyPubKey()) {
		return
	}
	// The real sender is only recoverable once the NIP-04 ECDH succeeds,
	// which requires trying each known peer's pubkey in turn: the gift
	// wrap's own signer is a one-time key, never the real sender.
	for _, candidate := range a.keys.AllNostrPubKeys() {
		packet, err := nostr.UnwrapGift(wrap, a.self, candidate)
		if err != nil {
			continue
		}
		from, ok := a.keys.PeerIDOfNostrPubKey(candidate)
		if !ok {
			continue
		}
		a.deliver(ctx, from, packet)
		return
	}
}

func (a *Adapter) deliver(ctx context.Context, from ids.PeerID, packet []byte) {
	select {
	case a.inbound <- transport.Inbound{From: from, Data: packet}:
	case <-ctx.Done():
	}
}

// Stop cancels the subscription pump.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// SendTo gift-wraps data to peer and publishes it.
func (a *Adapter) SendTo(ctx context.Context, peer ids.PeerID, data []byte) error {
	recipientPub, ok := a.keys.NostrPubKeyOf(peer)
	if !ok {
		return ids.WithVariant(ids.KindTransport, ids.TransportPeerNotFound, "peer has no known nostr pubkey")
	}
	wrap, err := nostr.GiftWrap(data, a.self, recipientPub, a.clk.Now())
	if err != nil {
		return ids.Wrap(ids.KindCrypto, "build nostr gift wrap", err)
	}
	if err := a.publish(ctx, wrap); err != nil {
		return ids.Wrap(ids.KindTransport, "publish nostr gift wrap", err)
	}
	return nil
}

// Broadcast publishes data as a public kind-1 mesh relay event.
func (a *Adapter) Broadcast(ctx context.Context, data []byte) error {
	ev, err := nostr.BuildMeshRelayEvent(data, a.clk.Now(), a.self)
	if err != nil {
		return ids.Wrap(ids.KindCrypto, "build nostr mesh relay event", err)
	}
	if err := a.publish(ctx, ev); err != nil {
		return ids.Wrap(ids.KindTransport, "publish nostr mesh relay event", err)
	}
	return nil
}

func (a *Adapter) Inbound() <-chan transport.Inbound { return a.inbound }

// Discovery is always empty: Nostr has no proximity-discovery concept,
// per spec.md §4.8 (only BLE emits discovery events).
func (a *Adapter) Discovery() <-chan ids.PeerID {
	return nil
}
