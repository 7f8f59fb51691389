package ble

import (
	"context"
	"sync"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/rs/zerolog"
)

// Adapter implements transport.Transport over a BLE Driver, translating
// between ids.PeerID-addressed calls and raw BLE addresses.
type Adapter struct {
	driver  Driver
	localID string
	log     zerolog.Logger

	mu          sync.Mutex
	addrByPeer  map[ids.PeerID]string
	links       map[ids.PeerID]Link
	cancel      context.CancelFunc
	inbound     chan transport.Inbound
	discoveries chan ids.PeerID
}

// New constructs a BLE transport.Transport backed by driver.
func New(driver Driver, localID string, log zerolog.Logger) *Adapter {
	return &Adapter{
		driver:      driver,
		localID:     localID,
		log:         log.With().Str("component", "transport.ble").Logger(),
		addrByPeer:  make(map[ids.PeerID]string),
		links:       make(map[ids.PeerID]Link),
		inbound:     make(chan transport.Inbound, 256),
		discoveries: make(chan ids.PeerID, 64),
	}
}

func (a *Adapter) Kind() transport.Kind { return transport.Ble }

// Start begins advertising and scanning.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.driver.Advertise(ctx, a.localID); err != nil {
		cancel()
		return ids.Wrap(ids.KindTransport, "ble advertise", err)
	}

	discoveries, err := a.driver.Scan(ctx)
	if err != nil {
		cancel()
		return ids.Wrap(ids.KindTransport, "ble scan", err)
	}
	go a.pumpDiscoveries(ctx, discoveries)
	return nil
}

func (a *Adapter) pumpDiscoveries(ctx context.Context, discoveries <-chan Discovery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-discoveries:
			if !ok {
				return
			}
			if !d.HasPeerID {
				continue
			}
			a.mu.Lock()
			a.addrByPeer[d.PeerID] = d.Address
			a.mu.Unlock()
			select {
			case a.discoveries <- d.PeerID:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop tears down all links and stops advertising/scanning.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	links := make([]Link, 0, len(a.links))
	for _, l := range a.links {
		links = append(links, l)
	}
	a.links = make(map[ids.PeerID]Link)
	a.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	return a.driver.StopAdvertise()
}

// RegisterPeerAddress records peer's BLE address learned out-of-band
// (e.g. from a decoded Announce packet), for when advertisements alone
// don't carry a PeerID.
func (a *Adapter) RegisterPeerAddress(peer ids.PeerID, addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addrByPeer[peer] = addr
}

func (a *Adapter) linkFor(ctx context.Context, peer ids.PeerID) (Link, error) {
	a.mu.Lock()
	if l, ok := a.links[peer]; ok {
		a.mu.Unlock()
		return l, nil
	}
	addr, ok := a.addrByPeer[peer]
	a.mu.Unlock()
	if !ok {
		return nil, ids.WithVariant(ids.KindTransport, ids.TransportPeerNotFound, "peer has no known ble address")
	}

	link, err := a.driver.Connect(ctx, addr)
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "ble connect", err)
	}

	a.mu.Lock()
	a.links[peer] = link
	a.mu.Unlock()
	go a.pumpInbound(peer, link)
	return link, nil
}

func (a *Adapter) pumpInbound(peer ids.PeerID, link Link) {
	for data := range link.Inbound() {
		a.inbound <- transport.Inbound{From: peer, Data: data}
	}
	a.mu.Lock()
	delete(a.links, peer)
	a.mu.Unlock()
}

// SendTo writes data to peer, connecting first if no link is open.
func (a *Adapter) SendTo(ctx context.Context, peer ids.PeerID, data []byte) error {
	link, err := a.linkFor(ctx, peer)
	if err != nil {
		return err
	}
	if err := link.Write(ctx, data); err != nil {
		return ids.Wrap(ids.KindTransport, "ble write", err)
	}
	return nil
}

// Broadcast writes data to every peer with an open or openable link.
func (a *Adapter) Broadcast(ctx context.Context, data []byte) error {
	a.mu.Lock()
	peers := make([]ids.PeerID, 0, len(a.addrByPeer))
	for p := range a.addrByPeer {
		peers = append(peers, p)
	}
	a.mu.Unlock()

	var firstErr error
	for _, p := range peers {
		if err := a.SendTo(ctx, p, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Adapter) Inbound() <-chan transport.Inbound { return a.inbound }

func (a *Adapter) Discovery() <-chan ids.PeerID { return a.discoveries }
