package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{inbound: make(chan []byte, 16)}
}

func (l *fakeLink) Write(ctx context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, data)
	return nil
}
func (l *fakeLink) Inbound() <-chan []byte { return l.inbound }
func (l *fakeLink) Close() error           { return nil }

type fakeDriver struct {
	mu          sync.Mutex
	connectedTo map[string]*fakeLink
	discoveries chan Discovery
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{connectedTo: make(map[string]*fakeLink), discoveries: make(chan Discovery, 16)}
}

func (d *fakeDriver) Advertise(ctx context.Context, localID string) error { return nil }
func (d *fakeDriver) StopAdvertise() error                                { return nil }
func (d *fakeDriver) Scan(ctx context.Context) (<-chan Discovery, error) {
	return d.discoveries, nil
}
func (d *fakeDriver) Connect(ctx context.Context, addr string) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := newFakeLink()
	d.connectedTo[addr] = l
	return l, nil
}

func TestDiscoveryWithPeerIDForwardsAndRegistersAddress(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, "local", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	var peer ids.PeerID
	peer[0] = 0x42
	driver.discoveries <- Discovery{Address: "AA:BB", RSSI: -40, PeerID: peer, HasPeerID: true}

	select {
	case got := <-a.Discovery():
		require.Equal(t, peer, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovery")
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, "local", zerolog.Nop())
	ctx := context.Background()

	var peer ids.PeerID
	peer[0] = 1
	err := a.SendTo(ctx, peer, []byte("hi"))
	require.Error(t, err)
}

func TestSendToKnownPeerConnectsAndWrites(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, "local", zerolog.Nop())
	ctx := context.Background()

	var peer ids.PeerID
	peer[0] = 2
	a.RegisterPeerAddress(peer, "CC:DD")

	require.NoError(t, a.SendTo(ctx, peer, []byte("hello")))
	require.NoError(t, a.SendTo(ctx, peer, []byte("again")))

	driver.mu.Lock()
	link := driver.connectedTo["CC:DD"]
	driver.mu.Unlock()
	require.NotNil(t, link)
	require.Len(t, link.written, 2)
}

func TestInboundFromLinkArrivesTaggedWithPeer(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, "local", zerolog.Nop())
	ctx := context.Background()

	var peer ids.PeerID
	peer[0] = 3
	a.RegisterPeerAddress(peer, "EE:FF")
	require.NoError(t, a.SendTo(ctx, peer, []byte("first")))

	driver.mu.Lock()
	link := driver.connectedTo["EE:FF"]
	driver.mu.Unlock()
	link.inbound <- []byte("payload")

	select {
	case in := <-a.Inbound():
		require.Equal(t, peer, in.From)
		require.Equal(t, []byte("payload"), in.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound")
	}
}

func TestBroadcastSendsToAllKnownPeers(t *testing.T) {
	driver := newFakeDriver()
	a := New(driver, "local", zerolog.Nop())
	ctx := context.Background()

	var p1, p2 ids.PeerID
	p1[0], p2[0] = 4, 5
	a.RegisterPeerAddress(p1, "11:11")
	a.RegisterPeerAddress(p2, "22:22")

	require.NoError(t, a.Broadcast(ctx, []byte("mesh")))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.Len(t, driver.connectedTo["11:11"].written, 1)
	require.Len(t, driver.connectedTo["22:22"].written, 1)
}
