package nostrtransport

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	byPeer map[ids.PeerID][32]byte
	byPub  map[[32]byte]ids.PeerID
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{byPeer: make(map[ids.PeerID][32]byte), byPub: make(map[[32]byte]ids.PeerID)}
}

func (k *fakeKeys) add(peer ids.PeerID, pub [32]byte) {
	k.byPeer[peer] = pub
	k.byPub[pub] = peer
}

func (k *fakeKeys) NostrPubKeyOf(peer ids.PeerID) ([32]byte, bool) {
	pub, ok := k.byPeer[peer]
	return pub, ok
}

func (k *fakeKeys) PeerIDOfNostrPubKey(pub [32]byte) (ids.PeerID, bool) {
	peer, ok := k.byPub[pub]
	return peer, ok
}

func (k *fakeKeys) AllNostrPubKeys() [][32]byte {
	out := make([][32]byte, 0, len(k.byPub))
	for pub := range k.byPub {
		out = append(out, pub)
	}
	return out
}

func TestBroadcastPublishesMeshRelayEvent(t *testing.T) {
	mc := clock.NewMock()
	self, err := nostr.GenerateKeyPair()
	require.NoError(t, err)
	keys := newFakeKeys()

	var published *nostr.Event
	publish := func(ctx context.Context, ev *nostr.Event) error {
		published = ev
		return nil
	}
	subscribe := func(ctx context.Context) (<-chan *nostr.Event, error) {
		return make(chan *nostr.Event), nil
	}

	a := New(self, keys, publish, subscribe, mc, zerolog.Nop())
	require.NoError(t, a.Broadcast(context.Background(), []byte("hello mesh")))

	require.NotNil(t, published)
	require.Equal(t, nostr.KindMeshRelay, published.Kind)
	packet, ok := nostr.ExtractPacket(published.Content)
	require.True(t, ok)
	require.Equal(t, []byte("hello mesh"), packet)
}

func TestSendToPublishesGiftWrap(t *testing.T) {
	mc := clock.NewMock()
	self, err := nostr.GenerateKeyPair()
	require.NoError(t, err)
	recipientKP, err := nostr.GenerateKeyPair()
	require.NoError(t, err)

	keys := newFakeKeys()
	var peer ids.PeerID
	peer[0] = 9
	keys.add(peer, recipientKP.XOnlyPubKey())

	var published *nostr.Event
	publish := func(ctx context.Context, ev *nostr.Event) error {
		published = ev
		return nil
	}
	subscribe := func(ctx context.Context) (<-chan *nostr.Event, error) {
		return make(chan *nostr.Event), nil
	}

	a := New(self, keys, publish, subscribe, mc, zerolog.Nop())
	require.NoError(t, a.SendTo(context.Background(), peer, []byte("secret")))

	require.NotNil(t, published)
	require.Equal(t, nostr.KindGiftWrap, published.Kind)

	recovered, err := nostr.UnwrapGift(published, recipientKP, self.XOnlyPubKey())
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), recovered)
}

func TestInboundMeshRelayEventIsDelivered(t *testing.T) {
	mc := clock.NewMock()
	self, err := nostr.GenerateKeyPair()
	require.NoError(t, err)
	senderKP, err := nostr.GenerateKeyPair()
	require.NoError(t, err)

	keys := newFakeKeys()
	var sender ids.PeerID
	sender[0] = 1
	keys.add(sender, senderKP.XOnlyPubKey())

	events := make(chan *nostr.Event, 1)
	subscribe := func(ctx context.Context) (<-chan *nostr.Event, error) { return events, nil }
	publish := func(ctx context.Context, ev *nostr.Event) error { return nil }

	a := New(self, keys, publish, subscribe, mc, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	ev, err := nostr.BuildMeshRelayEvent([]byte("mesh payload"), mc.Now(), senderKP)
	require.NoError(t, err)
	events <- ev

	select {
	case in := <-a.Inbound():
		require.Equal(t, sender, in.From)
		require.Equal(t, []byte("mesh payload"), in.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound mesh relay packet")
	}
}

func TestInboundGiftWrapAddressedToUsIsDecrypted(t *testing.T) {
	mc := clock.NewMock()
	self, err := nostr.GenerateKeyPair()
	require.NoError(t, err)
	senderKP, err := nostr.GenerateKeyPair()
	require.NoError(t, err)

	keys := newFakeKeys()
	var sender ids.PeerID
	sender[0] = 2
	keys.add(sender, senderKP.XOnlyPubKey())

	events := make(chan *nostr.Event, 1)
	subscribe := func(ctx context.Context) (<-chan *nostr.Event, error) { return events, nil }
	publish := func(ctx context.Context, ev *nostr.Event) error { return nil }

	a := New(self, keys, publish, subscribe, mc, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	wrap, err := nostr.GiftWrap([]byte("dm payload"), senderKP, self.XOnlyPubKey(), mc.Now())
	require.NoError(t, err)
	events <- wrap

	select {
	case in := <-a.Inbound():
		require.Equal(t, sender, in.From)
		require.Equal(t, []byte("dm payload"), in.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound gift-wrapped packet")
	}
}
