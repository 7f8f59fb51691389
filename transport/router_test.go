package transport

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func TestScenario4BleUnhealthyFallsBackToNostr(t *testing.T) {
	mc := clock.NewMock()
	r := NewRouter(PreferPrimary, mc)
	var b ids.PeerID
	b[0] = 0x02

	r.UpdateReachability(b, Ble)
	r.UpdateReachability(b, Nostr)

	sel := r.Select(Private{Recipient: b})
	require.Equal(t, UseTransport{Transport: Ble}, sel)

	r.RecordFailure(Ble)
	r.RecordFailure(Ble)
	r.RecordFailure(Ble)
	require.False(t, r.StatusOf(Ble).IsHealthy())

	sel = r.Select(Private{Recipient: b})
	require.Equal(t, UseTransport{Transport: Nostr}, sel)
}

func TestUnreachablePeerQueues(t *testing.T) {
	mc := clock.NewMock()
	r := NewRouter(PreferPrimary, mc)
	var peer ids.PeerID
	peer[0] = 9

	sel := r.Select(Private{Recipient: peer})
	require.Equal(t, Queue{}, sel)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	mc := clock.NewMock()
	r := NewRouter(PreferPrimary, mc)
	r.RecordFailure(Ble)
	r.RecordFailure(Ble)
	require.True(t, r.StatusOf(Ble).IsHealthy())

	r.RecordSuccess(Ble, 0)
	require.Equal(t, 0, r.StatusOf(Ble).ConsecutiveFailures)
	require.True(t, r.StatusOf(Ble).Available)
}

func TestBroadcastAllFansOutToEveryReachableHealthyTransport(t *testing.T) {
	mc := clock.NewMock()
	r := NewRouter(BroadcastAll, mc)
	var peer ids.PeerID
	peer[0] = 3
	r.UpdateReachability(peer, Ble)
	r.UpdateReachability(peer, Nostr)

	sel := r.Select(Private{Recipient: peer}).(UseAll)
	require.ElementsMatch(t, []Kind{Ble, Nostr}, sel.Transports)
}

func TestPublicMeshAndPublicLocationPinTransport(t *testing.T) {
	mc := clock.NewMock()
	r := NewRouter(PreferPrimary, mc)

	require.Equal(t, UseTransport{Transport: Ble}, r.Select(PublicMesh{}))
	require.Equal(t, UseTransport{Transport: Nostr}, r.Select(PublicLocation{}))

	r.RecordFailure(Nostr)
	r.RecordFailure(Nostr)
	r.RecordFailure(Nostr)
	require.Equal(t, Queue{}, r.Select(PublicLocation{}))
}
