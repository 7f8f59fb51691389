package connstate

import (
	"testing"
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func testPeer() ids.PeerID {
	var p ids.PeerID
	p[0] = 0x42
	return p
}

func TestFullHappyPathTransitions(t *testing.T) {
	now := time.Unix(1000, 0)
	peer := testPeer()
	var s State = Disconnected{Peer: peer}

	s, effects, err := Apply(s, Event{Kind: EventStartDiscovery}, now)
	require.NoError(t, err)
	require.IsType(t, Discovering{}, s)
	require.Len(t, effects, 1)
	require.Equal(t, EffectStartTransportDiscovery, effects[0].Kind)

	s, _, err = Apply(s, Event{Kind: EventPeerDiscovered, Transport: TransportBle}, now)
	require.NoError(t, err)
	disc := s.(Discovering)
	require.Equal(t, []TransportKind{TransportBle}, disc.DiscoveredTransports)

	s, effects, err = Apply(s, Event{Kind: EventInitiateConnection, Transport: TransportBle}, now)
	require.NoError(t, err)
	require.IsType(t, Connecting{}, s)
	require.Len(t, effects, 1)
	require.Equal(t, EffectInitiateConnection, effects[0].Kind)

	var sid [8]byte
	sid[0] = 0x01
	s, _, err = Apply(s, Event{Kind: EventConnectionEstablished, SessionID: sid}, now)
	require.NoError(t, err)
	conn := s.(Connected)
	require.Equal(t, TransportBle, conn.Transport)
	require.Equal(t, sid, conn.SessionID)

	later := now.Add(5 * time.Second)
	s, _, err = Apply(s, Event{Kind: EventActivityDetected}, later)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.(Connected).MessageCount)
	require.Equal(t, 100, QualityScore(s, later))
}

func TestConnectionLostTransitionsToFailedWithRetryAfter(t *testing.T) {
	now := time.Unix(2000, 0)
	peer := testPeer()
	var sid [8]byte
	connected := Connected{Peer: peer, Transport: TransportBle, Since: now, SessionID: sid, LastActivity: now}

	next, _, err := Apply(connected, Event{Kind: EventConnectionLost, Reason: "peer disconnected ungracefully"}, now)
	require.NoError(t, err)
	failed := next.(Failed)
	require.Equal(t, now.Add(10*time.Second), failed.RetryAfter)
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	now := time.Unix(0, 0)
	peer := testPeer()
	disconnected := Disconnected{Peer: peer}

	next, effects, err := Apply(disconnected, Event{Kind: EventConnectionEstablished}, now)
	require.Error(t, err)
	require.Nil(t, effects)
	require.Equal(t, disconnected, next)
}

func TestDisconnectIsUniversal(t *testing.T) {
	now := time.Unix(0, 0)
	peer := testPeer()
	states := []State{
		Disconnected{Peer: peer},
		Discovering{Peer: peer},
		Connecting{Peer: peer},
		Connected{Peer: peer},
		Failed{Peer: peer},
	}
	for _, s := range states {
		next, _, err := Apply(s, Event{Kind: EventDisconnect}, now)
		require.NoError(t, err)
		require.IsType(t, Disconnected{}, next)
	}
}

func TestRetryFromFailedWithTransportGoesStraightToConnecting(t *testing.T) {
	now := time.Unix(0, 0)
	peer := testPeer()
	failed := Failed{Peer: peer, Transport: TransportNostr, HasTransport: true, FailedAttempts: 1}

	next, effects, err := Apply(failed, Event{Kind: EventRetry}, now)
	require.NoError(t, err)
	connecting := next.(Connecting)
	require.Equal(t, TransportNostr, connecting.Transport)
	require.Equal(t, 1, connecting.FailedAttempts)
	require.Len(t, effects, 1)
}

func TestQualityScoreHeuristic(t *testing.T) {
	now := time.Unix(10000, 0)
	require.Equal(t, 0, QualityScore(Disconnected{}, now))
	require.Equal(t, 20, QualityScore(Discovering{}, now))
	require.Equal(t, 30, QualityScore(Connecting{}, now))
	require.Equal(t, 100, QualityScore(Connected{LastActivity: now}, now))
	require.Equal(t, 80, QualityScore(Connected{LastActivity: now.Add(-30 * time.Second)}, now))
	require.Equal(t, 60, QualityScore(Connected{LastActivity: now.Add(-90 * time.Second)}, now))
}
