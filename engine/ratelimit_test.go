package engine

import (
	"testing"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testPeerID(b byte) ids.PeerID {
	var p ids.PeerID
	p[0] = b
	return p
}

func TestLimiterSetEnforcesBurstPerKey(t *testing.T) {
	s := newLimiterSet(rate.Limit(1), 2)
	peer := testPeerID(1)

	require.True(t, s.Allow(peer))
	require.True(t, s.Allow(peer))
	require.False(t, s.Allow(peer))
}

func TestLimiterSetIsolatesKeys(t *testing.T) {
	s := newLimiterSet(rate.Limit(1), 1)
	a := testPeerID(1)
	b := testPeerID(2)

	require.True(t, s.Allow(a))
	require.False(t, s.Allow(a))
	// b has its own bucket and is unaffected by a's exhaustion.
	require.True(t, s.Allow(b))
}
