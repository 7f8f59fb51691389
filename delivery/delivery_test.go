package delivery

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/stretchr/testify/require"
)

func testID(b byte) store.MessageID {
	var id store.MessageID
	id[0] = b
	return id
}

func TestDeliveryHappyPath(t *testing.T) {
	mc := clock.NewMock()
	tr := New(mc)
	var peer ids.PeerID
	peer[0] = 1
	id := testID(1)

	tr.Register(id, peer, []byte("payload"))
	e, ok := tr.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusPending, e.Status)

	require.NoError(t, tr.MarkSent(id))
	e, _ = tr.Get(id)
	require.Equal(t, StatusSent, e.Status)

	require.NoError(t, tr.Confirm(id))
	e, _ = tr.Get(id)
	require.Equal(t, StatusConfirmed, e.Status)

	terminal := tr.Cleanup()
	require.Len(t, terminal, 1)
	require.Equal(t, StatusConfirmed, terminal[0].Status)

	_, ok = tr.Get(id)
	require.False(t, ok)
}

func TestDeliveryFailsAfterMaxAttempts(t *testing.T) {
	mc := clock.NewMock()
	tr := New(mc)
	var peer ids.PeerID
	id := testID(2)
	tr.Register(id, peer, []byte("x"))
	require.NoError(t, tr.MarkSent(id))

	for i := 0; i < maxAttempts; i++ {
		shouldRetry, err := tr.Retry(id)
		require.NoError(t, err)
		require.True(t, shouldRetry)
	}

	shouldRetry, err := tr.Retry(id)
	require.NoError(t, err)
	require.False(t, shouldRetry)

	e, _ := tr.Get(id)
	require.Equal(t, StatusFailed, e.Status)
}

func TestDeliveryExpiresAfterOverallDeadline(t *testing.T) {
	mc := clock.NewMock()
	tr := New(mc)
	var peer ids.PeerID
	id := testID(3)
	tr.Register(id, peer, []byte("x"))
	require.NoError(t, tr.MarkSent(id))

	mc.Add(overallDeadline + time.Second)

	shouldRetry, err := tr.Retry(id)
	require.NoError(t, err)
	require.False(t, shouldRetry)

	e, _ := tr.Get(id)
	require.Equal(t, StatusExpired, e.Status)
}

func TestDeliveryMonotonicityNoBackEdgeOnLateAck(t *testing.T) {
	mc := clock.NewMock()
	tr := New(mc)
	var peer ids.PeerID
	id := testID(4)
	tr.Register(id, peer, []byte("x"))
	require.NoError(t, tr.MarkSent(id))

	mc.Add(overallDeadline + time.Second)
	_, err := tr.Retry(id)
	require.NoError(t, err)
	e, _ := tr.Get(id)
	require.Equal(t, StatusExpired, e.Status)

	// A late Delivered ack after expiry must not resurrect the entry.
	require.NoError(t, tr.Confirm(id))
	e, _ = tr.Get(id)
	require.Equal(t, StatusExpired, e.Status)
}

func TestDeliveryBackoffGrowsAndCaps(t *testing.T) {
	mc := clock.NewMock()
	tr := New(mc)
	for n := 0; n < 10; n++ {
		d := tr.backoffFor(n)
		require.LessOrEqual(t, d, backoffCap+backoffCap/2+time.Second)
	}
}
