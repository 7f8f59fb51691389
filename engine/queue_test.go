package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testQueryCommand() QueryConnectionState {
	return QueryConnectionState{Reply: make(chan ConnectionStateReport, 1)}
}

func TestCommandQueueEvictsOldestNonQueryOnOverflow(t *testing.T) {
	q := newCommandQueue(2)

	require.NoError(t, q.Push(StartDiscovery{}))
	require.NoError(t, q.Push(ConnectToPeer{}))
	require.Equal(t, 2, q.Len())

	// Pushing a third command with the queue full evicts the oldest
	// non-query (StartDiscovery), not ConnectToPeer.
	require.NoError(t, q.Push(Shutdown{}))
	require.Equal(t, 2, q.Len())

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	require.True(t, ok)
	require.IsType(t, ConnectToPeer{}, first)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	require.IsType(t, Shutdown{}, second)
}

func TestCommandQueueFullOfQueriesRejectsPush(t *testing.T) {
	q := newCommandQueue(1)
	require.NoError(t, q.Push(testQueryCommand()))

	err := q.Push(testQueryCommand())
	require.Error(t, err)
}

func TestCommandQueueCloseDrainsThenStops(t *testing.T) {
	q := newCommandQueue(4)
	require.NoError(t, q.Push(StartDiscovery{}))
	q.Close()

	err := q.Push(ConnectToPeer{})
	require.Error(t, err)

	ctx := context.Background()
	cmd, ok := q.Pop(ctx)
	require.True(t, ok)
	require.IsType(t, StartDiscovery{}, cmd)

	_, ok = q.Pop(ctx)
	require.False(t, ok)
}

func TestCommandQueuePopUnblocksOnContextCancel(t *testing.T) {
	q := newCommandQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	require.False(t, ok)
}
