package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEffect() Effect {
	return StartTransportDiscovery{}
}

func TestEffectBusFansOutToEverySubscriber(t *testing.T) {
	b := newEffectBus()
	ch1, _ := b.Subscribe(4)
	ch2, _ := b.Subscribe(4)

	b.Publish(testEffect())

	require.Len(t, ch1, 1)
	require.Len(t, ch2, 1)
}

func TestEffectBusDropsOnFullSubscriberBuffer(t *testing.T) {
	b := newEffectBus()
	ch, _ := b.Subscribe(1)

	b.Publish(testEffect())
	b.Publish(testEffect())

	require.Len(t, ch, 1) // second publish dropped rather than blocking
}

func TestEffectBusUnsubscribeClosesChannel(t *testing.T) {
	b := newEffectBus()
	ch, unsubscribe := b.Subscribe(1)

	unsubscribe()

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after every subscriber left must not panic.
	b.Publish(testEffect())
}
