package fragment

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/wire"
	"github.com/stretchr/testify/require"
)

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1000)
	parts, err := Split(wire.MessageMessage, payload)
	require.NoError(t, err)
	require.Greater(t, len(parts), 1)

	mc := clock.NewMock()
	r := NewReassembler(mc, DefaultReassemblyTimeout)

	var out []byte
	var originalType wire.MessageType
	var complete bool
	for _, p := range parts {
		out, originalType, complete, err = r.Add(p)
		require.NoError(t, err)
	}
	require.True(t, complete)
	require.Equal(t, wire.MessageMessage, originalType)
	require.Equal(t, payload, out)
	require.Equal(t, 0, r.Pending())
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 300)
	parts, err := Split(wire.MessageMessage, payload)
	require.NoError(t, err)

	mc := clock.NewMock()
	r := NewReassembler(mc, DefaultReassemblyTimeout)

	for i := len(parts) - 1; i >= 0; i-- {
		out, _, complete, err := r.Add(parts[i])
		require.NoError(t, err)
		if i == 0 {
			require.True(t, complete)
			require.Equal(t, payload, out)
		} else {
			require.False(t, complete)
		}
	}
}

func TestReassemblyTimeoutDropsSet(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1000)
	parts, err := Split(wire.MessageMessage, payload)
	require.NoError(t, err)
	require.Greater(t, len(parts), 1)

	mc := clock.NewMock()
	r := NewReassembler(mc, DefaultReassemblyTimeout)

	_, _, complete, err := r.Add(parts[0])
	require.NoError(t, err)
	require.False(t, complete)
	require.Equal(t, 1, r.Pending())

	mc.Add(DefaultReassemblyTimeout + time.Second)
	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, time.Millisecond)

	// Remaining fragments now start a fresh set instead of completing the
	// expired one.
	for _, p := range parts[1:] {
		_, _, complete, err = r.Add(p)
		require.NoError(t, err)
	}
	require.False(t, complete)
}

func TestSplitRejectsOversizedMessage(t *testing.T) {
	payload := bytes.Repeat([]byte{0x00}, (MaxFragments+1)*MaxFragmentData)
	_, err := Split(wire.MessageMessage, payload)
	require.Error(t, err)
}

func TestDuplicateFragmentIsIgnored(t *testing.T) {
	payload := bytes.Repeat([]byte{0x9}, 500)
	parts, err := Split(wire.MessageMessage, payload)
	require.NoError(t, err)

	mc := clock.NewMock()
	r := NewReassembler(mc, DefaultReassemblyTimeout)

	_, _, complete, err := r.Add(parts[0])
	require.NoError(t, err)
	require.False(t, complete)
	_, _, complete, err = r.Add(parts[0])
	require.NoError(t, err)
	require.False(t, complete)
}
