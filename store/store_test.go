package store

import (
	"fmt"
	"testing"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/stretchr/testify/require"
)

func newTestMessage(t *testing.T, sender, recipient ids.PeerID, hasRecipient bool, content string, ts ids.Timestamp, seq uint64) *Message {
	t.Helper()
	return &Message{
		ID:           ComputeMessageID(sender, recipient, hasRecipient, content, ts, seq),
		Sender:       sender,
		Recipient:    recipient,
		HasRecipient: hasRecipient,
		Content:      content,
		Timestamp:    ts,
		Sequence:     seq,
	}
}

func TestStoreRejectsMismatchedID(t *testing.T) {
	s := New(DefaultConfig())
	var a, b ids.PeerID
	a[0], b[0] = 1, 2
	msg := newTestMessage(t, a, b, true, "hello", 1000, 1)
	msg.ID[0] ^= 0xFF

	ok, err := s.Store(msg)
	require.False(t, ok)
	require.Error(t, err)
}

func TestStoreDeduplicatesByID(t *testing.T) {
	s := New(DefaultConfig())
	var a, b ids.PeerID
	a[0], b[0] = 1, 2
	msg := newTestMessage(t, a, b, true, "hello", 1000, 1)

	ok, err := s.Store(msg)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Store(msg)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
}

func TestStoreQueriesByConversationOrderedByTimeAndSequence(t *testing.T) {
	s := New(DefaultConfig())
	var a, b ids.PeerID
	a[0], b[0] = 1, 2

	m1 := newTestMessage(t, a, b, true, "first", 1000, 1)
	m2 := newTestMessage(t, b, a, true, "second", 2000, 1)
	m3 := newTestMessage(t, a, b, true, "third", 1000, 2)

	for _, m := range []*Message{m3, m1, m2} {
		ok, err := s.Store(m)
		require.NoError(t, err)
		require.True(t, ok)
	}

	conv := DirectConversation(a, b)
	got := s.ByConversation(conv)
	require.Len(t, got, 3)
	require.Equal(t, "first", got[0].Content)
	require.Equal(t, "third", got[1].Content)
	require.Equal(t, "second", got[2].Content)
}

func TestStoreByPeerUnionsConversations(t *testing.T) {
	s := New(DefaultConfig())
	var a, b, c ids.PeerID
	a[0], b[0], c[0] = 1, 2, 3

	m1 := newTestMessage(t, a, b, true, "to b", 1000, 1)
	m2 := newTestMessage(t, a, c, true, "to c", 1001, 1)
	m3 := newTestMessage(t, c, b, true, "unrelated", 1002, 1)

	for _, m := range []*Message{m1, m2, m3} {
		_, err := s.Store(m)
		require.NoError(t, err)
	}

	got := s.ByPeer(a)
	require.Len(t, got, 2)
}

func TestStoreByTimeRange(t *testing.T) {
	s := New(DefaultConfig())
	var a, b ids.PeerID
	a[0], b[0] = 1, 2

	for i, ts := range []ids.Timestamp{100, 200, 300, 400} {
		m := newTestMessage(t, a, b, true, fmt.Sprintf("m%d", i), ts, uint64(i))
		_, err := s.Store(m)
		require.NoError(t, err)
	}

	got := s.ByTimeRange(150, 350)
	require.Len(t, got, 2)
	require.Equal(t, ids.Timestamp(200), got[0].Timestamp)
	require.Equal(t, ids.Timestamp(300), got[1].Timestamp)
}

func TestStoreEvictsOldestOnPerConversationCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerConversation = 2
	s := New(cfg)
	var a, b ids.PeerID
	a[0], b[0] = 1, 2

	m1 := newTestMessage(t, a, b, true, "one", 100, 1)
	m2 := newTestMessage(t, a, b, true, "two", 200, 1)
	m3 := newTestMessage(t, a, b, true, "three", 300, 1)

	for _, m := range []*Message{m1, m2, m3} {
		ok, err := s.Store(m)
		require.NoError(t, err)
		require.True(t, ok)
	}

	conv := DirectConversation(a, b)
	got := s.ByConversation(conv)
	require.Len(t, got, 2)
	require.Equal(t, "two", got[0].Content)
	require.Equal(t, "three", got[1].Content)

	_, stillThere := s.ByID(m1.ID)
	require.False(t, stillThere)
}

func TestStoreRejectsOversizedContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContentLength = 4
	s := New(cfg)
	var a, b ids.PeerID
	a[0], b[0] = 1, 2
	msg := newTestMessage(t, a, b, true, "too long", 100, 1)

	ok, err := s.Store(msg)
	require.False(t, ok)
	require.Error(t, err)
}
