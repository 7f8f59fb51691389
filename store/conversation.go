package store

import (
	"bytes"
	"encoding/hex"

	"github.com/bitchat-mesh/bitchat/ids"
)

// ConversationID identifies either the broadcast channel or a direct
// conversation between two peers, canonicalized so lookup is direction-
// agnostic, per spec.md §3.
type ConversationID struct {
	broadcast bool
	a, b      ids.PeerID // a < b bytewise when not broadcast
}

// BroadcastConversation returns the single canonical broadcast
// conversation id.
func BroadcastConversation() ConversationID {
	return ConversationID{broadcast: true}
}

// DirectConversation returns the canonical conversation id for a direct
// exchange between two peers, ordering them bytewise so the id is the
// same regardless of which side constructs it.
func DirectConversation(x, y ids.PeerID) ConversationID {
	if bytes.Compare(x[:], y[:]) <= 0 {
		return ConversationID{a: x, b: y}
	}
	return ConversationID{a: y, b: x}
}

// IsBroadcast reports whether c is the broadcast conversation.
func (c ConversationID) IsBroadcast() bool { return c.broadcast }

// Peers returns the two participants of a direct conversation. On the
// broadcast conversation it returns two zero PeerIDs.
func (c ConversationID) Peers() (ids.PeerID, ids.PeerID) {
	return c.a, c.b
}

func (c ConversationID) String() string {
	if c.broadcast {
		return "broadcast"
	}
	return hex.EncodeToString(c.a[:]) + ":" + hex.EncodeToString(c.b[:])
}
