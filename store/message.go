// Package store implements the append-only, content-addressed message
// store of spec.md §4.4: an id map, a per-conversation index, and a
// BTree-backed time index, plus file-transfer session bookkeeping. It is
// grounded on the teacher's allowedips.go trie (a secondary index holding
// only keys, never owning data) for the "arena, not pointer graph" shape,
// generalized from IP-prefix keys to content-addressed message ids.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/bitchat-mesh/bitchat/ids"
)

// MessageIDSize is the length in bytes of a MessageID.
const MessageIDSize = 32

// MessageID is the content address of a Message: SHA-256 over its sender,
// recipient (or all-zeros for broadcast), content, timestamp, and
// sequence, per spec.md §3.
type MessageID [MessageIDSize]byte

func (id MessageID) String() string { return hex.EncodeToString(id[:]) }

// ComputeMessageID derives a Message's content address, per spec.md §3 and
// the worked derivation in spec.md §8 scenario 1.
func ComputeMessageID(sender ids.PeerID, recipient ids.PeerID, hasRecipient bool, content string, timestamp ids.Timestamp, sequence uint64) MessageID {
	h := sha256.New()
	h.Write(sender[:])
	if hasRecipient {
		h.Write(recipient[:])
	} else {
		h.Write(make([]byte, ids.PeerIDSize))
	}
	h.Write([]byte(content))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	h.Write(tsBuf[:])
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], sequence)
	h.Write(seqBuf[:])
	var out MessageID
	copy(out[:], h.Sum(nil))
	return out
}

// Message is an immutable, content-addressed chat message. Its identity
// under equality is its ID alone, per spec.md §3.
type Message struct {
	ID          MessageID
	Sender      ids.PeerID
	Recipient   ids.PeerID
	HasRecipient bool
	Content     string
	Timestamp   ids.Timestamp
	Sequence    uint64
}

// Verify recomputes m.ID and reports whether it matches, per spec.md §4.4
// ("recompute id, reject mismatch").
func (m *Message) Verify() bool {
	return m.ID == ComputeMessageID(m.Sender, m.Recipient, m.HasRecipient, m.Content, m.Timestamp, m.Sequence)
}

// Conversation returns the canonical ConversationId this message belongs
// to.
func (m *Message) Conversation() ConversationID {
	if !m.HasRecipient {
		return BroadcastConversation()
	}
	return DirectConversation(m.Sender, m.Recipient)
}
