package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/google/btree"
)

// Config bounds what the store accepts and retains, per spec.md §4.4
// ("configured max content length, max serialized bytes") and the
// capacity/age eviction this module adds on top.
type Config struct {
	MaxContentLength    int
	MaxSerializedBytes  int
	MaxTotalMessages    int
	MaxPerConversation  int
}

// DefaultConfig matches the teacher's habit of shipping sane defaults
// alongside a configurable struct (device/constants.go).
func DefaultConfig() Config {
	return Config{
		MaxContentLength:   64 * 1024,
		MaxSerializedBytes: 128 * 1024,
		MaxTotalMessages:   100_000,
		MaxPerConversation: 10_000,
	}
}

const btreeDegree = 32

// timeItem orders messages by (timestamp, sequence, id) for the BTree
// indexes, per spec.md §4.4 ("time index (BTree over timestamp)").
type timeItem struct {
	ts  ids.Timestamp
	seq uint64
	id  MessageID
}

func (a timeItem) Less(than btree.Item) bool {
	b := than.(timeItem)
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

func itemOf(m *Message) timeItem {
	return timeItem{ts: m.Timestamp, seq: m.Sequence, id: m.ID}
}

// Store is the append-only content-addressed message store. It owns the
// id map; every secondary index holds only MessageIDs, per spec.md §9
// ("arena/index, not pointer graphs").
type Store struct {
	mu sync.Mutex
	cfg Config

	byID           map[MessageID]*Message
	byConversation map[ConversationID]*btree.BTree
	timeIndex      *btree.BTree
	peerConvos     map[ids.PeerID]map[ConversationID]struct{}
}

// New constructs an empty Store.
func New(cfg Config) *Store {
	return &Store{
		cfg:            cfg,
		byID:           make(map[MessageID]*Message),
		byConversation: make(map[ConversationID]*btree.BTree),
		timeIndex:      btree.New(btreeDegree),
		peerConvos:     make(map[ids.PeerID]map[ConversationID]struct{}),
	}
}

// Store inserts msg, recomputing and verifying its id, rejecting
// oversized content, deduplicating by id, and evicting the oldest entries
// to stay within configured caps. It returns true if msg was newly
// inserted, false if it was rejected or already present — store(msg) →
// bool in spec.md §4.4 folds "rejected" and "duplicate" into the same
// boolean; callers that need to distinguish use the returned error.
func (s *Store) Store(msg *Message) (bool, error) {
	if !msg.Verify() {
		return false, ids.New(ids.KindStorage, "message id does not match recomputed content hash")
	}
	if len(msg.Content) > s.cfg.MaxContentLength {
		return false, ids.Newf(ids.KindStorage, "content length %d exceeds max %d", len(msg.Content), s.cfg.MaxContentLength)
	}
	serialized := ids.PeerIDSize*2 + len(msg.Content) + 16
	if serialized > s.cfg.MaxSerializedBytes {
		return false, ids.Newf(ids.KindStorage, "serialized size %d exceeds max %d", serialized, s.cfg.MaxSerializedBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		return false, nil
	}

	conv := msg.Conversation()
	convTree := s.byConversation[conv]
	if convTree == nil {
		convTree = btree.New(btreeDegree)
		s.byConversation[conv] = convTree
	}
	if s.cfg.MaxPerConversation > 0 && convTree.Len() >= s.cfg.MaxPerConversation {
		s.evictOldestFromConversation(conv, convTree)
	}
	if s.cfg.MaxTotalMessages > 0 && len(s.byID) >= s.cfg.MaxTotalMessages {
		s.evictOldestGlobal()
	}

	stored := *msg // the store owns an immutable copy
	s.byID[msg.ID] = &stored
	item := itemOf(&stored)
	convTree.ReplaceOrInsert(item)
	s.timeIndex.ReplaceOrInsert(item)
	s.indexPeers(&stored, conv)

	return true, nil
}

func (s *Store) indexPeers(m *Message, conv ConversationID) {
	s.addPeerConvo(m.Sender, conv)
	if m.HasRecipient {
		s.addPeerConvo(m.Recipient, conv)
	}
}

func (s *Store) addPeerConvo(peer ids.PeerID, conv ConversationID) {
	set, ok := s.peerConvos[peer]
	if !ok {
		set = make(map[ConversationID]struct{})
		s.peerConvos[peer] = set
	}
	set[conv] = struct{}{}
}

// evictOldestFromConversation drops the earliest (timestamp, sequence)
// message in conv. Eviction emits no notification, per spec.md §4.4.
func (s *Store) evictOldestFromConversation(conv ConversationID, tree *btree.BTree) {
	min := tree.Min()
	if min == nil {
		return
	}
	item := min.(timeItem)
	tree.Delete(item)
	s.timeIndex.Delete(item)
	delete(s.byID, item.id)
}

func (s *Store) evictOldestGlobal() {
	min := s.timeIndex.Min()
	if min == nil {
		return
	}
	item := min.(timeItem)
	msg := s.byID[item.id]
	if msg != nil {
		if tree := s.byConversation[msg.Conversation()]; tree != nil {
			tree.Delete(item)
		}
	}
	s.timeIndex.Delete(item)
	delete(s.byID, item.id)
}

// ByID looks up a message by its content address.
func (s *Store) ByID(id MessageID) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

// ByConversation returns every message in conv, ordered by (timestamp,
// sequence).
func (s *Store) ByConversation(conv ConversationID) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.byConversation[conv]
	if tree == nil {
		return nil
	}
	out := make([]*Message, 0, tree.Len())
	tree.Ascend(func(i btree.Item) bool {
		item := i.(timeItem)
		out = append(out, s.byID[item.id])
		return true
	})
	return out
}

// ByTimeRange returns every message with timestamp in [start, end),
// across all conversations, ordered by (timestamp, sequence).
func (s *Store) ByTimeRange(start, end ids.Timestamp) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	s.timeIndex.AscendRange(timeItem{ts: start}, timeItem{ts: end}, func(i btree.Item) bool {
		item := i.(timeItem)
		out = append(out, s.byID[item.id])
		return true
	})
	return out
}

// ByPeer returns every message in any conversation involving peer,
// ordered by (timestamp, sequence).
func (s *Store) ByPeer(peer ids.PeerID) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	convos := s.peerConvos[peer]
	if len(convos) == 0 {
		return nil
	}
	var out []*Message
	for conv := range convos {
		tree := s.byConversation[conv]
		if tree == nil {
			continue
		}
		tree.Ascend(func(i btree.Item) bool {
			item := i.(timeItem)
			out = append(out, s.byID[item.id])
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool { return itemOf(out[i]).Less(itemOf(out[j])) })
	return out
}

// Len reports the total number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
