package nostr

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
)

const (
	contentPrefix  = "bitchat1:"
	jitterMaxDelta = 48 * time.Hour // spec.md §6: "randomized within a ±2-day window"
)

// EmbedPacket wraps raw wire-format packet bytes in the bitchat1: content
// scheme used for public mesh relay (kind-1) events, per spec.md §6.
func EmbedPacket(packet []byte) string {
	return contentPrefix + base64.RawURLEncoding.EncodeToString(packet)
}

// ExtractPacket reverses EmbedPacket.
func ExtractPacket(content string) ([]byte, bool) {
	if len(content) <= len(contentPrefix) || content[:len(contentPrefix)] != contentPrefix {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(content[len(contentPrefix):])
	if err != nil {
		return nil, false
	}
	return raw, true
}

// BuildMeshRelayEvent constructs a signed kind-1 event carrying packet on
// the public mesh relay, per spec.md §6/§9(d).
func BuildMeshRelayEvent(packet []byte, createdAt time.Time, kp *KeyPair) (*Event, error) {
	return BuildEvent(KindMeshRelay, createdAt.Unix(), nil, EmbedPacket(packet), kp)
}

// jitteredTimestamp returns now offset by a uniformly random delta in
// [-jitterMaxDelta, +jitterMaxDelta], per spec.md §6's anti-correlation
// requirement for gift-wrap created_at.
func jitteredTimestamp(now time.Time) (time.Time, error) {
	var buf [8]byte
	raw, err := randomBytes(8)
	if err != nil {
		return time.Time{}, err
	}
	copy(buf[:], raw)
	u := binary.BigEndian.Uint64(buf[:])
	span := int64(2*jitterMaxDelta/time.Nanosecond) + 1
	offsetNanos := int64(u%uint64(span)) - int64(jitterMaxDelta/time.Nanosecond)
	return now.Add(time.Duration(offsetNanos)), nil
}

// GiftWrap implements the simplified NIP-17-style private-message
// envelope of spec.md §6/§9(d): the kind-14 rumor (an unsigned direct
// message carrying an embedded BitChat packet) is NIP-04 encrypted
// between the real sender and recipient Nostr keys, then the ciphertext
// is published as the content of a kind-1059 event signed by a fresh
// one-time keypair (so the relay-visible signer is never the real
// sender), with created_at jittered by up to ±2 days and a "p" tag
// addressing the real recipient so they can find it.
func GiftWrap(packet []byte, senderKP *KeyPair, recipientPub [32]byte, now time.Time) (*Event, error) {
	rumor, err := buildRumor(KindDirectMessage, now.Unix(), [][]string{{"p", HexPubKey(recipientPub)}}, EmbedPacket(packet), senderKP.XOnlyPubKey())
	if err != nil {
		return nil, err
	}
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "marshal nostr rumor", err)
	}

	recipientFull, err := FullPubKeyFromXOnly(recipientPub)
	if err != nil {
		return nil, err
	}
	ciphertext, err := nip04Encrypt(senderKP.Private, recipientFull, rumorJSON)
	if err != nil {
		return nil, err
	}

	onetime, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	wrapTime, err := jitteredTimestamp(now)
	if err != nil {
		return nil, err
	}

	return BuildEvent(KindGiftWrap, wrapTime.Unix(), [][]string{{"p", HexPubKey(recipientPub)}}, ciphertext, onetime)
}

// UnwrapGift reverses GiftWrap: the recipient decrypts wrap's content
// using the real sender's Nostr pubkey (already known from the peer's
// established cryptographic identity) and recovers the embedded packet.
func UnwrapGift(wrap *Event, recipientKP *KeyPair, senderPub [32]byte) ([]byte, error) {
	if wrap.Kind != KindGiftWrap {
		return nil, ids.New(ids.KindInvalidPacket, "not a gift-wrap event")
	}
	ok, err := wrap.Verify()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ids.New(ids.KindCrypto, "gift-wrap signature invalid")
	}

	senderFull, err := FullPubKeyFromXOnly(senderPub)
	if err != nil {
		return nil, err
	}
	rumorJSON, err := nip04Decrypt(recipientKP.Private, senderFull, wrap.Content)
	if err != nil {
		return nil, err
	}

	var rumor Event
	if err := json.Unmarshal(rumorJSON, &rumor); err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "unmarshal nostr rumor", err)
	}
	if rumor.Kind != KindDirectMessage {
		return nil, ids.New(ids.KindInvalidPacket, "gift-wrap rumor has unexpected kind")
	}
	packet, ok := ExtractPacket(rumor.Content)
	if !ok {
		return nil, ids.New(ids.KindInvalidPacket, "rumor content is not a bitchat1: packet")
	}
	return packet, nil
}
