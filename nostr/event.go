package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/bitchat-mesh/bitchat/ids"
)

// Event kinds this package produces, per spec.md §6/§9(d).
const (
	KindMeshRelay   = 1    // public mesh relay broadcast
	KindDirectMessage = 14 // unsigned NIP-17 rumor carrying a direct message
	KindGiftWrap    = 1059 // NIP-17 gift wrap
)

// Event is a Nostr event: NIP-01 shape, restricted to the fields this
// package needs.
type Event struct {
	ID        [32]byte
	PubKey    [32]byte
	CreatedAt int64
	Kind      int
	Tags      [][]string
	Content   string
	Sig       [64]byte
	HasSig    bool
}

// serializationArray mirrors the JSON array NIP-01 defines for ID
// computation: [0, pubkey, created_at, kind, tags, content].
func (e Event) serializationArray() []interface{} {
	return []interface{}{
		0,
		hex.EncodeToString(e.PubKey[:]),
		e.CreatedAt,
		e.Kind,
		e.Tags,
		e.Content,
	}
}

// computeID returns the SHA-256 of the NIP-01 canonical serialization,
// using a non-HTML-escaping encoder so output matches other
// implementations byte for byte.
func (e Event) computeID() ([32]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.serializationArray()); err != nil {
		return [32]byte{}, ids.Wrap(ids.KindSerialization, "serialize nostr event for id", err)
	}
	// json.Encoder.Encode appends a trailing newline; NIP-01 wants the
	// bare array bytes.
	return sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// BuildEvent constructs, IDs, and signs an event of the given kind
// authored by kp.
func BuildEvent(kind int, createdAt int64, tags [][]string, content string, kp *KeyPair) (*Event, error) {
	ev := &Event{
		PubKey:    kp.XOnlyPubKey(),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := ev.computeID()
	if err != nil {
		return nil, err
	}
	ev.ID = id

	sig, err := schnorr.Sign(kp.Private, ev.ID[:])
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "sign nostr event", err)
	}
	copy(ev.Sig[:], sig.Serialize())
	ev.HasSig = true
	return ev, nil
}

// buildRumor constructs an unsigned event: correctly IDed but never
// signed, per NIP-17's rumor concept (the inner direct-message event that
// only ever travels encrypted, so it need not carry its own signature).
func buildRumor(kind int, createdAt int64, tags [][]string, content string, authorPub [32]byte) (*Event, error) {
	ev := &Event{
		PubKey:    authorPub,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := ev.computeID()
	if err != nil {
		return nil, err
	}
	ev.ID = id
	return ev, nil
}

// Verify recomputes ev's ID and checks its signature, per NIP-01.
func (e Event) Verify() (bool, error) {
	id, err := e.computeID()
	if err != nil {
		return false, err
	}
	if id != e.ID {
		return false, nil
	}
	if !e.HasSig {
		return false, nil
	}
	pub, err := FullPubKeyFromXOnly(e.PubKey)
	if err != nil {
		return false, err
	}
	sig, err := schnorr.ParseSignature(e.Sig[:])
	if err != nil {
		return false, ids.Wrap(ids.KindCrypto, "parse nostr event signature", err)
	}
	return sig.Verify(e.ID[:], pub), nil
}

// MarshalJSON renders ev in standard Nostr relay wire shape, mainly for
// diagnostics and for embedding rumors inside gift-wrap ciphertext.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID        string     `json:"id"`
		PubKey    string     `json:"pubkey"`
		CreatedAt int64      `json:"created_at"`
		Kind      int        `json:"kind"`
		Tags      [][]string `json:"tags"`
		Content   string     `json:"content"`
		Sig       string     `json:"sig"`
	}
	w := wire{
		ID:        hex.EncodeToString(e.ID[:]),
		PubKey:    hex.EncodeToString(e.PubKey[:]),
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
	}
	if e.HasSig {
		w.Sig = hex.EncodeToString(e.Sig[:])
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the standard Nostr relay wire shape back into an
// Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w struct {
		ID        string     `json:"id"`
		PubKey    string     `json:"pubkey"`
		CreatedAt int64      `json:"created_at"`
		Kind      int        `json:"kind"`
		Tags      [][]string `json:"tags"`
		Content   string     `json:"content"`
		Sig       string     `json:"sig"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return ids.Wrap(ids.KindSerialization, "unmarshal nostr event", err)
	}
	idBytes, err := hex.DecodeString(w.ID)
	if err != nil || len(idBytes) != 32 {
		return ids.New(ids.KindSerialization, "invalid nostr event id")
	}
	pubBytes, err := hex.DecodeString(w.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return ids.New(ids.KindSerialization, "invalid nostr event pubkey")
	}
	copy(e.ID[:], idBytes)
	copy(e.PubKey[:], pubBytes)
	e.CreatedAt = w.CreatedAt
	e.Kind = w.Kind
	e.Tags = w.Tags
	e.Content = w.Content
	if w.Sig != "" {
		sigBytes, err := hex.DecodeString(w.Sig)
		if err != nil || len(sigBytes) != 64 {
			return ids.New(ids.KindSerialization, "invalid nostr event signature")
		}
		copy(e.Sig[:], sigBytes)
		e.HasSig = true
	}
	return nil
}

// TagValue returns the first value of the named tag, if present.
func (e Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}
