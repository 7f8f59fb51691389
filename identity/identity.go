// Package identity implements the three-layer identity model of
// spec.md §3/§4.9: ephemeral (in-memory only), cryptographic, and social
// identities, backed by an AES-256-GCM encrypted on-disk cache. It is
// grounded on the teacher's xchacha20poly1305 package (a small sealed-box
// helper wrapping a stdlib/x-crypto AEAD behind Seal/Open), generalized
// from a one-shot nonce-prepended envelope to the spec's fixed
// nonce(12)||tag(16)||ciphertext layout, and on device/device.go's
// construction-time dependency injection (logger, bind, tun all passed
// in, no ambient globals) for taking storage/clock/logger as constructor
// arguments.
package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/gob"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/rs/zerolog"
)

const (
	keyIdentityCache           = "identity_cache"
	keyIdentityCacheEncryption = "identity_cache_encryption_key"
	aesKeySize                  = 32
	gcmNonceSize                = 12
	gcmTagSize                  = 16
	saveDebounce                = 2 * time.Second
)

// TrustLevel ranks how much a local user has chosen to trust a peer, per
// spec.md §3.
type TrustLevel int

const (
	TrustUnknown TrustLevel = iota
	TrustCasual
	TrustTrusted
	TrustVerified
)

func (t TrustLevel) String() string {
	switch t {
	case TrustUnknown:
		return "Unknown"
	case TrustCasual:
		return "Casual"
	case TrustTrusted:
		return "Trusted"
	case TrustVerified:
		return "Verified"
	default:
		return "Unknown"
	}
}

// EphemeralIdentity exists only in memory for the lifetime of one
// session; it is never persisted, per spec.md §3.
type EphemeralIdentity struct {
	PeerID             ids.PeerID
	SessionStart       time.Time
	HandshakeState     string
	EphemeralPublicKey [32]byte
}

// CryptographicIdentity is the persisted record of a peer's long-term
// keys, per spec.md §3.
type CryptographicIdentity struct {
	Fingerprint      ids.Fingerprint
	StaticPublicKey  [32]byte
	SigningPublicKey [32]byte
	HasSigningKey    bool
	FirstSeen        time.Time
	LastHandshake    time.Time
}

// SocialIdentity is the persisted, user-facing record of how a local user
// relates to a peer, per spec.md §3.
type SocialIdentity struct {
	Fingerprint     ids.Fingerprint
	ClaimedNickname string
	LocalPetname    string
	TrustLevel      TrustLevel
	Favorite        bool
	Blocked         bool
	Notes           string
}

// Cache is the gob-serialized, AES-GCM-encrypted persisted state: two
// fingerprint-keyed maps plus a set of verified fingerprints, per
// spec.md §3.
type Cache struct {
	Crypto   map[ids.Fingerprint]CryptographicIdentity
	Social   map[ids.Fingerprint]SocialIdentity
	Verified map[ids.Fingerprint]bool
}

func newCache() Cache {
	return Cache{
		Crypto:   make(map[ids.Fingerprint]CryptographicIdentity),
		Social:   make(map[ids.Fingerprint]SocialIdentity),
		Verified: make(map[ids.Fingerprint]bool),
	}
}

// Storage is the key-value persistence contract the identity manager
// needs: load/save an opaque blob by key, and wipe everything on
// panic_clear_all_data.
type Storage interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, value []byte) error
	Clear() error
}

// Manager owns the identity cache exclusively, per spec.md §3
// ("Ownership"). Ephemeral identities live only in Manager's memory and
// are never part of Cache.
type Manager struct {
	mu sync.Mutex

	storage Storage
	clk     clock.Clock
	log     zerolog.Logger

	aesKey [aesKeySize]byte
	cache  Cache

	ephemeral map[ids.PeerID]*EphemeralIdentity

	dirty    bool
	lastSave time.Time
}

// NewManager loads (or creates) the encryption key and decrypts the
// persisted cache, per spec.md §4.9.
func NewManager(storage Storage, clk clock.Clock, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		storage:   storage,
		clk:       clk,
		log:       log.With().Str("component", "identity").Logger(),
		cache:     newCache(),
		ephemeral: make(map[ids.PeerID]*EphemeralIdentity),
		lastSave:  clk.Now(),
	}

	keyBytes, ok, err := storage.Load(keyIdentityCacheEncryption)
	if err != nil {
		return nil, ids.Wrap(ids.KindStorage, "load identity cache encryption key", err)
	}
	if ok && len(keyBytes) == aesKeySize {
		copy(m.aesKey[:], keyBytes)
	} else {
		if _, err := rand.Read(m.aesKey[:]); err != nil {
			return nil, ids.Wrap(ids.KindCrypto, "generate identity cache encryption key", err)
		}
		if err := storage.Save(keyIdentityCacheEncryption, m.aesKey[:]); err != nil {
			return nil, ids.Wrap(ids.KindStorage, "persist identity cache encryption key", err)
		}
	}

	blob, ok, err := storage.Load(keyIdentityCache)
	if err != nil {
		return nil, ids.Wrap(ids.KindStorage, "load identity cache", err)
	}
	if ok {
		cache, err := m.decrypt(blob)
		if err != nil {
			return nil, err
		}
		m.cache = cache
	}

	return m, nil
}

func (m *Manager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.aesKey[:])
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "init aes block cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "init gcm", err)
	}
	return gcm, nil
}

// encrypt serializes the cache via gob and seals it as
// nonce(12) || tag(16) || ciphertext with empty AAD, per spec.md §4.9.
func (m *Manager) encrypt(c Cache) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, ids.Wrap(ids.KindSerialization, "encode identity cache", err)
	}

	gcm, err := m.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, ids.Wrap(ids.KindCrypto, "generate nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, buf.Bytes(), nil) // ciphertext || tag
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, gcmNonceSize+gcmTagSize+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// decrypt reverses encrypt, rejecting any tampered byte via the AEAD
// property.
func (m *Manager) decrypt(blob []byte) (Cache, error) {
	if len(blob) < gcmNonceSize+gcmTagSize {
		return Cache{}, ids.New(ids.KindStorage, "identity cache blob truncated")
	}
	nonce := blob[:gcmNonceSize]
	tag := blob[gcmNonceSize : gcmNonceSize+gcmTagSize]
	ciphertext := blob[gcmNonceSize+gcmTagSize:]

	gcm, err := m.gcm()
	if err != nil {
		return Cache{}, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Cache{}, ids.Wrap(ids.KindCrypto, "decrypt identity cache", err)
	}

	c := newCache()
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&c); err != nil {
		return Cache{}, ids.Wrap(ids.KindSerialization, "decode identity cache", err)
	}
	return c, nil
}

func (m *Manager) touch() {
	m.dirty = true
	now := m.clk.Now()
	if now.Sub(m.lastSave) >= saveDebounce {
		m.saveLocked(now)
	}
}

func (m *Manager) saveLocked(now time.Time) {
	blob, err := m.encrypt(m.cache)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encrypt identity cache")
		return
	}
	if err := m.storage.Save(keyIdentityCache, blob); err != nil {
		m.log.Error().Err(err).Msg("failed to persist identity cache")
		return
	}
	m.dirty = false
	m.lastSave = now
}

// Flush forces a save if the cache is dirty, regardless of the debounce
// window; callers drive this from a periodic maintenance tick.
func (m *Manager) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty {
		m.saveLocked(m.clk.Now())
	}
}

// UpsertCryptographic records or refreshes a peer's cryptographic
// identity, per spec.md §4.9 ("upserted when seen").
func (m *Manager) UpsertCryptographic(fp ids.Fingerprint, staticPub [32]byte, signingPub [32]byte, hasSigningKey bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	existing, ok := m.cache.Crypto[fp]
	firstSeen := now
	if ok {
		firstSeen = existing.FirstSeen
	}
	m.cache.Crypto[fp] = CryptographicIdentity{
		Fingerprint:      fp,
		StaticPublicKey:  staticPub,
		SigningPublicKey: signingPub,
		HasSigningKey:    hasSigningKey,
		FirstSeen:        firstSeen,
		LastHandshake:    now,
	}
	m.touch()
}

// ModifySocial applies mutate to fp's social identity, lazily creating a
// default one on first modification, per spec.md §4.9.
func (m *Manager) ModifySocial(fp ids.Fingerprint, mutate func(*SocialIdentity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	social, ok := m.cache.Social[fp]
	if !ok {
		social = SocialIdentity{Fingerprint: fp, TrustLevel: TrustUnknown}
	}
	mutate(&social)
	m.cache.Social[fp] = social
	m.touch()
}

// SetVerified marks fp's verification status.
func (m *Manager) SetVerified(fp ids.Fingerprint, verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Verified[fp] = verified
	m.touch()
}

// IsVerified reports whether fp has been verified.
func (m *Manager) IsVerified(fp ids.Fingerprint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Verified[fp]
}

// SocialOf returns fp's social identity, if any.
func (m *Manager) SocialOf(fp ids.Fingerprint) (SocialIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Social[fp]
	return s, ok
}

// CryptographicOf returns fp's cryptographic identity, if any.
func (m *Manager) CryptographicOf(fp ids.Fingerprint) (CryptographicIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache.Crypto[fp]
	return c, ok
}

// sortedFingerprints returns the social-identity fingerprints in
// deterministic (bytewise) order, so nickname/petname search has a
// stable "first match" regardless of Go's randomized map iteration.
func (m *Manager) sortedFingerprints() []ids.Fingerprint {
	out := make([]ids.Fingerprint, 0, len(m.cache.Social))
	for fp := range m.cache.Social {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SearchByNickname returns the first (in deterministic fingerprint order)
// social identity whose claimed nickname matches exactly.
func (m *Manager) SearchByNickname(nickname string) (SocialIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range m.sortedFingerprints() {
		s := m.cache.Social[fp]
		if s.ClaimedNickname == nickname {
			return s, true
		}
	}
	return SocialIdentity{}, false
}

// SearchByPetname returns the first (in deterministic fingerprint order)
// social identity whose local petname matches exactly.
func (m *Manager) SearchByPetname(petname string) (SocialIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range m.sortedFingerprints() {
		s := m.cache.Social[fp]
		if s.LocalPetname == petname {
			return s, true
		}
	}
	return SocialIdentity{}, false
}

// SetEphemeral records an in-memory-only ephemeral identity for the
// current session.
func (m *Manager) SetEphemeral(e *EphemeralIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ephemeral[e.PeerID] = e
}

// EphemeralOf returns peer's ephemeral identity, if a session is active.
func (m *Manager) EphemeralOf(peer ids.PeerID) (*EphemeralIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ephemeral[peer]
	return e, ok
}

// ClearEphemeral discards peer's ephemeral identity at session end.
func (m *Manager) ClearEphemeral(peer ids.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ephemeral, peer)
}

// PanicClearAllData atomically wipes every in-memory identity and clears
// persisted storage, per spec.md §4.9.
func (m *Manager) PanicClearAllData() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = newCache()
	m.ephemeral = make(map[ids.PeerID]*EphemeralIdentity)
	m.dirty = false
	if err := m.storage.Clear(); err != nil {
		return ids.Wrap(ids.KindStorage, "clear identity storage", err)
	}
	return nil
}
