package identity

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testFingerprint(b byte) ids.Fingerprint {
	var fp ids.Fingerprint
	fp[0] = b
	return fp
}

func TestUpsertCryptographicPreservesFirstSeen(t *testing.T) {
	mc := clock.NewMock()
	m, err := NewManager(NewMemStorage(), mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(1)
	var pub [32]byte
	pub[0] = 0xAB

	m.UpsertCryptographic(fp, pub, [32]byte{}, false)
	first, ok := m.CryptographicOf(fp)
	require.True(t, ok)
	firstSeen := first.FirstSeen

	mc.Add(time.Hour)
	m.UpsertCryptographic(fp, pub, [32]byte{}, false)
	second, ok := m.CryptographicOf(fp)
	require.True(t, ok)
	require.Equal(t, firstSeen, second.FirstSeen)
	require.Equal(t, mc.Now(), second.LastHandshake)
}

func TestModifySocialLazyCreatesDefault(t *testing.T) {
	mc := clock.NewMock()
	m, err := NewManager(NewMemStorage(), mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(2)
	m.ModifySocial(fp, func(s *SocialIdentity) {
		s.ClaimedNickname = "alice"
		s.TrustLevel = TrustCasual
	})

	social, ok := m.SocialOf(fp)
	require.True(t, ok)
	require.Equal(t, "alice", social.ClaimedNickname)
	require.Equal(t, TrustCasual, social.TrustLevel)
}

func TestSearchByNicknameDeterministicFirstMatch(t *testing.T) {
	mc := clock.NewMock()
	m, err := NewManager(NewMemStorage(), mc, zerolog.Nop())
	require.NoError(t, err)

	fpHigh := testFingerprint(0xFF)
	fpLow := testFingerprint(0x01)
	m.ModifySocial(fpHigh, func(s *SocialIdentity) { s.ClaimedNickname = "bob" })
	m.ModifySocial(fpLow, func(s *SocialIdentity) { s.ClaimedNickname = "bob" })

	found, ok := m.SearchByNickname("bob")
	require.True(t, ok)
	require.Equal(t, fpLow, found.Fingerprint)
}

func TestVerifiedFlagRoundTrips(t *testing.T) {
	mc := clock.NewMock()
	m, err := NewManager(NewMemStorage(), mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(3)
	require.False(t, m.IsVerified(fp))
	m.SetVerified(fp, true)
	require.True(t, m.IsVerified(fp))
}

func TestEphemeralNeverPersisted(t *testing.T) {
	mc := clock.NewMock()
	storage := NewMemStorage()
	m, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)

	var peer ids.PeerID
	peer[0] = 7
	m.SetEphemeral(&EphemeralIdentity{PeerID: peer, SessionStart: mc.Now()})
	_, ok := m.EphemeralOf(peer)
	require.True(t, ok)

	m.Flush()
	blob, ok, err := storage.Load(keyIdentityCache)
	require.NoError(t, err)
	require.True(t, ok)

	m2, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)
	_, ok = m2.EphemeralOf(peer)
	require.False(t, ok, "ephemeral identities must never survive a reload")
	_ = blob

	m.ClearEphemeral(peer)
	_, ok = m.EphemeralOf(peer)
	require.False(t, ok)
}

func TestPersistenceSurvivesReloadAndRejectsTamper(t *testing.T) {
	mc := clock.NewMock()
	storage := NewMemStorage()
	m, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(4)
	m.ModifySocial(fp, func(s *SocialIdentity) {
		s.ClaimedNickname = "carol"
		s.LocalPetname = "carol-at-work"
		s.TrustLevel = TrustTrusted
	})
	m.Flush()

	m2, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)
	social, ok := m2.SocialOf(fp)
	require.True(t, ok)
	require.Equal(t, "carol", social.ClaimedNickname)
	require.Equal(t, TrustTrusted, social.TrustLevel)

	blob, ok, err := storage.Load(keyIdentityCache)
	require.NoError(t, err)
	require.True(t, ok)
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF
	require.NoError(t, storage.Save(keyIdentityCache, tampered))

	_, err = NewManager(storage, mc, zerolog.Nop())
	require.Error(t, err)
}

func TestSaveIsDebounced(t *testing.T) {
	mc := clock.NewMock()
	storage := NewMemStorage()
	m, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(5)
	m.ModifySocial(fp, func(s *SocialIdentity) { s.ClaimedNickname = "dave" })
	_, ok, _ := storage.Load(keyIdentityCache)
	require.False(t, ok, "first mutation should not save immediately")

	mc.Add(3 * time.Second)
	m.ModifySocial(fp, func(s *SocialIdentity) { s.TrustLevel = TrustVerified })
	_, ok, _ = storage.Load(keyIdentityCache)
	require.True(t, ok, "mutation after debounce window should save")
}

func TestPanicClearAllDataWipesEverything(t *testing.T) {
	mc := clock.NewMock()
	storage := NewMemStorage()
	m, err := NewManager(storage, mc, zerolog.Nop())
	require.NoError(t, err)

	fp := testFingerprint(6)
	m.ModifySocial(fp, func(s *SocialIdentity) { s.ClaimedNickname = "erin" })
	m.Flush()

	require.NoError(t, m.PanicClearAllData())
	_, ok := m.SocialOf(fp)
	require.False(t, ok)

	_, ok, _ = storage.Load(keyIdentityCache)
	require.False(t, ok)
}
