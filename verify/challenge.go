package verify

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/ids"
)

const (
	// ChallengeExpiry is how long an issued challenge remains answerable,
	// per spec.md §4.10.
	ChallengeExpiry = 5 * time.Minute
	// MaxPendingPerPeer bounds how many outstanding challenges one peer
	// may have at once, per spec.md §4.10.
	MaxPendingPerPeer = 10
)

// Challenge is one outstanding nonce challenge A has issued to B. NonceA
// is the nonce embedded in B's scanned QR; NonceB is freshly generated by
// A, per spec.md §4.10 ("nonce_A from B, nonce_B freshly generated").
type Challenge struct {
	Peer     ids.Fingerprint
	NonceA   [32]byte
	NonceB   [32]byte
	IssuedAt time.Time
}

// signingPayload is the exact byte sequence B must sign: nonce_A||nonce_B.
func (c Challenge) signingPayload() []byte {
	out := make([]byte, 0, 64)
	out = append(out, c.NonceA[:]...)
	out = append(out, c.NonceB[:]...)
	return out
}

func (c Challenge) expired(now time.Time) bool {
	return now.Sub(c.IssuedAt) >= ChallengeExpiry
}

// Challenger is the A-side issuer of challenges: it caps pending
// challenges per peer and expires stale ones, per spec.md §4.10.
type Challenger struct {
	mu      sync.Mutex
	clk     clock.Clock
	pending map[ids.Fingerprint][]*Challenge
}

// NewChallenger constructs a Challenger.
func NewChallenger(clk clock.Clock) *Challenger {
	return &Challenger{clk: clk, pending: make(map[ids.Fingerprint][]*Challenge)}
}

func (c *Challenger) pruneLocked(peer ids.Fingerprint, now time.Time) {
	list := c.pending[peer]
	kept := list[:0]
	for _, ch := range list {
		if !ch.expired(now) {
			kept = append(kept, ch)
		}
	}
	if len(kept) == 0 {
		delete(c.pending, peer)
	} else {
		c.pending[peer] = kept
	}
}

// Issue generates a fresh nonce_B and records a pending challenge for
// peer, whose QR carried nonceA. It rejects once MaxPendingPerPeer
// non-expired challenges are already outstanding.
func (c *Challenger) Issue(peer ids.Fingerprint, nonceA [32]byte) (Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.pruneLocked(peer, now)

	if len(c.pending[peer]) >= MaxPendingPerPeer {
		return Challenge{}, ids.Newf(ids.KindRateLimited, "too many pending verification challenges for peer %s", peer)
	}

	var nonceB [32]byte
	if _, err := rand.Read(nonceB[:]); err != nil {
		return Challenge{}, ids.Wrap(ids.KindCrypto, "generate challenge nonce", err)
	}

	ch := &Challenge{Peer: peer, NonceA: nonceA, NonceB: nonceB, IssuedAt: now}
	c.pending[peer] = append(c.pending[peer], ch)
	return *ch, nil
}

// Verify checks signature against the challenge identified by (peer,
// nonceA, nonceB) using signingPubKey, consuming the challenge on success
// or expiry either way.
func (c *Challenger) Verify(peer ids.Fingerprint, nonceA, nonceB [32]byte, signingPubKey [32]byte, signature []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.pruneLocked(peer, now)

	list := c.pending[peer]
	idx := -1
	for i, ch := range list {
		if ch.NonceA == nonceA && ch.NonceB == nonceB {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	ch := list[idx]
	c.pending[peer] = append(list[:idx], list[idx+1:]...)
	if len(c.pending[peer]) == 0 {
		delete(c.pending, peer)
	}

	if ch.expired(now) {
		return false
	}
	return ed25519.Verify(signingPubKey[:], ch.signingPayload(), signature)
}

// PendingCount reports how many non-expired challenges are outstanding
// for peer.
func (c *Challenger) PendingCount(peer ids.Fingerprint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(peer, c.clk.Now())
	return len(c.pending[peer])
}

// Respond is the B-side operation: sign nonce_A||nonce_B with the local
// Ed25519 signing key, per spec.md §4.10.
func Respond(nonceA, nonceB [32]byte, signKey ed25519.PrivateKey) []byte {
	ch := Challenge{NonceA: nonceA, NonceB: nonceB}
	return ed25519.Sign(signKey, ch.signingPayload())
}

// Verifier ties a Challenger to an identity.Manager: a successful
// challenge-response records the peer's fingerprint as Verified and
// preserves its claimed nickname, per spec.md §4.10/§8 scenario 5.
type Verifier struct {
	challenger *Challenger
	identities *identity.Manager
}

// NewVerifier constructs a Verifier over an existing Challenger and
// identity.Manager.
func NewVerifier(challenger *Challenger, identities *identity.Manager) *Verifier {
	return &Verifier{challenger: challenger, identities: identities}
}

// BeginVerification scans qr (B's QR) and issues the challenge A will
// send to B.
func (v *Verifier) BeginVerification(qr VerificationQR) (Challenge, error) {
	if !qr.VerifySignature() {
		return Challenge{}, ids.New(ids.KindCrypto, "verification qr self-signature invalid")
	}
	return v.challenger.Issue(qr.Fingerprint(), qr.Nonce)
}

// CompleteVerification checks B's signed response against the challenge
// and, on success, records B as Verified while preserving its claimed
// nickname.
func (v *Verifier) CompleteVerification(qr VerificationQR, challenge Challenge, signature []byte) bool {
	ok := v.challenger.Verify(qr.Fingerprint(), challenge.NonceA, challenge.NonceB, qr.SigningPublicKey, signature)
	if !ok {
		return false
	}

	fp := qr.Fingerprint()
	v.identities.SetVerified(fp, true)
	v.identities.ModifySocial(fp, func(s *identity.SocialIdentity) {
		if qr.HasNickname {
			s.ClaimedNickname = qr.Nickname
		}
		if s.TrustLevel < identity.TrustVerified {
			s.TrustLevel = identity.TrustVerified
		}
	})
	return true
}
