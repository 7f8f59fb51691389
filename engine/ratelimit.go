package engine

import (
	"sync"

	"github.com/bitchat-mesh/bitchat/ids"
	"golang.org/x/time/rate"
)

// limiterSet lazily owns one token-bucket rate.Limiter per key, per
// spec.md §4.11 ("inbound-message burst cap per peer-second;
// connection-attempt cap per peer-minute"). golang.org/x/time/rate is
// already a teacher indirect dependency (pulled in for FEC/netstack
// pacing); this repurposes it for its literal intended use, a
// token-bucket limiter, per SPEC_FULL.md §13.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[ids.PeerID]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[ids.PeerID]*rate.Limiter), r: r, burst: burst}
}

func (s *limiterSet) limiterFor(key ids.PeerID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[key] = l
	}
	return l
}

// Allow reports whether one token is available for key right now,
// consuming it if so.
func (s *limiterSet) Allow(key ids.PeerID) bool {
	return s.limiterFor(key).Allow()
}
