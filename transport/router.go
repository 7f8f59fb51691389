package transport

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
)

// Status is the health record the router keeps per transport, per
// spec.md §4.8.
type Status struct {
	Available           bool
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	AvgLatencyMs        float64
}

// IsHealthy reports available && failures < 3, per spec.md §4.8.
func (s Status) IsHealthy() bool {
	return s.Available && s.ConsecutiveFailures < 3
}

// Reachability is what the router knows about how to reach one peer, per
// spec.md §4.8.
type Reachability struct {
	BleReachable   bool
	NostrAvailable bool
	LastSeenBle    time.Time
	LastSeenNostr  time.Time
}

// Policy selects among healthy, reachable transports, per spec.md §4.8.
type Policy int

const (
	// PreferPrimary uses BLE for mesh traffic and DMs when reachable,
	// falling back to Nostr.
	PreferPrimary Policy = iota
	// LoadBalance picks whichever healthy transport most recently saw
	// the peer.
	LoadBalance
	// BroadcastAll fans out across every healthy, reachable transport.
	BroadcastAll
)

// Context is the sealed set of send contexts Select accepts.
type Context interface{ isContext() }

// Private is a direct message to recipient.
type Private struct{ Recipient ids.PeerID }

// PublicMesh is broadcast mesh traffic: always BLE when healthy.
type PublicMesh struct{}

// PublicLocation is location-broadcast traffic: always Nostr when
// healthy.
type PublicLocation struct{}

// Acknowledgment is a delivery/read receipt addressed to recipient.
type Acknowledgment struct{ Recipient ids.PeerID }

func (Private) isContext()        {}
func (PublicMesh) isContext()     {}
func (PublicLocation) isContext() {}
func (Acknowledgment) isContext() {}

// Selection is the sealed result of Select.
type Selection interface{ isSelection() }

// UseTransport picks exactly one transport.
type UseTransport struct{ Transport Kind }

// UseAll fans out across every transport listed.
type UseAll struct{ Transports []Kind }

// Queue means no transport is currently healthy; the caller should store
// the message for a later attempt.
type Queue struct{}

// CannotSend means the context can never be satisfied (e.g. an unknown
// recipient with no reachability record at all).
type CannotSend struct{ Reason string }

func (UseTransport) isSelection() {}
func (UseAll) isSelection()       {}
func (Queue) isSelection()        {}
func (CannotSend) isSelection()   {}

// Router tracks transport health and peer reachability and resolves a
// send Context to a Selection, per spec.md §4.8 and the worked example of
// spec.md §8 scenario 4.
type Router struct {
	mu     sync.Mutex
	clk    clock.Clock
	policy Policy

	status       map[Kind]*Status
	reachability map[ids.PeerID]*Reachability
	transports   map[Kind]Transport
}

// NewRouter constructs a Router under the given policy.
func NewRouter(policy Policy, clk clock.Clock) *Router {
	return &Router{
		clk:          clk,
		policy:       policy,
		status:       make(map[Kind]*Status),
		reachability: make(map[ids.PeerID]*Reachability),
		transports:   make(map[Kind]Transport),
	}
}

// Register attaches a concrete Transport implementation and seeds its
// health record as available.
func (r *Router) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Kind()] = t
	if _, ok := r.status[t.Kind()]; !ok {
		r.status[t.Kind()] = &Status{Available: true}
	}
}

func (r *Router) statusFor(k Kind) *Status {
	s, ok := r.status[k]
	if !ok {
		s = &Status{Available: true}
		r.status[k] = s
	}
	return s
}

// RecordSuccess resets consecutive failures and marks k available, per
// spec.md §4.8 ("any success resets").
func (r *Router) RecordSuccess(k Kind, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statusFor(k)
	s.Available = true
	s.ConsecutiveFailures = 0
	s.LastSuccess = r.clk.Now()
	if s.AvgLatencyMs == 0 {
		s.AvgLatencyMs = float64(latency.Milliseconds())
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.8 + float64(latency.Milliseconds())*0.2
	}
}

// RecordFailure increments consecutive failures, marking k unavailable
// after the third, per spec.md §4.8.
func (r *Router) RecordFailure(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statusFor(k)
	s.ConsecutiveFailures++
	s.LastFailure = r.clk.Now()
	if s.ConsecutiveFailures >= 3 {
		s.Available = false
	}
}

// StatusOf returns a copy of k's current health record.
func (r *Router) StatusOf(k Kind) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.statusFor(k)
}

// UpdateReachability records that peer was just seen on transport k.
func (r *Router) UpdateReachability(peer ids.PeerID, k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.reachability[peer]
	if !ok {
		rc = &Reachability{}
		r.reachability[peer] = rc
	}
	now := r.clk.Now()
	switch k {
	case Ble:
		rc.BleReachable = true
		rc.LastSeenBle = now
	case Nostr:
		rc.NostrAvailable = true
		rc.LastSeenNostr = now
	}
}

// ReachabilityOf returns a copy of peer's current reachability record.
func (r *Router) ReachabilityOf(peer ids.PeerID) (Reachability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.reachability[peer]
	if !ok {
		return Reachability{}, false
	}
	return *rc, true
}

// Select resolves ctx to a Selection under the router's policy, per
// spec.md §4.8/§8 scenario 4.
func (r *Router) Select(ctx Context) Selection {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c := ctx.(type) {
	case PublicMesh:
		if r.statusFor(Ble).IsHealthy() {
			return UseTransport{Transport: Ble}
		}
		return Queue{}
	case PublicLocation:
		if r.statusFor(Nostr).IsHealthy() {
			return UseTransport{Transport: Nostr}
		}
		return Queue{}
	case Private:
		return r.selectForPeer(c.Recipient)
	case Acknowledgment:
		return r.selectForPeer(c.Recipient)
	default:
		return CannotSend{Reason: "unknown send context"}
	}
}

func (r *Router) selectForPeer(peer ids.PeerID) Selection {
	rc := r.reachability[peer]
	bleHealthy := r.statusFor(Ble).IsHealthy()
	nostrHealthy := r.statusFor(Nostr).IsHealthy()
	bleReachable := rc != nil && rc.BleReachable && bleHealthy
	nostrReachable := rc != nil && rc.NostrAvailable && nostrHealthy

	switch r.policy {
	case PreferPrimary:
		if bleReachable {
			return UseTransport{Transport: Ble}
		}
		if nostrReachable {
			return UseTransport{Transport: Nostr}
		}
		return Queue{}
	case LoadBalance:
		if !bleReachable && !nostrReachable {
			return Queue{}
		}
		if bleReachable && nostrReachable {
			if rc.LastSeenBle.After(rc.LastSeenNostr) {
				return UseTransport{Transport: Ble}
			}
			return UseTransport{Transport: Nostr}
		}
		if bleReachable {
			return UseTransport{Transport: Ble}
		}
		return UseTransport{Transport: Nostr}
	case BroadcastAll:
		var kinds []Kind
		if bleReachable {
			kinds = append(kinds, Ble)
		}
		if nostrReachable {
			kinds = append(kinds, Nostr)
		}
		if len(kinds) == 0 {
			return Queue{}
		}
		return UseAll{Transports: kinds}
	default:
		return CannotSend{Reason: "unknown routing policy"}
	}
}
