// Package delivery tracks the fate of outbound messages from the moment
// they're handed to a transport through to a terminal confirm/fail/expire
// outcome, per spec.md §4.6. It is grounded on the teacher's
// ratelimiter.Ratelimiter (ratelimiter/ratelimiter.go): a mutex-guarded map
// keyed by an external identifier, each entry owning its own state and
// timestamps, swept by a periodic cleanup pass — generalized here from a
// token-bucket entry to a delivery-status entry, and from IP address keys
// to MessageIDs.
package delivery

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/store"
)

// Status is a delivery entry's lifecycle state. It progresses
// Pending -> Sent -> {Confirmed | Failed | Expired}, per spec.md §8
// ("delivery monotonicity"); a terminal status is never left. Retry is
// the one step back: it returns a non-terminal entry to Pending for its
// next attempt.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusConfirmed
	StatusFailed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSent:
		return "Sent"
	case StatusConfirmed:
		return "Confirmed"
	case StatusFailed:
		return "Failed"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

func (s Status) terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

const (
	backoffBase    = 2 * time.Second
	backoffCap     = 60 * time.Second
	maxAttempts    = 5
	overallDeadline = 10 * time.Minute
)

// Entry is one tracked outbound message.
type Entry struct {
	MessageID   store.MessageID
	Recipient   ids.PeerID
	Payload     []byte
	Status      Status
	FirstSend   time.Time
	LastAttempt time.Time
	RetryCount  int
	NextRetryAt time.Time
}

// Tracker owns every in-flight delivery entry. Callers address it by
// MessageID; ack correlation keys on MessageId per spec.md §4.6.
type Tracker struct {
	mu      sync.Mutex
	clk     clock.Clock
	entries map[store.MessageID]*Entry
	rng     *rand.Rand
}

// New constructs a Tracker. clk lets callers run retry scheduling under
// deterministic simulation, per spec.md §9.
func New(clk clock.Clock) *Tracker {
	return &Tracker{
		clk:     clk,
		entries: make(map[store.MessageID]*Entry),
		rng:     rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// Register records a new outbound message as Pending.
func (t *Tracker) Register(id store.MessageID, recipient ids.PeerID, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	t.entries[id] = &Entry{
		MessageID: id,
		Recipient: recipient,
		Payload:   append([]byte(nil), payload...),
		Status:    StatusPending,
		FirstSend: now,
	}
}

// MarkSent records that the transport confirmed the write, transitioning
// Pending -> Sent.
func (t *Tracker) MarkSent(id store.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return ids.New(ids.KindStorage, "no delivery entry for message id")
	}
	if e.Status != StatusPending {
		return ids.Newf(ids.KindStorage, "cannot mark sent from status %s", e.Status)
	}
	now := t.clk.Now()
	e.Status = StatusSent
	e.LastAttempt = now
	e.NextRetryAt = now.Add(t.backoffFor(e.RetryCount))
	return nil
}

// Confirm records a matching Delivered ack, transitioning Sent ->
// Confirmed.
func (t *Tracker) Confirm(id store.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return ids.New(ids.KindStorage, "no delivery entry for message id")
	}
	if e.Status.terminal() {
		return nil // already resolved; a late or duplicate ack is not an error
	}
	e.Status = StatusConfirmed
	return nil
}

// Retry is called when a send attempt should be retried: on transport
// error before the attempt cap, or when NextRetryAt has elapsed. It
// reports whether a retry should be attempted now and, if the cap is
// exhausted, transitions the entry to Failed.
func (t *Tracker) Retry(id store.MessageID) (shouldRetry bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false, ids.New(ids.KindStorage, "no delivery entry for message id")
	}
	if e.Status.terminal() {
		return false, nil
	}
	now := t.clk.Now()
	if now.Sub(e.FirstSend) >= overallDeadline {
		e.Status = StatusExpired
		return false, nil
	}
	if e.RetryCount >= maxAttempts {
		e.Status = StatusFailed
		return false, nil
	}
	e.RetryCount++
	e.LastAttempt = now
	e.NextRetryAt = now.Add(t.backoffFor(e.RetryCount))
	e.Status = StatusPending
	return true, nil
}

// backoffFor computes the jittered exponential backoff for attempt n:
// min(base * 2^n, cap), jittered uniformly in [0.5x, 1.5x).
func (t *Tracker) backoffFor(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := 0.5 + t.rng.Float64()
	return time.Duration(float64(d) * jitter)
}

// Sweep transitions any entry whose overall deadline or retry cap has
// been exceeded to a terminal state, without requiring a caller-driven
// Retry call — used by a periodic maintenance loop.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	for _, e := range t.entries {
		if e.Status.terminal() {
			continue
		}
		if now.Sub(e.FirstSend) >= overallDeadline {
			e.Status = StatusExpired
			continue
		}
		if e.RetryCount >= maxAttempts && !e.NextRetryAt.After(now) {
			e.Status = StatusFailed
		}
	}
}

// Cleanup returns every terminal entry (Confirmed, Failed, or Expired)
// and removes them from the tracker, per spec.md §4.6.
func (t *Tracker) Cleanup() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Entry
	for id, e := range t.entries {
		if e.Status.terminal() {
			out = append(out, e)
			delete(t.entries, id)
		}
	}
	return out
}

// Get returns the current entry for id, if tracked.
func (t *Tracker) Get(id store.MessageID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}
