// Package fragment splits oversized packet payloads into BLE-MTU-sized
// pieces and reassembles them on the receiving side, per spec.md §4.4. It
// is grounded on the teacher's inbound/outbound queue element handling in
// device/receive.go and device/send.go (bounded, per-element state with a
// pool of in-flight work), adapted from whole-packet encryption elements to
// byte-slice fragment sets, and on device/peer.go's handshake-timeout timer
// pattern for the per-set reassembly deadline.
package fragment

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/wire"
)

// MaxFragmentData is the largest fragment data slice for a 244-byte BLE
// MTU, per spec.md §4.4.
const MaxFragmentData = 231

// MaxFragments is the largest number of fragments a single message may be
// split into, per spec.md §4.4.
const MaxFragments = 256

// DefaultReassemblyTimeout bounds how long a partial fragment set is kept
// before being dropped, per spec.md §4.4.
const DefaultReassemblyTimeout = 60 * time.Second

// Split divides payload into a sequence of wire.FragmentHeader-prefixed
// fragment payloads, each ready to carry as the Payload of a
// MessageFragment BitchatPacket. It rejects payloads that would need more
// than MaxFragments pieces.
func Split(originalType wire.MessageType, payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, ids.New(ids.KindInvalidPacket, "cannot fragment an empty payload")
	}
	total := (len(payload) + MaxFragmentData - 1) / MaxFragmentData
	if total > MaxFragments {
		return nil, ids.Newf(ids.KindInvalidPacket, "payload needs %d fragments, exceeds max %d", total, MaxFragments)
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, ids.Wrap(ids.KindInvalidPacket, "generate fragment id", err)
	}
	fragmentID := binary.BigEndian.Uint64(idBuf[:])

	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFragmentData
		end := start + MaxFragmentData
		if end > len(payload) {
			end = len(payload)
		}
		h := wire.FragmentHeader{
			FragmentID:     fragmentID,
			FragmentIndex:  uint16(i),
			TotalFragments: uint16(total),
			OriginalType:   originalType,
		}
		out = append(out, wire.EncodeFragment(h, payload[start:end]))
	}
	return out, nil
}

// pendingSet is one in-flight reassembly, keyed by fragment id.
type pendingSet struct {
	originalType wire.MessageType
	total        uint16
	parts        [][]byte
	have         []bool
	receivedN    int
	timer        *clock.Timer
}

// Reassembler accumulates fragments by FragmentID and reconstructs the
// original payload once every piece has arrived, dropping sets that don't
// complete within the reassembly timeout.
type Reassembler struct {
	mu      sync.Mutex
	clk     clock.Clock
	timeout time.Duration
	sets    map[uint64]*pendingSet
}

// NewReassembler constructs a Reassembler. clk lets callers drive the
// per-set expiry timer deterministically under simulation.
func NewReassembler(clk clock.Clock, timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		clk:     clk,
		timeout: timeout,
		sets:    make(map[uint64]*pendingSet),
	}
}

// Add ingests one fragment. It returns the reassembled payload and its
// original message type once the set is complete.
func (r *Reassembler) Add(payload []byte) (reassembled []byte, originalType wire.MessageType, complete bool, err error) {
	h, data, err := wire.DecodeFragment(payload)
	if err != nil {
		return nil, 0, false, err
	}
	if h.TotalFragments == 0 || int(h.TotalFragments) > MaxFragments {
		return nil, 0, false, ids.Newf(ids.KindInvalidPacket, "fragment set size %d out of range", h.TotalFragments)
	}
	if h.FragmentIndex >= h.TotalFragments {
		return nil, 0, false, ids.Newf(ids.KindInvalidPacket, "fragment index %d >= total %d", h.FragmentIndex, h.TotalFragments)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[h.FragmentID]
	if !ok {
		set = &pendingSet{
			originalType: h.OriginalType,
			total:        h.TotalFragments,
			parts:        make([][]byte, h.TotalFragments),
			have:         make([]bool, h.TotalFragments),
		}
		fragmentID := h.FragmentID
		set.timer = r.clk.AfterFunc(r.timeout, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.sets, fragmentID)
		})
		r.sets[h.FragmentID] = set
	}

	if set.total != h.TotalFragments || set.originalType != h.OriginalType {
		return nil, 0, false, ids.New(ids.KindInvalidPacket, "fragment set metadata mismatch")
	}
	if !set.have[h.FragmentIndex] {
		set.have[h.FragmentIndex] = true
		set.parts[h.FragmentIndex] = append([]byte(nil), data...)
		set.receivedN++
	}

	if set.receivedN < int(set.total) {
		return nil, 0, false, nil
	}

	set.timer.Stop()
	delete(r.sets, h.FragmentID)

	size := 0
	for _, p := range set.parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range set.parts {
		out = append(out, p...)
	}
	return out, set.originalType, true, nil
}

// Pending reports how many fragment sets are currently in flight.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
