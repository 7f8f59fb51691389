package session

// replayWindowBits is the size of the sliding replay window, per spec.md
// §2/§8 ("maintains a sliding replay window of 1024").
const replayWindowBits = 1024

const replayWords = replayWindowBits / 64

// replayFilter is a sliding-bitmap replay detector, the same shape as
// RFC6479 and as the teacher's device/replay filter
// (_examples/WireGuard-wireguard-go/replay.go), but sized to the spec's
// fixed 1024-entry window instead of WireGuard's platform-word-aligned
// 2048-bit one, since this protocol has no reject-after-messages ceiling
// analogous to WireGuard's rekey limits (those live in the rekey trigger
// logic, not the replay filter).
type replayFilter struct {
	highest   uint64
	seenFirst bool
	bits      [replayWords]uint64
}

// accept reports whether nonce is new (not a replay) and, if so, marks it
// seen and advances the window. A nonce <= highest-windowBits, or one
// already marked within the window, is rejected per spec.md §8
// ("a nonce <= max_seen - 1024 or previously observed is always
// rejected").
func (f *replayFilter) accept(nonce uint64) bool {
	if !f.seenFirst {
		f.seenFirst = true
		f.highest = nonce
		f.setBit(nonce)
		return true
	}

	if nonce > f.highest {
		diff := nonce - f.highest
		if diff >= replayWindowBits {
			// Jump clears the whole window.
			f.bits = [replayWords]uint64{}
		} else {
			f.clearRange(f.highest+1, nonce)
		}
		f.highest = nonce
		f.setBit(nonce)
		return true
	}

	if f.highest-nonce >= replayWindowBits {
		return false
	}

	if f.testAndSetBit(nonce) {
		return false // already seen
	}
	return true
}

func (f *replayFilter) wordIndex(nonce uint64) (word int, bit uint64) {
	pos := nonce % replayWindowBits
	return int(pos / 64), pos % 64
}

func (f *replayFilter) setBit(nonce uint64) {
	w, b := f.wordIndex(nonce)
	f.bits[w] |= 1 << b
}

// testAndSetBit returns true if the bit was already set.
func (f *replayFilter) testAndSetBit(nonce uint64) bool {
	w, b := f.wordIndex(nonce)
	old := f.bits[w]
	f.bits[w] = old | (1 << b)
	return old&(1<<b) != 0
}

// clearRange clears bits for the half-open range (prevHighest, newHighest],
// i.e. the slots that slide into the window as it advances, so stale
// "seen" bits from nonces that have now fallen out of the window don't
// linger and cause false replay rejections once they cycle back around.
func (f *replayFilter) clearRange(from, to uint64) {
	count := to - from
	if count >= replayWindowBits {
		f.bits = [replayWords]uint64{}
		return
	}
	for n := from; n <= to; n++ {
		w, b := f.wordIndex(n)
		f.bits[w] &^= 1 << b
	}
}
