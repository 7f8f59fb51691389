package engine

import "sync"

// effectBus fans Effect values out to every subscriber, per spec.md
// §4.11 ("Fan-out via broadcast so each transport subscribes") and §5
// ("a slow transport may miss broadcast effects, which is acceptable").
// The teacher has no native broadcast primitive either (device/queue
// element delivery is always one producer to one consumer); this stays
// on the standard library's plain chan rather than pulling in a pub/sub
// dependency, since a buffered-chan-per-subscriber fan-out is the
// idiomatic Go shape for this and nothing in the example pack offers a
// closer fit.
type effectBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Effect
}

func newEffectBus() *effectBus {
	return &effectBus{subs: make(map[int]chan Effect)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an unsubscribe function.
func (b *effectBus) Subscribe(buffer int) (<-chan Effect, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Effect, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish fans e out to every current subscriber. A subscriber whose
// buffer is full misses this effect rather than blocking the ingress
// task, per spec.md §5.
func (b *effectBus) Publish(e Effect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close tears down every subscriber channel.
func (b *effectBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
