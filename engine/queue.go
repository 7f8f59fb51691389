package engine

import (
	"context"
	"sync"

	"github.com/bitchat-mesh/bitchat/ids"
)

// commandQueue is the bounded Command channel of spec.md §4.11. A plain
// Go channel cannot implement its backpressure policy — "drop the
// oldest non-query command" requires removing an element from the
// middle of a FIFO, which a chan cannot do — so this is a small
// mutex-guarded ring of its own, woken via a one-slot signal channel in
// the same style as the teacher's own condition-variable-free
// coordination (device/queueconstants.go's bounded queues plus a
// separate wake-up signal, e.g. peer.signals.newKeypairArrived).
type commandQueue struct {
	mu     sync.Mutex
	items  []Command
	cap    int
	signal chan struct{}
	closed bool
}

func newCommandQueue(capacity int) *commandQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &commandQueue{cap: capacity, signal: make(chan struct{}, 1)}
}

// Push enqueues cmd, evicting the oldest non-query command if the queue
// is full. It returns a KindChannel error if the queue is closed, or
// full of nothing but queries (none of which may be evicted).
func (q *commandQueue) Push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ids.WithVariant(ids.KindChannel, ids.ChannelClosed, "command queue is closed")
	}
	if len(q.items) >= q.cap {
		evictIdx := -1
		for i, it := range q.items {
			if !it.IsQuery() {
				evictIdx = i
				break
			}
		}
		if evictIdx == -1 {
			return ids.WithVariant(ids.KindChannel, ids.ChannelQueueFull, "command queue full")
		}
		q.items = append(q.items[:evictIdx], q.items[evictIdx+1:]...)
	}
	q.items = append(q.items, cmd)
	q.wakeLocked()
	return nil
}

func (q *commandQueue) wakeLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until a command is available, ctx is cancelled, or the
// queue is closed and drained.
func (q *commandQueue) Pop(ctx context.Context) (Command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close marks the queue closed; any items still queued remain poppable,
// but no further Push succeeds.
func (q *commandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wakeOnClose()
}

func (q *commandQueue) wakeOnClose() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len reports how many commands are currently queued.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
