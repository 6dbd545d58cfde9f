package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// entry is one armed configuration in the fire queue.
type entry struct {
	key      string // tenant:config
	tenantID string
	configID string
	schedule cron.Schedule
	loc      *time.Location
	next     time.Time // UTC
	index    int       // heap position, -1 when removed
}

// fireHeap orders entries by next fire time, breaking ties by key so
// simultaneous fires drain in a stable order.
type fireHeap []*entry

func (h fireHeap) Len() int { return len(h) }

func (h fireHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].key < h[j].key
	}
	return h[i].next.Before(h[j].next)
}

func (h fireHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *fireHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// fireQueue is the scheduler's priority queue of armed entries. All methods
// are safe for concurrent use; waiters are woken on every mutation.
type fireQueue struct {
	mu    sync.Mutex
	heap  fireHeap
	byKey map[string]*entry
	wake  chan struct{}
}

func newFireQueue() *fireQueue {
	return &fireQueue{
		byKey: make(map[string]*entry),
		wake:  make(chan struct{}, 1),
	}
}

func (q *fireQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// upsert arms or re-arms an entry, replacing any previous one for its key.
func (q *fireQueue) upsert(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.byKey[e.key]; ok && old.index >= 0 {
		heap.Remove(&q.heap, old.index)
	}
	q.byKey[e.key] = e
	heap.Push(&q.heap, e)
	q.notify()
}

// remove disarms an entry. Reports whether it was armed.
func (q *fireQueue) remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	delete(q.byKey, key)
	if e.index >= 0 {
		heap.Remove(&q.heap, e.index)
	}
	q.notify()
	return true
}

func (q *fireQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// waitNext blocks until the earliest entry is due, pops it and returns it.
// Returns false when ctx is cancelled. A popped entry must be re-armed via
// upsert once its next fire time is advanced.
func (q *fireQueue) waitNext(ctx context.Context) (*entry, bool) {
	for {
		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, false
			case <-q.wake:
				continue
			}
		}

		top := q.heap[0]
		wait := time.Until(top.next)
		if wait <= 0 {
			heap.Pop(&q.heap)
			delete(q.byKey, top.key)
			q.mu.Unlock()
			return top, true
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
