package journalkeeper

import (
	"container/heap"
	"sync"
)

// pendingHeap is a container/heap.Interface over pending requests, keyed
// by (prev_log_term, prev_log_index) ascending. Equal keys denote
// equivalent prefixes, so stability between them is not required.
type pendingHeap []*pendingRequest

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	a, b := h[i].request, h[j].request
	if a.PrevLogTerm != b.PrevLogTerm {
		return a.PrevLogTerm < b.PrevLogTerm
	}
	return a.PrevLogIndex < b.PrevLogIndex
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(*pendingRequest))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ingressQueue is the follower's multi-producer/single-consumer priority
// buffer of pending append-entries requests. Push never blocks (the
// underlying slice grows as needed); Take blocks until an item is
// available or the queue is closed. Pending counts items both queued and
// handed out but not yet acknowledged done, so a drain can wait for
// requests that have been popped but are still being processed.
type ingressQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    pendingHeap
	inFlight int
	closed   bool
}

func newIngressQueue(capacity int) *ingressQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &ingressQueue{items: make(pendingHeap, 0, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a pending request and wakes one blocked Take.
func (q *ingressQueue) Push(p *pendingRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, p)
	q.cond.Signal()
}

// Take blocks until a request is available or the queue is closed and
// drained, in which case it returns (nil, false).
func (q *ingressQueue) Take() (*pendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	p := heap.Pop(&q.items).(*pendingRequest)
	q.inFlight++
	return p, true
}

// Done marks a request taken off the queue as fully handled.
func (q *ingressQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
}

// Len reports the number of requests still queued, for
// GetReplicationQueueSize; it does not include in-flight requests.
func (q *ingressQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending reports queued-plus-in-flight requests, the quantity the stop
// drain waits to reach zero.
func (q *ingressQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inFlight
}

// Close marks the queue closed and wakes every blocked Take. Safe to call
// once the drain has confirmed Pending() == 0.
func (q *ingressQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
