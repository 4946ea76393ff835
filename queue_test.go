package journalkeeper

import (
	"testing"
	"time"
)

func newPending(term, index uint64) *pendingRequest {
	return &pendingRequest{
		request: &AppendEntriesRequest{PrevLogTerm: term, PrevLogIndex: index},
	}
}

func TestIngressQueueOrdersByTermThenIndex(t *testing.T) {
	q := newIngressQueue(4)
	q.Push(newPending(3, 50))
	q.Push(newPending(2, 40))
	q.Push(newPending(2, 10))
	q.Push(newPending(5, 1))

	var order []uint64
	for i := 0; i < 4; i++ {
		p, ok := q.Take()
		if !ok {
			t.Fatalf("expected item %d", i)
		}
		order = append(order, p.request.PrevLogTerm*1000+p.request.PrevLogIndex)
	}

	want := []uint64{2010, 2040, 3050, 5001}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order[%d] = %d, want %d (full order %v)", i, order[i], w, order)
		}
	}
}

func TestIngressQueueBlocksUntilPush(t *testing.T) {
	q := newIngressQueue(1)
	done := make(chan *pendingRequest, 1)
	go func() {
		p, ok := q.Take()
		if !ok {
			done <- nil
			return
		}
		done <- p
	}()

	select {
	case <-done:
		t.Fatal("Take returned before any item was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(newPending(1, 1))
	select {
	case p := <-done:
		if p == nil {
			t.Fatal("Take returned closed before a push")
		}
	case <-time.After(time.Second):
		t.Fatal("Take never returned after push")
	}
}

func TestIngressQueueCloseWakesBlockedTake(t *testing.T) {
	q := newIngressQueue(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Take()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Take should report false once closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Take never woke up on Close")
	}
}

func TestIngressQueuePendingTracksInFlight(t *testing.T) {
	q := newIngressQueue(1)
	q.Push(newPending(1, 1))
	if got := q.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}
	p, ok := q.Take()
	if !ok {
		t.Fatal("Take failed")
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len() after Take = %d, want 0", got)
	}
	if got := q.Pending(); got != 1 {
		t.Fatalf("Pending() after Take = %d, want 1 (still in flight)", got)
	}
	_ = p
	q.Done()
	if got := q.Pending(); got != 0 {
		t.Fatalf("Pending() after Done = %d, want 0", got)
	}
}
