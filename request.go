package journalkeeper

import "sync"

// AppendEntriesRequest is the inbound operation the follower services:
// a leader's ordered batch of log entries plus its commit point and the
// highest index it has ever reported having.
type AppendEntriesRequest struct {
	Term           uint64
	Leader         string
	PrevLogIndex   uint64
	PrevLogTerm    uint64
	Entries        []Entry
	LeaderCommit   uint64
	LeaderMaxIndex uint64
}

// AppendEntriesResponse is what a Completion resolves to. Success is the
// protocol-level outcome; an error returned alongside a nil response (via
// Completion.Result) signals an unexpected failure instead (see errors.go).
type AppendEntriesResponse struct {
	Success      bool
	JournalIndex uint64
	Term         uint64
	EntryCount   int
}

// Completion is the single-shot handle returned by Submit: a value is
// written to it exactly once and Result blocks until that happens.
type Completion[T any] struct {
	once sync.Once
	ch   chan completionResult[T]
}

type completionResult[T any] struct {
	value T
	err   error
}

func newCompletion[T any]() *Completion[T] {
	return &Completion[T]{ch: make(chan completionResult[T], 1)}
}

// complete resolves the completion. Only the first call has any effect,
// so a request's completion is completed exactly once even if a caller
// mistakenly invokes it more than once.
func (c *Completion[T]) complete(value T, err error) {
	c.once.Do(func() {
		c.ch <- completionResult[T]{value: value, err: err}
	})
}

// Result blocks until the completion is resolved and returns its value
// and error. It is meant to be drained by a single caller.
func (c *Completion[T]) Result() (T, error) {
	r := <-c.ch
	return r.value, r.err
}

// pendingRequest pairs an inbound request with the completion its caller
// is waiting on, plus an identifier used purely for log correlation.
type pendingRequest struct {
	id         string
	request    *AppendEntriesRequest
	completion *Completion[*AppendEntriesResponse]
}
