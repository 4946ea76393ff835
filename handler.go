package journalkeeper

import (
	"errors"
	"sync/atomic"
)

// runHandlerLoop is the background worker registered under
// "<server_uri>-voter-replication-handler". It dequeues one pending
// request at a time, in priority order, and runs validate -> reconcile ->
// commit. It terminates when the ingress queue reports closed-and-empty,
// which Follower.Stop arranges only after every accepted request has been
// drained; it therefore leaves the supplied stop channel unobserved.
func (f *Follower) runHandlerLoop(stop <-chan struct{}) {
	f.logger.Infow("handler loop started", f.logFields()...)
	for {
		pending, ok := f.queue.Take()
		if !ok {
			f.logger.Infow("handler loop terminated, queue closed", f.logFields()...)
			return
		}
		f.handleOne(pending)
		f.queue.Done()
	}
}

// handleOne runs one request through process and resolves its completion.
// Any unexpected failure from process is logged with full request
// context and turned into a failure response; the loop always continues
// to the next request regardless.
func (f *Follower) handleOne(pending *pendingRequest) {
	req := pending.request
	response, err := f.process(req)
	if err != nil {
		f.logger.Warnw("append-entries request failed",
			f.logFields(
				"request_id", pending.id,
				"prev_log_index", req.PrevLogIndex,
				"prev_log_term", req.PrevLogTerm,
				"entry_count", len(req.Entries),
				"error", err,
			)...)
		pending.completion.complete(nil, err)
		return
	}
	pending.completion.complete(response, nil)
}

// process is the follower half of AppendEntries: validate the prefix,
// reconcile and append the suffix, advance the commit point, track the
// leader's tail, and build the response (steps A through E).
func (f *Follower) process(req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	p := req.PrevLogIndex
	t := req.PrevLogTerm

	minIndex := f.journal.MinIndex()
	maxIndex := f.journal.MaxIndex()

	// Step A: validate prefix. Written as p+1 < minIndex rather than
	// p < minIndex-1 so the comparison never underflows when minIndex is 0.
	if p+1 < minIndex || p >= maxIndex {
		return f.rejection(req), nil
	}

	probeTerm, err := termProbe(f.journal, f.snapshots, p)
	if err != nil {
		var underflow *IndexUnderflowError
		if errors.As(err, &underflow) {
			return nil, underflow
		}
		return nil, &JournalIOError{Op: "term_probe", Err: err}
	}
	if probeTerm != t {
		return f.rejection(req), nil
	}

	// Step B: reconcile and append.
	if len(req.Entries) > 0 {
		start := p + 1

		if err := f.reconciler.maybeRollbackConfig(start, f.journal); err != nil {
			return nil, &ConfigRollbackError{Err: err}
		}

		if err := f.journal.CompareOrAppend(req.Entries, start); err != nil {
			return nil, &JournalIOError{Op: "compare_or_append", Err: err}
		}

		if err := f.reconciler.maybeUpdateNonLeaderConfig(req.Entries, start); err != nil {
			return nil, &ConfigRollbackError{Err: err}
		}
	}

	// Step C: advance commit.
	if req.LeaderCommit > f.journal.CommitIndex() {
		upTo := req.LeaderCommit
		if newMax := f.journal.MaxIndex(); upTo > newMax {
			upTo = newMax
		}
		if err := f.journal.Commit(upTo); err != nil {
			return nil, &JournalIOError{Op: "commit", Err: err}
		}
		f.reconciler.notifyCommitted(upTo)
		f.registry.WakeupThread(f.applierName)
	}

	// Step D: track leader tail, monotonically.
	for {
		old := atomic.LoadUint64(&f.leaderMaxIndex)
		if old != sentinelUnknownIndex && req.LeaderMaxIndex <= old {
			break
		}
		if atomic.CompareAndSwapUint64(&f.leaderMaxIndex, old, req.LeaderMaxIndex) {
			break
		}
	}

	// Step E: respond.
	return &AppendEntriesResponse{
		Success:      true,
		JournalIndex: p + 1,
		Term:         f.currentTerm,
		EntryCount:   len(req.Entries),
	}, nil
}

// rejection builds the normal, non-error "success=false" response: the
// leader's signal to back nextIndex up to journal_index.
func (f *Follower) rejection(req *AppendEntriesRequest) *AppendEntriesResponse {
	return &AppendEntriesResponse{
		Success:      false,
		JournalIndex: req.PrevLogIndex + 1,
		Term:         f.currentTerm,
		EntryCount:   len(req.Entries),
	}
}
