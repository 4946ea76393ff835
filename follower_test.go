package journalkeeper

import (
	"errors"
	"testing"
	"time"

	"github.com/joyqueue/journalkeeper/internal/memjournal"
	"github.com/joyqueue/journalkeeper/internal/threadpool"
)

type testHarness struct {
	follower  *Follower
	journal   *memjournal.Journal
	snapshots *memjournal.SnapshotMap
	registry  *threadpool.Registry
	configs   *MapConfigManager
}

func newTestHarness(t *testing.T, term uint64) *testHarness {
	t.Helper()
	journal := memjournal.New()
	snapshots := memjournal.NewSnapshotMap()
	registry := threadpool.New()
	configs := NewMapConfigManager(nil)

	follower := NewFollower(NewFollowerParams{
		ServerURI:     "n2",
		CurrentTerm:   term,
		Journal:       journal,
		Snapshots:     snapshots,
		ConfigManager: configs,
		Registry:      registry,
	}, WithDrainPollInterval(time.Millisecond))

	if err := follower.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if follower.lifecycleState() == stateRunning {
			_ = follower.Stop()
		}
	})

	return &testHarness{follower: follower, journal: journal, snapshots: snapshots, registry: registry, configs: configs}
}

func submit(t *testing.T, h *testHarness, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	t.Helper()
	return h.follower.Submit(req).Result()
}

func seedEntries(t *testing.T, h *testHarness, terms ...uint64) {
	t.Helper()
	entries := make([]Entry, len(terms))
	for i, term := range terms {
		entries[i] = Entry{Term: term, Kind: EntryCommand}
	}
	if err := h.journal.CompareOrAppend(entries, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// Scenario 1: heartbeat accepted, commit advances, applier woken.
func TestScenarioHeartbeatAccepted(t *testing.T) {
	h := newTestHarness(t, 2)
	seedEntries(t, h, 1, 1, 2)
	if err := h.journal.Commit(1); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	wake := h.registry.WakeupChannel("n2-state-machine")

	resp, err := submit(t, h, &AppendEntriesRequest{
		Term: 2, PrevLogIndex: 2, PrevLogTerm: 2, LeaderCommit: 2,
	})
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !resp.Success || resp.JournalIndex != 3 || resp.EntryCount != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if h.journal.CommitIndex() != 2 {
		t.Fatalf("commit index = %d, want 2", h.journal.CommitIndex())
	}
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("applier was never woken")
	}
}

// Scenario 2: prefix mismatch is a normal rejection, journal unchanged.
func TestScenarioPrefixMismatch(t *testing.T) {
	h := newTestHarness(t, 2)
	seedEntries(t, h, 1, 1, 2)

	resp, err := submit(t, h, &AppendEntriesRequest{
		Term: 2, PrevLogIndex: 1, PrevLogTerm: 2,
		Entries: []Entry{{Term: 3}, {Term: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || resp.JournalIndex != 2 || resp.EntryCount != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if h.journal.MaxIndex() != 3 {
		t.Fatalf("journal mutated on rejection: max index = %d", h.journal.MaxIndex())
	}
}

// Scenario 3: conflicting suffix is truncated and replaced.
func TestScenarioTruncateAndAppend(t *testing.T) {
	h := newTestHarness(t, 3)
	seedEntries(t, h, 1, 1, 2, 2)
	if err := h.journal.Commit(1); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	resp, err := submit(t, h, &AppendEntriesRequest{
		Term: 3, PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []Entry{{Term: 3}, {Term: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.JournalIndex != 2 || resp.EntryCount != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	for i, want := range []uint64{1, 1, 3, 3} {
		term, err := h.journal.TermAt(uint64(i))
		if err != nil {
			t.Fatalf("term at %d: %v", i, err)
		}
		if term != want {
			t.Fatalf("term at %d = %d, want %d", i, term, want)
		}
	}
}

// Scenario 4: probing the snapshot boundary succeeds.
func TestScenarioSnapshotBoundaryProbe(t *testing.T) {
	h := newTestHarness(t, 5)
	seedEntries(t, h, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4) // indices 0..9, all term 4
	h.journal.CompactBefore(10)
	h.snapshots.Put(10, 4)

	resp, err := submit(t, h, &AppendEntriesRequest{
		Term: 5, PrevLogIndex: 9, PrevLogTerm: 4,
		Entries: []Entry{{Term: 5}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.JournalIndex != 10 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	term, err := h.journal.TermAt(10)
	if err != nil || term != 5 {
		t.Fatalf("term at 10 = (%d, %v), want (5, nil)", term, err)
	}
}

// Out-of-range prefix: prev_log_index >= max_index is rejected.
func TestScenarioPrevIndexBeyondMax(t *testing.T) {
	h := newTestHarness(t, 1)
	seedEntries(t, h, 1)

	resp, err := submit(t, h, &AppendEntriesRequest{
		Term: 1, PrevLogIndex: 5, PrevLogTerm: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || resp.JournalIndex != 6 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// Idempotence: submitting the same request twice is a no-op the second time.
func TestScenarioIdempotentResubmit(t *testing.T) {
	h := newTestHarness(t, 2)
	seedEntries(t, h, 1)

	req := &AppendEntriesRequest{
		Term: 2, PrevLogIndex: 0, PrevLogTerm: 1,
		Entries: []Entry{{Term: 2}, {Term: 2}},
	}
	first, err := submit(t, h, req)
	if err != nil || !first.Success {
		t.Fatalf("first submit: resp=%+v err=%v", first, err)
	}
	maxAfterFirst := h.journal.MaxIndex()

	second, err := submit(t, h, req)
	if err != nil || !second.Success {
		t.Fatalf("second submit: resp=%+v err=%v", second, err)
	}
	if h.journal.MaxIndex() != maxAfterFirst {
		t.Fatalf("journal changed on idempotent resubmit: %d vs %d", h.journal.MaxIndex(), maxAfterFirst)
	}
}

// leader_max_index is tracked monotonically.
func TestScenarioLeaderMaxIndexMonotonic(t *testing.T) {
	h := newTestHarness(t, 1)
	seedEntries(t, h, 1)

	if _, err := submit(t, h, &AppendEntriesRequest{
		Term: 1, PrevLogIndex: 0, PrevLogTerm: 1, LeaderMaxIndex: 10,
	}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if got := h.follower.GetLeaderMaxIndex(); got != 10 {
		t.Fatalf("leader max index = %d, want 10", got)
	}

	if _, err := submit(t, h, &AppendEntriesRequest{
		Term: 1, PrevLogIndex: 0, PrevLogTerm: 1, LeaderMaxIndex: 3,
	}); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if got := h.follower.GetLeaderMaxIndex(); got != 10 {
		t.Fatalf("leader max index regressed to %d, want 10", got)
	}
}

// Out-of-order priority: a lower (term, index) submitted later is handled first.
func TestScenarioOutOfOrderPriority(t *testing.T) {
	h := newTestHarness(t, 5)
	seedEntries(t, h, 1) // single entry at index 0, term 1; everything else will reject on prefix.

	var observed []uint64
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	record := func(term uint64) {
		<-mu
		observed = append(observed, term)
		mu <- struct{}{}
	}

	// Both requests reject (prefix mismatch against a 1-entry journal),
	// which is enough to prove processing order without racing appends.
	cb := h.follower.Submit(&AppendEntriesRequest{PrevLogTerm: 3, PrevLogIndex: 50})
	ca := h.follower.Submit(&AppendEntriesRequest{PrevLogTerm: 2, PrevLogIndex: 40})

	go func() {
		if _, err := cb.Result(); err != nil {
			t.Errorf("cb: %v", err)
		}
		record(3)
	}()
	go func() {
		if _, err := ca.Result(); err != nil {
			t.Errorf("ca: %v", err)
		}
		record(2)
	}()

	deadline := time.After(time.Second)
	for {
		<-mu
		n := len(observed)
		mu <- struct{}{}
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("requests never completed")
		case <-time.After(time.Millisecond):
		}
	}

	if len(observed) != 2 || observed[0] != 2 || observed[1] != 3 {
		t.Fatalf("processing order = %v, want [2 3] (lower prev_log_term first)", observed)
	}
}

// Stop drains pending completions before transitioning to STOPPED, and
// Submit afterward fails with IllegalStateError.
func TestScenarioStopDrains(t *testing.T) {
	h := newTestHarness(t, 1)
	seedEntries(t, h, 1)

	c1 := h.follower.Submit(&AppendEntriesRequest{Term: 1, PrevLogIndex: 0, PrevLogTerm: 1})
	c2 := h.follower.Submit(&AppendEntriesRequest{Term: 1, PrevLogIndex: 0, PrevLogTerm: 1})

	if err := h.follower.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := c1.Result(); err != nil {
		t.Fatalf("c1 did not complete cleanly: %v", err)
	}
	if _, err := c2.Result(); err != nil {
		t.Fatalf("c2 did not complete cleanly: %v", err)
	}

	resp, err := h.follower.Submit(&AppendEntriesRequest{}).Result()
	if resp != nil {
		t.Fatalf("expected nil response after stop, got %+v", resp)
	}
	var illegal *IllegalStateError
	if !errors.As(err, &illegal) {
		t.Fatalf("expected IllegalStateError, got %v", err)
	}
	if illegal.State != stateStopped {
		t.Fatalf("expected stopped state in error, got %s", illegal.State)
	}
}

func TestSubmitRefusedBeforeStart(t *testing.T) {
	journal := memjournal.New()
	follower := NewFollower(NewFollowerParams{
		ServerURI:     "n3",
		CurrentTerm:   1,
		Journal:       journal,
		Snapshots:     memjournal.NewSnapshotMap(),
		ConfigManager: NewMapConfigManager(nil),
		Registry:      threadpool.New(),
	})

	resp, err := follower.Submit(&AppendEntriesRequest{}).Result()
	if resp != nil {
		t.Fatalf("expected nil response, got %+v", resp)
	}
	var illegal *IllegalStateError
	if !errors.As(err, &illegal) || illegal.State != stateCreated {
		t.Fatalf("expected IllegalStateError(CREATED), got %v", err)
	}
}
