package journalkeeper

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sentinelUnknownIndex marks leaderMaxIndex as not yet observed.
const sentinelUnknownIndex = ^uint64(0)

// NewFollowerParams carries the construction parameters: journal, state
// handle, server URI, current term, config manager, thread registry,
// snapshot map. cached_requests and the drain interval are
// FollowerOptions instead of struct fields, splitting core parameters
// from tunable options.
type NewFollowerParams struct {
	ServerURI     string
	CurrentTerm   uint64
	Journal       Journal
	Snapshots     SnapshotMap
	ConfigManager ConfigManager
	Registry      ThreadRegistry

	// StateHandle is an opaque handle owned by the surrounding
	// role-manager. No operation is ever invoked on it from the
	// follower's side; it is held only so the role-manager can later
	// recover it (e.g. to reuse persistent vote/term state across role
	// transitions).
	StateHandle interface{}
}

// Follower is the passive Raft replica core: it owns an ingress queue of
// append-entries requests and a single handler-loop worker that validates,
// reconciles and commits them. It does not itself speak any wire
// protocol; RPC framing is an external collaborator.
type Follower struct {
	serverURI   string
	currentTerm uint64

	journal    Journal
	snapshots  SnapshotMap
	registry   ThreadRegistry
	reconciler *configReconciler

	stateHandle interface{}

	queue  *ingressQueue
	opts   *followerOptions
	logger *zap.SugaredLogger

	state uint32 // lifecycleState, accessed via sync/atomic

	leaderMaxIndex uint64 // accessed via sync/atomic

	readyForPreferredLeaderElection uint32 // bool flag, accessed via sync/atomic

	handlerName string
	applierName string
}

// NewFollower constructs a Follower in the CREATED state. Call Start to
// begin processing; a Follower that is never started simply never admits
// requests (Submit refuses with IllegalStateError).
func NewFollower(params NewFollowerParams, opts ...FollowerOption) *Follower {
	o := applyFollowerOpts(opts...)
	f := &Follower{
		serverURI:      params.ServerURI,
		currentTerm:    params.CurrentTerm,
		journal:        params.Journal,
		snapshots:      params.Snapshots,
		registry:       params.Registry,
		reconciler:     newConfigReconciler(params.ConfigManager),
		stateHandle:    params.StateHandle,
		queue:          newIngressQueue(o.cachedRequests),
		opts:           o,
		logger:         o.logger.Sugar(),
		leaderMaxIndex: sentinelUnknownIndex,
		handlerName:    params.ServerURI + "-voter-replication-handler",
		applierName:    params.ServerURI + "-state-machine",
	}
	atomic.StoreUint32(&f.state, uint32(stateCreated))
	return f
}

func (f *Follower) lifecycleState() lifecycleState {
	return lifecycleState(atomic.LoadUint32(&f.state))
}

// Start registers and starts the handler-loop worker, transitioning
// CREATED -> RUNNING.
func (f *Follower) Start() error {
	if !atomic.CompareAndSwapUint32(&f.state, uint32(stateCreated), uint32(stateRunning)) {
		return fmt.Errorf("journalkeeper: follower %s already started (state=%s)", f.serverURI, f.lifecycleState())
	}
	f.registry.CreateThread(ThreadDescriptor{Name: f.handlerName, Run: f.runHandlerLoop})
	if err := f.registry.StartThread(f.handlerName); err != nil {
		atomic.StoreUint32(&f.state, uint32(stateCreated))
		return fmt.Errorf("journalkeeper: starting handler thread: %w", err)
	}
	f.logger.Infow("follower started", f.logFields()...)
	return nil
}

// Stop transitions RUNNING -> STOPPING, busy-waits with a short sleep
// (deliberately a poll rather than a condition variable) until every
// queued and in-flight request has completed, then stops and deregisters
// the handler worker and transitions to STOPPED. Submit refuses new
// requests throughout STOPPING.
func (f *Follower) Stop() error {
	if !atomic.CompareAndSwapUint32(&f.state, uint32(stateRunning), uint32(stateStopping)) {
		return fmt.Errorf("journalkeeper: follower %s is not running (state=%s)", f.serverURI, f.lifecycleState())
	}
	f.logger.Infow("follower draining", f.logFields()...)
	for f.queue.Pending() > 0 {
		time.Sleep(f.opts.drainPollInterval)
	}
	f.queue.Close()
	if err := f.registry.StopThread(f.handlerName); err != nil {
		f.logger.Warnw("error stopping handler thread", f.logFields("error", err)...)
	}
	f.registry.RemoveThread(f.handlerName)
	atomic.StoreUint32(&f.state, uint32(stateStopped))
	f.logger.Infow("follower stopped", f.logFields()...)
	return nil
}

// Submit is the follower's inbound operation. If the follower is not
// RUNNING, the returned completion is already resolved with an
// IllegalStateError and the request is never enqueued.
func (f *Follower) Submit(request *AppendEntriesRequest) *Completion[*AppendEntriesResponse] {
	completion := newCompletion[*AppendEntriesResponse]()
	state := f.lifecycleState()
	if state != stateRunning {
		completion.complete(nil, &IllegalStateError{State: state})
		return completion
	}
	pending := &pendingRequest{
		id:         uuid.NewString(),
		request:    request,
		completion: completion,
	}
	f.queue.Push(pending)
	return completion
}

// GetLeaderMaxIndex returns the highest leader tail index observed so
// far, or the sentinel "unknown" value if none has been reported yet.
func (f *Follower) GetLeaderMaxIndex() uint64 {
	return atomic.LoadUint64(&f.leaderMaxIndex)
}

// GetReplicationQueueSize reports the number of requests currently
// waiting in the ingress queue (not counting the one, if any, being
// actively handled).
func (f *Follower) GetReplicationQueueSize() int {
	return f.queue.Len()
}

// IsReadyForPreferredLeaderElection reports the latch the surrounding
// server sets once this follower has caught up enough to be offered a
// preferred-leader election.
func (f *Follower) IsReadyForPreferredLeaderElection() bool {
	return atomic.LoadUint32(&f.readyForPreferredLeaderElection) != 0
}

// SetReadyForPreferredLeaderElection sets the latch IsReadyForPreferredLeaderElection reads.
func (f *Follower) SetReadyForPreferredLeaderElection(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(&f.readyForPreferredLeaderElection, v)
}
