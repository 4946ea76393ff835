package journalkeeper

// ThreadDescriptor names a worker and the function that runs it. Run
// receives a stop channel it may observe for cooperative cancellation;
// the follower's handler loop instead terminates when its ingress queue
// is closed (see Follower.Stop), so it leaves stop unobserved.
type ThreadDescriptor struct {
	Name string
	Run  func(stop <-chan struct{})
}

// ThreadRegistry is the named-worker registry the follower uses to run
// its handler loop and to wake the external state-machine applier. Loose
// coupling to the applier is preserved by addressing it by name rather
// than holding a direct handle to it; the follower does not own the
// applier's lifecycle.
type ThreadRegistry interface {
	CreateThread(descriptor ThreadDescriptor)
	StartThread(name string) error
	StopThread(name string) error
	RemoveThread(name string)
	WakeupThread(name string)
}
