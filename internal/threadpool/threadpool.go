// Package threadpool is a minimal in-memory jk.ThreadRegistry: named
// workers are plain goroutines, and wakeups are buffered size-1 channels
// so a missed wakeup before the worker is listening is never lost, just
// coalesced.
package threadpool

import (
	"fmt"
	"sync"

	jk "github.com/joyqueue/journalkeeper"
)

type thread struct {
	run  func(stop <-chan struct{})
	stop chan struct{}
	done chan struct{}
}

// Registry is a process-local jk.ThreadRegistry implementation.
type Registry struct {
	mu      sync.Mutex
	threads map[string]*thread
	wakers  map[string]chan struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		threads: map[string]*thread{},
		wakers:  map[string]chan struct{}{},
	}
}

func (r *Registry) CreateThread(descriptor jk.ThreadDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[descriptor.Name] = &thread{
		run:  descriptor.Run,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if _, ok := r.wakers[descriptor.Name]; !ok {
		r.wakers[descriptor.Name] = make(chan struct{}, 1)
	}
}

func (r *Registry) StartThread(name string) error {
	r.mu.Lock()
	t, ok := r.threads[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("threadpool: unknown thread %q", name)
	}
	go func() {
		defer close(t.done)
		t.run(t.stop)
	}()
	return nil
}

func (r *Registry) StopThread(name string) error {
	r.mu.Lock()
	t, ok := r.threads[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("threadpool: unknown thread %q", name)
	}
	close(t.stop)
	<-t.done
	return nil
}

func (r *Registry) RemoveThread(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, name)
}

// WakeupThread delivers a non-blocking wakeup to name's channel. If no one
// is listening yet, the single buffered slot holds it; a second wakeup
// before it's consumed is coalesced, which is fine for a "there is new
// work" signal.
func (r *Registry) WakeupThread(name string) {
	r.mu.Lock()
	ch, ok := r.wakers[name]
	if !ok {
		ch = make(chan struct{}, 1)
		r.wakers[name] = ch
	}
	r.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// WakeupChannel returns the channel WakeupThread(name) signals, creating
// it if necessary. An external applier implementation reads from this to
// learn the commit index advanced.
func (r *Registry) WakeupChannel(name string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.wakers[name]
	if !ok {
		ch = make(chan struct{}, 1)
		r.wakers[name] = ch
	}
	return ch
}
