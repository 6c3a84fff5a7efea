package testutil

import (
	"sync"
	"time"
)

// Recorder collects values delivered from any goroutine, typically by a
// subscription callback.
type Recorder[T any] struct {
	mu     sync.Mutex
	list   []T
	notify chan struct{}
}

// Record appends v. It has the shape of a callback so it can be passed
// directly: owner.SubscribeAll(rec.Record).
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	r.list = append(r.list, v)
	ch := r.notify
	r.notify = nil
	r.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// All returns a copy of everything recorded so far.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.list...)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// WaitLen blocks until at least n values were recorded or timeout elapses,
// and reports whether the count was reached.
func (r *Recorder[T]) WaitLen(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		if len(r.list) >= n {
			r.mu.Unlock()
			return true
		}
		if r.notify == nil {
			r.notify = make(chan struct{})
		}
		ch := r.notify
		r.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return r.Len() >= n
		}
	}
}

// Reset discards everything recorded so far.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = nil
}
