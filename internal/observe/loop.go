package observe

import (
	"context"
	"fmt"
	"log/slog"
)

// Loop is a single-goroutine executor. Dispatched callbacks run serially on
// the goroutine executing Run, which plays the part of a UI thread.
type Loop struct {
	queue  *taskQueue
	logger *slog.Logger
}

// NewLoop creates a loop. Nothing runs until Run is called.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{queue: newTaskQueue(), logger: logger}
}

// Dispatch implements Executor. Callbacks dispatched after Stop are dropped.
func (l *Loop) Dispatch(fn func()) {
	if !l.queue.Enqueue(fn) {
		l.logger.Debug("loop stopped, dropping callback")
	}
}

// Run executes callbacks until ctx is cancelled or Stop is called and the
// queue has drained. A panicking callback is logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if fn, ok := l.queue.TryDequeue(); ok {
			l.invoke(fn)
			continue
		}

		select {
		case <-ctx.Done():
			l.queue.Close()
			return ctx.Err()
		case <-l.queue.Wait():
			// The signal channel is closed by Stop; an empty queue then
			// means we are done.
			if l.queue.Len() == 0 && l.stopped() {
				return nil
			}
		}
	}
}

func (l *Loop) stopped() bool {
	l.queue.mu.Lock()
	defer l.queue.mu.Unlock()
	return l.queue.closed
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop callback panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// Stop closes the loop. Run returns once queued callbacks have run.
func (l *Loop) Stop() {
	l.queue.Close()
}

// Flush blocks until every callback dispatched before the call has run, or
// ctx is done. It must not be called from the loop goroutine.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !l.queue.Enqueue(func() { close(done) }) {
		return fmt.Errorf("flush: loop stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
